package ttrace

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkRaw(trace, id, parent, svc, op string, startMS, endMS int64) RawSpan {
	base := time.Unix(0, 0)
	return RawSpan{
		TraceID:   trace,
		SpanID:    id,
		ParentID:  parent,
		Service:   svc,
		Operation: op,
		Start:     base.Add(time.Duration(startMS) * time.Millisecond),
		End:       base.Add(time.Duration(endMS) * time.Millisecond),
	}
}

func TestBuildTraces_SingleRoot(t *testing.T) {
	raws := []RawSpan{
		mkRaw("t1", "a", "", "svc", "op", 0, 100),
		mkRaw("t1", "b", "a", "svc2", "op2", 10, 50),
	}
	var buf bytes.Buffer
	traces, err := BuildTraces(raws, &buf)
	require.NoError(t, err)
	require.Len(t, traces, 1)
	tr := traces[0]
	assert.Equal(t, "t1", tr.ID)
	require.Len(t, tr.Master.Children, 1)
	assert.Equal(t, "a", tr.Master.Children[0].ID)
	require.Len(t, tr.Spans["a"].Children, 1)
	assert.Equal(t, "b", tr.Spans["a"].Children[0].ID)
	assert.Equal(t, 0.1, tr.T)
	assert.Empty(t, buf.String())
}

func TestBuildTraces_DanglingParentSetsSpanDrop(t *testing.T) {
	raws := []RawSpan{
		mkRaw("t1", "a", "", "svc", "op", 0, 100),
		mkRaw("t1", "b", "missing", "svc2", "op2", 10, 50),
	}
	var buf bytes.Buffer
	traces, err := BuildTraces(raws, &buf)
	require.NoError(t, err)
	tr := traces[0]
	assert.NotZero(t, tr.Status&StatusSpanDrop)
	assert.Equal(t, masterSpanID, tr.Spans["b"].ParentID)
	assert.Contains(t, buf.String(), "rewriting to master span")

	var rootIDs []string
	for _, c := range tr.Master.Children {
		rootIDs = append(rootIDs, c.ID)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, rootIDs)
}

func TestBuildTraces_DuplicateSpanIDIsFatal(t *testing.T) {
	raws := []RawSpan{
		mkRaw("t1", "a", "", "svc", "op", 0, 100),
		mkRaw("t1", "a", "", "svc", "op2", 0, 10),
	}
	var buf bytes.Buffer
	_, err := BuildTraces(raws, &buf)
	require.Error(t, err)
	var ierr *InvariantError
	assert.ErrorAs(t, err, &ierr)
}

func TestBuildTraces_ErrorStatus(t *testing.T) {
	raws := []RawSpan{mkRaw("t1", "a", "", "svc", "op", 0, 100)}
	raws[0].IsError = true
	var buf bytes.Buffer
	traces, err := BuildTraces(raws, &buf)
	require.NoError(t, err)
	assert.Equal(t, "Erroneous_Traces", traces[0].Status.String())
}

func TestBuildTraces_MultipleTraces(t *testing.T) {
	raws := []RawSpan{
		mkRaw("t1", "a", "", "svc", "op", 0, 100),
		mkRaw("t2", "b", "", "svc", "op", 0, 50),
	}
	var buf bytes.Buffer
	traces, err := BuildTraces(raws, &buf)
	require.NoError(t, err)
	assert.Len(t, traces, 2)
}

func TestSpan_FuncName(t *testing.T) {
	s := &Span{Service: "svc", Operation: "op"}
	assert.Equal(t, "svc:op", s.FuncName())
	s2 := &Span{Service: "svc"}
	assert.Equal(t, "svc", s2.FuncName())
}
