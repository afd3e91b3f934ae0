package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewh/tprof/pkg/analysis"
	"github.com/andrewh/tprof/pkg/tconfig"
	"github.com/andrewh/tprof/pkg/tstat"
	"github.com/andrewh/tprof/pkg/ttrace"
)

// buildSimpleTree constructs a four-layer tree with a single slow leaf
// operation "svcA:op", so Find's whole pipeline can be exercised without a
// real Gather or trace population.
func buildSimpleTree() *Node {
	arrows := map[string][]ttrace.Arrow{
		"THEMASTERSPAN~": {
			{Kind: ttrace.ArrowBegin, SpanID: "master"},
			{Kind: ttrace.ArrowForward, SpanID: "child", FuncName: "THEMASTERSPAN~svcA:op~"},
			{Kind: ttrace.ArrowReceive, SpanID: "child", FuncName: "THEMASTERSPAN~svcA:op~"},
			{Kind: ttrace.ArrowTerminate, SpanID: "master"},
		},
		"THEMASTERSPAN~svcA:op~": {
			{Kind: ttrace.ArrowBegin, SpanID: "child"},
			{Kind: ttrace.ArrowTerminate, SpanID: "child"},
		},
	}

	subspanNode := &Node{
		Name: "only",
		Result: &analysis.SubspanProfile{
			Length: 2,
			Whole: []analysis.SubspanStat{
				{Name: "THEMASTERSPAN~svcA:op~FullSpan", Stat: tstat.Stat{Count: 2, Mean: 0.5}},
				{Name: "THEMASTERSPAN~FullSpan", Stat: tstat.Stat{Count: 2, Mean: 1.0}},
			},
			Arrows: arrows,
		},
	}

	structNode := &Node{
		Name: "only",
		Result: &analysis.StructureProfile{
			Length: 2,
			Overall: &analysis.AggregateNode{
				Name:     ttrace.MasterSpanName,
				Duration: tstat.Stat{Count: 2, Mean: 1.0},
				Children: []*analysis.AggregateNode{
					{Name: "svcA:op", Duration: tstat.Stat{Count: 2, Mean: 0.5}},
				},
			},
		},
		Children: []*Node{subspanNode},
	}

	reqTypeNode := &Node{
		Name: "booking",
		Result: &analysis.Profile{
			Length:           2,
			AllOperation:     []analysis.OpStat{{Name: ttrace.MasterSpanName, Stat: tstat.Stat{Count: 2, Mean: 1.0}}},
			AllOperationSelf: []analysis.OpStat{{Name: "svcA:op", Stat: tstat.Stat{Count: 2, Mean: 0.5}}},
		},
		Children: []*Node{structNode},
	}

	goodNode := &Node{
		Name: ttrace.GoodTracesName,
		Result: &analysis.Profile{
			Length: 2,
			AllOperation: []analysis.OpStat{
				{Name: ttrace.MasterSpanName, Stat: tstat.Stat{Count: 2, Mean: 1.0}},
			},
			AllOperationSelf: []analysis.OpStat{
				{Name: ttrace.MasterSpanName, Stat: tstat.Stat{Count: 2, Mean: 0.0}},
				{Name: "svcA:op", Stat: tstat.Stat{Count: 2, Mean: 0.5}},
			},
		},
		Children: []*Node{reqTypeNode},
	}

	return &Node{Children: []*Node{goodNode}}
}

func TestFinder_Find_LocatesFullSpanSuspiciousLeaf(t *testing.T) {
	cfg := tconfig.Default()
	f := NewFinder(cfg, true)

	reports, err := f.Find(buildSimpleTree())
	require.NoError(t, err)
	require.Len(t, reports, 1)

	r := reports[0]
	assert.Equal(t, "svcA", r.L1.Service)
	assert.Equal(t, "op", r.L1.Operation)
	assert.Equal(t, "booking", r.L2.ReqType)
	assert.False(t, r.L2.IsTail)
	assert.Equal(t, L3ModeFS, r.L3.Mode)
	assert.Equal(t, "1", r.L4.TraceID)

	traces := f.AggregateTraces()
	require.Contains(t, traces, "1")
	// the real child span plus one highlighted PROBLEMATIC_SPAN marker for
	// the FS (full-span-suspicious) match.
	assert.Len(t, traces["1"].Data[0].Spans, 2)
}

func TestFinder_Find_MissingGoodTracesGroupErrors(t *testing.T) {
	f := NewFinder(tconfig.Default(), false)
	_, err := f.Find(&Node{Children: []*Node{{Name: ttrace.ErroneousTracesName, Result: &analysis.Profile{}}}})
	assert.Error(t, err)
}

func TestStripIdx_RemovesSiblingDisambiguation(t *testing.T) {
	assert.Equal(t, "THEMASTERSPAN~svcA:op~", stripIdx("THEMASTERSPAN~svcA:op[2]~"))
}

func TestMatchSubPaths_OrderIndependent(t *testing.T) {
	a := []string{"a~", "a~b~"}
	b := []string{"a~b~", "a~"}
	assert.True(t, matchSubPaths(a, b))
	assert.False(t, matchSubPaths(a, []string{"a~"}))
}
