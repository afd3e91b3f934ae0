package ttrace

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubspans_Leaf(t *testing.T) {
	raws := []RawSpan{mkRaw("t1", "a", "", "svc", "op", 0, 100)}
	var buf bytes.Buffer
	traces, err := BuildTraces(raws, &buf)
	require.NoError(t, err)
	arrows := Arrows(traces[0])["a"]
	subs := Subspans(arrows)
	require.Len(t, subs, 1)
	assert.Equal(t, 100*time.Millisecond, subs[0].Duration())
}

func TestSubspans_CallerHasOneSubspanPerGap(t *testing.T) {
	raws := []RawSpan{
		mkRaw("t1", "a", "", "svc", "op", 0, 100),
		mkRaw("t1", "b", "a", "svc2", "c1", 10, 40),
		mkRaw("t1", "c", "a", "svc2", "c2", 50, 90),
	}
	var buf bytes.Buffer
	traces, err := BuildTraces(raws, &buf)
	require.NoError(t, err)
	arrows := Arrows(traces[0])["a"]
	subs := Subspans(arrows)
	// subspan boundaries fall only on forward/terminate events: [0,10), [10,50), [50,100)
	require.Len(t, subs, 3)
	assert.Equal(t, 0, subs[0].Index)
	assert.Equal(t, 2, subs[len(subs)-1].Index)
	assert.Equal(t, 40*time.Millisecond, subs[1].Duration())
}

func TestSubspans_Empty(t *testing.T) {
	assert.Nil(t, Subspans(nil))
}
