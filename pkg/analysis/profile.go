package analysis

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/andrewh/tprof/pkg/ingest"
	"github.com/andrewh/tprof/pkg/tstat"
	"github.com/andrewh/tprof/pkg/ttrace"
)

// baseProfiler implements the profile() logic shared by the layer-1
// (status) and layer-2 (request-type) analyzers: sort the population by
// trace duration, split it into a norm baseline (the fastest TailCutoff%)
// and a tail population (the rest), and compute per-operation
// duration/self-time statistics plus their tail-minus-norm diff.
type baseProfiler struct {
	tailCutoff int // percent, 0-100
}

func (p baseProfiler) profile(ctx context.Context, g ingest.Gather, traceIDs []string) (*Profile, error) {
	if len(traceIDs) == 0 {
		return nil, fmt.Errorf("analysis: cannot profile an empty trace population")
	}

	traces := make([]*ttrace.Trace, 0, len(traceIDs))
	for _, id := range traceIDs {
		tr, err := g.GetTrace(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("fetching trace %s: %w", id, err)
		}
		traces = append(traces, tr)
	}
	sort.SliceStable(traces, func(i, j int) bool { return traces[i].T < traces[j].T })

	n := len(traces)
	idxCutoff := int(math.Floor(float64(p.tailCutoff) / 100 * float64(n)))
	idx99 := int(math.Floor(0.99 * float64(n)))

	result := &Profile{Length: len(traceIDs), TraceIDs: traceIDs}
	result.Trace99 = traces[idx99].ID
	if n > 100 {
		result.Trace99Left = traces[idx99-1].ID
		result.Trace99Right = traces[idx99+1].ID
	}

	result.AllOperation = calcOperation(traces)
	result.NormOperation = calcOperation(traces[:idxCutoff])
	result.TailOperation = calcOperation(traces[idxCutoff:])
	result.DiffOperation = calcDiff(result.NormOperation, result.TailOperation)

	result.AllOperationSelf = calcOperationSelf(traces)
	result.NormOperationSelf = calcOperationSelf(traces[:idxCutoff])
	result.TailOperationSelf = calcOperationSelf(traces[idxCutoff:])
	result.DiffOperationSelf = calcDiff(result.NormOperationSelf, result.TailOperationSelf)

	return result, nil
}

// calcOperation computes, per function name, the Stat of every matching
// span's wall-clock duration across traces, sorted by mean*count
// descending (the busiest operations first).
func calcOperation(traces []*ttrace.Trace) []OpStat {
	byName := make(map[string][]float64)
	var order []string
	for _, tr := range traces {
		arrows := ttrace.Arrows(tr)
		for spanID := range arrows {
			span := spanByID(tr, spanID)
			name := span.FuncName()
			if _, ok := byName[name]; !ok {
				order = append(order, name)
			}
			byName[name] = append(byName[name], span.Duration().Seconds())
		}
	}
	return sortedOpStats(byName, order)
}

// calcOperationSelf computes, per function name, the Stat of every
// matching span's self time across traces, using the same ordering.
func calcOperationSelf(traces []*ttrace.Trace) []OpStat {
	byName := make(map[string][]float64)
	var order []string
	for _, tr := range traces {
		arrows := ttrace.Arrows(tr)
		for spanID, list := range arrows {
			span := spanByID(tr, spanID)
			name := span.FuncName()
			if _, ok := byName[name]; !ok {
				order = append(order, name)
			}
			self := ttrace.SelfTime(list).Seconds()
			byName[name] = append(byName[name], self)
		}
	}
	return sortedOpStats(byName, order)
}

func sortedOpStats(byName map[string][]float64, order []string) []OpStat {
	out := make([]OpStat, 0, len(order))
	for _, name := range order {
		out = append(out, OpStat{Name: name, Stat: tstat.Calc(byName[name])})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Stat.Mean*float64(out[i].Stat.Count) > out[j].Stat.Mean*float64(out[j].Stat.Count)
	})
	return out
}

// calcDiff computes tail[name] - norm[name] for every name present in
// both norm and tail, sorted by mean descending. Names present only in
// norm (absent from tail) are dropped.
func calcDiff(norm, tail []OpStat) []OpStat {
	index := make(map[string]int, len(tail))
	for i, kv := range tail {
		index[kv.Name] = i
	}
	seen := make(map[string]bool, len(norm))
	var out []OpStat
	for _, kv := range norm {
		if seen[kv.Name] {
			continue // duplicate function names would indicate a grouping bug upstream
		}
		seen[kv.Name] = true
		i, ok := index[kv.Name]
		if !ok {
			continue
		}
		out = append(out, OpStat{Name: kv.Name, Stat: tail[i].Stat.Sub(kv.Stat)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Stat.Mean > out[j].Stat.Mean })
	return out
}

func spanByID(tr *ttrace.Trace, id string) *ttrace.Span {
	if tr.Master.ID == id {
		return tr.Master
	}
	return tr.Spans[id]
}
