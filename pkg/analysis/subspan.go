package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/andrewh/tprof/pkg/ingest"
	"github.com/andrewh/tprof/pkg/tstat"
	"github.com/andrewh/tprof/pkg/ttrace"
)

// SubspanAnalyzer is the layer-4 analyzer: it partitions traces by their
// full event signature (every span's path-qualified name, paired with the
// kind and participant of every lifecycle event it raises) and, within each
// signature, builds subspan/full-span duration statistics diffed between
// the norm baseline and the tail population.
type SubspanAnalyzer struct {
	tailCutoff int
}

// NewSubspanAnalyzer builds the layer-4 analyzer with the given tail cutoff
// percentage.
func NewSubspanAnalyzer(tailCutoff int) *SubspanAnalyzer {
	return &SubspanAnalyzer{tailCutoff: tailCutoff}
}

func (a *SubspanAnalyzer) Name() string { return "l4" }

// relabeledArrows relabels tr in place (ttrace.Relabel mutates Span.Label)
// and returns its arrow lists rekeyed by path-qualified name, along with the
// path of every span.
func relabeledArrows(tr *ttrace.Trace) (arrows map[string][]ttrace.Arrow, paths map[string]string) {
	ttrace.Relabel(tr.Master)
	paths = ttrace.PathLabels(tr.Master)
	lookup := func(spanID string) string { return paths[spanID] }
	arrows = ttrace.WithFuncNames(ttrace.Arrows(tr), lookup)
	return arrows, paths
}

// eventSignature builds the canonical grouping key for a trace's relabeled
// arrows: a JSON object mapping each path-qualified name to the ordered list
// of [participant, kind] pairs its arrow list raises. encoding/json sorts
// object keys, so two traces with identical event structure always produce
// byte-identical strings regardless of map iteration order.
func eventSignature(arrows map[string][]ttrace.Arrow) string {
	sig := make(map[string][][2]string, len(arrows))
	for path, list := range arrows {
		pairs := make([][2]string, len(list))
		for i, a := range list {
			pairs[i] = [2]string{a.FuncName, a.Kind.String()}
		}
		sig[path] = pairs
	}
	data, err := json.Marshal(sig)
	if err != nil {
		// sig is built entirely from strings; Marshal cannot fail.
		panic(fmt.Sprintf("analysis: marshaling event signature: %v", err))
	}
	return string(data)
}

func (a *SubspanAnalyzer) Group(ctx context.Context, g ingest.Gather, traceIDs []string) (map[string][]string, error) {
	groups := make(map[string][]string)
	for _, id := range traceIDs {
		tr, err := g.GetTrace(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("fetching trace %s: %w", id, err)
		}
		arrows, _ := relabeledArrows(tr)
		key := eventSignature(arrows)
		groups[key] = append(groups[key], id)
	}
	return groups, nil
}

func (a *SubspanAnalyzer) Profile(ctx context.Context, g ingest.Gather, traceIDs []string) (any, error) {
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
	idxCutoff := int(math.Floor(float64(a.tailCutoff) / 100 * float64(n)))

	result := &SubspanProfile{Length: len(traceIDs), TraceIDs: traceIDs}
	result.Whole = calcSubspanStat(traces)
	result.Norm = calcSubspanStat(traces[:idxCutoff])
	result.Tail = calcSubspanStat(traces[idxCutoff:])
	result.Diff = calcSubspanDiff(result.Norm, result.Tail)

	representative, err := g.GetTrace(ctx, traceIDs[0])
	if err != nil {
		return nil, fmt.Errorf("fetching representative trace %s: %w", traceIDs[0], err)
	}
	arrows, _ := relabeledArrows(representative)
	result.Arrows = arrows

	return result, nil
}

// collectSubspanDurations gathers, per path-qualified name, every matching
// span's whole duration (name + "FullSpan") and every inter-event interval
// within it (name + the subspan's index), across traces.
func collectSubspanDurations(traces []*ttrace.Trace) (map[string][]float64, []string) {
	durations := make(map[string][]float64)
	var order []string
	record := func(name string, v float64) {
		if _, ok := durations[name]; !ok {
			order = append(order, name)
		}
		durations[name] = append(durations[name], v)
	}

	for _, tr := range traces {
		arrows, paths := relabeledArrows(tr)
		for spanID, path := range paths {
			span := spanByID(tr, spanID)
			record(path+"FullSpan", span.Duration().Seconds())
		}
		for path, list := range arrows {
			for _, sub := range ttrace.Subspans(list) {
				record(path+strconv.Itoa(sub.Index), sub.Duration().Seconds())
			}
		}
	}
	return durations, order
}

// calcSubspanStat computes the Stat for every path+FullSpan/index name seen
// across traces, sorted by mean descending except that names ending in
// "FullSpan" are always sorted to the bottom (their mean is used for the
// sort key only, not altered in the returned Stat).
func calcSubspanStat(traces []*ttrace.Trace) []SubspanStat {
	durations, order := collectSubspanDurations(traces)
	out := make([]SubspanStat, 0, len(order))
	for _, name := range order {
		out = append(out, SubspanStat{Name: name, Stat: tstat.Calc(durations[name])})
	}
	sortKey := func(s SubspanStat) float64 {
		if strings.HasSuffix(s.Name, "FullSpan") {
			return 0
		}
		return s.Stat.Mean
	}
	sort.SliceStable(out, func(i, j int) bool {
		ki, kj := sortKey(out[i]), sortKey(out[j])
		if ki != kj {
			return ki > kj
		}
		return !strings.HasSuffix(out[i].Name, "FullSpan") && strings.HasSuffix(out[j].Name, "FullSpan")
	})
	return out
}

// calcSubspanDiff computes tail[name] - norm[name] for every name present
// in both, sorted by mean descending. Duplicated twice from calcDiff in
// profile.go, one per statistic kind, matching the layer's own precedent of
// near-identical diff helpers per analyzer.
func calcSubspanDiff(norm, tail []SubspanStat) []SubspanStat {
	index := make(map[string]int, len(tail))
	for i, kv := range tail {
		index[kv.Name] = i
	}
	seen := make(map[string]bool, len(norm))
	var out []SubspanStat
	for _, kv := range norm {
		if seen[kv.Name] {
			continue
		}
		seen[kv.Name] = true
		i, ok := index[kv.Name]
		if !ok {
			continue
		}
		out = append(out, SubspanStat{Name: kv.Name, Stat: tail[i].Stat.Sub(kv.Stat)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Stat.Mean > out[j].Stat.Mean })
	return out
}
