package analysis

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/andrewh/tprof/pkg/ingest"
	"github.com/andrewh/tprof/pkg/tstat"
	"github.com/andrewh/tprof/pkg/ttrace"
)

// StructureAnalyzer is the layer-3 analyzer: it partitions traces by exact
// span-tree shape (function name plus recursively-matching children) and,
// within each shape, builds an aggregate tree of per-position duration,
// child_diff, and end_diff statistics, diffed between the norm baseline
// and the tail population.
type StructureAnalyzer struct {
	tailCutoff int
}

// NewStructureAnalyzer builds the layer-3 analyzer.
func NewStructureAnalyzer(tailCutoff int) *StructureAnalyzer {
	return &StructureAnalyzer{tailCutoff: tailCutoff}
}

func (a *StructureAnalyzer) Name() string { return "l3" }

func (a *StructureAnalyzer) Group(ctx context.Context, g ingest.Gather, traceIDs []string) (map[string][]string, error) {
	groups := make(map[string][]string)
	for _, id := range traceIDs {
		tr, err := g.GetTrace(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("fetching trace %s: %w", id, err)
		}
		key := structuralSignature(tr.Master)
		groups[key] = append(groups[key], id)
	}
	return groups, nil
}

// structuralSignature is a canonical string encoding of a span's shape:
// its function name, and the sorted signatures of its children. Two spans
// with the same signature have identical shape regardless of actual
// timing.
func structuralSignature(span *ttrace.Span) string {
	children := make([]string, 0, len(span.Children))
	for _, c := range span.Children {
		children = append(children, structuralSignature(c))
	}
	sort.Strings(children)
	return span.FuncName() + "(" + strings.Join(children, ",") + ")"
}

func (a *StructureAnalyzer) Profile(ctx context.Context, g ingest.Gather, traceIDs []string) (any, error) {
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

	result := &StructureProfile{Length: len(traceIDs), TraceIDs: traceIDs}
	overall, err := buildStructure(traces)
	if err != nil {
		return nil, err
	}
	result.Overall = overall
	if len(traceIDs) == 1 {
		return result, nil
	}

	n := len(traces)
	idxCutoff := int(math.Floor(float64(a.tailCutoff) / 100 * float64(n)))

	norm, err := buildStructure(traces[:idxCutoff])
	if err != nil {
		return nil, err
	}
	tail, err := buildStructure(traces[idxCutoff:])
	if err != nil {
		return nil, err
	}
	result.Norm, result.Tail = norm, tail
	if norm != nil && tail != nil {
		result.Diff = diffNode(norm, tail)
	}
	return result, nil
}

// nodeTemplate accumulates raw per-trace samples at one structural
// position before Stat computation.
type nodeTemplate struct {
	name          string
	children      []*nodeTemplate
	durations     []float64
	childDiffsRaw [][]float64
	endDiffRaw    []float64
}

func newTemplate(example *ttrace.Span) *nodeTemplate {
	t := &nodeTemplate{name: example.FuncName()}
	for _, c := range example.Children {
		t.children = append(t.children, newTemplate(c))
	}
	return t
}

// fillTemplate accumulates one trace's samples into tmpl. span must have
// the same shape tmpl was built from (guaranteed by StructureAnalyzer.Group
// partitioning traces by exact structural signature before profiling).
func fillTemplate(tmpl *nodeTemplate, span *ttrace.Span) error {
	if len(tmpl.children) != len(span.Children) {
		return fmt.Errorf("analysis: structural mismatch at %s: template has %d children, span has %d", tmpl.name, len(tmpl.children), len(span.Children))
	}

	tmpl.durations = append(tmpl.durations, span.Duration().Seconds())

	if tmpl.childDiffsRaw == nil {
		tmpl.childDiffsRaw = make([][]float64, len(span.Children))
	}
	prev := span.Start
	for i, child := range span.Children {
		tmpl.childDiffsRaw[i] = append(tmpl.childDiffsRaw[i], child.Start.Sub(prev).Seconds())
		prev = child.Start
	}

	if len(span.Children) > 0 {
		last := span.Children[len(span.Children)-1]
		tmpl.endDiffRaw = append(tmpl.endDiffRaw, span.End.Sub(last.End).Seconds())
	} else {
		tmpl.endDiffRaw = append(tmpl.endDiffRaw, 0)
	}

	for i, child := range span.Children {
		if err := fillTemplate(tmpl.children[i], child); err != nil {
			return err
		}
	}
	return nil
}

func calculate(tmpl *nodeTemplate) *AggregateNode {
	node := &AggregateNode{
		Name:     tmpl.name,
		Duration: tstat.Calc(tmpl.durations),
		EndDiff:  tstat.Calc(tmpl.endDiffRaw),
	}
	for _, raw := range tmpl.childDiffsRaw {
		node.ChildDiffs = append(node.ChildDiffs, tstat.Calc(raw))
	}
	for _, c := range tmpl.children {
		node.Children = append(node.Children, calculate(c))
	}
	sort.SliceStable(node.Children, func(i, j int) bool {
		return node.Children[i].Duration.Mean > node.Children[j].Duration.Mean
	})
	return node
}

// buildStructure builds the aggregate tree for a population of
// identically-shaped traces, using the first trace as the structural
// template. An empty population yields (nil, nil): there is no shape to
// build from, and that is not itself an error (a tiny tail_cutoff can
// legitimately empty the norm slice for small populations).
func buildStructure(traces []*ttrace.Trace) (*AggregateNode, error) {
	if len(traces) == 0 {
		return nil, nil
	}
	tmpl := newTemplate(traces[0].Master)
	for _, tr := range traces {
		if err := fillTemplate(tmpl, tr.Master); err != nil {
			return nil, err
		}
	}
	return calculate(tmpl), nil
}

// diffNode computes tail-minus-norm recursively, matching children by name
// (dropping any tail child whose name has no norm counterpart), and
// subtracting child_diff/end_diff vectors position-by-position under the
// assumption that norm and tail share the same shape (guaranteed by the
// group() partitioning both populations were drawn from).
func diffNode(norm, tail *AggregateNode) *AggregateNode {
	index := make(map[string]*AggregateNode, len(norm.Children))
	for _, c := range norm.Children {
		index[c.Name] = c
	}

	var children []*AggregateNode
	for _, tc := range tail.Children {
		if nc, ok := index[tc.Name]; ok {
			children = append(children, diffNode(nc, tc))
		}
	}
	sort.SliceStable(children, func(i, j int) bool {
		return children[i].Duration.Mean > children[j].Duration.Mean
	})

	n := len(tail.ChildDiffs)
	if len(norm.ChildDiffs) < n {
		n = len(norm.ChildDiffs)
	}
	childDiffs := make([]tstat.Stat, n)
	for i := 0; i < n; i++ {
		childDiffs[i] = tail.ChildDiffs[i].Sub(norm.ChildDiffs[i])
	}

	return &AggregateNode{
		Name:       tail.Name,
		Children:   children,
		Duration:   tail.Duration.Sub(norm.Duration),
		ChildDiffs: childDiffs,
		EndDiff:    tail.EndDiff.Sub(norm.EndDiff),
	}
}
