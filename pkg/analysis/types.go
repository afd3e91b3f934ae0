// Package analysis implements the four-layer hierarchical profiling
// pipeline: status partitioning (layer 1), request-type partitioning
// (layer 2), structural/statistical partitioning (layer 3), and
// subspan/event-signature partitioning (layer 4). Each layer is a concrete
// Analyzer grouping and profiling a population of trace ids; report.BuildTree
// drives them into the tree of report.Node values the report engine walks.
package analysis

import (
	"context"

	"github.com/andrewh/tprof/pkg/ingest"
	"github.com/andrewh/tprof/pkg/tstat"
	"github.com/andrewh/tprof/pkg/ttrace"
)

// Analyzer is the single capability every layer implements: partition a
// trace-id population into named groups, and summarize a population's
// statistics. Group and Profile are always called on the same population,
// in that order; Profile's concrete return type varies by layer (*Profile
// for layers 1-2, *StructureProfile for layer 3, *SubspanProfile for layer
// 4) and is type-switched on by the report engine.
type Analyzer interface {
	// Name identifies the layer for diagnostics and persisted artifact
	// paths ("l1".."l4").
	Name() string
	// Group partitions traceIDs into named buckets.
	Group(ctx context.Context, g ingest.Gather, traceIDs []string) (map[string][]string, error)
	// Profile summarizes traceIDs; see the type comment for the concrete
	// return type per layer.
	Profile(ctx context.Context, g ingest.Gather, traceIDs []string) (any, error)
}

// OpStat is one named row of a sorted operation/operation-self table.
type OpStat struct {
	Name string
	Stat tstat.Stat
}

// Profile is the layer-1/layer-2 result: per-operation duration and
// self-time statistics over the whole population, the norm/tail split, and
// their diff.
type Profile struct {
	Length int

	AllOperation  []OpStat
	NormOperation []OpStat
	TailOperation []OpStat
	DiffOperation []OpStat

	AllOperationSelf  []OpStat
	NormOperationSelf []OpStat
	TailOperationSelf []OpStat
	DiffOperationSelf []OpStat

	// Trace99, Trace99Left, Trace99Right are representative trace ids at
	// the population's 99th percentile (by T) and its immediate
	// neighbors; the neighbors are only populated for populations larger
	// than 100, matching the cutoff below which percentile neighbors
	// aren't statistically meaningful.
	Trace99      string
	Trace99Left  string
	Trace99Right string

	TraceIDs []string
}

// AggregateNode is one node of a layer-3 aggregate tree: a structural
// position (not a single span) summarized by a Stat over every trace whose
// structure matched this template, plus a Stat for the gap before each
// child starts (ChildDiffs) and the gap after the last child ends
// (EndDiff).
type AggregateNode struct {
	Name       string
	Children   []*AggregateNode
	Duration   tstat.Stat
	ChildDiffs []tstat.Stat
	EndDiff    tstat.Stat
}

// StructureProfile is the layer-3 result.
type StructureProfile struct {
	Length   int
	Overall  *AggregateNode
	Norm     *AggregateNode // nil when Length == 1
	Tail     *AggregateNode // nil when Length == 1
	Diff     *AggregateNode // nil when Length == 1
	TraceIDs []string
}

// SubspanStat is one named row of a subspan statistics table. Name is the
// span's path (see ttrace.PathLabels, already "~"-terminated) immediately
// followed by either "FullSpan" (the whole span's duration) or a subspan
// index (one inter-event interval within the span, e.g.
// "THEMASTERSPAN~svc:op~0").
type SubspanStat struct {
	Name string
	Stat tstat.Stat
}

// SubspanProfile is the layer-4 result.
type SubspanProfile struct {
	Length   int
	Whole    []SubspanStat
	Norm     []SubspanStat
	Tail     []SubspanStat
	Diff     []SubspanStat
	TraceIDs []string

	// Arrows holds one representative trace's relabeled, path-keyed arrow
	// lists, kept so the report engine can synthesize an aggregate trace
	// JSON document without refetching from the Gather. The key matches
	// the path prefix used in Whole/Norm/Tail/Diff's subspan names.
	Arrows map[string][]ttrace.Arrow
}
