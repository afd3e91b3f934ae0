package ttrace

import (
	"sort"
	"time"
)

// ArrowKind identifies which of the four span-lifecycle events an Arrow
// records.
type ArrowKind int

const (
	// ArrowBegin marks a span starting to execute.
	ArrowBegin ArrowKind = iota
	// ArrowForward marks control handed to a child span.
	ArrowForward
	// ArrowReceive marks control returned from a child span.
	ArrowReceive
	// ArrowTerminate marks a span finishing execution.
	ArrowTerminate
)

// String renders the event kind the way it appears in a layer-4 event
// signature.
func (k ArrowKind) String() string {
	switch k {
	case ArrowBegin:
		return "begin"
	case ArrowForward:
		return "forward"
	case ArrowReceive:
		return "receive"
	case ArrowTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// Arrow is one timestamped lifecycle event belonging to a span's arrow
// list. SpanID names the span the event concerns: for ArrowBegin and
// ArrowTerminate this is the owning span itself; for ArrowForward and
// ArrowReceive it is the child span being called.
type Arrow struct {
	Kind        ArrowKind
	SpanID      string
	FuncName    string // filled in by WithFuncNames
	Superscript int    // tiebreaker for events sharing a timestamp
	Time        time.Time
}

// Arrows builds, for every span in t (including the synthetic master), the
// sorted list of lifecycle events: a begin/terminate pair bracketing the
// span's own execution, plus a forward/receive pair for every child call.
// Each span's list is sorted by (time, superscript).
func Arrows(t *Trace) map[string][]Arrow {
	result := make(map[string][]Arrow, len(t.Spans)+1)
	build := func(s *Span) {
		arrows := make([]Arrow, 0, 2+2*len(s.Children))
		arrows = append(arrows, Arrow{Kind: ArrowBegin, SpanID: s.ID, Time: s.Start, Superscript: 0})
		for _, child := range s.Children {
			arrows = append(arrows, Arrow{Kind: ArrowForward, SpanID: child.ID, Time: child.Start, Superscript: 1})
			arrows = append(arrows, Arrow{Kind: ArrowReceive, SpanID: child.ID, Time: child.End, Superscript: 2})
		}
		arrows = append(arrows, Arrow{Kind: ArrowTerminate, SpanID: s.ID, Time: s.End, Superscript: 3})
		sort.SliceStable(arrows, func(i, j int) bool {
			if !arrows[i].Time.Equal(arrows[j].Time) {
				return arrows[i].Time.Before(arrows[j].Time)
			}
			return arrows[i].Superscript < arrows[j].Superscript
		})
		result[s.ID] = arrows
	}
	build(t.Master)
	for _, s := range t.Spans {
		build(s)
	}
	return result
}

// WithFuncNames rewrites an Arrows result keyed by span id into one keyed
// by function name ("service:operation"), and stamps each Arrow's FuncName
// from the span it refers to. Used once a trace has been relabeled so the
// keys double as structural/event signatures.
func WithFuncNames(arrows map[string][]Arrow, lookup func(spanID string) string) map[string][]Arrow {
	out := make(map[string][]Arrow, len(arrows))
	for spanID, list := range arrows {
		renamed := make([]Arrow, len(list))
		for i, a := range list {
			a.FuncName = lookup(a.SpanID)
			renamed[i] = a
		}
		out[lookup(spanID)] = renamed
	}
	return out
}
