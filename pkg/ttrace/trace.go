package ttrace

import (
	"fmt"
	"io"
	"sort"
)

// Status is a bitset of trace-level conditions.
type Status uint8

const (
	// StatusError is set when any span in the trace carries an error.
	StatusError Status = 1 << iota
	// StatusSpanDrop is set when a span's parent reference could not be
	// resolved and was rewritten to point at the synthetic master span.
	StatusSpanDrop
)

// GoodTracesName and ErroneousTracesName are the layer-1 grouping keys
// Status.String() returns.
const (
	GoodTracesName      = "Good_Traces"
	ErroneousTracesName = "Erroneous_Traces"
)

// String returns the bucket name the layer-1 analyzer groups on.
func (s Status) String() string {
	if s&StatusError != 0 {
		return ErroneousTracesName
	}
	return GoodTracesName
}

// Trace is a fully linked span tree for one trace id.
type Trace struct {
	ID     string
	Master *Span // synthetic root; its children are the trace's real roots
	Spans  map[string]*Span
	T      float64 // total duration, in seconds, of the master span
	Status Status
}

// InvariantError reports a fatal structural violation discovered while
// building a trace (duplicate span id, a span naming itself or an ancestor
// as parent, or more than one parent reference on a single span record).
type InvariantError struct {
	TraceID string
	SpanID  string
	Reason  string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("trace %s: span %s: %s", e.TraceID, e.SpanID, e.Reason)
}

// BuildTraces groups raw span records by trace id and links each group into
// a Trace. Warnings about recoverable conditions (dangling parent
// references) are written to w. A span whose parent id is not present among
// its trace's spans has its reference rewritten to the master span and the
// trace's StatusSpanDrop bit is set, per the span_drop invariant; it does
// not become an independent root.
func BuildTraces(raws []RawSpan, w io.Writer) ([]*Trace, error) {
	byTrace := make(map[string][]RawSpan)
	var order []string
	for _, r := range raws {
		if _, ok := byTrace[r.TraceID]; !ok {
			order = append(order, r.TraceID)
		}
		byTrace[r.TraceID] = append(byTrace[r.TraceID], r)
	}

	traces := make([]*Trace, 0, len(order))
	for _, id := range order {
		t, err := buildOne(id, byTrace[id], w)
		if err != nil {
			return nil, err
		}
		traces = append(traces, t)
	}
	return traces, nil
}

func buildOne(traceID string, raws []RawSpan, w io.Writer) (*Trace, error) {
	spans := make(map[string]*Span, len(raws))
	for _, r := range raws {
		if _, dup := spans[r.SpanID]; dup {
			return nil, &InvariantError{TraceID: traceID, SpanID: r.SpanID, Reason: "duplicate span id"}
		}
		if r.SpanID != "" && r.ParentID == r.SpanID {
			return nil, &InvariantError{TraceID: traceID, SpanID: r.SpanID, Reason: "span names itself as parent"}
		}
		spans[r.SpanID] = &Span{
			ID:         r.SpanID,
			ParentID:   r.ParentID,
			Service:    r.Service,
			Operation:  r.Operation,
			Start:      r.Start,
			End:        r.End,
			IsError:    r.IsError,
			Attributes: r.Attributes,
		}
	}

	master := &Span{ID: masterSpanID, Service: MasterSpanName}
	var status Status

	for _, s := range spans {
		if s.IsError {
			status |= StatusError
		}
		if s.ParentID == "" {
			master.Children = append(master.Children, s)
			continue
		}
		parent, ok := spans[s.ParentID]
		if !ok {
			fmt.Fprintf(w, "warning: span %s in trace %s has parent %s not found in dataset, rewriting to master span and marking span_drop\n", s.ID, traceID, s.ParentID)
			s.ParentID = masterSpanID
			master.Children = append(master.Children, s)
			status |= StatusSpanDrop
			continue
		}
		parent.Children = append(parent.Children, s)
	}

	sortByStart(master.Children)
	for _, s := range spans {
		sortByStart(s.Children)
	}

	reachable := make(map[*Span]bool, len(spans))
	Walk(master, func(s *Span) { reachable[s] = true })
	for _, s := range spans {
		if !reachable[s] {
			return nil, &InvariantError{TraceID: traceID, SpanID: s.ID, Reason: "span names an ancestor as parent"}
		}
	}

	if len(master.Children) > 0 {
		start, end := master.Children[0].Start, master.Children[0].End
		for _, c := range master.Children {
			if c.Start.Before(start) {
				start = c.Start
			}
			if c.End.After(end) {
				end = c.End
			}
		}
		master.Start, master.End = start, end
	}

	return &Trace{
		ID:     traceID,
		Master: master,
		Spans:  spans,
		T:      master.Duration().Seconds(),
		Status: status,
	}, nil
}

func sortByStart(children []*Span) {
	sort.SliceStable(children, func(i, j int) bool {
		return children[i].Start.Before(children[j].Start)
	})
}

// Walk visits span and every descendant, depth-first, pre-order.
func Walk(span *Span, visit func(*Span)) {
	visit(span)
	for _, c := range span.Children {
		Walk(c, visit)
	}
}
