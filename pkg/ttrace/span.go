// Package ttrace holds the trace/span/arrow/subspan data model shared by
// every analysis layer, and the parsers that build it from raw span records.
package ttrace

import "time"

// RawSpan is the format-independent span record produced by a parser
// (stdouttrace, OTLP, or Jaeger Model JSON) before trace trees are built.
type RawSpan struct {
	TraceID    string
	SpanID     string
	ParentID   string // empty for a top-level span
	Service    string
	Operation  string
	Start      time.Time
	End        time.Time
	IsError    bool
	Attributes map[string]string
}

// masterSpanID is the synthetic id given to the per-trace master span that
// wraps every true root (and every span whose parent reference could not be
// resolved, see Status.SpanDrop). It is chosen so it can never collide with
// a real hex-encoded span id.
const masterSpanID = "\x00master"

// MasterSpanName is the service name given to the synthetic master span;
// the report engine treats it as its root marker.
const MasterSpanName = "THEMASTERSPAN"

// Span is one node of a trace tree.
type Span struct {
	ID         string
	ParentID   string
	Service    string
	Operation  string
	Start      time.Time
	End        time.Time
	IsError    bool
	Attributes map[string]string
	Children   []*Span

	// Label is the sibling-disambiguated name assigned by Relabel; empty
	// until Relabel has run.
	Label string
}

// FuncName is the canonical "service:operation" identity used as a grouping
// key throughout the analyzer. A span with no operation name (the master
// span) reports its service name alone.
func (s *Span) FuncName() string {
	if s.Operation == "" {
		return s.Service
	}
	return s.Service + ":" + s.Operation
}

// Duration is End - Start.
func (s *Span) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// IsMaster reports whether s is the synthetic per-trace root.
func (s *Span) IsMaster() bool {
	return s.ID == masterSpanID
}
