package report

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"github.com/andrewh/tprof/pkg/analysis"
	"github.com/andrewh/tprof/pkg/ttrace"
)

// baseTimeMicros anchors every synthesized aggregate trace at the same
// fixed wall-clock instant; only relative timing within the trace matters
// to a viewer.
const baseTimeMicros int64 = 1617233601000000

// AggregateTraceDoc is a Jaeger Model JSON document (see pkg/ttrace's
// parser for the matching shape) synthesized from a layer-4 group's
// arrow/stat data instead of captured from a live system, so the report
// engine can visualize where a diagnosed bug sits inside a representative
// trace shape.
type AggregateTraceDoc struct {
	Data []AggregateTraceData `json:"data"`
}

type AggregateTraceData struct {
	TraceID   string                       `json:"traceID"`
	Spans     []AggregateSpan              `json:"spans"`
	Processes map[string]AggregateProcess `json:"processes"`
}

type AggregateSpan struct {
	TraceID       string          `json:"traceID"`
	SpanID        string          `json:"spanID"`
	Flags         int             `json:"flags"`
	OperationName string          `json:"operationName"`
	References    []AggregateRef  `json:"references"`
	StartTime     int64           `json:"startTime"`
	Duration      int64           `json:"duration"`
	ProcessID     string          `json:"processID"`
}

type AggregateRef struct {
	RefType string `json:"refType"`
	TraceID string `json:"traceID"`
	SpanID  string `json:"spanID"`
}

type AggregateProcess struct {
	ServiceName string `json:"serviceName"`
}

// aggregateBuilder accumulates the process table for one aggregate trace;
// one builder is used per GenerateAggregateTrace call and discarded.
type aggregateBuilder struct {
	proc        map[string]AggregateProcess
	abbrevInv   map[string]string
	showSubspan bool
}

func newAggregateBuilder(abbrevInv map[string]string, showSubspan bool) *aggregateBuilder {
	return &aggregateBuilder{proc: make(map[string]AggregateProcess), abbrevInv: abbrevInv, showSubspan: showSubspan}
}

// GenerateAggregateTrace synthesizes a Jaeger-shaped trace document showing
// a representative invocation of span, with problematicSubspanPath (a
// path~N or path~FullSpan name) highlighted as a distinct
// PROBLEMATIC_SPAN/PROBLEMATIC_SUBSPAN process.
func GenerateAggregateTrace(traceID string, arrows map[string][]ttrace.Arrow, stats []analysis.SubspanStat, problematicSubspanPath string, abbrevInv map[string]string, showSubspan bool) AggregateTraceDoc {
	b := newAggregateBuilder(abbrevInv, showSubspan)
	spans := b.generateSpans(0, ttrace.MasterSpanName+"~", "", arrows, stats, traceID, problematicSubspanPath)
	return AggregateTraceDoc{Data: []AggregateTraceData{{TraceID: traceID, Spans: spans, Processes: b.proc}}}
}

func (b *aggregateBuilder) getProc(serviceName string) string {
	for pid, p := range b.proc {
		if p.ServiceName == serviceName {
			return pid
		}
	}
	return ""
}

// splitPath splits a "~"-joined path into its named components, dropping
// the trailing empty element a trailing "~" produces.
func splitPath(path string) []string {
	parts := strings.Split(path, "~")
	if len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

func (b *aggregateBuilder) invAbbrev(name string) string {
	if full, ok := b.abbrevInv[name]; ok {
		return full
	}
	return name
}

func (b *aggregateBuilder) generateSpanID(path string) string {
	if path == ttrace.MasterSpanName+"~" {
		return ""
	}
	sum := sha1.Sum([]byte(path))
	return hex.EncodeToString(sum[:])[:16]
}

func (b *aggregateBuilder) generateSpan(spanID, parentID, path string, startSeconds, durSeconds float64, traceID string, highlight bool) AggregateSpan {
	parts := splitPath(path)
	spanName := parts[len(parts)-1]
	serv, op := splitServOp(spanName)
	fullServ, fullOp := b.invAbbrev(serv), b.invAbbrev(op)

	var refs []AggregateRef
	if parentID != "" {
		refs = []AggregateRef{{RefType: "CHILD_OF", TraceID: traceID, SpanID: parentID}}
	}

	var pid string
	if highlight {
		pid = fmt.Sprintf("p%d", len(b.proc)+1)
		name := "PROBLEMATIC_SUBSPAN"
		if spanName == "FullSpan" {
			name = "PROBLEMATIC_SPAN"
		}
		b.proc[pid] = AggregateProcess{ServiceName: name}
	} else {
		pid = b.getProc(fullServ)
		if pid == "" {
			pid = fmt.Sprintf("p%d", len(b.proc)+1)
			b.proc[pid] = AggregateProcess{ServiceName: fullServ}
		}
	}

	return AggregateSpan{
		TraceID:       traceID,
		SpanID:        spanID,
		Flags:         1,
		OperationName: fullOp,
		References:    refs,
		StartTime:     baseTimeMicros + microseconds(startSeconds),
		Duration:      microseconds(durSeconds),
		ProcessID:     pid,
	}
}

func microseconds(seconds float64) int64 {
	return int64(math.Round(seconds * 1e6))
}

// getSpanOrSubspanTime looks up name's mean duration (in seconds) among
// stats, falling back to zero when a layer-4 group never recorded it (e.g.
// a subspan index that a structural variant of the group never reaches).
func getSpanOrSubspanTime(stats []analysis.SubspanStat, name string) float64 {
	for _, s := range stats {
		if s.Name == name {
			return s.Stat.Mean
		}
	}
	return 0
}

// generateSpans walks one span's arrow list (already relabeled with
// path-qualified names), emitting its own span plus one per child call,
// recursing into each child in turn. startSeconds is relative to the trace
// root. problematicSubspanPath, when its path prefix matches span, adds an
// extra highlighted span for that subspan or full-span interval.
func (b *aggregateBuilder) generateSpans(startSeconds float64, span, parentID string, arrows map[string][]ttrace.Arrow, stats []analysis.SubspanStat, traceID, problematicSubspanPath string) []AggregateSpan {
	spanID := b.generateSpanID(span)
	spanDur := getSpanOrSubspanTime(stats, span+"FullSpan")

	var spans []AggregateSpan
	if spanID != "" {
		spans = append(spans, b.generateSpan(spanID, parentID, span, startSeconds, spanDur, traceID, false))
	}

	childStartIdx := make(map[string]int)
	localTime := []float64{0}
	subspanIdx := 0

	for idx, a := range arrows[span] {
		switch a.Kind {
		case ttrace.ArrowForward, ttrace.ArrowTerminate:
			subspanStart := localTime[len(localTime)-1]
			subspanDur := getSpanOrSubspanTime(stats, fmt.Sprintf("%s%d", span, subspanIdx))
			localTime = append(localTime, subspanStart+subspanDur)

			if b.showSubspan && matchesSubspanPrefix(problematicSubspanPath, span) {
				probIdx := problematicSubspanPath[strings.LastIndex(problematicSubspanPath, "~")+1:]
				if probIdx == "FullSpan" || probIdx == fmt.Sprintf("%d", subspanIdx) {
					spans = append(spans, b.generateSpan(b.generateSpanID(problematicSubspanPath), spanID, problematicSubspanPath, startSeconds+subspanStart, subspanDur, traceID, true))
				}
			}

			if a.Kind == ttrace.ArrowForward {
				childStartIdx[a.FuncName] = idx
				spans = append(spans, b.generateSpans(startSeconds+localTime[len(localTime)-1], a.FuncName, spanID, arrows, stats, traceID, problematicSubspanPath)...)
			}
			subspanIdx++
		case ttrace.ArrowReceive:
			localTime = append(localTime, localTime[childStartIdx[a.FuncName]]+getSpanOrSubspanTime(stats, a.FuncName+"FullSpan"))
		}
	}
	return spans
}

// matchesSubspanPrefix reports whether problematicSubspanPath's path
// prefix (everything up to its last "~") equals span.
func matchesSubspanPrefix(problematicSubspanPath, span string) bool {
	i := strings.LastIndex(problematicSubspanPath, "~")
	if i < 0 {
		return false
	}
	return problematicSubspanPath[:i+1] == span
}

// splitServOp splits a "service:operation" function name into its parts;
// a name with no ":" is a bare service name with no operation.
func splitServOp(name string) (service, operation string) {
	service, operation, _ = strings.Cut(name, ":")
	return service, operation
}
