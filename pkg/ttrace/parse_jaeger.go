package ttrace

import (
	"encoding/json"
	"fmt"
	"time"
)

// jaegerDoc mirrors the Jaeger Model JSON shape returned by a Jaeger query
// API (GET /api/traces/<id>) and served back through the report HTTP
// surface: a list of trace documents, each with a flat span list and a
// processID-keyed process table.
type jaegerDoc struct {
	Data []jaegerTrace `json:"data"`
}

type jaegerTrace struct {
	TraceID   string                  `json:"traceID"`
	Spans     []jaegerSpan            `json:"spans"`
	Processes map[string]jaegerProcess `json:"processes"`
}

type jaegerSpan struct {
	TraceID       string          `json:"traceID"`
	SpanID        string          `json:"spanID"`
	OperationName string          `json:"operationName"`
	References    []jaegerRef     `json:"references"`
	StartTime     int64           `json:"startTime"` // microseconds since epoch
	Duration      int64           `json:"duration"`  // microseconds
	Tags          []jaegerKV      `json:"tags"`
	ProcessID     string          `json:"processID"`
}

type jaegerRef struct {
	RefType string `json:"refType"`
	TraceID string `json:"traceID"`
	SpanID  string `json:"spanID"`
}

type jaegerKV struct {
	Key   string `json:"key"`
	Type  string `json:"type"`
	Value any    `json:"value"`
}

type jaegerProcess struct {
	ServiceName string     `json:"serviceName"`
	Tags        []jaegerKV `json:"tags"`
}

func parseJaeger(data []byte) ([]RawSpan, error) {
	var doc jaegerDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing Jaeger JSON: %w", err)
	}

	var spans []RawSpan
	for _, tr := range doc.Data {
		for _, js := range tr.Spans {
			var parents []string
			for _, ref := range js.References {
				if ref.RefType == "CHILD_OF" {
					parents = append(parents, ref.SpanID)
				}
			}
			if len(parents) > 1 {
				return nil, &InvariantError{TraceID: tr.TraceID, SpanID: js.SpanID, Reason: "more than one CHILD_OF reference"}
			}
			parentID := ""
			if len(parents) == 1 {
				parentID = parents[0]
			}

			proc := tr.Processes[js.ProcessID]
			attrs := make(map[string]string, len(js.Tags))
			isError := false
			for _, tag := range js.Tags {
				if tag.Key == "error" {
					if b, ok := tag.Value.(bool); ok && b {
						isError = true
					}
				}
				attrs[tag.Key] = fmt.Sprint(tag.Value)
			}

			start := time.UnixMicro(js.StartTime)
			end := start.Add(time.Duration(js.Duration) * time.Microsecond)

			spans = append(spans, RawSpan{
				TraceID:    js.TraceID,
				SpanID:     js.SpanID,
				ParentID:   parentID,
				Service:    proc.ServiceName,
				Operation:  js.OperationName,
				Start:      start,
				End:        end,
				IsError:    isError,
				Attributes: attrs,
			})
		}
	}

	if len(spans) == 0 {
		return nil, fmt.Errorf("no spans found in input")
	}
	return spans, nil
}
