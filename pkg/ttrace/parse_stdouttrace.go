package ttrace

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// stdouttraceEvent mirrors the Go OTel SDK's stdouttrace JSON output.
type stdouttraceEvent struct {
	Name        string `json:"Name"`
	SpanContext struct {
		TraceID string `json:"TraceID"`
		SpanID  string `json:"SpanID"`
	} `json:"SpanContext"`
	Parent struct {
		TraceID string `json:"TraceID"`
		SpanID  string `json:"SpanID"`
	} `json:"Parent"`
	StartTime            time.Time `json:"StartTime"`
	EndTime               time.Time `json:"EndTime"`
	Attributes            []sdkAttr `json:"Attributes"`
	Status                sdkStatus `json:"Status"`
	InstrumentationScope struct {
		Name string `json:"Name"`
	} `json:"InstrumentationScope"`
}

type sdkAttr struct {
	Key   string `json:"Key"`
	Value struct {
		Type  string `json:"Type"`
		Value any    `json:"Value"`
	} `json:"Value"`
}

type sdkStatus struct {
	Code string `json:"Code"`
}

// excludedAttributes are engine-internal or infrastructure attributes to
// omit from a parsed span's attribute map.
var excludedAttributes = map[string]bool{
	"synth.service":          true,
	"synth.operation":        true,
	"telemetry.sdk.language": true,
	"telemetry.sdk.name":     true,
	"telemetry.sdk.version":  true,
	"service.name":           true,
}

func parseStdouttrace(data []byte) ([]RawSpan, error) {
	var spans []RawSpan
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var evt stdouttraceEvent
		if err := json.Unmarshal(line, &evt); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}

		service := evt.InstrumentationScope.Name
		if service == "" {
			for _, attr := range evt.Attributes {
				if attr.Key == "synth.service" {
					if s, ok := attr.Value.Value.(string); ok {
						service = s
					}
				}
			}
		}

		parentID := evt.Parent.SpanID
		if isZeroID(parentID) {
			parentID = ""
		}

		attrs := make(map[string]string)
		for _, attr := range evt.Attributes {
			if excludedAttributes[attr.Key] {
				continue
			}
			attrs[attr.Key] = fmt.Sprint(attr.Value.Value)
		}

		spans = append(spans, RawSpan{
			TraceID:    evt.SpanContext.TraceID,
			SpanID:     evt.SpanContext.SpanID,
			ParentID:   parentID,
			Service:    service,
			Operation:  evt.Name,
			Start:      evt.StartTime,
			End:        evt.EndTime,
			IsError:    evt.Status.Code == "Error",
			Attributes: attrs,
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	if len(spans) == 0 {
		return nil, fmt.Errorf("no spans found in input")
	}
	return spans, nil
}
