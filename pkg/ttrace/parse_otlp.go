package ttrace

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/encoding/protojson"
)

func parseOTLP(data []byte) ([]RawSpan, error) {
	var req coltracepb.ExportTraceServiceRequest
	opts := protojson.UnmarshalOptions{DiscardUnknown: true}
	if err := opts.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parsing OTLP: %w", err)
	}

	var spans []RawSpan
	for _, rs := range req.ResourceSpans {
		serviceName := ""
		for _, attr := range rs.Resource.GetAttributes() {
			if attr.Key == "service.name" {
				serviceName = attr.Value.GetStringValue()
			}
		}

		for _, ss := range rs.ScopeSpans {
			scopeName := ss.Scope.GetName()

			for _, span := range ss.Spans {
				svc := serviceName
				if svc == "" {
					svc = scopeName
				}

				parentID := hex.EncodeToString(span.ParentSpanId)
				if isZeroID(parentID) || len(span.ParentSpanId) == 0 {
					parentID = ""
				}

				isError := span.Status != nil && span.Status.Code == tracepb.Status_STATUS_CODE_ERROR

				attrs := make(map[string]string)
				for _, attr := range span.Attributes {
					if excludedAttributes[attr.Key] {
						continue
					}
					attrs[attr.Key] = attrValueString(attr.Value)
				}

				spans = append(spans, RawSpan{
					TraceID:    hex.EncodeToString(span.TraceId),
					SpanID:     hex.EncodeToString(span.SpanId),
					ParentID:   parentID,
					Service:    svc,
					Operation:  span.Name,
					Start:      time.Unix(0, int64(span.StartTimeUnixNano)), //nolint:gosec
					End:        time.Unix(0, int64(span.EndTimeUnixNano)),   //nolint:gosec
					IsError:    isError,
					Attributes: attrs,
				})
			}
		}
	}

	if len(spans) == 0 {
		return nil, fmt.Errorf("no spans found in input")
	}
	return spans, nil
}

// attrValueString extracts a string representation from an OTLP AnyValue.
func attrValueString(v interface{ GetStringValue() string }) string {
	s := v.GetStringValue()
	if s != "" {
		return s
	}
	str := fmt.Sprintf("%v", v)
	if _, after, ok := strings.Cut(str, ":"); ok {
		return strings.TrimSpace(after)
	}
	return strings.TrimSpace(str)
}
