package ttrace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Format identifies the wire representation of a raw span dump.
type Format string

const (
	FormatAuto        Format = "auto"
	FormatStdouttrace Format = "stdouttrace"
	FormatOTLP        Format = "otlp"
	FormatJaeger      Format = "jaeger"
)

// maxInputSize bounds how much of a trace dump is read into memory.
const maxInputSize = 256 * 1024 * 1024 // 256 MB

// ParseSpans reads raw span records from r in the given format. FormatAuto
// inspects the input to pick stdouttrace, OTLP, or Jaeger Model JSON.
func ParseSpans(r io.Reader, format Format) ([]RawSpan, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxInputSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	if len(data) > maxInputSize {
		return nil, fmt.Errorf("input exceeds maximum size of %d MB", maxInputSize/(1024*1024))
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("no spans found in input\n\nProvide a file or pipe stdin:\n  tprof analyze traces.json\n  cat traces.json | tprof analyze")
	}

	if format == FormatAuto {
		format, err = detectFormat(data)
		if err != nil {
			return nil, err
		}
	}

	switch format {
	case FormatStdouttrace:
		return parseStdouttrace(data)
	case FormatOTLP:
		return parseOTLP(data)
	case FormatJaeger:
		return parseJaeger(data)
	default:
		return nil, fmt.Errorf("unknown format %q, valid formats: auto, stdouttrace, otlp, jaeger", format)
	}
}

// detectFormat probes the first line (for line-delimited stdouttrace) and
// then the full document (for pretty-printed OTLP or Jaeger JSON).
func detectFormat(data []byte) (Format, error) {
	firstLine, _, hasMore := bytes.Cut(data, []byte{'\n'})
	firstLine = bytes.TrimSpace(firstLine)

	if f, ok := probeFormat(firstLine); ok {
		return f, nil
	}
	if hasMore {
		if f, ok := probeFormat(data); ok {
			return f, nil
		}
	}
	return "", fmt.Errorf("cannot detect format: input has none of SpanContext (stdouttrace), resourceSpans (OTLP), or data[].spans (Jaeger)")
}

func probeFormat(data []byte) (Format, bool) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return "", false
	}
	if _, ok := probe["SpanContext"]; ok {
		return FormatStdouttrace, true
	}
	if _, ok := probe["resourceSpans"]; ok {
		return FormatOTLP, true
	}
	if _, ok := probe["data"]; ok {
		return FormatJaeger, true
	}
	return "", false
}

// isZeroID reports whether a hex-encoded id is all zeros (OTel's sentinel
// for "no parent").
func isZeroID(id string) bool {
	for _, c := range id {
		if c != '0' {
			return false
		}
	}
	return len(id) > 0
}
