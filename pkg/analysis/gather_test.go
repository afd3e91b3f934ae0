package analysis

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/andrewh/tprof/pkg/ingest"
)

// spanFixture is one span record for a stdouttrace-format NDJSON fixture.
type spanFixture struct {
	traceID, spanID, parentID, service, operation string
	start, end                                    time.Time
	isError                                       bool
}

func writeSpanFixture(t *testing.T, w io.Writer, f spanFixture) {
	t.Helper()
	evt := map[string]any{
		"Name": f.operation,
		"SpanContext": map[string]any{
			"TraceID": f.traceID,
			"SpanID":  f.spanID,
		},
		"Parent": map[string]any{
			"TraceID": f.traceID,
			"SpanID":  f.parentID,
		},
		"StartTime": f.start,
		"EndTime":   f.end,
		"Attributes": []map[string]any{
			{"Key": "synth.service", "Value": map[string]any{"Type": "STRING", "Value": f.service}},
		},
		"Status":               map[string]any{"Code": statusCode(f.isError)},
		"InstrumentationScope": map[string]any{"Name": ""},
	}
	data, err := json.Marshal(evt)
	require.NoError(t, err)
	_, err = w.Write(append(data, '\n'))
	require.NoError(t, err)
}

func statusCode(isError bool) string {
	if isError {
		return "Error"
	}
	return "Ok"
}

// newTestGather writes every fixture to one NDJSON file and returns a
// FileGather over it, grouping them into traces the same way a real
// stdouttrace capture would be ingested.
func newTestGather(t *testing.T, fixtures []spanFixture) ingest.Gather {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "spans.ndjson")
	f, err := os.Create(path)
	require.NoError(t, err)
	for _, fx := range fixtures {
		writeSpanFixture(t, f, fx)
	}
	require.NoError(t, f.Close())

	g, err := ingest.NewFileGather(path, io.Discard)
	require.NoError(t, err)
	return g
}
