package tconfig

import (
	"context"
	"strings"

	"github.com/andrewh/tprof/pkg/ingest"
	"github.com/andrewh/tprof/pkg/ttrace"
)

// Classifier assigns a request-type identifier to a trace for the layer-2
// grouper. Implementations may need to fetch the trace (hence the Gather
// and context parameters) even though the common case only looks at the
// first root span's service name.
type Classifier func(ctx context.Context, g ingest.Gather, traceID string) (string, error)

// DefaultClassifier splits the trace's first root span's service name on
// "_" and returns the leading component, e.g. "booking_service" -> "booking".
// Traces with no roots classify as "unknown".
func DefaultClassifier(ctx context.Context, g ingest.Gather, traceID string) (string, error) {
	tr, err := g.GetTrace(ctx, traceID)
	if err != nil {
		return "", err
	}
	return requestTypeOf(tr), nil
}

func requestTypeOf(tr *ttrace.Trace) string {
	if len(tr.Master.Children) == 0 {
		return "unknown"
	}
	name := tr.Master.Children[0].Service
	head, _, _ := strings.Cut(name, "_")
	return head
}
