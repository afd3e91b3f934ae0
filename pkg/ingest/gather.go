// Package ingest defines the Gather boundary the analyzer consumes to find
// and fetch traces from a tracing backend, and ships two implementations:
// a file-backed reader for fixtures/offline analysis, and a thin gRPC
// client over a Jaeger Query Service.
package ingest

import (
	"context"
	"time"

	"github.com/andrewh/tprof/pkg/ttrace"
)

// Gather locates and fetches complete traces from a backing store. Both
// methods are network- or disk-bound and accept a context for
// cancellation/timeout; nothing else in the analysis pipeline performs I/O.
type Gather interface {
	// FindTraceIDs returns every trace id observed for the given
	// service -> operations selection within [start, end]. An empty
	// services map means "all services"; an empty operation list for a
	// named service means "all operations of that service". depth bounds
	// how many results are requested per service/operation pair.
	FindTraceIDs(ctx context.Context, services map[string][]string, start, end time.Time, depth int) ([]string, error)

	// GetTrace fetches and assembles the full span tree for traceID.
	GetTrace(ctx context.Context, traceID string) (*ttrace.Trace, error)
}

// Default search bounds mirrored from the reference Jaeger gather client:
// effectively unbounded below, capped at ten minutes above.
const (
	DefaultMinDuration = time.Nanosecond
	DefaultMaxDuration = 10 * time.Minute
)
