package analysis

import (
	"context"
	"fmt"

	"github.com/andrewh/tprof/pkg/ingest"
)

// StatusAnalyzer is the layer-1 analyzer: it partitions traces by
// Trace.Status.String() ("Good_Traces" / "Erroneous_Traces").
type StatusAnalyzer struct {
	baseProfiler
}

// NewStatusAnalyzer builds the layer-1 analyzer with the given tail cutoff
// percentage.
func NewStatusAnalyzer(tailCutoff int) *StatusAnalyzer {
	return &StatusAnalyzer{baseProfiler{tailCutoff: tailCutoff}}
}

func (a *StatusAnalyzer) Name() string { return "l1" }

func (a *StatusAnalyzer) Group(ctx context.Context, g ingest.Gather, traceIDs []string) (map[string][]string, error) {
	groups := make(map[string][]string)
	for _, id := range traceIDs {
		tr, err := g.GetTrace(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("fetching trace %s: %w", id, err)
		}
		key := tr.Status.String()
		groups[key] = append(groups[key], id)
	}
	return groups, nil
}

func (a *StatusAnalyzer) Profile(ctx context.Context, g ingest.Gather, traceIDs []string) (any, error) {
	return a.profile(ctx, g, traceIDs)
}
