package analysis

import (
	"context"
	"fmt"

	"github.com/andrewh/tprof/pkg/ingest"
	"github.com/andrewh/tprof/pkg/tconfig"
)

// RequestTypeAnalyzer is the layer-2 analyzer: it partitions traces by a
// pluggable Classifier, defaulting to tconfig.DefaultClassifier.
type RequestTypeAnalyzer struct {
	baseProfiler
	classify tconfig.Classifier
}

// NewRequestTypeAnalyzer builds the layer-2 analyzer. A nil classify uses
// tconfig.DefaultClassifier.
func NewRequestTypeAnalyzer(tailCutoff int, classify tconfig.Classifier) *RequestTypeAnalyzer {
	if classify == nil {
		classify = tconfig.DefaultClassifier
	}
	return &RequestTypeAnalyzer{baseProfiler{tailCutoff: tailCutoff}, classify}
}

func (a *RequestTypeAnalyzer) Name() string { return "l2" }

func (a *RequestTypeAnalyzer) Group(ctx context.Context, g ingest.Gather, traceIDs []string) (map[string][]string, error) {
	groups := make(map[string][]string)
	for _, id := range traceIDs {
		key, err := a.classify(ctx, g, id)
		if err != nil {
			return nil, fmt.Errorf("classifying trace %s: %w", id, err)
		}
		groups[key] = append(groups[key], id)
	}
	return groups, nil
}

func (a *RequestTypeAnalyzer) Profile(ctx context.Context, g ingest.Gather, traceIDs []string) (any, error) {
	return a.profile(ctx, g, traceIDs)
}
