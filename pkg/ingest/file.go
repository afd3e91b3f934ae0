package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/andrewh/tprof/pkg/ttrace"
)

// FileGather implements Gather over a directory of trace dump files
// (Jaeger Model JSON, OTLP JSON, or stdouttrace line-delimited JSON),
// auto-detected per file. Every file is parsed eagerly at construction
// time; traces are cached by id for GetTrace and FindTraceIDs both.
type FileGather struct {
	traces map[string]*ttrace.Trace
	order  []string
}

// NewFileGather walks dir (or reads a single file, if dir names one),
// parsing every trace dump it finds. Warnings about recoverable per-trace
// conditions (dangling parent references) are written to warnings.
func NewFileGather(dir string, warnings io.Writer) (*FileGather, error) {
	var raws []ttrace.RawSpan

	walkFile := func(path string) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		spans, err := ttrace.ParseSpans(bytes.NewReader(data), ttrace.FormatAuto)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
		raws = append(raws, spans...)
		return nil
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		if err := walkFile(dir); err != nil {
			return nil, err
		}
	} else {
		err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			return walkFile(path)
		})
		if err != nil {
			return nil, err
		}
	}

	traces, err := ttrace.BuildTraces(raws, warnings)
	if err != nil {
		return nil, err
	}

	g := &FileGather{traces: make(map[string]*ttrace.Trace, len(traces))}
	for _, t := range traces {
		g.traces[t.ID] = t
		g.order = append(g.order, t.ID)
	}
	sort.Strings(g.order)
	return g, nil
}

// FindTraceIDs returns every cached trace id whose master span falls within
// [start, end] and whose root service (if services is non-empty) matches
// the requested selection, capped at depth per call (depth <= 0 means
// unbounded).
func (g *FileGather) FindTraceIDs(_ context.Context, services map[string][]string, start, end time.Time, depth int) ([]string, error) {
	var out []string
	for _, id := range g.order {
		tr := g.traces[id]
		if !within(tr, start, end) {
			continue
		}
		if len(services) > 0 && !matchesServices(tr, services) {
			continue
		}
		out = append(out, id)
		if depth > 0 && len(out) >= depth {
			break
		}
	}
	return out, nil
}

func within(tr *ttrace.Trace, start, end time.Time) bool {
	if !start.IsZero() && tr.Master.End.Before(start) {
		return false
	}
	if !end.IsZero() && tr.Master.Start.After(end) {
		return false
	}
	return true
}

func matchesServices(tr *ttrace.Trace, services map[string][]string) bool {
	for _, root := range tr.Master.Children {
		ops, ok := services[root.Service]
		if !ok {
			continue
		}
		if len(ops) == 0 {
			return true
		}
		for _, op := range ops {
			if op == root.Operation {
				return true
			}
		}
	}
	return false
}

// GetTrace returns the cached trace for traceID.
func (g *FileGather) GetTrace(_ context.Context, traceID string) (*ttrace.Trace, error) {
	tr, ok := g.traces[traceID]
	if !ok {
		return nil, fmt.Errorf("trace %s not found", traceID)
	}
	return tr, nil
}
