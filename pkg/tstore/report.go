// Package tstore persists what the report engine produces: the plain-text
// layer reports under results/layer{1..4}-<key>/<N>.txt (LayerReportWriter,
// satisfying report.ArtifactWriter) and a durable snapshot of the full
// 4-level result tree for offline re-analysis, backed by either Postgres or
// embedded SQLite (see snapshot.go).
package tstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/andrewh/tprof/pkg/analysis"
)

// LayerReportWriter renders each layer's profiling result as an aligned
// plain-text table under BaseDir, matching the teacher pipeline's
// results/layer{N}-<key>/<N>.txt artifact layout. It satisfies
// report.ArtifactWriter.
type LayerReportWriter struct {
	BaseDir string

	seq atomic.Uint64
}

// NewLayerReportWriter creates the base results directory if it doesn't
// already exist.
func NewLayerReportWriter(baseDir string) (*LayerReportWriter, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("tstore: creating %s: %w", baseDir, err)
	}
	return &LayerReportWriter{BaseDir: baseDir}, nil
}

// WriteLayerResult renders result as a table (the concrete shape depends
// on which layer produced it) and writes it to
// <BaseDir>/<dirName>/<N>.txt, where N is a monotonically increasing
// sequence number scoped to this writer.
func (w *LayerReportWriter) WriteLayerResult(dirName string, traceIDs []string, result any) error {
	dir := filepath.Join(w.BaseDir, dirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("tstore: creating %s: %w", dir, err)
	}

	n := w.seq.Add(1)
	path := filepath.Join(dir, fmt.Sprintf("%d.txt", n))

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("tstore: creating %s: %w", path, err)
	}
	defer f.Close()

	fmt.Fprintf(f, "trace count: %d\n\n", len(traceIDs))
	t := table.NewWriter()
	t.SetOutputMirror(f)
	renderResult(t, result)
	t.Render()

	return nil
}

// printer formats means/percentiles to three decimal places with locale
// grouping, rather than hand-rolled fmt.Sprintf column padding.
var printer = message.NewPrinter(language.English)

func renderResult(t table.Writer, result any) {
	switch r := result.(type) {
	case *analysis.Profile:
		renderOpStatTable(t, "all operations", r.AllOperation)
		renderOpStatTable(t, "all operations (self time)", r.AllOperationSelf)
		if len(r.DiffOperation) > 0 {
			renderOpStatTable(t, "tail-vs-norm diff", r.DiffOperation)
		}
		if r.Trace99 != "" {
			t.AppendFooter(table.Row{"p99 trace", r.Trace99})
		}
	case *analysis.StructureProfile:
		t.AppendHeader(table.Row{"node", "count", "mean (s)"})
		appendAggregateRows(t, r.Overall, "")
	case *analysis.SubspanProfile:
		renderSubspanStatTable(t, "whole", r.Whole)
		if len(r.Diff) > 0 {
			renderSubspanStatTable(t, "tail-vs-norm diff", r.Diff)
		}
	default:
		t.AppendHeader(table.Row{"result"})
		t.AppendRow(table.Row{fmt.Sprintf("%v", r)})
	}
}

func renderOpStatTable(t table.Writer, section string, rows []analysis.OpStat) {
	t.AppendHeader(table.Row{section, "count", "mean (s)", "p99 (s)"})
	for _, r := range rows {
		t.AppendRow(table.Row{r.Name, r.Stat.Count, printer.Sprintf("%.3f", r.Stat.Mean), printer.Sprintf("%.3f", r.Stat.P99)})
	}
	t.AppendSeparator()
}

func renderSubspanStatTable(t table.Writer, section string, rows []analysis.SubspanStat) {
	t.AppendHeader(table.Row{section, "count", "mean (s)"})
	for _, r := range rows {
		t.AppendRow(table.Row{r.Name, r.Stat.Count, printer.Sprintf("%.3f", r.Stat.Mean)})
	}
	t.AppendSeparator()
}

func appendAggregateRows(t table.Writer, n *analysis.AggregateNode, prefix string) {
	if n == nil {
		return
	}
	name := prefix + n.Name
	t.AppendRow(table.Row{name, n.Duration.Count, printer.Sprintf("%.3f", n.Duration.Mean)})
	for _, c := range n.Children {
		appendAggregateRows(t, c, name+" > ")
	}
}
