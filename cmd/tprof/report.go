package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/andrewh/tprof/pkg/report"
	"github.com/andrewh/tprof/pkg/tconfig"
	"github.com/andrewh/tprof/pkg/tstore"
)

type reportOptions struct {
	runID       string
	configPath  string
	sqlitePath  string
	postgresDSN string
	showSubspan bool
	tracesDir   string
}

func reportCmd() *cobra.Command {
	var opts reportOptions

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Load a persisted snapshot and emit ranked bug reports plus aggregate trace JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.runID, "run", "", "snapshot run id to load (see `tprof analyze` output)")
	cmd.Flags().StringVar(&opts.configPath, "config", "", "tconfig YAML path (defaults applied when empty)")
	cmd.Flags().StringVar(&opts.sqlitePath, "sqlite", "tprof-snapshots.db", "embedded snapshot store path (used unless --postgres-dsn is set)")
	cmd.Flags().StringVar(&opts.postgresDSN, "postgres-dsn", "", "Postgres snapshot store connection string (overrides --sqlite)")
	cmd.Flags().BoolVar(&opts.showSubspan, "show-subspan", true, "include subspan-level detail in layer-4 matches")
	cmd.Flags().StringVar(&opts.tracesDir, "traces-dir", "", "directory to write synthesized aggregate trace JSON under (skipped when empty)")
	_ = cmd.MarkFlagRequired("run")

	return cmd
}

func runReport(ctx context.Context, cmd *cobra.Command, opts reportOptions) error {
	cfg := tconfig.Default()
	if opts.configPath != "" {
		loaded, err := tconfig.Load(opts.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	store, closeStore, err := buildStore(ctx, analyzeOptions{sqlitePath: opts.sqlitePath, postgresDSN: opts.postgresDSN})
	if err != nil {
		return err
	}
	defer closeStore()

	root, err := store.Load(ctx, opts.runID)
	if err != nil {
		return fmt.Errorf("loading snapshot %s: %w", opts.runID, err)
	}

	finder := report.NewFinder(cfg, opts.showSubspan)
	reports, err := finder.Find(root)
	if err != nil {
		return fmt.Errorf("finding bug reports: %w", err)
	}

	for i, r := range reports {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d. %s:%s (%s) mode=%s trace=%s\n",
			i+1, r.L1.Service, r.L1.Operation, r.L2.ReqType, r.L3.Mode, r.L4.TraceID)
	}

	if opts.tracesDir == "" {
		return nil
	}
	if err := os.MkdirAll(opts.tracesDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", opts.tracesDir, err)
	}
	for id, doc := range finder.AggregateTraces() {
		path := filepath.Join(opts.tracesDir, id+".json")
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
		err = json.NewEncoder(f).Encode(doc)
		f.Close()
		if err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	return nil
}
