package main

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/andrewh/tprof/pkg/report"
	"github.com/andrewh/tprof/pkg/reportsrv"
	"github.com/andrewh/tprof/pkg/tconfig"
)

type serveOptions struct {
	addr        string
	jaegerUIURL string
	runID       string
	configPath  string
	sqlitePath  string
	postgresDSN string
	showSubspan bool
}

func serveCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a Jaeger-compatible HTTP proxy that substitutes synthesized aggregate traces for flagged ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", ":8088", "address to listen on")
	cmd.Flags().StringVar(&opts.jaegerUIURL, "jaeger-ui", "http://localhost:16686", "upstream Jaeger UI base URL to proxy unmatched requests to")
	cmd.Flags().StringVar(&opts.runID, "run", "", "snapshot run id whose bug reports should be surfaced")
	cmd.Flags().StringVar(&opts.configPath, "config", "", "tconfig YAML path (defaults applied when empty)")
	cmd.Flags().StringVar(&opts.sqlitePath, "sqlite", "tprof-snapshots.db", "embedded snapshot store path (used unless --postgres-dsn is set)")
	cmd.Flags().StringVar(&opts.postgresDSN, "postgres-dsn", "", "Postgres snapshot store connection string (overrides --sqlite)")
	cmd.Flags().BoolVar(&opts.showSubspan, "show-subspan", true, "include subspan-level detail in layer-4 matches")
	_ = cmd.MarkFlagRequired("run")

	return cmd
}

func runServe(cmd *cobra.Command, opts serveOptions) error {
	ctx := cmd.Context()

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
	if _, err := finder.Find(root); err != nil {
		return fmt.Errorf("finding bug reports: %w", err)
	}

	upstream, err := url.Parse(opts.jaegerUIURL)
	if err != nil {
		return fmt.Errorf("parsing --jaeger-ui %q: %w", opts.jaegerUIURL, err)
	}

	srv := reportsrv.NewServer(upstream, finder.AggregateTraces(), opts.runID)
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "serving on %s, proxying to %s\n", opts.addr, opts.jaegerUIURL)
	return http.ListenAndServe(opts.addr, srv.Handler())
}
