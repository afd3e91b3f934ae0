package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/grafana/pyroscope-go"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/andrewh/tprof/pkg/analysis"
	"github.com/andrewh/tprof/pkg/ingest"
	"github.com/andrewh/tprof/pkg/report"
	"github.com/andrewh/tprof/pkg/tconfig"
	"github.com/andrewh/tprof/pkg/tstore"
)

type analyzeOptions struct {
	configPath    string
	fixtureDir    string
	jaegerAddr    string
	start, end    time.Duration // ago, relative to now
	depth         int
	resultsDir    string
	sqlitePath    string
	postgresDSN   string
	pyroscopeAddr string
}

func analyzeCmd() *cobra.Command {
	var opts analyzeOptions

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run the four-layer analysis pipeline over a trace population and persist the result tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "tconfig YAML path (defaults applied when empty)")
	cmd.Flags().StringVar(&opts.fixtureDir, "fixtures", "", "directory of Jaeger/OTLP JSON trace dumps (takes precedence over --jaeger-addr)")
	cmd.Flags().StringVar(&opts.jaegerAddr, "jaeger-addr", "", "Jaeger Query Service gRPC address")
	cmd.Flags().DurationVar(&opts.start, "since", time.Hour, "how far back to search for traces")
	cmd.Flags().IntVar(&opts.depth, "depth", 10000, "maximum traces fetched per service/operation")
	cmd.Flags().StringVar(&opts.resultsDir, "results-dir", "results", "directory to write layer1-4 plain-text reports under")
	cmd.Flags().StringVar(&opts.sqlitePath, "sqlite", "tprof-snapshots.db", "embedded snapshot store path (used unless --postgres-dsn is set)")
	cmd.Flags().StringVar(&opts.postgresDSN, "postgres-dsn", "", "Postgres snapshot store connection string (overrides --sqlite)")
	cmd.Flags().StringVar(&opts.pyroscopeAddr, "pyroscope", "", "Pyroscope server address to continuously profile this run against")

	return cmd
}

func runAnalyze(ctx context.Context, cmd *cobra.Command, opts analyzeOptions) error {
	if opts.pyroscopeAddr != "" {
		prof, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "tprof.analyze",
			ServerAddress:   opts.pyroscopeAddr,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
			},
		})
		if err != nil {
			return fmt.Errorf("starting pyroscope profiler: %w", err)
		}
		defer prof.Stop()
	}

	cfg := tconfig.Default()
	if opts.configPath != "" {
		loaded, err := tconfig.Load(opts.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	gather, closeGather, err := buildGather(ctx, opts, cfg)
	if err != nil {
		return err
	}
	defer closeGather()

	end := time.Now()
	start := end.Add(-opts.start)
	traceIDs, err := gather.FindTraceIDs(ctx, nil, start, end, opts.depth)
	if err != nil {
		return fmt.Errorf("finding trace ids: %w", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "found %d traces in [%s, %s]\n", len(traceIDs), start.Format(time.RFC3339), end.Format(time.RFC3339))

	analyzers := [4]analysis.Analyzer{
		analysis.NewStatusAnalyzer(cfg.TailCutoff),
		analysis.NewRequestTypeAnalyzer(cfg.TailCutoff, tconfig.DefaultClassifier),
		analysis.NewStructureAnalyzer(cfg.TailCutoff),
		analysis.NewSubspanAnalyzer(cfg.TailCutoff),
	}

	writer, err := tstore.NewLayerReportWriter(opts.resultsDir)
	if err != nil {
		return err
	}

	root, err := report.BuildTree(ctx, gather, analyzers, traceIDs, "results", writer)
	if err != nil {
		return fmt.Errorf("building result tree: %w", err)
	}

	store, closeStore, err := buildStore(ctx, opts)
	if err != nil {
		return err
	}
	defer closeStore()

	runID := report.NewRunID()
	if err := store.Save(ctx, runID, root); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote results under %s, snapshot run id %s\n", opts.resultsDir, runID)
	return nil
}

func buildGather(ctx context.Context, opts analyzeOptions, cfg tconfig.Config) (ingest.Gather, func(), error) {
	switch {
	case opts.fixtureDir != "":
		g, err := ingest.NewFileGather(opts.fixtureDir, os.Stderr)
		if err != nil {
			return nil, nil, fmt.Errorf("opening fixtures %s: %w", opts.fixtureDir, err)
		}
		return g, func() {}, nil
	case opts.jaegerAddr != "":
		conn, err := grpc.NewClient(opts.jaegerAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, nil, fmt.Errorf("dialing jaeger %s: %w", opts.jaegerAddr, err)
		}
		g := ingest.NewJaegerGRPCGather(conn, cfg.Abbrev)
		return g, func() { _ = conn.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("one of --fixtures or --jaeger-addr is required")
	}
}

func buildStore(ctx context.Context, opts analyzeOptions) (tstore.Store, func(), error) {
	if opts.postgresDSN != "" {
		s, err := tstore.NewPostgresStore(ctx, opts.postgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}
	s, err := tstore.NewSQLiteStore(opts.sqlitePath)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}
