// Package workload draws the boundary between tprof's analysis pipeline and
// whatever produces the traces it analyzes: a Runner starts a load source
// for a bounded window and reports back what it generated so a caller can
// hand [start, end] straight to ingest.Gather.FindTraceIDs. SynthRunner is
// the one implementation, adapting the topology-driven generator in
// pkg/synth.
package workload

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/andrewh/tprof/pkg/semconv"
	"github.com/andrewh/tprof/pkg/synth"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Runner drives a bounded burst of synthetic (or otherwise generated)
// traces and reports the wall-clock window they landed in, plus the
// topology's root-operation fan-out (Depth), so a caller can bound a
// Gather.FindTraceIDs search without guessing.
type Runner interface {
	Run(ctx context.Context) (start, end time.Time, depth int, err error)
}

// Protocol selects the OTLP transport SynthRunner exports spans over.
type Protocol string

const (
	ProtocolHTTP   Protocol = "http/protobuf"
	ProtocolGRPC   Protocol = "grpc"
	ProtocolStdout Protocol = "stdout"
)

// SynthRunnerConfig configures SynthRunner's tracer provider and run length.
type SynthRunnerConfig struct {
	ConfigPath string
	Protocol   Protocol
	Endpoint   string
	Duration   time.Duration
}

// SynthRunner adapts pkg/synth's topology-driven generator engine to the
// Runner boundary: it loads a YAML topology, resolves its domain attribute
// generators against the embedded semantic-convention registry, and runs
// the simulation loop for the configured duration.
type SynthRunner struct {
	cfg SynthRunnerConfig
}

// NewSynthRunner builds a SynthRunner from cfg. ConfigPath is required;
// Duration defaults to one minute when zero.
func NewSynthRunner(cfg SynthRunnerConfig) (*SynthRunner, error) {
	if cfg.ConfigPath == "" {
		return nil, fmt.Errorf("workload: ConfigPath is required")
	}
	if cfg.Duration == 0 {
		cfg.Duration = time.Minute
	}
	if cfg.Protocol == "" {
		cfg.Protocol = ProtocolHTTP
	}
	return &SynthRunner{cfg: cfg}, nil
}

// Run loads and validates the topology, builds the traffic pattern and
// scenario overrides, wires a tracer provider for the configured protocol,
// and runs the simulation to completion or until ctx is cancelled.
func (r *SynthRunner) Run(ctx context.Context) (time.Time, time.Time, int, error) {
	cfg, err := synth.LoadConfig(r.cfg.ConfigPath)
	if err != nil {
		return time.Time{}, time.Time{}, 0, fmt.Errorf("workload: loading config: %w", err)
	}
	if err := synth.ValidateConfig(cfg); err != nil {
		return time.Time{}, time.Time{}, 0, fmt.Errorf("workload: validating config: %w", err)
	}

	topo, err := buildTopology(cfg)
	if err != nil {
		return time.Time{}, time.Time{}, 0, err
	}
	traffic, err := synth.NewTrafficPattern(cfg.Traffic)
	if err != nil {
		return time.Time{}, time.Time{}, 0, fmt.Errorf("workload: traffic pattern: %w", err)
	}
	scenarios, err := synth.BuildScenarios(cfg.Scenarios, topo)
	if err != nil {
		return time.Time{}, time.Time{}, 0, fmt.Errorf("workload: scenarios: %w", err)
	}

	tp, err := r.tracerProvider(ctx)
	if err != nil {
		return time.Time{}, time.Time{}, 0, fmt.Errorf("workload: tracer provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "workload: tracer provider shutdown: %v\n", err)
		}
	}()

	engine := &synth.Engine{
		Topology:  topo,
		Traffic:   traffic,
		Scenarios: scenarios,
		Provider:  tp,
		Rng:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())), //nolint:gosec // synthetic data, not security-sensitive
		Duration:  r.cfg.Duration,
	}

	start := time.Now()
	if err := engine.Run(ctx); err != nil {
		return time.Time{}, time.Time{}, 0, fmt.Errorf("workload: run: %w", err)
	}
	end := time.Now()

	return start, end, len(topo.Roots), nil
}

func (r *SynthRunner) tracerProvider(ctx context.Context) (*sdktrace.TracerProvider, error) {
	switch r.cfg.Protocol {
	case ProtocolStdout:
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stdout))
		if err != nil {
			return nil, err
		}
		return sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter)), nil
	case ProtocolGRPC:
		var opts []otlptracegrpc.Option
		if r.cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(r.cfg.Endpoint), otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, err
		}
		return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter)), nil
	case ProtocolHTTP:
		var opts []otlptracehttp.Option
		if r.cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(r.cfg.Endpoint), otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, err
		}
		return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter)), nil
	default:
		return nil, fmt.Errorf("unsupported protocol %q", r.cfg.Protocol)
	}
}

func buildTopology(cfg *synth.Config) (*synth.Topology, error) {
	reg, err := semconv.LoadEmbedded()
	if err != nil {
		return nil, fmt.Errorf("workload: loading semantic conventions: %w", err)
	}
	return synth.BuildTopology(cfg, domainResolver(reg))
}

// domainResolver maps a topology's short domain name (e.g. "http") to the
// embedded registry's group, trying both the bare name and the registry's
// own "registry."-prefixed naming.
func domainResolver(reg *semconv.Registry) synth.DomainResolver {
	return func(domain string) map[string]synth.AttributeGenerator {
		g := reg.Group(domain)
		if g == nil {
			g = reg.Group("registry." + domain)
		}
		if g == nil {
			return nil
		}
		return semconv.GeneratorsFor(g)
	}
}
