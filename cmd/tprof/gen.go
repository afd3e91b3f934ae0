package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/andrewh/tprof/pkg/workload"
)

type genOptions struct {
	configPath string
	protocol   string
	endpoint   string
	duration   time.Duration
}

func genCmd() *cobra.Command {
	var opts genOptions

	cmd := &cobra.Command{
		Use:   "gen <topology.yaml>",
		Short: "Run the synthetic workload generator for a bounded window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := workload.NewSynthRunner(workload.SynthRunnerConfig{
				ConfigPath: args[0],
				Protocol:   workload.Protocol(opts.protocol),
				Endpoint:   opts.endpoint,
				Duration:   opts.duration,
			})
			if err != nil {
				return err
			}

			start, end, depth, err := runner.Run(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "generated traces from %d root operations, window [%s, %s]\n",
				depth, start.Format(time.RFC3339), end.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.protocol, "protocol", "http/protobuf", "OTLP protocol (http/protobuf, grpc, or stdout)")
	cmd.Flags().StringVar(&opts.endpoint, "endpoint", "", "OTLP endpoint (ignored for --protocol stdout)")
	cmd.Flags().DurationVar(&opts.duration, "duration", time.Minute, "simulation duration")

	return cmd
}
