// Trace performance profiler CLI
// Drives the ingest -> four-layer analysis -> report pipeline end to end
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "tprof",
		Short:        "Distributed-trace performance bug finder",
		SilenceUsage: true,
	}

	root.AddCommand(analyzeCmd())
	root.AddCommand(reportCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(genCmd())
	root.AddCommand(versionCmd())

	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "tprof %s (commit: %s, built: %s)\n", version, commit, buildTime)
		},
	}
}
