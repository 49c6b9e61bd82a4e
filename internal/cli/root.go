// Package cli implements the Spyglass command-line interface using cobra.
package cli

import (
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "0.1.0-dev"

// Execute runs the root command.
func Execute() error {
	return rootCmd().Execute()
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spyglass",
		Short: "Embedded telemetry pipeline for instrumented applications",
		Long: `Spyglass collects structured telemetry events (HTTP requests, database
calls, function timings) through a bounded in-process pipeline and
exports them to rotating JSONL files, SQLite, or the console.

The pipeline never blocks or fails the host application: a full queue
drops payloads by policy, sink failures are absorbed and counted, and
shutdown is bounded by a timeout.

Quick start:
  spyglass demo
  spyglass demo --config spyglass.yaml --events 200
  spyglass tail --dir ./telemetry --last 20`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		demoCmd(),
		tailCmd(),
	)

	return cmd
}
