package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	rootCmd = &cobra.Command{
		Use:   "opsbot",
		Short: "Chat-driven AWS control plane",
		Long: `Opsbot - chat-driven AWS control plane

Opsbot lets operators start, stop and inspect EC2 and RDS resources from
Discord commands. Aliases map friendly server names to instance IDs, split
into full-control and metrics-only tiers, with cached describe results and
throttle-aware retries in front of the AWS APIs.`,
		Version: version,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`Opsbot {{.Version}} - chat-driven AWS control plane
`)
}
