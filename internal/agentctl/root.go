// Package agentctl implements the agentcore command-line companion
// using Cobra. Each subcommand either talks to a daemon (mostly
// agentd) over its Unix socket or, for offline ledger verification,
// opens the database directly.
package agentctl

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tutu-network/agentcore/internal/config"
)

var rootCmd = &cobra.Command{
	Use:           "agentctl",
	Short:         "agentctl — inspect and drive the agentcore daemons",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig is shared by every subcommand that needs a socket path
// or data directory.
func loadConfig() (config.Config, error) {
	return config.Load()
}
