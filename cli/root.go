// Package cli implements the rapidshare command-line interface using Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	dataDir  string
	hubURL   string
	logLevel string
}

// NewRootCommand builds the command tree.
func NewRootCommand(version string) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "rapidshare",
		Short: "Share files and text with devices on the same network",
		Long: `rapidshare registers this device's presence in a shared store, lists
nearby devices grouped by public address and records simulated transfers
between them.

Run 'rapidshare hub' on one machine to host the shared store, then
'rapidshare up' on each device.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "data directory (default: per-user config dir, or $RAPIDSHARE_DATA_DIR)")
	root.PersistentFlags().StringVar(&opts.hubURL, "hub", "", "hub URL, e.g. http://10.0.0.2:8787 (overrides settings)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (overrides settings)")

	root.AddCommand(
		newHubCmd(opts),
		newUpCmd(opts),
		newPeersCmd(opts),
		newSendCmd(opts),
		newTransfersCmd(opts),
		newNameCmd(opts),
		newWhoamiCmd(opts),
	)
	return root
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	if err := NewRootCommand(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
