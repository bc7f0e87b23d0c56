package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "usagekit",
	Short: "Usage quota and billing-event service",
	Long: `Usagekit tracks daily usage quotas and emits billable usage events.

It sits behind an authenticating gateway and answers quota questions
for anonymous and authenticated callers, merges anonymous usage into a
freshly authenticated identity exactly once, and converts raw usage
costs into billable units for an external billing ledger.

Quick start:
  usagekit serve     # Start the HTTP service
  usagekit validate  # Validate configuration`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "usagekit.yaml", "config file path")
}
