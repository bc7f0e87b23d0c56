package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/usagekit/usagekit/adapters/sqlite"
	"github.com/usagekit/usagekit/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the usagekit configuration file.

Checks:
  - YAML syntax is valid
  - Required fields are present and consistent
  - Database is writable (optional)

Examples:
  usagekit validate
  usagekit validate --config /etc/usagekit/config.yaml`,
	RunE: runValidate,
}

var (
	validateCheckDatabase bool
)

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckDatabase, "check-database", false, "check if database is writable")
}

func runValidate(cmd *cobra.Command, args []string) error {
	fmt.Printf("Validating %s...\n\n", cfgFile)

	// Check file exists
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Printf("  %s Config file exists\n", crossMark)
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Printf("  %s Config file exists\n", checkMark)

	// Load and validate config
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Printf("  %s Config syntax valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Printf("  %s Config syntax valid\n", checkMark)

	// Show config summary
	fmt.Printf("  %s Store: %s", checkMark, cfg.Database.Driver)
	if cfg.Database.Driver == "sqlite" {
		fmt.Printf(" (%s)", cfg.Database.DSN)
	}
	fmt.Println()
	fmt.Printf("  %s Identity mode: %s\n", checkMark, cfg.Identity.Mode)
	fmt.Printf("  %s Ledger mode: %s\n", checkMark, cfg.Ledger.Mode)
	fmt.Printf("  %s Metering mode: %s (markup %.2fx)\n", checkMark, cfg.Metering.Mode, cfg.Metering.MarkupRate)
	fmt.Printf("  %s Quota: anonymous %d/day, free %d/day\n", checkMark,
		cfg.Quota.AnonymousDaily, cfg.Quota.FreeDaily)

	// Optional: check database
	if validateCheckDatabase && cfg.Database.Driver == "sqlite" {
		if err := checkDatabaseWritable(cfg.Database.DSN); err != nil {
			fmt.Printf("  %s Database writable\n", crossMark)
			fmt.Printf("      Error: %v\n", err)
		} else {
			fmt.Printf("  %s Database writable\n", checkMark)
		}
	}

	fmt.Println()
	fmt.Println("Configuration is valid.")
	return nil
}

func checkDatabaseWritable(dsn string) error {
	db, err := sqlite.Open(dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return nil
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)
