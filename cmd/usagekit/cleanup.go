package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/usagekit/usagekit/adapters/sqlite"
	"github.com/usagekit/usagekit/config"
	"github.com/usagekit/usagekit/domain/quota"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete stale usage rows from the sqlite store",
	Long: `Delete usage rows whose period is older than the retention window.

Stale rows are semantically zero and never read back, so this only
reclaims space. Safe to run while the service is live.

Examples:
  usagekit cleanup
  usagekit cleanup --retain-days 7`,
	RunE: runCleanup,
}

var cleanupRetainDays int

func init() {
	rootCmd.AddCommand(cleanupCmd)

	cleanupCmd.Flags().IntVar(&cleanupRetainDays, "retain-days", 3, "keep rows newer than this many days")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.Driver != "sqlite" {
		return fmt.Errorf("cleanup only applies to the sqlite store, driver is %q", cfg.Database.Driver)
	}

	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	cutoff := time.Now().UTC().AddDate(0, 0, -cleanupRetainDays)
	store := sqlite.NewUsageStore(db)
	removed, err := store.CleanupOldPeriods(cmd.Context(), quota.PeriodKey(cutoff))
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}

	fmt.Printf("Removed %d stale usage rows (older than %s)\n", removed, quota.PeriodKey(cutoff))
	return nil
}
