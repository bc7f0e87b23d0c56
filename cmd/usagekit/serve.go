package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/usagekit/usagekit/bootstrap"
	"github.com/usagekit/usagekit/config"
)

var (
	hotReload bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the quota and metering service",
	Long: `Start the usagekit HTTP service.

The server will:
  - Load configuration from usagekit.yaml (or --config)
  - Or load configuration from UK_* environment variables
  - Open the usage store (sqlite, redis, or memory)
  - Serve quota decisions and accept metering events

Environment variables (for Docker deployments):
  UK_DATABASE_DRIVER        - Store backend: sqlite, redis, memory
  UK_DATABASE_DSN           - SQLite path (default: usagekit.db)
  UK_SERVER_PORT            - Server port (default: 8080)
  UK_LEDGER_MODE            - Billing ledger: none, remote, stripe
  UK_METERING_MODE          - Metering: live or shadow
  UK_LOG_LEVEL              - Log level: debug, info, warn, error

Examples:
  usagekit serve
  usagekit serve --config /etc/usagekit/config.yaml
  usagekit serve --hot-reload=false

  # Docker (env vars only):
  UK_DATABASE_DRIVER=memory usagekit serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
}

func runServe(cmd *cobra.Command, args []string) error {
	hasConfigFile := false
	if _, err := os.Stat(cfgFile); err == nil {
		hasConfigFile = true
	}

	var app *bootstrap.App
	var err error

	if hasConfigFile && hotReload {
		// Hot reload only works with a config file
		app, err = bootstrap.NewWithHotReload(cfgFile, zerolog.New(os.Stderr).With().Timestamp().Logger())
	} else {
		cfg, loadErr := config.LoadWithFallback(cfgFile)
		if loadErr != nil {
			return fmt.Errorf("load config: %w", loadErr)
		}
		app, err = bootstrap.New(cfg)
	}
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	return app.Run()
}
