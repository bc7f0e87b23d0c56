// Package bootstrap wires all dependencies and starts the application.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/usagekit/usagekit/adapters/clock"
	"github.com/usagekit/usagekit/adapters/idgen"
	"github.com/usagekit/usagekit/adapters/ledger"
	"github.com/usagekit/usagekit/adapters/memory"
	"github.com/usagekit/usagekit/adapters/metrics"
	redisadapter "github.com/usagekit/usagekit/adapters/redis"
	"github.com/usagekit/usagekit/adapters/remote"
	"github.com/usagekit/usagekit/adapters/sqlite"
	"github.com/usagekit/usagekit/app"
	"github.com/usagekit/usagekit/config"
	"github.com/usagekit/usagekit/domain/metering"
	"github.com/usagekit/usagekit/domain/quota"
	"github.com/usagekit/usagekit/ports"
	"github.com/usagekit/usagekit/web"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Config
	HTTPServer *http.Server
	Metrics    *metrics.Collector

	// Services
	QuotaService    *app.QuotaService
	TransferService *app.TransferService
	MeterService    *app.MeterService

	// Adapters (for cleanup)
	db          *sqlite.DB
	redisClient *goredis.Client
	recorder    ports.MeterRecorder
	holder      *config.Holder
}

// New creates and initializes the application from a loaded config.
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)
	logger.Info().Msg("initializing usagekit")

	a := &App{Logger: logger, Config: cfg}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.New()
		a.Metrics = collector
		logger.Info().Msg("prometheus metrics enabled")
	}

	clk := clock.Real{}

	store, transferLedger, err := a.buildStores(cfg)
	if err != nil {
		return nil, err
	}

	resolver, err := buildResolver(cfg)
	if err != nil {
		return nil, err
	}

	billingLedger, err := buildLedger(cfg)
	if err != nil {
		return nil, err
	}

	a.recorder = NewBatchRecorder(billingLedger, logger, collector,
		cfg.Metering.BatchSize, cfg.Metering.FlushInterval)

	a.QuotaService = app.NewQuotaService(app.QuotaDeps{
		Store:    store,
		Resolver: resolver,
		Clock:    clk,
		Logger:   logger,
		Metrics:  collector,
	}, app.QuotaConfig{
		Limits: quota.Limits{
			Anonymous: cfg.Quota.AnonymousDaily,
			Free:      cfg.Quota.FreeDaily,
		},
		StoreTimeout:      cfg.Quota.StoreTimeout,
		FailOpenRemaining: cfg.Quota.FailOpenRemaining,
	})

	a.TransferService = app.NewTransferService(store, transferLedger, clk, logger)

	a.MeterService = app.NewMeterService(a.recorder, idgen.UUID{}, clk, logger,
		metering.Pricing{
			MarkupRate:          cfg.Metering.MarkupRate,
			UnitScale:           cfg.Metering.UnitScale,
			ComputePerSecond:    cfg.Metering.ComputePerSecond,
			MinimumBillableSecs: cfg.Metering.MinimumSeconds,
		}, app.MeterMode(cfg.Metering.Mode))

	handler := web.NewHandler(web.Deps{
		Quota:          a.QuotaService,
		Transfer:       a.TransferService,
		Meter:          a.MeterService,
		Cache:          memory.NewDecisionCache(cfg.Quota.CacheTTL, clk),
		Clock:          clk,
		Logger:         logger,
		Metrics:        collector,
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsPath:    cfg.Metrics.Path,
	})

	a.HTTPServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return a, nil
}

// NewWithHotReload creates the application with config file watching and
// SIGHUP reload.
func NewWithHotReload(path string, logger zerolog.Logger) (*App, error) {
	holder, err := config.NewHolder(path, logger)
	if err != nil {
		return nil, err
	}

	a, err := New(holder.Get())
	if err != nil {
		return nil, err
	}
	a.holder = holder

	if err := holder.WatchFile(); err != nil {
		a.Logger.Warn().Err(err).Msg("config file watching unavailable")
	}
	holder.WatchSignals()

	return a, nil
}

func (a *App) buildStores(cfg *config.Config) (ports.UsageStore, ports.TransferLedger, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		db, err := sqlite.Open(cfg.Database.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		a.db = db
		a.Logger.Info().Str("dsn", cfg.Database.DSN).Msg("sqlite usage store ready")
		return sqlite.NewUsageStore(db), sqlite.NewTransferLedger(db), nil

	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Database.RedisAddr,
			Password: cfg.Database.RedisPassword,
			DB:       cfg.Database.RedisDB,
		})
		a.redisClient = client
		a.Logger.Info().Str("addr", cfg.Database.RedisAddr).Msg("redis usage store ready")
		return redisadapter.NewUsageStore(client), redisadapter.NewTransferLedger(client), nil

	case "memory":
		return memory.NewUsageStore(), memory.NewTransferLedger(), nil

	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

func buildResolver(cfg *config.Config) (ports.IdentityResolver, error) {
	switch cfg.Identity.Mode {
	case "headers":
		return web.ContextResolver{}, nil
	case "remote":
		client := remote.NewClient(remote.ClientConfig{
			BaseURL: strings.TrimRight(cfg.Identity.URL, "/"),
			APIKey:  cfg.Identity.APIKey,
			Timeout: cfg.Identity.Timeout,
		})
		return remote.NewIdentityResolver(client), nil
	default:
		return nil, fmt.Errorf("unknown identity mode %q", cfg.Identity.Mode)
	}
}

func buildLedger(cfg *config.Config) (ports.Ledger, error) {
	switch cfg.Ledger.Mode {
	case "none":
		return ledger.Noop{}, nil
	case "remote":
		return ledger.NewRemote(ledger.RemoteConfig{
			BaseURL: strings.TrimRight(cfg.Ledger.Remote.URL, "/"),
			APIKey:  cfg.Ledger.Remote.APIKey,
			Timeout: cfg.Ledger.Remote.Timeout,
		}), nil
	case "stripe":
		return ledger.NewStripe(ledger.StripeConfig{
			APIKey:     cfg.Ledger.Stripe.APIKey,
			MeterNames: cfg.Ledger.Stripe.MeterNames,
		}), nil
	default:
		return nil, fmt.Errorf("unknown ledger mode %q", cfg.Ledger.Mode)
	}
}

// Run starts the HTTP server and blocks until shutdown.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("addr", a.HTTPServer.Addr).Msg("http server listening")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.HTTPServer.Shutdown(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("http shutdown failed")
	}

	return a.Close()
}

// Close releases all resources.
func (a *App) Close() error {
	if a.holder != nil {
		a.holder.Stop()
	}
	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("recorder close failed")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close failed")
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("redis close failed")
		}
	}
	return nil
}

// setupLogger builds the process logger from config.
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)
	} else {
		logger = zerolog.New(os.Stderr).Level(level)
	}
	return logger.With().Timestamp().Logger()
}
