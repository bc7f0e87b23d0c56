// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Quota    QuotaConfig    `yaml:"quota"`
	Metering MeteringConfig `yaml:"metering"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Identity IdentityConfig `yaml:"identity"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig configures the authenticated usage store backend.
// Use "sqlite" for single-node deployments, "redis" when counters should
// live off the relational store, "memory" for tests.
type DatabaseConfig struct {
	Driver        string `yaml:"driver"` // "sqlite", "redis", "memory"
	DSN           string `yaml:"dsn"`    // sqlite file path
	RedisAddr     string `yaml:"redis_addr,omitempty"`
	RedisPassword string `yaml:"redis_password,omitempty"`
	RedisDB       int    `yaml:"redis_db,omitempty"`
}

// QuotaConfig configures quota limits and decision behavior.
type QuotaConfig struct {
	AnonymousDaily    int64         `yaml:"anonymous_daily"`     // small fixed allowance
	FreeDaily         int64         `yaml:"free_daily"`          // large safety ceiling
	StoreTimeout      time.Duration `yaml:"store_timeout"`       // bound on store access
	FailOpenRemaining int64         `yaml:"fail_open_remaining"` // remaining reported fail-open
	CacheTTL          time.Duration `yaml:"cache_ttl"`           // read-decision cache TTL
}

// MeteringConfig configures conversion of raw costs to billable units.
// Mode "live" emits to the ledger; anything else computes but does not
// emit (shadow).
type MeteringConfig struct {
	Mode             string        `yaml:"mode"` // "live" or "shadow"
	MarkupRate       float64       `yaml:"markup_rate"`
	UnitScale        int64         `yaml:"unit_scale"`
	ComputePerSecond float64       `yaml:"compute_per_second"`
	MinimumSeconds   float64       `yaml:"minimum_billable_seconds"`
	BatchSize        int           `yaml:"batch_size"`
	FlushInterval    time.Duration `yaml:"flush_interval"`
}

// LedgerConfig configures the external billing ledger.
// Use "none", "remote", or "stripe".
type LedgerConfig struct {
	Mode   string             `yaml:"mode"`
	Remote RemoteLedgerConfig `yaml:"remote,omitempty"`
	Stripe StripeLedgerConfig `yaml:"stripe,omitempty"`
}

// RemoteLedgerConfig configures an HTTP ledger endpoint.
type RemoteLedgerConfig struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// StripeLedgerConfig configures Stripe billing meter events.
type StripeLedgerConfig struct {
	APIKey     string            `yaml:"api_key"`
	MeterNames map[string]string `yaml:"meter_names,omitempty"`
}

// IdentityConfig configures subscription resolution.
// "headers" trusts the gateway to pass subscription state on each
// request; "remote" resolves against an HTTP identity service.
type IdentityConfig struct {
	Mode    string        `yaml:"mode"` // "headers" or "remote"
	URL     string        `yaml:"url,omitempty"`
	APIKey  string        `yaml:"api_key,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads configuration from a YAML file. A .env file alongside the
// process, if present, is loaded first so ${VAR} expansion and overrides
// can see it.
func Load(path string) (*Config, error) {
	godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables,
// for container deployments where no config file is mounted.
func LoadFromEnv() (*Config, error) {
	godotenv.Load()

	var cfg Config
	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// LoadWithFallback tries to load from file, falls back to environment
// variables.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies UK_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("UK_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("UK_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("UK_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("UK_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("UK_REDIS_ADDR"); v != "" {
		cfg.Database.RedisAddr = v
	}
	if v := os.Getenv("UK_QUOTA_ANONYMOUS_DAILY"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Quota.AnonymousDaily = n
		}
	}
	if v := os.Getenv("UK_QUOTA_FREE_DAILY"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Quota.FreeDaily = n
		}
	}
	if v := os.Getenv("UK_METERING_MODE"); v != "" {
		cfg.Metering.Mode = v
	}
	if v := os.Getenv("UK_METERING_MARKUP_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Metering.MarkupRate = f
		}
	}
	if v := os.Getenv("UK_LEDGER_MODE"); v != "" {
		cfg.Ledger.Mode = v
	}
	if v := os.Getenv("UK_LEDGER_REMOTE_URL"); v != "" {
		cfg.Ledger.Remote.URL = v
	}
	if v := os.Getenv("UK_LEDGER_REMOTE_API_KEY"); v != "" {
		cfg.Ledger.Remote.APIKey = v
	}
	if v := os.Getenv("UK_STRIPE_API_KEY"); v != "" {
		cfg.Ledger.Stripe.APIKey = v
	}
	if v := os.Getenv("UK_IDENTITY_MODE"); v != "" {
		cfg.Identity.Mode = v
	}
	if v := os.Getenv("UK_IDENTITY_URL"); v != "" {
		cfg.Identity.URL = v
	}
	if v := os.Getenv("UK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("UK_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("UK_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
}

func parseBool(v string) bool {
	v = strings.ToLower(v)
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "usagekit.db"
	}
	if cfg.Database.RedisAddr == "" {
		cfg.Database.RedisAddr = "localhost:6379"
	}
	if cfg.Quota.AnonymousDaily == 0 {
		cfg.Quota.AnonymousDaily = 3
	}
	if cfg.Quota.FreeDaily == 0 {
		cfg.Quota.FreeDaily = 50000
	}
	if cfg.Quota.StoreTimeout == 0 {
		cfg.Quota.StoreTimeout = 2 * time.Second
	}
	if cfg.Quota.FailOpenRemaining == 0 {
		cfg.Quota.FailOpenRemaining = 50
	}
	if cfg.Quota.CacheTTL == 0 {
		cfg.Quota.CacheTTL = 5 * time.Second
	}
	if cfg.Metering.Mode == "" {
		cfg.Metering.Mode = "shadow"
	}
	if cfg.Metering.MarkupRate == 0 {
		cfg.Metering.MarkupRate = 1.2
	}
	if cfg.Metering.UnitScale == 0 {
		cfg.Metering.UnitScale = 100
	}
	if cfg.Metering.ComputePerSecond == 0 {
		cfg.Metering.ComputePerSecond = 0.001
	}
	if cfg.Metering.MinimumSeconds == 0 {
		cfg.Metering.MinimumSeconds = 1
	}
	if cfg.Metering.BatchSize == 0 {
		cfg.Metering.BatchSize = 100
	}
	if cfg.Metering.FlushInterval == 0 {
		cfg.Metering.FlushInterval = 10 * time.Second
	}
	if cfg.Ledger.Mode == "" {
		cfg.Ledger.Mode = "none"
	}
	if cfg.Ledger.Remote.Timeout == 0 {
		cfg.Ledger.Remote.Timeout = 10 * time.Second
	}
	if cfg.Identity.Mode == "" {
		cfg.Identity.Mode = "headers"
	}
	if cfg.Identity.Timeout == 0 {
		cfg.Identity.Timeout = 2 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

// Validate checks configuration consistency. Exposed for the validate
// command.
func Validate(cfg *Config) error {
	switch cfg.Database.Driver {
	case "sqlite", "redis", "memory":
	default:
		return fmt.Errorf("database.driver must be sqlite, redis, or memory, got %q", cfg.Database.Driver)
	}

	switch cfg.Ledger.Mode {
	case "none", "remote", "stripe":
	default:
		return fmt.Errorf("ledger.mode must be none, remote, or stripe, got %q", cfg.Ledger.Mode)
	}
	if cfg.Ledger.Mode == "remote" && cfg.Ledger.Remote.URL == "" {
		return fmt.Errorf("ledger.remote.url is required when ledger.mode=remote")
	}
	if cfg.Ledger.Mode == "stripe" && cfg.Ledger.Stripe.APIKey == "" {
		return fmt.Errorf("ledger.stripe.api_key is required when ledger.mode=stripe")
	}

	switch cfg.Metering.Mode {
	case "live", "shadow":
	default:
		return fmt.Errorf("metering.mode must be live or shadow, got %q", cfg.Metering.Mode)
	}
	if cfg.Metering.Mode == "live" && cfg.Ledger.Mode == "none" {
		return fmt.Errorf("metering.mode=live requires a ledger (ledger.mode=remote or stripe)")
	}
	if cfg.Metering.MarkupRate < 1 {
		return fmt.Errorf("metering.markup_rate must be >= 1, got %v", cfg.Metering.MarkupRate)
	}

	switch cfg.Identity.Mode {
	case "headers", "remote":
	default:
		return fmt.Errorf("identity.mode must be headers or remote, got %q", cfg.Identity.Mode)
	}
	if cfg.Identity.Mode == "remote" && cfg.Identity.URL == "" {
		return fmt.Errorf("identity.url is required when identity.mode=remote")
	}

	if cfg.Quota.AnonymousDaily < 0 {
		return fmt.Errorf("quota.anonymous_daily must be positive, got %d", cfg.Quota.AnonymousDaily)
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", cfg.Logging.Level)
	}

	return nil
}
