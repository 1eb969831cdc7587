package bidpoold

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for bidpoold.
type Config struct {
	ListenAddress   string          `yaml:"listen"`
	Environment     string          `yaml:"environment"`
	ParamsPath      string          `yaml:"params"`
	ShutdownTimeout Duration        `yaml:"shutdown_timeout"`
	Storage         StorageConfig   `yaml:"storage"`
	Outbox          OutboxConfig    `yaml:"outbox"`
	Auth            AuthConfig      `yaml:"auth"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	Scheduler       SchedulerConfig `yaml:"scheduler"`
	Export          ExportConfig    `yaml:"export"`
	Log             LogConfig       `yaml:"log"`
	Telemetry       TelemetryConfig `yaml:"telemetry"`
}

// StorageConfig selects the engine state backend.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// OutboxConfig points at the instruction outbox database. DSNs starting with
// postgres:// or postgresql:// use Postgres, anything else is a sqlite file.
type OutboxConfig struct {
	DSN string `yaml:"dsn"`
	// RelayInterval is how often staged engine instructions are copied into
	// the outbox after a failed hand-off.
	RelayInterval Duration `yaml:"relay_interval"`
}

// AuthConfig configures JWT verification for mutating endpoints.
type AuthConfig struct {
	HMACSecret     string   `yaml:"hmac_secret"`
	HMACSecretFile string   `yaml:"hmac_secret_file"`
	Issuer         string   `yaml:"issuer"`
	Audience       string   `yaml:"audience"`
	ClockSkew      Duration `yaml:"clock_skew"`
}

// RateLimitConfig bounds requests per client.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// SchedulerConfig drives automatic treasury rounds.
type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`
	// Schedule is a six field cron expression (seconds first).
	Schedule string `yaml:"schedule"`
	Budget   string `yaml:"budget"`
}

// ExportConfig controls where settlement exports are written.
type ExportConfig struct {
	Directory string `yaml:"directory"`
}

// LogConfig tunes the structured logger.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TelemetryConfig configures the OTLP exporters.
type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	Headers     string  `yaml:"headers"`
	Metrics     bool    `yaml:"metrics"`
	Traces      bool    `yaml:"traces"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// LoadConfig reads configuration from the supplied path and applies
// environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyEnv(&cfg, os.Getenv)
	applyDefaults(&cfg)
	if err := cfg.Auth.normalise(); err != nil {
		return cfg, fmt.Errorf("auth: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	if value := strings.TrimSpace(getenv("BIDPOOLD_JWT_SECRET")); value != "" {
		cfg.Auth.HMACSecret = value
	}
	if value := strings.TrimSpace(getenv("BIDPOOLD_OUTBOX_DSN")); value != "" {
		cfg.Outbox.DSN = value
	}
	if value := strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); value != "" {
		cfg.Telemetry.Endpoint = value
	}
	if value := strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_HEADERS")); value != "" {
		cfg.Telemetry.Headers = value
	}
	if value := strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			cfg.Telemetry.Insecure = parsed
		}
	}
	if value := strings.TrimSpace(getenv("BIDPOOLD_ENV")); value != "" {
		cfg.Environment = value
	}
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.ParamsPath == "" {
		cfg.ParamsPath = "services/bidpoold/params.toml"
	}
	if cfg.ShutdownTimeout.Duration == 0 {
		cfg.ShutdownTimeout.Duration = 10 * time.Second
	}
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "leveldb"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "data/bidpool"
	}
	if cfg.Outbox.DSN == "" {
		cfg.Outbox.DSN = "data/outbox.db"
	}
	if cfg.Outbox.RelayInterval.Duration <= 0 {
		cfg.Outbox.RelayInterval.Duration = 30 * time.Second
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 600
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 50
	}
	if cfg.Scheduler.Schedule == "" {
		cfg.Scheduler.Schedule = "0 0 0 * * MON"
	}
	if cfg.Export.Directory == "" {
		cfg.Export.Directory = "data/exports"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		cfg.Telemetry.SampleRatio = 1
	}
}

func validateConfig(cfg Config) error {
	switch cfg.Storage.Backend {
	case "leveldb", "bolt", "bbolt", "memory":
	default:
		return fmt.Errorf("storage backend %q not supported", cfg.Storage.Backend)
	}
	if strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return fmt.Errorf("auth hmac_secret must be configured")
	}
	if cfg.Scheduler.Enabled && strings.TrimSpace(cfg.Scheduler.Budget) == "" {
		return fmt.Errorf("scheduler budget must be configured when the scheduler is enabled")
	}
	return nil
}

func (a *AuthConfig) normalise() error {
	if a == nil {
		return fmt.Errorf("auth configuration missing")
	}
	secret := strings.TrimSpace(a.HMACSecret)
	if path := strings.TrimSpace(a.HMACSecretFile); path != "" && secret == "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read hmac_secret_file: %w", err)
		}
		secret = strings.TrimSpace(string(contents))
	}
	a.HMACSecret = secret
	a.Issuer = strings.TrimSpace(a.Issuer)
	a.Audience = strings.TrimSpace(a.Audience)
	return nil
}
