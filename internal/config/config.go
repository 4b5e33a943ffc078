package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration for the mail2feed service.
type Config struct {
	Database   DatabaseConfig   `koanf:"database"`
	Server     ServerConfig     `koanf:"server"`
	Background BackgroundConfig `koanf:"background"`
	Feed       FeedConfig       `koanf:"feed"`
	Secret     SecretConfig     `koanf:"secret"`
	Redis      RedisConfig      `koanf:"redis"`
	Archive    ArchiveConfig    `koanf:"archive"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// DatabaseConfig holds the store connection string.
type DatabaseConfig struct {
	URL string `koanf:"url"` // sqlite file path, ":memory:", or postgres://...
}

// ServerConfig holds HTTP listener configuration.
type ServerConfig struct {
	Host               string   `koanf:"host"`
	Port               int      `koanf:"port"`
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`
}

// BackgroundConfig holds scheduler and processor tuning.
type BackgroundConfig struct {
	GlobalIntervalMinutes     int  `koanf:"global_interval_minutes"`
	PerAccountIntervalMinutes int  `koanf:"per_account_interval_minutes"`
	MaxConcurrentAccounts     int  `koanf:"max_concurrent_accounts"`
	ProcessingEnabled         bool `koanf:"processing_enabled"`
	RetentionIntervalSeconds  int  `koanf:"retention_interval_seconds"`

	RetryMaxAttempts         int     `koanf:"retry_max_attempts"`
	RetryInitialDelaySeconds int     `koanf:"retry_initial_delay_seconds"`
	MaxBackoffSeconds        int     `koanf:"max_backoff_seconds"`
	BackoffMultiplier        float64 `koanf:"backoff_multiplier"`

	MaxEmailsPerRun          int `koanf:"max_emails_per_run"`
	MaxProcessingTimeSeconds int `koanf:"max_processing_time_seconds"`
	MaxEmailAgeDays          int `koanf:"max_email_age_days"`
}

// FeedConfig holds syndication rendering tuning.
type FeedConfig struct {
	CacheDurationSeconds int `koanf:"cache_duration_seconds"`
	ItemLimit            int `koanf:"item_limit"`
}

// SecretConfig holds the key used to encrypt IMAP account passwords at rest.
type SecretConfig struct {
	AccountSecretKey string `koanf:"account_secret_key"` // 32 bytes, base64 or raw
}

// RedisConfig holds the optional duplicate-detection accelerator cache.
type RedisConfig struct {
	URL string `koanf:"url"` // empty disables the accelerator entirely
}

// ArchiveConfig holds the optional raw-message archival feature.
type ArchiveConfig struct {
	RawMessagesEnabled bool   `koanf:"raw_messages_enabled"`
	Dir                string `koanf:"dir"`
}

// LoggingConfig mirrors the ambient logging setup.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
	Output string `koanf:"output"` // stdout, stderr, or file path
}

// DefaultConfig returns a configuration with the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			URL: "mail2feed.db",
		},
		Server: ServerConfig{
			Host:               "127.0.0.1",
			Port:               3000,
			CORSAllowedOrigins: []string{"*"},
		},
		Background: BackgroundConfig{
			GlobalIntervalMinutes:     15,
			PerAccountIntervalMinutes: 30,
			MaxConcurrentAccounts:     3,
			ProcessingEnabled:         true,
			RetentionIntervalSeconds:  86400,

			RetryMaxAttempts:         3,
			RetryInitialDelaySeconds: 30,
			MaxBackoffSeconds:        300,
			BackoffMultiplier:        2.0,

			MaxEmailsPerRun:          100,
			MaxProcessingTimeSeconds: 300,
			MaxEmailAgeDays:          7,
		},
		Feed: FeedConfig{
			CacheDurationSeconds: 300,
			ItemLimit:            50,
		},
		Redis: RedisConfig{
			URL: "",
		},
		Archive: ArchiveConfig{
			RawMessagesEnabled: false,
			Dir:                "",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load builds configuration in layers: documented defaults, then an optional
// YAML file for non-secret baseline values, then environment variables,
// which always win. Env is the primary surface; the file is a convenience
// for local development.
func Load(configFile string) (*Config, error) {
	k := koanf.New(".")
	cfg := DefaultConfig()

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file: %w", err)
			}
		}
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix: "",
		TransformFunc: func(key, value string) (string, any) {
			mapped, ok := envKeyMap[key]
			if !ok {
				return "", nil
			}
			return mapped, value
		},
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyEnvOverrides(cfg)

	return cfg, nil
}

// envKeyMap maps the literal environment variable names from the external
// interface contract to koanf's dotted config paths.
var envKeyMap = map[string]string{
	"DATABASE_URL":         "database.url",
	"SERVER_HOST":          "server.host",
	"SERVER_PORT":          "server.port",
	"CORS_ALLOWED_ORIGINS": "server.cors_allowed_origins",

	"BACKGROUND_GLOBAL_INTERVAL_MINUTES":      "background.global_interval_minutes",
	"BACKGROUND_PER_ACCOUNT_INTERVAL_MINUTES": "background.per_account_interval_minutes",
	"BACKGROUND_MAX_CONCURRENT_ACCOUNTS":      "background.max_concurrent_accounts",
	"BACKGROUND_PROCESSING_ENABLED":           "background.processing_enabled",
	"BACKGROUND_RETENTION_INTERVAL":           "background.retention_interval_seconds",

	"BACKGROUND_RETRY_MAX_ATTEMPTS":           "background.retry_max_attempts",
	"BACKGROUND_RETRY_INITIAL_DELAY_SECONDS":  "background.retry_initial_delay_seconds",
	"BACKGROUND_MAX_EMAILS_PER_RUN":           "background.max_emails_per_run",
	"BACKGROUND_MAX_PROCESSING_TIME_SECONDS":  "background.max_processing_time_seconds",
	"BACKGROUND_MAX_EMAIL_AGE_DAYS":           "background.max_email_age_days",

	"FEED_CACHE_DURATION": "feed.cache_duration_seconds",
	"FEED_ITEM_LIMIT":     "feed.item_limit",
	"ACCOUNT_SECRET_KEY":  "secret.account_secret_key",
	"REDIS_URL":           "redis.url",
	"ARCHIVE_RAW_MESSAGES": "archive.raw_messages_enabled",
}

// applyEnvOverrides re-reads raw env vars that koanf's env provider can't
// cleanly coerce (comma lists, bare booleans) and applies them directly,
// since koanf.Unmarshal only handles scalar string-to-type conversions well.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.CORSAllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("ARCHIVE_RAW_MESSAGES"); v != "" {
		cfg.Archive.RawMessagesEnabled = v == "true" || v == "1"
	}
}

// Validate checks the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535 (got: %d)", c.Server.Port)
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}

	if c.Background.GlobalIntervalMinutes < 1 {
		return fmt.Errorf("background.global_interval_minutes must be positive")
	}
	if c.Background.PerAccountIntervalMinutes < 1 {
		return fmt.Errorf("background.per_account_interval_minutes must be positive")
	}
	if c.Background.RetentionIntervalSeconds < 1 {
		return fmt.Errorf("background.retention_interval_seconds must be positive")
	}
	if c.Background.MaxConcurrentAccounts < 1 {
		return fmt.Errorf("background.max_concurrent_accounts must be at least 1")
	}
	if c.Background.BackoffMultiplier < 1 {
		return fmt.Errorf("background.backoff_multiplier must be at least 1")
	}
	if c.Background.MaxBackoffSeconds < c.Background.RetryInitialDelaySeconds {
		return fmt.Errorf("background.max_backoff_seconds cannot be less than retry_initial_delay_seconds")
	}
	if c.Background.RetryMaxAttempts < 0 {
		return fmt.Errorf("background.retry_max_attempts cannot be negative")
	}
	if c.Background.MaxEmailsPerRun < 1 {
		return fmt.Errorf("background.max_emails_per_run must be at least 1")
	}
	if c.Background.MaxProcessingTimeSeconds < 1 {
		return fmt.Errorf("background.max_processing_time_seconds must be positive")
	}
	if c.Background.MaxEmailAgeDays < 0 {
		return fmt.Errorf("background.max_email_age_days cannot be negative")
	}

	if c.Feed.ItemLimit < 1 {
		return fmt.Errorf("feed.item_limit must be at least 1")
	}
	if c.Feed.CacheDurationSeconds < 0 {
		return fmt.Errorf("feed.cache_duration_seconds cannot be negative")
	}

	if c.Archive.RawMessagesEnabled && c.Archive.Dir == "" {
		return fmt.Errorf("archive.dir is required when archive.raw_messages_enabled is set")
	}

	if c.Logging.Level != "" {
		validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
		if !validLevels[c.Logging.Level] {
			return fmt.Errorf("logging.level must be one of: debug, info, warn, error (got: %s)", c.Logging.Level)
		}
	}
	if c.Logging.Format != "" {
		validFormats := map[string]bool{"json": true, "text": true}
		if !validFormats[c.Logging.Format] {
			return fmt.Errorf("logging.format must be one of: json, text (got: %s)", c.Logging.Format)
		}
	}

	return nil
}

// GlobalInterval returns the scheduler's global processing tick as a Duration.
func (c *Config) GlobalInterval() time.Duration {
	return time.Duration(c.Background.GlobalIntervalMinutes) * time.Minute
}

// PerAccountInterval returns the minimum spacing between two processing
// runs of the same account.
func (c *Config) PerAccountInterval() time.Duration {
	return time.Duration(c.Background.PerAccountIntervalMinutes) * time.Minute
}

// RetentionInterval returns the configured retention tick as a Duration.
func (c *Config) RetentionInterval() time.Duration {
	return time.Duration(c.Background.RetentionIntervalSeconds) * time.Second
}

// InitialBackoff returns the scheduler's starting retry delay.
func (c *Config) InitialBackoff() time.Duration {
	return time.Duration(c.Background.RetryInitialDelaySeconds) * time.Second
}

// MaxBackoff returns the scheduler's retry delay ceiling.
func (c *Config) MaxBackoff() time.Duration {
	return time.Duration(c.Background.MaxBackoffSeconds) * time.Second
}

// MaxProcessingTime returns the per-account processing run deadline.
func (c *Config) MaxProcessingTime() time.Duration {
	return time.Duration(c.Background.MaxProcessingTimeSeconds) * time.Second
}

// MaxEmailAge returns the retention age filter as a Duration, or zero when
// age filtering is disabled.
func (c *Config) MaxEmailAge() time.Duration {
	return time.Duration(c.Background.MaxEmailAgeDays) * 24 * time.Hour
}

// FeedCacheDuration returns the HTTP Cache-Control max-age for rendered feeds.
func (c *Config) FeedCacheDuration() time.Duration {
	return time.Duration(c.Feed.CacheDurationSeconds) * time.Second
}
