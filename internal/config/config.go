// Package config defines the server configuration and provides validation
// helpers.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by LEDGER_* environment variables.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Oracle   OracleConfig   `toml:"oracle"`
	Matcher  MatcherConfig  `toml:"matcher"`
	Auth     AuthConfig     `toml:"auth"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	ReadTimeout     duration `toml:"read_timeout"`
	WriteTimeout    duration `toml:"write_timeout"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection parameters. An empty URL
// selects the in-memory store.
type DatabaseConfig struct {
	URL string `toml:"url"`
}

// RedisConfig holds the optional read-through cache parameters. An empty URL
// disables caching.
type RedisConfig struct {
	URL      string   `toml:"url"`
	CacheTTL duration `toml:"cache_ttl"`
}

// OracleConfig holds the upstream price-oracle endpoint.
type OracleConfig struct {
	BaseURL string `toml:"base_url"`
}

// MatcherConfig holds the reservation matcher scan interval.
type MatcherConfig struct {
	Interval duration `toml:"interval"`
}

// AuthConfig holds session parameters.
type AuthConfig struct {
	SessionTTL duration `toml:"session_ttl"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "10s", "24h").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "10s" or "24h".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     duration{10 * time.Second},
			WriteTimeout:    duration{10 * time.Second},
			ShutdownTimeout: duration{5 * time.Second},
		},
		Database: DatabaseConfig{URL: ""},
		Redis: RedisConfig{
			URL:      "",
			CacheTTL: duration{30 * time.Second},
		},
		Oracle: OracleConfig{
			BaseURL: "https://api.upbit.com",
		},
		Matcher: MatcherConfig{
			Interval: duration{10 * time.Second},
		},
		Auth: AuthConfig{
			SessionTTL: duration{24 * time.Hour},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout.Duration <= 0 {
		errs = append(errs, "server: read_timeout must be positive")
	}
	if c.Server.WriteTimeout.Duration <= 0 {
		errs = append(errs, "server: write_timeout must be positive")
	}
	if c.Server.ShutdownTimeout.Duration <= 0 {
		errs = append(errs, "server: shutdown_timeout must be positive")
	}

	if c.Redis.URL != "" && c.Database.URL == "" {
		errs = append(errs, "redis: caching requires database.url to be set")
	}
	if c.Redis.CacheTTL.Duration <= 0 {
		errs = append(errs, "redis: cache_ttl must be positive")
	}

	if c.Oracle.BaseURL == "" {
		errs = append(errs, "oracle: base_url must not be empty")
	}

	if c.Matcher.Interval.Duration <= 0 {
		errs = append(errs, "matcher: interval must be positive")
	}
	if c.Auth.SessionTTL.Duration <= 0 {
		errs = append(errs, "auth: session_ttl must be positive")
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// SlogLevel maps LogLevel onto the corresponding slog level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
