package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies environment variable overrides, and returns the
// final Config. A missing file is not an error: the defaults plus environment
// overrides apply. The returned Config has NOT been validated; the caller
// should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known environment variables and overwrites
// the corresponding Config fields when a variable is set. The bare
// PORT/DATABASE_URL/REDIS_URL names are kept for deployment platforms that
// inject them directly.
func applyEnvOverrides(cfg *Config) {
	setInt(&cfg.Server.Port, "PORT")
	setInt(&cfg.Server.Port, "LEDGER_SERVER_PORT")
	setDuration(&cfg.Server.ReadTimeout, "LEDGER_SERVER_READ_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "LEDGER_SERVER_WRITE_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "LEDGER_SERVER_SHUTDOWN_TIMEOUT")

	setStr(&cfg.Database.URL, "DATABASE_URL")
	setStr(&cfg.Database.URL, "LEDGER_DATABASE_URL")

	setStr(&cfg.Redis.URL, "REDIS_URL")
	setStr(&cfg.Redis.URL, "LEDGER_REDIS_URL")
	setDuration(&cfg.Redis.CacheTTL, "LEDGER_REDIS_CACHE_TTL")

	setStr(&cfg.Oracle.BaseURL, "LEDGER_ORACLE_BASE_URL")
	setDuration(&cfg.Matcher.Interval, "LEDGER_MATCHER_INTERVAL")
	setDuration(&cfg.Auth.SessionTTL, "LEDGER_AUTH_SESSION_TTL")

	setStr(&cfg.LogLevel, "LEDGER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
