package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Matcher.Interval.Duration != 10*time.Second {
		t.Errorf("matcher interval = %s, want 10s", cfg.Matcher.Interval)
	}
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	raw := `
log_level = "debug"

[server]
port = 9090

[matcher]
interval = "2s"
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LEDGER_SERVER_PORT", "7070")
	t.Setenv("LEDGER_AUTH_SESSION_TTL", "1h")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want env override 7070", cfg.Server.Port)
	}
	if cfg.Matcher.Interval.Duration != 2*time.Second {
		t.Errorf("interval = %s, want file value 2s", cfg.Matcher.Interval)
	}
	if cfg.Auth.SessionTTL.Duration != time.Hour {
		t.Errorf("session ttl = %s, want env override 1h", cfg.Auth.SessionTTL)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %s, want debug", cfg.LogLevel)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if cfg.Server.Port != 8080 && os.Getenv("PORT") == "" {
		t.Errorf("port = %d, want default 8080", cfg.Server.Port)
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = -1
	cfg.Redis.URL = "redis://localhost:6379" // without database.url
	cfg.LogLevel = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"port", "database.url", "log_level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s: %v", want, err)
		}
	}
}
