package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithEnvOnly(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/callisto_test")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Worker.Concurrency != 20 {
		t.Errorf("Concurrency = %d, want 20", cfg.Worker.Concurrency)
	}
	if cfg.Worker.PerCallTimeout != 90*time.Second {
		t.Errorf("PerCallTimeout = %v, want 90s", cfg.Worker.PerCallTimeout)
	}
	if cfg.Circuit.FailureThreshold != 5 {
		t.Errorf("FailureThreshold = %d, want 5", cfg.Circuit.FailureThreshold)
	}
	if cfg.ShadowMode {
		t.Error("ShadowMode should default to false")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/callisto_test")
	t.Setenv("WORKER_CONCURRENCY", "7")
	t.Setenv("PER_CALL_TIMEOUT_MS", "1500")
	t.Setenv("PER_DOMAIN_TIMEOUT_MS", "60000")
	t.Setenv("CIRCUIT_FAILURE_THRESHOLD", "3")
	t.Setenv("CIRCUIT_COOLDOWN_MS", "250")
	t.Setenv("SHADOW_MODE", "true")
	t.Setenv("CRON_TIER_CHEAP", "*/5 * * * *")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Worker.Concurrency != 7 {
		t.Errorf("Concurrency = %d, want 7", cfg.Worker.Concurrency)
	}
	if cfg.Worker.PerCallTimeout != 1500*time.Millisecond {
		t.Errorf("PerCallTimeout = %v, want 1.5s", cfg.Worker.PerCallTimeout)
	}
	if cfg.Worker.PerDomainTimeout != time.Minute {
		t.Errorf("PerDomainTimeout = %v, want 1m", cfg.Worker.PerDomainTimeout)
	}
	if cfg.Circuit.FailureThreshold != 3 {
		t.Errorf("FailureThreshold = %d, want 3", cfg.Circuit.FailureThreshold)
	}
	if cfg.Circuit.Cooldown != 250*time.Millisecond {
		t.Errorf("Cooldown = %v, want 250ms", cfg.Circuit.Cooldown)
	}
	if !cfg.ShadowMode {
		t.Error("ShadowMode should be true")
	}
	if cfg.Scheduler.CronCheap != "*/5 * * * *" {
		t.Errorf("CronCheap = %q", cfg.Scheduler.CronCheap)
	}
}

func TestLoadYAMLFileThenEnvWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
database_url: postgres://file-host/db
source: file-source
worker:
  concurrency: 3
log:
  level: debug
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DATABASE_URL", "postgres://env-host/db")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DatabaseURL != "postgres://env-host/db" {
		t.Errorf("DatabaseURL = %q, env must override file", cfg.DatabaseURL)
	}
	if cfg.Source != "file-source" {
		t.Errorf("Source = %q, want file-source", cfg.Source)
	}
	if cfg.Worker.Concurrency != 3 {
		t.Errorf("Concurrency = %d, want 3", cfg.Worker.Concurrency)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestLoadMissingFileIsFine(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/callisto_test")
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatalf("Load() with missing file should fall back to env, got %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing database url", func(c *Config) { c.DatabaseURL = "" }},
		{"empty source", func(c *Config) { c.Source = "" }},
		{"zero concurrency", func(c *Config) { c.Worker.Concurrency = 0 }},
		{"negative call timeout", func(c *Config) { c.Worker.PerCallTimeout = -time.Second }},
		{"lease shorter than domain budget", func(c *Config) { c.Worker.LeaseTTL = c.Worker.PerDomainTimeout / 2 }},
		{"zero breaker threshold", func(c *Config) { c.Circuit.FailureThreshold = 0 }},
		{"bad cron expression", func(c *Config) { c.Scheduler.CronCheap = "not a cron" }},
		{"unknown log level", func(c *Config) { c.Log.Level = "loud" }},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.DatabaseURL = "postgres://localhost/db"
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() should fail")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error %v should wrap ErrInvalidConfig", err)
			}
		})
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := Default()
	cfg.DatabaseURL = "postgres://localhost/db"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate, got %v", err)
	}
}

func TestEmptyCronDisablesTier(t *testing.T) {
	cfg := Default()
	cfg.DatabaseURL = "postgres://localhost/db"
	cfg.Scheduler.CronFull = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty cron should be allowed, got %v", err)
	}
}
