package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load builds the effective configuration: defaults, then the YAML file
// at path (if path is non-empty and the file exists), then environment
// overrides. The returned config is validated; an invalid configuration
// refuses to start.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Missing file is fine, env-only deployments are common.
		case err != nil:
			return nil, fmt.Errorf("reading config file %q: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file %q: %w", path, err)
			}
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides cfg fields from the environment. Variable names
// without the CALLISTO_ prefix are the cross-deployment contract; the
// prefixed ones are local conveniences.
func applyEnv(cfg *Config) {
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.ListenAddress, "CALLISTO_LISTEN_ADDRESS")
	setString(&cfg.Source, "CALLISTO_SOURCE")
	setString(&cfg.KeysFile, "CALLISTO_KEYS_FILE")
	setBool(&cfg.ShadowMode, "SHADOW_MODE")

	setInt(&cfg.Worker.Concurrency, "WORKER_CONCURRENCY")
	setInt(&cfg.Worker.ClaimBatchSize, "CALLISTO_CLAIM_BATCH_SIZE")
	setMillis(&cfg.Worker.PerCallTimeout, "PER_CALL_TIMEOUT_MS")
	setMillis(&cfg.Worker.PerDomainTimeout, "PER_DOMAIN_TIMEOUT_MS")
	setMillis(&cfg.Worker.LeaseTTL, "CALLISTO_LEASE_TTL_MS")

	setInt(&cfg.Circuit.FailureThreshold, "CIRCUIT_FAILURE_THRESHOLD")
	setMillis(&cfg.Circuit.Cooldown, "CIRCUIT_COOLDOWN_MS")

	setString(&cfg.Scheduler.CronCheap, "CRON_TIER_CHEAP")
	setString(&cfg.Scheduler.CronMedium, "CRON_TIER_MEDIUM")
	setString(&cfg.Scheduler.CronExpensive, "CRON_TIER_EXPENSIVE")
	setString(&cfg.Scheduler.CronFull, "CRON_TIER_FULL")

	setString(&cfg.Log.Level, "CALLISTO_LOG_LEVEL")
	setString(&cfg.Log.Format, "CALLISTO_LOG_FORMAT")
}

func setString(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func setBool(dst *bool, key string) {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			*dst = parsed
		}
	}
}

func setInt(dst *int, key string) {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			*dst = parsed
		}
	}
}

func setMillis(dst *time.Duration, key string) {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			*dst = time.Duration(parsed) * time.Millisecond
		}
	}
}
