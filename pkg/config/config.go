// Package config loads and validates the crawler configuration from an
// optional YAML file merged with environment variable overrides.
//
// Precedence, lowest to highest: built-in defaults, YAML file, environment.
// Provider API keys are never read from YAML; they come from the process
// environment (or the optional keys file) only.
package config

import "time"

// Config is the root configuration for the callisto crawler.
type Config struct {
	// DatabaseURL is the Postgres connection string (DATABASE_URL).
	DatabaseURL string `yaml:"database_url"`

	// ListenAddress is the control-plane HTTP listen address.
	ListenAddress string `yaml:"listen_address"`

	// Source tags every domain row this deployment is allowed to claim.
	// Independently deployed crawlers use distinct sources and never
	// collide on the domains table.
	Source string `yaml:"source"`

	// KeysFile is an optional dotenv-style file holding provider API
	// keys. When set, it is re-read on reload and watched for changes.
	KeysFile string `yaml:"keys_file"`

	// ShadowMode exercises the full pipeline but skips persistence.
	ShadowMode bool `yaml:"shadow_mode"`

	Worker    WorkerConfig    `yaml:"worker"`
	Circuit   CircuitConfig   `yaml:"circuit"`
	Prompt    PromptConfig    `yaml:"prompt"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Guardian  GuardianConfig  `yaml:"guardian"`
	Log       LogConfig       `yaml:"log"`
}

// WorkerConfig bounds the orchestrator's concurrency and timeouts.
type WorkerConfig struct {
	// Concurrency is the number of orchestrator workers, each driving
	// one domain at a time (WORKER_CONCURRENCY).
	Concurrency int `yaml:"concurrency"`

	// ClaimBatchSize is the number of domains claimed per claim round.
	ClaimBatchSize int `yaml:"claim_batch_size"`

	// PerCallTimeout bounds a single provider HTTP call
	// (PER_CALL_TIMEOUT_MS).
	PerCallTimeout time.Duration `yaml:"per_call_timeout"`

	// PerDomainTimeout bounds the whole tensor for one domain
	// (PER_DOMAIN_TIMEOUT_MS).
	PerDomainTimeout time.Duration `yaml:"per_domain_timeout"`

	// ClaimRoundTimeout bounds one claim transaction round.
	ClaimRoundTimeout time.Duration `yaml:"claim_round_timeout"`

	// LeaseTTL is how long a claimed domain stays leased before the
	// sweeper hands it back to the pending pool.
	LeaseTTL time.Duration `yaml:"lease_ttl"`

	// SweepInterval is how often expired leases are reclaimed.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// MaxCallAttempts caps attempts for retryable per-call failures.
	MaxCallAttempts int `yaml:"max_call_attempts"`
}

// CircuitConfig tunes the per-provider circuit breakers.
type CircuitConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// breaker (CIRCUIT_FAILURE_THRESHOLD).
	FailureThreshold int `yaml:"failure_threshold"`

	// Cooldown is the initial open interval (CIRCUIT_COOLDOWN_MS).
	// A failed half-open probe doubles it, up to CooldownMaxFactor.
	Cooldown time.Duration `yaml:"cooldown"`

	// CooldownMaxFactor caps cooldown doubling at factor times the
	// base cooldown.
	CooldownMaxFactor int `yaml:"cooldown_max_factor"`

	// NonRetryableHourlyCap limits how many non-retryable failures per
	// provider per hour count toward the trip threshold.
	NonRetryableHourlyCap int `yaml:"non_retryable_hourly_cap"`
}

// PromptConfig shapes the calls issued for every tensor element.
type PromptConfig struct {
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// SchedulerConfig carries the cron expression per tier. An empty
// expression disables the cadence for that tier; manual triggers still
// work.
type SchedulerConfig struct {
	CronCheap     string `yaml:"cron_cheap"`
	CronMedium    string `yaml:"cron_medium"`
	CronExpensive string `yaml:"cron_expensive"`
	CronFull      string `yaml:"cron_full"`
}

// GuardianConfig holds the pre-flight gate thresholds.
type GuardianConfig struct {
	// MinWeeklyResponses is the minimum successful responses over the
	// trailing 7 days.
	MinWeeklyResponses int `yaml:"min_weekly_responses"`

	// MinActiveProviders is the minimum distinct providers seen in the
	// trailing 3 days.
	MinActiveProviders int `yaml:"min_active_providers"`

	// MinActiveDomains is the minimum distinct domains processed in the
	// trailing 3 days.
	MinActiveDomains int `yaml:"min_active_domains"`

	// MinMeanResponseChars is the minimum mean response length over the
	// trailing 24 hours.
	MinMeanResponseChars float64 `yaml:"min_mean_response_chars"`

	// ProbeTimeout bounds each critical-provider liveness probe.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is json or text.
	Format string `yaml:"format"`
}
