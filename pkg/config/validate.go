package config

import (
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
)

// ErrInvalidConfig wraps every validation failure so callers can map
// configuration problems to the dedicated process exit code.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks the configuration for values the crawler cannot run
// with. It does not check provider keys; a provider without keys is
// disabled, not an error.
func (c *Config) Validate() error {
	var problems []string

	if c.DatabaseURL == "" {
		problems = append(problems, "database_url is required (set DATABASE_URL)")
	}
	if c.Source == "" {
		problems = append(problems, "source must be non-empty")
	}
	if c.Worker.Concurrency < 1 {
		problems = append(problems, "worker.concurrency must be >= 1")
	}
	if c.Worker.ClaimBatchSize < 1 {
		problems = append(problems, "worker.claim_batch_size must be >= 1")
	}
	if c.Worker.PerCallTimeout <= 0 {
		problems = append(problems, "worker.per_call_timeout must be positive")
	}
	if c.Worker.PerDomainTimeout <= 0 {
		problems = append(problems, "worker.per_domain_timeout must be positive")
	}
	if c.Worker.LeaseTTL <= c.Worker.PerDomainTimeout {
		problems = append(problems, "worker.lease_ttl must exceed worker.per_domain_timeout")
	}
	if c.Worker.MaxCallAttempts < 1 {
		problems = append(problems, "worker.max_call_attempts must be >= 1")
	}
	if c.Circuit.FailureThreshold < 1 {
		problems = append(problems, "circuit.failure_threshold must be >= 1")
	}
	if c.Circuit.Cooldown <= 0 {
		problems = append(problems, "circuit.cooldown must be positive")
	}
	if c.Circuit.CooldownMaxFactor < 1 {
		problems = append(problems, "circuit.cooldown_max_factor must be >= 1")
	}
	if c.Prompt.MaxTokens < 1 {
		problems = append(problems, "prompt.max_tokens must be >= 1")
	}

	for name, expr := range map[string]string{
		"cron_cheap":     c.Scheduler.CronCheap,
		"cron_medium":    c.Scheduler.CronMedium,
		"cron_expensive": c.Scheduler.CronExpensive,
		"cron_full":      c.Scheduler.CronFull,
	} {
		if expr == "" {
			continue
		}
		if _, err := cron.ParseStandard(expr); err != nil {
			problems = append(problems, fmt.Sprintf("scheduler.%s: %v", name, err))
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q is not one of json, text", c.Log.Format))
	}

	if len(problems) == 0 {
		return nil
	}
	err := ErrInvalidConfig
	for _, p := range problems {
		err = fmt.Errorf("%w: %s", err, p)
	}
	return err
}
