package config

import "time"

// Default creates a Config populated with production defaults. Load
// applies file and environment overrides on top of this.
func Default() *Config {
	return &Config{
		ListenAddress: ":8090",
		Source:        "callisto",
		Worker: WorkerConfig{
			Concurrency:       20,
			ClaimBatchSize:    10,
			PerCallTimeout:    90 * time.Second,
			PerDomainTimeout:  10 * time.Minute,
			ClaimRoundTimeout: 10 * time.Minute,
			LeaseTTL:          15 * time.Minute,
			SweepInterval:     time.Minute,
			MaxCallAttempts:   3,
		},
		Circuit: CircuitConfig{
			FailureThreshold:      5,
			Cooldown:              60 * time.Second,
			CooldownMaxFactor:     8,
			NonRetryableHourlyCap: 10,
		},
		Prompt: PromptConfig{
			MaxTokens:   1000,
			Temperature: 0.7,
		},
		Scheduler: SchedulerConfig{
			// Cheap sweeps run hourly, medium daily, expensive twice a
			// week, full once a week early Sunday.
			CronCheap:     "0 * * * *",
			CronMedium:    "30 2 * * *",
			CronExpensive: "0 4 * * 1,4",
			CronFull:      "0 3 * * 0",
		},
		Guardian: GuardianConfig{
			MinWeeklyResponses:   1000,
			MinActiveProviders:   6,
			MinActiveDomains:     100,
			MinMeanResponseChars: 500,
			ProbeTimeout:         15 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
