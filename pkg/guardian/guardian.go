// Package guardian gates crawls on infrastructure health so that infra
// failures are never mislabeled downstream as brand-memory decay.
//
// The pre-flight check is a boolean gate the scheduler consults before
// every run. The post-hoc classifier looks back twelve weeks and tags
// anomalies as system_failure, memory_decay or unknown; only
// memory_decay is allowed to propagate to tensor consumers.
package guardian

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mindshare-hq/callisto/pkg/catalog"
	"mindshare-hq/callisto/pkg/config"
	"mindshare-hq/callisto/pkg/store"
)

// ErrBlocked is returned when the pre-flight gate fails. CLI entry
// points map it to their dedicated exit code.
var ErrBlocked = errors.New("guardian blocked the run")

// Stats is the slice of the store the guardian reads. Implemented by
// *store.Store; faked in tests.
type Stats interface {
	ResponseCountSince(ctx context.Context, since time.Time) (int, error)
	DistinctProvidersSince(ctx context.Context, since time.Time) (int, error)
	DistinctDomainsSince(ctx context.Context, since time.Time) (int, error)
	MeanResponseLengthSince(ctx context.Context, since time.Time) (float64, error)
	WeeklyResponseCounts(ctx context.Context, weeks int) ([]int, error)
	DailyMeanLengths(ctx context.Context, days int) ([]float64, error)
	ProviderRecentActivity(ctx context.Context, activityWindow, recentWindow time.Duration) ([]store.ProviderActivity, error)
	StaleDomainCount(ctx context.Context, age time.Duration) (int, error)
}

// Prober issues liveness probes against critical providers.
type Prober interface {
	Probe(ctx context.Context, provider catalog.Provider, key string) error
}

// KeySource supplies the key used for liveness probes.
type KeySource interface {
	Keys(providerID string) []string
}

// Check is one pre-flight verdict.
type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

// Report is the outcome of a pre-flight gate evaluation.
type Report struct {
	Healthy bool      `json:"healthy"`
	Checks  []Check   `json:"checks"`
	At      time.Time `json:"at"`
}

// Guardian evaluates the gate and the anomaly classifier.
type Guardian struct {
	cfg      config.GuardianConfig
	stats    Stats
	prober   Prober
	keys     KeySource
	critical []catalog.Provider
	logger   *slog.Logger
}

// New builds a guardian. critical lists the providers that must answer
// a liveness probe before full crawls; pass the catalog's critical
// subset.
func New(cfg config.GuardianConfig, stats Stats, prober Prober, keys KeySource, critical []catalog.Provider) *Guardian {
	return &Guardian{
		cfg:      cfg,
		stats:    stats,
		prober:   prober,
		keys:     keys,
		critical: critical,
		logger:   slog.Default().With("component", "guardian"),
	}
}

// Preflight evaluates the health gate. A store error is returned as an
// error, not a failed check: the caller decides whether a broken store
// blocks (it does, in the scheduler).
func (g *Guardian) Preflight(ctx context.Context) (*Report, error) {
	now := time.Now()
	report := &Report{Healthy: true, At: now}

	add := func(name string, ok bool, detail string) {
		report.Checks = append(report.Checks, Check{Name: name, OK: ok, Detail: detail})
		if !ok {
			report.Healthy = false
		}
	}

	responses, err := g.stats.ResponseCountSince(ctx, now.Add(-7*24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("reading weekly response count: %w", err)
	}
	add("weekly_response_volume",
		responses >= g.cfg.MinWeeklyResponses,
		fmt.Sprintf("%d responses in 7d (min %d)", responses, g.cfg.MinWeeklyResponses))

	providersSeen, err := g.stats.DistinctProvidersSince(ctx, now.Add(-3*24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("reading provider coverage: %w", err)
	}
	add("provider_coverage",
		providersSeen >= g.cfg.MinActiveProviders,
		fmt.Sprintf("%d providers active in 3d (min %d)", providersSeen, g.cfg.MinActiveProviders))

	domainsSeen, err := g.stats.DistinctDomainsSince(ctx, now.Add(-3*24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("reading domain coverage: %w", err)
	}
	add("domain_coverage",
		domainsSeen >= g.cfg.MinActiveDomains,
		fmt.Sprintf("%d domains processed in 3d (min %d)", domainsSeen, g.cfg.MinActiveDomains))

	meanLen, err := g.stats.MeanResponseLengthSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("reading mean response length: %w", err)
	}
	add("response_quality",
		meanLen >= g.cfg.MinMeanResponseChars,
		fmt.Sprintf("mean length %.0f chars in 24h (min %.0f)", meanLen, g.cfg.MinMeanResponseChars))

	for _, p := range g.critical {
		pool := g.keys.Keys(p.ID)
		if len(pool) == 0 {
			// A disabled critical provider is a coverage problem, not a
			// probe failure.
			add("liveness_"+p.ID, false, "no keys configured")
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, g.cfg.ProbeTimeout)
		err := g.prober.Probe(probeCtx, p, pool[0])
		cancel()
		if err != nil {
			add("liveness_"+p.ID, false, err.Error())
		} else {
			add("liveness_"+p.ID, true, "probe ok")
		}
	}

	if !report.Healthy {
		g.logger.Warn("pre-flight gate failed", "checks", len(report.Checks))
	}
	return report, nil
}
