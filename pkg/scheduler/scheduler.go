// Package scheduler drives the tiered crawl cadence. Each tier has a
// cron expression, a domain selection predicate and a budget; at most
// one run per tier is active at a time, whether cron-started or
// triggered over HTTP.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"mindshare-hq/callisto/pkg/catalog"
	"mindshare-hq/callisto/pkg/config"
	"mindshare-hq/callisto/pkg/guardian"
	"mindshare-hq/callisto/pkg/orchestrator"
	"mindshare-hq/callisto/pkg/store"
	"mindshare-hq/callisto/pkg/telemetry"
)

// ErrRunActive is returned when a tier already has a run in flight.
// The HTTP layer maps it to 409.
var ErrRunActive = errors.New("run already active for tier")

// ErrRunNotFound is returned by Cancel for unknown run ids.
var ErrRunNotFound = errors.New("run not found")

// Runner executes one run. Implemented by *orchestrator.Orchestrator.
type Runner interface {
	Process(ctx context.Context, spec orchestrator.RunSpec) (*orchestrator.Summary, error)
}

// Gate is the guardian pre-flight check.
type Gate interface {
	Preflight(ctx context.Context) (*guardian.Report, error)
}

// ProviderSource resolves the enabled providers for a tier's cost
// classes. Implemented by *catalog.Registry.
type ProviderSource interface {
	ListEnabled() []catalog.Provider
	EnabledByTiers(tiers []catalog.Tier) []catalog.Provider
}

// Store is the slice of persistence the scheduler uses.
type Store interface {
	MarkPendingWhere(ctx context.Context, source, predicate string, limit int) (int, error)
	ActiveTemplates(ctx context.Context) ([]store.PromptTemplate, error)
	CountByStatus(ctx context.Context, source string) (map[store.Status]int, error)
	AppendEvent(ctx context.Context, kind store.EventKind, domainID string, payload map[string]string) error
}

// RunStatus is the externally visible state of one run.
type RunStatus struct {
	ID         string                `json:"id"`
	Tier       string                `json:"tier"`
	Marked     int                   `json:"domains_marked"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt *time.Time            `json:"finished_at,omitempty"`
	Summary    *orchestrator.Summary `json:"summary,omitempty"`
	Error      string                `json:"error,omitempty"`
}

type runState struct {
	status RunStatus
	cancel context.CancelFunc
}

// historyLimit bounds the finished-run ring for the status endpoint.
const historyLimit = 50

// Scheduler owns the cron entries and the run registry.
type Scheduler struct {
	cfg       *config.Config
	store     Store
	runner    Runner
	gate      Gate
	providers ProviderSource
	metrics   *telemetry.Collector
	logger    *slog.Logger

	cron    *cron.Cron
	entries map[string]cron.EntryID

	mu      sync.Mutex
	active  map[string]*runState
	history []RunStatus
	wg      sync.WaitGroup
}

// New assembles a scheduler.
func New(cfg *config.Config, st Store, runner Runner, gate Gate, providers ProviderSource, metrics *telemetry.Collector) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		store:     st,
		runner:    runner,
		gate:      gate,
		providers: providers,
		metrics:   metrics,
		logger:    slog.Default().With("component", "scheduler"),
		active:    make(map[string]*runState),
	}
}

// Start installs the cron entries and begins ticking. Tiers with an
// empty expression are cadence-disabled but still triggerable.
func (s *Scheduler) Start() error {
	s.cron = cron.New()
	s.entries = make(map[string]cron.EntryID)
	for _, tier := range TierNames() {
		expr := cronFor(s.cfg.Scheduler, tier)
		if expr == "" {
			s.logger.Info("tier cadence disabled", "tier", tier)
			continue
		}
		tier := tier
		id, err := s.cron.AddFunc(expr, func() { s.tick(tier) })
		if err != nil {
			return fmt.Errorf("installing cron for tier %s: %w", tier, err)
		}
		s.entries[tier] = id
		s.logger.Info("tier cadence installed", "tier", tier, "cron", expr)
	}
	s.cron.Start()
	return nil
}

// NextRuns reports the next cron firing per cadence-enabled tier.
// Empty until Start has installed the entries.
func (s *Scheduler) NextRuns() map[string]time.Time {
	next := make(map[string]time.Time, len(s.entries))
	if s.cron == nil {
		return next
	}
	for tier, id := range s.entries {
		next[tier] = s.cron.Entry(id).Next
	}
	return next
}

// ActiveRuns snapshots the runs currently in flight.
func (s *Scheduler) ActiveRuns() []RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RunStatus, 0, len(s.active))
	for _, rs := range s.active {
		if rs != nil {
			out = append(out, rs.status)
		}
	}
	return out
}

// EnabledProviderCount reports how many providers currently hold keys.
func (s *Scheduler) EnabledProviderCount() int {
	return len(s.providers.ListEnabled())
}

// Drain stops the cron and waits for in-flight runs to finish or ctx
// to expire. Runs are not canceled: a SIGTERM drain lets claimed
// domains reach a terminal status instead of stranding leases.
func (s *Scheduler) Drain(ctx context.Context) error {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain timed out with runs still active")
	}
}

// tick is one cron firing. Overlap with a still-running previous run
// of the same tier is skipped, not queued.
func (s *Scheduler) tick(tier string) {
	id, err := s.Trigger(tier, 0, false)
	switch {
	case errors.Is(err, ErrRunActive):
		s.logger.Warn("skipping tick, run still active", "tier", tier)
	case errors.Is(err, guardian.ErrBlocked):
		s.logger.Warn("tick blocked by guardian", "tier", tier)
	case err != nil:
		s.logger.Error("tick failed", "tier", tier, "error", err)
	default:
		s.logger.Info("run started", "tier", tier, "run_id", id)
	}
}

// Trigger starts a run for the tier in the background and returns its
// id. limit overrides the policy's domain cap when positive; force
// bypasses the guardian gate.
func (s *Scheduler) Trigger(tier string, limit int, force bool) (string, error) {
	ctx, cancel := context.WithCancel(context.Background())
	rs, spec, err := s.prepare(ctx, tier, limit, force, cancel)
	if err != nil {
		cancel()
		return "", err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.execute(ctx, rs, spec)
	}()
	return rs.status.ID, nil
}

// RunOnce executes a run synchronously, for the one-shot CLI path.
func (s *Scheduler) RunOnce(ctx context.Context, tier string, limit int, force bool) (*orchestrator.Summary, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	rs, spec, err := s.prepare(runCtx, tier, limit, force, cancel)
	if err != nil {
		return nil, err
	}
	s.wg.Add(1)
	defer s.wg.Done()
	return s.execute(runCtx, rs, spec)
}

// prepare validates the tier, consults the guardian, selects the
// providers and templates, marks the tier's domains pending and
// registers the run. On success the caller must execute the run.
func (s *Scheduler) prepare(ctx context.Context, tier string, limit int, force bool, cancel context.CancelFunc) (*runState, orchestrator.RunSpec, error) {
	var none orchestrator.RunSpec

	policy, err := PolicyFor(tier)
	if err != nil {
		return nil, none, err
	}

	s.mu.Lock()
	if _, busy := s.active[tier]; busy {
		s.mu.Unlock()
		return nil, none, fmt.Errorf("%w: %s", ErrRunActive, tier)
	}
	// Reserve the slot before the slow pre-flight work.
	s.active[tier] = nil
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		delete(s.active, tier)
		s.mu.Unlock()
	}

	if policy.GuardianGated && !force {
		report, err := s.gate.Preflight(ctx)
		if err != nil {
			release()
			return nil, none, fmt.Errorf("guardian pre-flight: %w", err)
		}
		if !report.Healthy {
			s.metrics.RecordGuardianBlock()
			payload := map[string]string{"tier": tier}
			for _, c := range report.Checks {
				if !c.OK {
					payload[c.Name] = c.Detail
				}
			}
			s.appendEvent(store.EventGuardianBlock, payload)
			release()
			return nil, none, fmt.Errorf("%w: tier %s", guardian.ErrBlocked, tier)
		}
	}

	providers := s.providers.EnabledByTiers(policy.ProviderTiers)
	if len(providers) == 0 {
		release()
		return nil, none, fmt.Errorf("no enabled providers for tier %s", tier)
	}
	templates, err := s.store.ActiveTemplates(ctx)
	if err != nil {
		release()
		return nil, none, fmt.Errorf("loading templates: %w", err)
	}
	if len(templates) == 0 {
		release()
		return nil, none, fmt.Errorf("no active prompt templates")
	}

	if limit <= 0 {
		limit = policy.Limit
	}
	marked, err := s.store.MarkPendingWhere(ctx, s.cfg.Source, policy.Predicate, limit)
	if err != nil {
		release()
		return nil, none, fmt.Errorf("selecting domains for tier %s: %w", tier, err)
	}
	s.appendEvent(store.EventSchedulerTick, map[string]string{
		"tier":   tier,
		"marked": strconv.Itoa(marked),
	})

	rs := &runState{
		status: RunStatus{
			ID:        uuid.NewString(),
			Tier:      tier,
			Marked:    marked,
			StartedAt: time.Now(),
		},
		cancel: cancel,
	}
	s.mu.Lock()
	s.active[tier] = rs
	s.mu.Unlock()
	s.metrics.SetRunActive(tier, true)

	spec := orchestrator.RunSpec{
		Tier:      tier,
		Providers: providers,
		Templates: templates,
		Source:    s.cfg.Source,
		MaxDomains: func() int {
			if limit > 0 {
				return limit
			}
			return 0
		}(),
		BudgetUSD: policy.BudgetUSD,
	}
	return rs, spec, nil
}

// execute runs the orchestrator and finalizes the run record.
func (s *Scheduler) execute(ctx context.Context, rs *runState, spec orchestrator.RunSpec) (*orchestrator.Summary, error) {
	summary, err := s.runner.Process(ctx, spec)

	now := time.Now()
	rs.status.FinishedAt = &now
	rs.status.Summary = summary
	if err != nil {
		rs.status.Error = err.Error()
	}

	s.mu.Lock()
	delete(s.active, rs.status.Tier)
	s.history = append(s.history, rs.status)
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}
	s.mu.Unlock()
	s.metrics.SetRunActive(rs.status.Tier, false)

	if err != nil {
		s.logger.Error("run finished with errors",
			"tier", rs.status.Tier, "run_id", rs.status.ID, "error", err)
	} else if summary != nil {
		s.logger.Info("run finished",
			"tier", rs.status.Tier,
			"run_id", rs.status.ID,
			"domains", summary.DomainsProcessed,
			"completed", summary.Completed,
			"partial", summary.Partial,
			"failures", summary.Failures,
			"cost_usd", fmt.Sprintf("%.4f", summary.CostUSD),
		)
	}
	return summary, err
}

// Cancel stops a running run by id. The orchestrator stops claiming;
// in-flight domains finish.
func (s *Scheduler) Cancel(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rs := range s.active {
		if rs != nil && rs.status.ID == runID {
			rs.cancel()
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
}

// Status reports per-tier next firings, active runs, recent history
// and the domain pool breakdown.
func (s *Scheduler) Status(ctx context.Context) (map[string]any, error) {
	counts, err := s.store.CountByStatus(ctx, s.cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("counting domains: %w", err)
	}

	s.mu.Lock()
	recent := make([]RunStatus, len(s.history))
	copy(recent, s.history)
	s.mu.Unlock()

	pool := make(map[string]int, len(counts))
	for status, n := range counts {
		pool[string(status)] = n
	}
	return map[string]any{
		"source":      s.cfg.Source,
		"domain_pool": pool,
		"next_runs":   s.NextRuns(),
		"active_runs": s.ActiveRuns(),
		"recent_runs": recent,
	}, nil
}

func (s *Scheduler) appendEvent(kind store.EventKind, payload map[string]string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.AppendEvent(ctx, kind, "", payload); err != nil {
		s.logger.Warn("event append failed", "kind", string(kind), "error", err)
	}
}
