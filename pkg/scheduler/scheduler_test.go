package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"mindshare-hq/callisto/pkg/catalog"
	"mindshare-hq/callisto/pkg/config"
	"mindshare-hq/callisto/pkg/guardian"
	"mindshare-hq/callisto/pkg/orchestrator"
	"mindshare-hq/callisto/pkg/store"
	"mindshare-hq/callisto/pkg/telemetry"
)

type fakeRunner struct {
	mu    sync.Mutex
	specs []orchestrator.RunSpec
	block chan struct{} // when non-nil, cheap-tier Process waits for it or ctx
	err   error
}

func (f *fakeRunner) Process(ctx context.Context, spec orchestrator.RunSpec) (*orchestrator.Summary, error) {
	f.mu.Lock()
	f.specs = append(f.specs, spec)
	block := f.block
	f.mu.Unlock()

	if block != nil && spec.Tier == TierCheap {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}
	return &orchestrator.Summary{Tier: spec.Tier, DomainsProcessed: 1, Completed: 1}, f.err
}

func (f *fakeRunner) lastSpec() orchestrator.RunSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.specs) == 0 {
		return orchestrator.RunSpec{}
	}
	return f.specs[len(f.specs)-1]
}

type fakeGate struct {
	healthy bool
	err     error
	calls   int
}

func (f *fakeGate) Preflight(context.Context) (*guardian.Report, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &guardian.Report{
		Healthy: f.healthy,
		Checks:  []guardian.Check{{Name: "weekly_response_volume", OK: f.healthy, Detail: "scripted"}},
		At:      time.Now(),
	}, f.err
}

type fakeProviderSource struct{}

func (fakeProviderSource) ListEnabled() []catalog.Provider {
	return []catalog.Provider{
		{ID: "p-economy", Tier: catalog.TierEconomy},
		{ID: "p-premium", Tier: catalog.TierPremium},
	}
}

func (fakeProviderSource) EnabledByTiers(tiers []catalog.Tier) []catalog.Provider {
	var out []catalog.Provider
	for _, t := range tiers {
		out = append(out, catalog.Provider{ID: "p-" + string(t), Tier: t})
	}
	return out
}

type fakeSchedStore struct {
	mu         sync.Mutex
	predicates []string
	limits     []int
	marked     int
	templates  []store.PromptTemplate
	events     []store.EventKind
}

func newFakeSchedStore() *fakeSchedStore {
	return &fakeSchedStore{
		marked: 42,
		templates: []store.PromptTemplate{
			{ID: "tmpl-memory", Body: "What do you know about {domain}?"},
		},
	}
}

func (f *fakeSchedStore) MarkPendingWhere(_ context.Context, _, predicate string, limit int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.predicates = append(f.predicates, predicate)
	f.limits = append(f.limits, limit)
	return f.marked, nil
}

func (f *fakeSchedStore) ActiveTemplates(context.Context) ([]store.PromptTemplate, error) {
	return f.templates, nil
}

func (f *fakeSchedStore) CountByStatus(context.Context, string) (map[store.Status]int, error) {
	return map[store.Status]int{store.StatusPending: 5, store.StatusCompleted: 12}, nil
}

func (f *fakeSchedStore) AppendEvent(_ context.Context, kind store.EventKind, _ string, _ map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, kind)
	return nil
}

func (f *fakeSchedStore) hasEvent(kind store.EventKind) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range f.events {
		if k == kind {
			return true
		}
	}
	return false
}

func newTestScheduler(runner Runner, gate Gate, st Store) *Scheduler {
	cfg := config.Default()
	cfg.DatabaseURL = "postgres://unused"
	cfg.Source = "test"
	return New(cfg, st, runner, gate, fakeProviderSource{}, telemetry.NewCollector())
}

func TestRunOnceCheapTier(t *testing.T) {
	runner := &fakeRunner{}
	gate := &fakeGate{healthy: false} // cheap is not gated, must run anyway
	st := newFakeSchedStore()
	s := newTestScheduler(runner, gate, st)

	summary, err := s.RunOnce(context.Background(), TierCheap, 0, false)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if summary == nil || summary.Completed != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if gate.calls != 0 {
		t.Error("cheap tier must not consult the guardian")
	}

	spec := runner.lastSpec()
	if spec.Tier != TierCheap || spec.BudgetUSD != policies[TierCheap].BudgetUSD {
		t.Errorf("spec = %+v", spec)
	}
	if len(spec.Providers) != 1 || spec.Providers[0].Tier != catalog.TierEconomy {
		t.Errorf("cheap tier providers = %v, want economy only", spec.Providers)
	}
	if len(st.predicates) != 1 || !strings.Contains(st.predicates[0], "length(d.hostname)") {
		t.Errorf("predicates = %v", st.predicates)
	}
	if st.limits[0] != policies[TierCheap].Limit {
		t.Errorf("limit = %d, want policy limit %d", st.limits[0], policies[TierCheap].Limit)
	}
	if !st.hasEvent(store.EventSchedulerTick) {
		t.Error("a run must log a scheduler_tick event")
	}
}

func TestRunOnceLimitOverride(t *testing.T) {
	runner := &fakeRunner{}
	st := newFakeSchedStore()
	s := newTestScheduler(runner, &fakeGate{healthy: true}, st)

	if _, err := s.RunOnce(context.Background(), TierCheap, 7, false); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if st.limits[0] != 7 {
		t.Errorf("limit = %d, want override 7", st.limits[0])
	}
	if spec := runner.lastSpec(); spec.MaxDomains != 7 {
		t.Errorf("MaxDomains = %d, want 7", spec.MaxDomains)
	}
}

func TestRunOnceUnknownTier(t *testing.T) {
	s := newTestScheduler(&fakeRunner{}, &fakeGate{healthy: true}, newFakeSchedStore())
	if _, err := s.RunOnce(context.Background(), "platinum", 0, false); err == nil {
		t.Fatal("unknown tier should fail")
	}
}

func TestGuardianGateBlocksCostlyTiers(t *testing.T) {
	gate := &fakeGate{healthy: false}
	st := newFakeSchedStore()
	s := newTestScheduler(&fakeRunner{}, gate, st)

	_, err := s.RunOnce(context.Background(), TierFull, 0, false)
	if !errors.Is(err, guardian.ErrBlocked) {
		t.Fatalf("RunOnce(full) error = %v, want ErrBlocked", err)
	}
	if !st.hasEvent(store.EventGuardianBlock) {
		t.Error("a blocked run must log a guardian_block event")
	}
	if len(st.predicates) != 0 {
		t.Error("no domains may be marked when the gate blocks")
	}
}

func TestForceBypassesGuardian(t *testing.T) {
	gate := &fakeGate{healthy: false}
	s := newTestScheduler(&fakeRunner{}, gate, newFakeSchedStore())

	if _, err := s.RunOnce(context.Background(), TierFull, 0, true); err != nil {
		t.Fatalf("forced RunOnce(full) error = %v", err)
	}
	if gate.calls != 0 {
		t.Error("force must skip the gate entirely")
	}
}

func TestSingleActiveRunPerTier(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	s := newTestScheduler(runner, &fakeGate{healthy: true}, newFakeSchedStore())

	id, err := s.Trigger(TierCheap, 0, false)
	if err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}

	// Wait until the run is registered as active.
	deadline := time.After(time.Second)
	for {
		status, err := s.Status(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if len(status["active_runs"].([]RunStatus)) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("run never became active")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if _, err := s.Trigger(TierCheap, 0, false); !errors.Is(err, ErrRunActive) {
		t.Fatalf("second Trigger error = %v, want ErrRunActive", err)
	}
	// A different tier is free to run.
	if _, err := s.RunOnce(context.Background(), TierMedium, 0, false); err != nil {
		t.Fatalf("other tier RunOnce error = %v", err)
	}

	if err := s.Cancel(id); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Drain(drainCtx); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}

	status, err := s.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n := len(status["recent_runs"].([]RunStatus)); n != 2 {
		t.Errorf("recent runs = %d, want 2", n)
	}
}

func TestStatusIncludesNextRunTimes(t *testing.T) {
	s := newTestScheduler(&fakeRunner{}, &fakeGate{healthy: true}, newFakeSchedStore())
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Drain(ctx)
	}()

	// The cron loop computes next firings on its own goroutine.
	deadline := time.After(time.Second)
	for {
		if next := s.NextRuns(); len(next) == len(TierNames()) && !next[TierCheap].IsZero() {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("next runs never populated: %v", s.NextRuns())
		case <-time.After(5 * time.Millisecond):
		}
	}

	status, err := s.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	next := status["next_runs"].(map[string]time.Time)
	for _, tier := range TierNames() {
		if next[tier].IsZero() || !next[tier].After(time.Now()) {
			t.Errorf("tier %s next run = %v, want a future time", tier, next[tier])
		}
	}
}

func TestCancelUnknownRun(t *testing.T) {
	s := newTestScheduler(&fakeRunner{}, &fakeGate{healthy: true}, newFakeSchedStore())
	if err := s.Cancel("nonesuch"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("Cancel() error = %v, want ErrRunNotFound", err)
	}
}

func TestPolicyTable(t *testing.T) {
	for _, tier := range TierNames() {
		p, err := PolicyFor(tier)
		if err != nil {
			t.Fatalf("PolicyFor(%s) error = %v", tier, err)
		}
		if p.Predicate == "" {
			t.Errorf("tier %s has no selection predicate", tier)
		}
		if len(p.ProviderTiers) == 0 {
			t.Errorf("tier %s selects no provider classes", tier)
		}
	}
	if _, err := PolicyFor("bogus"); err == nil {
		t.Error("PolicyFor(bogus) should fail")
	}

	if p, _ := PolicyFor(TierFull); p.Limit != 0 {
		t.Error("full tier must be unlimited")
	}
	if p, _ := PolicyFor(TierCheap); p.GuardianGated {
		t.Error("cheap tier must not be gated")
	}
	if p, _ := PolicyFor(TierFull); !p.GuardianGated {
		t.Error("full tier must be gated")
	}
}

func TestCronForMapsConfig(t *testing.T) {
	cfg := config.SchedulerConfig{
		CronCheap:     "0 * * * *",
		CronMedium:    "30 2 * * *",
		CronExpensive: "0 4 * * 1,4",
		CronFull:      "0 3 * * 0",
	}
	tests := map[string]string{
		TierCheap:     cfg.CronCheap,
		TierMedium:    cfg.CronMedium,
		TierExpensive: cfg.CronExpensive,
		TierFull:      cfg.CronFull,
		"bogus":       "",
	}
	for tier, want := range tests {
		if got := cronFor(cfg, tier); got != want {
			t.Errorf("cronFor(%s) = %q, want %q", tier, got, want)
		}
	}
}
