// Package orchestrator drives claimed domains through the full
// provider-by-template tensor under the rate limiter and the circuit
// breakers, and commits domain completion only when the tensor is
// accounted for.
//
// Dependency order is deliberately flat: the breaker set and the key
// rotator know nothing about the orchestrator; the orchestrator
// composes them. Per-call failures are data in the run summary, never
// control flow — only persistence failures abort a worker.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"mindshare-hq/callisto/pkg/breaker"
	"mindshare-hq/callisto/pkg/catalog"
	"mindshare-hq/callisto/pkg/config"
	"mindshare-hq/callisto/pkg/providers"
	"mindshare-hq/callisto/pkg/ratelimit"
	"mindshare-hq/callisto/pkg/store"
	"mindshare-hq/callisto/pkg/telemetry"
)

// Store is the slice of the persistence layer the orchestrator writes
// through. Implemented by *store.Store; faked in tests.
type Store interface {
	ClaimDomains(ctx context.Context, ownerID string, batch int, source string, leaseTTL time.Duration) ([]store.ClaimedDomain, error)
	CompleteDomain(ctx context.Context, domainID, ownerID string, partial bool) error
	RequeueDomain(ctx context.Context, domainID, ownerID string) (bool, error)
	ReleaseDomain(ctx context.Context, domainID, ownerID string) error
	SweepExpiredLeases(ctx context.Context) ([]string, error)
	InsertResponse(ctx context.Context, r *store.Response) (bool, error)
	SuccessfulTuples(ctx context.Context, domainID string, since time.Time) (map[[2]string]bool, error)
	AppendEvent(ctx context.Context, kind store.EventKind, domainID string, payload map[string]string) error
}

// Invoker issues one provider call. Implemented by *providers.Invoker.
type Invoker interface {
	Invoke(ctx context.Context, req *providers.Request) (*providers.Result, error)
}

// KeyPools reports current key pool sizes, which bound intra-domain
// parallelism per provider.
type KeyPools interface {
	Keys(providerID string) []string
}

// RunSpec describes one run's slice of work.
type RunSpec struct {
	// Tier is the scheduler tier label, used for telemetry only.
	Tier string

	// Providers is the enabled provider set for this run.
	Providers []catalog.Provider

	// Templates is the active prompt template set.
	Templates []store.PromptTemplate

	// Source scopes claims to this deployment's rows.
	Source string

	// MaxDomains caps how many domains the run may claim; 0 is
	// unlimited.
	MaxDomains int

	// BudgetUSD stops further claiming once estimated spend crosses
	// it; 0 is unlimited. In-flight domains always finish.
	BudgetUSD float64
}

// Summary is the user-visible outcome of a run.
type Summary struct {
	Tier             string         `json:"tier"`
	DomainsProcessed int            `json:"domains_processed"`
	Completed        int            `json:"completed"`
	Partial          int            `json:"completed_partial"`
	Requeued         int            `json:"requeued"`
	Parked           int            `json:"parked"`
	Released         int            `json:"released"`
	Calls            int            `json:"calls"`
	Failures         int            `json:"failures"`
	FailuresByKind   map[string]int `json:"failures_by_kind"`
	CostUSD          float64        `json:"cost_usd"`
	StartedAt        time.Time      `json:"started_at"`
	FinishedAt       time.Time      `json:"finished_at"`
}

// Orchestrator owns the worker pool for runs. One orchestrator serves
// the whole process; runs execute sequentially per tier under the
// scheduler's single-active-run rule.
type Orchestrator struct {
	cfg     *config.Config
	store   Store
	invoker Invoker
	rotator *ratelimit.Rotator
	breaker *breaker.Set
	pools   KeyPools
	metrics *telemetry.Collector
	logger  *slog.Logger

	// ownerID identifies this process's leases.
	ownerID string
}

// New assembles an orchestrator.
func New(cfg *config.Config, st Store, invoker Invoker, rotator *ratelimit.Rotator, breakers *breaker.Set, pools KeyPools, metrics *telemetry.Collector) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		store:   st,
		invoker: invoker,
		rotator: rotator,
		breaker: breakers,
		pools:   pools,
		metrics: metrics,
		logger:  slog.Default().With("component", "orchestrator"),
		ownerID: cfg.Source + "-" + uuid.NewString()[:8],
	}
}

// OwnerID returns the lease owner identity of this process.
func (o *Orchestrator) OwnerID() string { return o.ownerID }

// Process drains the pending pool for spec.Source with the configured
// worker pool and returns the run summary. It returns when the pool is
// empty, the caps are reached, or ctx is canceled; cancellation stops
// claiming but lets in-flight domains finish up to the per-domain wall
// cap.
func (o *Orchestrator) Process(ctx context.Context, spec RunSpec) (*Summary, error) {
	summary := &Summary{
		Tier:           spec.Tier,
		FailuresByKind: make(map[string]int),
		StartedAt:      time.Now(),
	}
	if len(spec.Providers) == 0 || len(spec.Templates) == 0 {
		summary.FinishedAt = time.Now()
		return summary, fmt.Errorf("run has no providers or no templates")
	}

	var (
		mu      sync.Mutex
		claimed int
		fatal   []error
	)

	// claimNext hands one worker its next batch, honoring the domain
	// and budget ceilings. A nil return stops that worker. The batch
	// is reserved against the cap inside the critical section; a
	// check-then-claim would let concurrent workers each see the same
	// remaining capacity and collectively overshoot MaxDomains.
	claimNext := func(workerCtx context.Context) []store.ClaimedDomain {
		batch := o.cfg.Worker.ClaimBatchSize

		mu.Lock()
		if spec.MaxDomains > 0 {
			remaining := spec.MaxDomains - claimed
			if remaining <= 0 {
				mu.Unlock()
				return nil
			}
			if remaining < batch {
				batch = remaining
			}
		}
		overBudget := spec.BudgetUSD > 0 && summary.CostUSD >= spec.BudgetUSD
		if overBudget || workerCtx.Err() != nil {
			mu.Unlock()
			return nil
		}
		claimed += batch
		mu.Unlock()

		claimCtx, cancel := context.WithTimeout(workerCtx, o.cfg.Worker.ClaimRoundTimeout)
		defer cancel()
		domains, err := o.store.ClaimDomains(claimCtx, o.ownerID, batch, spec.Source, o.cfg.Worker.LeaseTTL)
		if err != nil || len(domains) == 0 {
			mu.Lock()
			claimed -= batch
			mu.Unlock()
			if err != nil {
				o.logger.Error("claim round failed", "error", err)
			}
			return nil
		}
		// A short claim frees the unused reservation for other workers.
		if short := batch - len(domains); short > 0 {
			mu.Lock()
			claimed -= short
			mu.Unlock()
		}
		o.metrics.RecordClaims(len(domains))
		for _, d := range domains {
			o.appendEvent(store.EventClaim, d.ID, map[string]string{
				"owner": o.ownerID,
				"tier":  spec.Tier,
			})
		}
		return domains
	}

	var wg sync.WaitGroup
	for i := 0; i < o.cfg.Worker.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				domains := claimNext(ctx)
				if domains == nil {
					return
				}
				for _, d := range domains {
					outcome := o.processDomain(ctx, spec, d)

					mu.Lock()
					summary.DomainsProcessed++
					summary.Calls += outcome.calls
					summary.Failures += outcome.failures
					for kind, n := range outcome.failuresByKind {
						summary.FailuresByKind[kind] += n
					}
					summary.CostUSD += outcome.costUSD
					switch outcome.status {
					case domainCompleted:
						summary.Completed++
					case domainPartial:
						summary.Partial++
					case domainRequeued:
						summary.Requeued++
					case domainParked:
						summary.Parked++
					case domainReleased:
						summary.Released++
					}
					mu.Unlock()

					if outcome.fatal != nil {
						// Worker is unhealthy; stop this worker but let
						// the others drain.
						mu.Lock()
						fatal = append(fatal, outcome.fatal)
						mu.Unlock()
						o.logger.Error("worker stopping after persistence failure", "error", outcome.fatal)
						return
					}
				}
			}
		}()
	}
	wg.Wait()

	summary.FinishedAt = time.Now()
	o.metrics.RecordRunCost(spec.Tier, summary.CostUSD)

	if len(fatal) > 0 {
		return summary, errors.Join(fatal...)
	}
	return summary, nil
}

// RunSweeper reclaims expired leases until ctx is canceled. Each
// reclaimed lease is logged as a release event.
func (o *Orchestrator) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.Worker.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := o.store.SweepExpiredLeases(ctx)
			if err != nil {
				o.logger.Error("lease sweep failed", "error", err)
				continue
			}
			if len(ids) == 0 {
				continue
			}
			o.metrics.RecordSweep(len(ids))
			for _, id := range ids {
				o.appendEvent(store.EventRelease, id, map[string]string{"reason": "lease_expired"})
			}
			o.logger.Info("reclaimed expired leases", "count", len(ids))
		}
	}
}

// appendEvent logs an audit event; failures are logged, never fatal.
func (o *Orchestrator) appendEvent(kind store.EventKind, domainID string, payload map[string]string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.store.AppendEvent(ctx, kind, domainID, payload); err != nil {
		o.logger.Warn("event append failed", "kind", string(kind), "error", err)
	}
}
