package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"mindshare-hq/callisto/pkg/breaker"
	"mindshare-hq/callisto/pkg/catalog"
	"mindshare-hq/callisto/pkg/costs"
	"mindshare-hq/callisto/pkg/providers"
	"mindshare-hq/callisto/pkg/store"
)

// errPersistence marks a response write that failed after a retry. It
// aborts the worker that hit it; call failures never do.
var errPersistence = errors.New("response persistence failed")

type domainStatus int

const (
	domainCompleted domainStatus = iota
	domainPartial
	domainRequeued
	domainParked
	domainReleased
)

// domainOutcome is one domain cycle's contribution to the run summary.
type domainOutcome struct {
	status         domainStatus
	calls          int
	failures       int
	failuresByKind map[string]int
	costUSD        float64
	fatal          error
}

// element is one cell of the provider-by-template tensor.
type element struct {
	provider catalog.Provider
	template store.PromptTemplate
}

// elementResult is the outcome of one cell.
type elementResult struct {
	ok      bool
	kind    providers.ErrorKind
	costUSD float64
	calls   int
	fatal   error
}

// processDomain runs the full tensor for one claimed domain and commits
// its terminal status. The commit rule is strict: completed only when
// every cell succeeded; completed_partial only when every deficit is an
// open circuit; anything else goes back to pending with the error
// streak advanced.
func (o *Orchestrator) processDomain(ctx context.Context, spec RunSpec, d store.ClaimedDomain) domainOutcome {
	out := domainOutcome{failuresByKind: make(map[string]int)}

	domainCtx, cancel := context.WithTimeout(ctx, o.cfg.Worker.PerDomainTimeout)
	defer cancel()

	// Cells already persisted today are counted as satisfied without a
	// new call, so replaying a run never duplicates spend.
	done, err := o.store.SuccessfulTuples(domainCtx, d.ID, time.Now().UTC().Truncate(24*time.Hour))
	if err != nil {
		o.logger.Error("reading satisfied cells failed", "domain", d.Hostname, "error", err)
		done = map[[2]string]bool{}
	}

	var cells []element
	skipped := 0
	for _, p := range spec.Providers {
		for _, t := range spec.Templates {
			if done[[2]string{p.ID, t.ID}] {
				skipped++
				continue
			}
			cells = append(cells, element{provider: p, template: t})
		}
	}
	total := len(cells) + skipped

	results := make([]elementResult, len(cells))
	g, cellCtx := errgroup.WithContext(domainCtx)

	// Intra-domain parallelism per provider is bounded by that
	// provider's key pool: more goroutines than keys would just queue
	// inside the rotator.
	sems := make(map[string]*semaphore.Weighted, len(spec.Providers))
	for _, p := range spec.Providers {
		n := len(o.pools.Keys(p.ID))
		if n < 1 {
			n = 1
		}
		sems[p.ID] = semaphore.NewWeighted(int64(n))
	}

	for i, cell := range cells {
		g.Go(func() error {
			sem := sems[cell.provider.ID]
			if err := sem.Acquire(cellCtx, 1); err != nil {
				results[i] = elementResult{kind: providers.KindTransient}
				return nil
			}
			defer sem.Release(1)

			results[i] = o.callOne(cellCtx, spec, d, cell)
			if results[i].fatal != nil {
				return results[i].fatal
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Persistence failure: this worker is unhealthy. Hand the lease
		// back untouched so another worker retries the domain.
		o.releaseQuietly(d, "persistence_failure")
		out.status = domainReleased
		out.fatal = err
		return out
	}

	successes := skipped
	onlyUnavailable := true
	for _, r := range results {
		out.calls += r.calls
		out.costUSD += r.costUSD
		if r.ok {
			successes++
			continue
		}
		out.failures++
		out.failuresByKind[string(r.kind)]++
		if r.kind != providers.KindProviderUnavailable {
			onlyUnavailable = false
		}
	}

	if domainCtx.Err() != nil && successes < total {
		// Wall cap hit mid-tensor: no terminal status, no error streak.
		o.releaseQuietly(d, "domain_timeout")
		out.status = domainReleased
		o.metrics.RecordDomain("released")
		return out
	}

	if o.cfg.ShadowMode {
		// Nothing was persisted, so nothing can be called complete.
		o.releaseQuietly(d, "shadow_mode")
		out.status = domainReleased
		return out
	}

	commitCtx, commitCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer commitCancel()

	switch {
	case successes == total:
		err = o.store.CompleteDomain(commitCtx, d.ID, o.ownerID, false)
		out.status = domainCompleted
		o.metrics.RecordDomain(string(store.StatusCompleted))

	case successes > 0 && onlyUnavailable:
		err = o.store.CompleteDomain(commitCtx, d.ID, o.ownerID, true)
		out.status = domainPartial
		o.metrics.RecordDomain(string(store.StatusCompletedPartial))

	default:
		var parked bool
		parked, err = o.store.RequeueDomain(commitCtx, d.ID, o.ownerID)
		if parked {
			out.status = domainParked
			o.metrics.RecordDomain(string(store.StatusError))
		} else {
			out.status = domainRequeued
			o.metrics.RecordDomain(string(store.StatusPending))
		}
	}

	switch {
	case errors.Is(err, store.ErrLeaseLost):
		// The sweeper got there first; the domain is someone else's now.
		o.logger.Warn("lease lost before commit", "domain", d.Hostname)
		out.status = domainReleased
	case err != nil:
		out.fatal = fmt.Errorf("%w: committing domain %s: %w", errPersistence, d.Hostname, err)
	}
	return out
}

// callOne executes one tensor cell: breaker gate, key acquisition,
// provider call with bounded retries, then persistence.
func (o *Orchestrator) callOne(ctx context.Context, spec RunSpec, d store.ClaimedDomain, cell element) elementResult {
	p := cell.provider

	if err := o.breaker.Allow(p.ID); err != nil {
		var open *breaker.ErrOpen
		if errors.As(err, &open) {
			o.metrics.RecordCall(p.ID, false, string(providers.KindProviderUnavailable), 0)
			return elementResult{kind: providers.KindProviderUnavailable}
		}
		return elementResult{kind: providers.KindTransient}
	}

	prompt := store.Interpolate(cell.template, d.Hostname)
	res, callErr := o.invokeWithRetry(ctx, p, prompt)
	if callErr != nil {
		o.breaker.RecordFailure(p.ID, callErr.Kind)
		o.metrics.RecordCall(p.ID, false, string(callErr.Kind), 0)
		o.appendEvent(store.EventCallFailure, d.ID, map[string]string{
			"provider": p.ID,
			"template": cell.template.ID,
			"kind":     string(callErr.Kind),
			"status":   strconv.Itoa(callErr.StatusCode),
			"message":  callErr.Message,
		})
		return elementResult{kind: callErr.Kind, calls: 1}
	}
	o.breaker.RecordSuccess(p.ID)

	model := res.Model
	if model == "" {
		model = p.DefaultModel
	}
	costUSD := costs.Cost(p.ID, model, res.PromptTokens, res.CompletionTokens)
	o.metrics.RecordCall(p.ID, true, "", res.Latency)
	o.metrics.RecordUsage(p.ID, model, res.PromptTokens, res.CompletionTokens, costUSD)

	if o.cfg.ShadowMode {
		o.logger.Info("shadow call complete",
			"domain", d.Hostname,
			"provider", p.ID,
			"template", cell.template.ID,
			"latency_ms", res.Latency.Milliseconds(),
		)
		return elementResult{ok: true, costUSD: costUSD, calls: 1}
	}

	row := &store.Response{
		DomainID:         d.ID,
		Provider:         p.ID,
		Model:            model,
		PromptTemplateID: cell.template.ID,
		PromptText:       prompt,
		ResponseText:     res.Text,
		PromptTokens:     res.PromptTokens,
		CompletionTokens: res.CompletionTokens,
		TotalCostUSD:     costUSD,
		LatencyMS:        int(res.Latency.Milliseconds()),
		CapturedAt:       time.Now().UTC(),
	}
	if err := o.persistResponse(ctx, row); err != nil {
		return elementResult{
			calls:   1,
			costUSD: costUSD,
			fatal:   fmt.Errorf("%w: %s/%s for %s: %w", errPersistence, p.ID, cell.template.ID, d.Hostname, err),
		}
	}

	o.appendEvent(store.EventCallSuccess, d.ID, map[string]string{
		"provider":   p.ID,
		"template":   cell.template.ID,
		"model":      model,
		"latency_ms": strconv.FormatInt(res.Latency.Milliseconds(), 10),
	})
	return elementResult{ok: true, costUSD: costUSD, calls: 1}
}

// invokeWithRetry issues the provider call with the per-call timeout,
// retrying retryable kinds up to the configured attempt cap. Auth
// failures rotate the key before the next attempt.
func (o *Orchestrator) invokeWithRetry(ctx context.Context, p catalog.Provider, prompt string) (*providers.Result, *providers.CallError) {
	operation := func() (*providers.Result, error) {
		tok, err := o.rotator.Acquire(ctx, p.ID)
		if err != nil {
			return nil, backoff.Permanent(providers.AsCallError(p.ID, err))
		}

		callCtx, cancel := context.WithTimeout(ctx, o.cfg.Worker.PerCallTimeout)
		res, err := o.invoker.Invoke(callCtx, &providers.Request{
			Provider:    p,
			Key:         tok.Key(),
			Prompt:      prompt,
			MaxTokens:   o.cfg.Prompt.MaxTokens,
			Temperature: o.cfg.Prompt.Temperature,
		})
		cancel()
		o.rotator.Release(tok, err == nil)
		if err == nil {
			return res, nil
		}

		ce := providers.AsCallError(p.ID, err)
		if ce.Kind == providers.KindAuth {
			// Push the bad key to the back so the retry lands elsewhere.
			o.rotator.Demote(p.ID, tok.Key())
		}
		if !ce.Kind.Retryable() {
			return nil, backoff.Permanent(ce)
		}
		return nil, ce
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = time.Second
	expo.MaxInterval = 10 * time.Second

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(o.cfg.Worker.MaxCallAttempts)),
	)
	if err != nil {
		return nil, providers.AsCallError(p.ID, err)
	}
	return res, nil
}

// persistResponse writes one response row, retrying once on failure.
func (o *Orchestrator) persistResponse(ctx context.Context, row *store.Response) error {
	inserted, err := o.store.InsertResponse(ctx, row)
	if err != nil {
		o.logger.Warn("response insert failed, retrying once", "error", err)
		inserted, err = o.store.InsertResponse(ctx, row)
	}
	if err != nil {
		return err
	}
	if !inserted {
		o.logger.Debug("duplicate response suppressed",
			"domain", row.DomainID, "provider", row.Provider, "template", row.PromptTemplateID)
	}
	return nil
}

// releaseQuietly hands a lease back to pending without advancing any
// counters.
func (o *Orchestrator) releaseQuietly(d store.ClaimedDomain, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.store.ReleaseDomain(ctx, d.ID, o.ownerID); err != nil && !errors.Is(err, store.ErrLeaseLost) {
		o.logger.Error("lease release failed", "domain", d.Hostname, "error", err)
	}
	o.appendEvent(store.EventRelease, d.ID, map[string]string{"reason": reason})
}
