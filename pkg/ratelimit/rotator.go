// Package ratelimit hands out provider API keys under per-key spacing
// and requests-per-minute budgets.
//
// Each provider has an independent limiter. Within a provider, callers
// queue FIFO; a caller at the head of the queue picks the eligible key
// with the lowest last-use timestamp, which degenerates to round-robin
// when all keys are equally loaded. A key is held exclusively between
// Acquire and Release, so two calls never share a key concurrently.
// Throttling is measured from request start: Release stamps the key
// with the acquisition time, not the completion time.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mindshare-hq/callisto/pkg/catalog"
)

// rpmWindow is the rolling window for the per-key request budget.
const rpmWindow = time.Minute

// Token is the receipt for an acquired key. It must be released exactly
// once.
type Token struct {
	provider   string
	key        string
	acquiredAt time.Time
}

// Key returns the acquired API key.
func (t *Token) Key() string { return t.key }

// Rotator coordinates key pools for all providers.
type Rotator struct {
	mu        sync.Mutex
	providers map[string]*providerLimiter
	now       func() time.Time
}

type providerLimiter struct {
	mu       sync.Mutex
	provider catalog.Provider
	keys     []*keyState
	waiters  []chan struct{}
}

type keyState struct {
	key      string
	lastUsed time.Time
	busy     bool
	// recent holds start times of requests inside the rolling window.
	recent []time.Time
}

// NewRotator creates an empty rotator. Providers are registered with
// SetKeys, typically from the registry's current pools.
func NewRotator() *Rotator {
	return &Rotator{
		providers: make(map[string]*providerLimiter),
		now:       time.Now,
	}
}

// SetKeys installs or replaces the key pool for a provider. Keys
// already held by in-flight calls stay valid until released; state for
// keys that survive the swap is preserved so spacing is not reset by a
// reload.
func (r *Rotator) SetKeys(provider catalog.Provider, keys []string) {
	r.mu.Lock()
	pl, ok := r.providers[provider.ID]
	if !ok {
		pl = &providerLimiter{provider: provider}
		r.providers[provider.ID] = pl
	}
	r.mu.Unlock()

	pl.mu.Lock()
	defer pl.mu.Unlock()

	old := make(map[string]*keyState, len(pl.keys))
	for _, ks := range pl.keys {
		old[ks.key] = ks
	}
	fresh := make([]*keyState, 0, len(keys))
	for _, k := range keys {
		if ks, ok := old[k]; ok {
			fresh = append(fresh, ks)
		} else {
			fresh = append(fresh, &keyState{key: k})
		}
	}
	pl.keys = fresh
}

// Acquire blocks until a key for the provider is eligible and returns
// it with a release token. Callers waiting on the same provider are
// served FIFO. Acquire respects ctx cancellation.
func (r *Rotator) Acquire(ctx context.Context, providerID string) (*Token, error) {
	r.mu.Lock()
	pl, ok := r.providers[providerID]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no key pool registered for provider %q", providerID)
	}
	return pl.acquire(ctx, r.now)
}

// Release frees the key held by token. outcome is currently advisory;
// the spacing stamp is the acquisition moment regardless.
func (r *Rotator) Release(token *Token, outcome bool) {
	if token == nil {
		return
	}
	r.mu.Lock()
	pl, ok := r.providers[token.provider]
	r.mu.Unlock()
	if !ok {
		return
	}
	pl.release(token)
}

// Demote pushes a key to the back of the rotation, used after an
// auth-class failure so the next call lands on a different key.
func (r *Rotator) Demote(providerID, key string) {
	r.mu.Lock()
	pl, ok := r.providers[providerID]
	r.mu.Unlock()
	if !ok {
		return
	}
	pl.mu.Lock()
	defer pl.mu.Unlock()
	for _, ks := range pl.keys {
		if ks.key == key {
			ks.lastUsed = time.Now()
			return
		}
	}
}

func (pl *providerLimiter) acquire(ctx context.Context, now func() time.Time) (*Token, error) {
	// Join the FIFO queue.
	ready := make(chan struct{}, 1)
	pl.mu.Lock()
	pl.waiters = append(pl.waiters, ready)
	if len(pl.waiters) == 1 {
		ready <- struct{}{}
	}
	pl.mu.Unlock()

	select {
	case <-ready:
	case <-ctx.Done():
		pl.abandon(ready)
		return nil, ctx.Err()
	}

	// Head of the queue: wait for a key to become eligible.
	for {
		pl.mu.Lock()
		ks, wait := pl.pickLocked(now())
		if ks != nil {
			at := now()
			ks.busy = true
			tok := &Token{provider: pl.provider.ID, key: ks.key, acquiredAt: at}
			pl.popHeadLocked()
			pl.mu.Unlock()
			return tok, nil
		}
		pl.mu.Unlock()

		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			pl.mu.Lock()
			pl.popHeadLocked()
			pl.mu.Unlock()
			return nil, ctx.Err()
		}
	}
}

// pickLocked selects the eligible key with the lowest last-use time.
// When no key is eligible it returns the time until the earliest one
// becomes so.
func (pl *providerLimiter) pickLocked(now time.Time) (*keyState, time.Duration) {
	if len(pl.keys) == 0 {
		// Pool drained by a reload; poll until keys return or the
		// caller's context expires.
		return nil, 100 * time.Millisecond
	}

	var best *keyState
	soonest := time.Duration(-1)
	for _, ks := range pl.keys {
		wait := pl.eligibleIn(ks, now)
		if ks.busy {
			continue
		}
		if wait <= 0 {
			if best == nil || ks.lastUsed.Before(best.lastUsed) {
				best = ks
			}
			continue
		}
		if soonest < 0 || wait < soonest {
			soonest = wait
		}
	}
	if best != nil {
		return best, 0
	}
	return nil, soonest
}

// eligibleIn returns how long until the key satisfies both the minimum
// spacing and the rolling rpm budget. Zero or negative means eligible.
func (pl *providerLimiter) eligibleIn(ks *keyState, now time.Time) time.Duration {
	wait := time.Duration(0)
	if !ks.lastUsed.IsZero() {
		if d := pl.provider.MinDelay - now.Sub(ks.lastUsed); d > wait {
			wait = d
		}
	}

	if rpm := pl.provider.RPMPerKey; rpm > 0 {
		// Trim entries that fell out of the window.
		cutoff := now.Add(-rpmWindow)
		trimmed := ks.recent[:0]
		for _, ts := range ks.recent {
			if ts.After(cutoff) {
				trimmed = append(trimmed, ts)
			}
		}
		ks.recent = trimmed
		if len(ks.recent) >= rpm {
			if d := ks.recent[0].Add(rpmWindow).Sub(now); d > wait {
				wait = d
			}
		}
	}
	return wait
}

func (pl *providerLimiter) release(token *Token) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	for _, ks := range pl.keys {
		if ks.key == token.key {
			ks.busy = false
			ks.lastUsed = token.acquiredAt
			ks.recent = append(ks.recent, token.acquiredAt)
			break
		}
	}
	pl.wakeHeadLocked()
}

// popHeadLocked removes the current head and wakes the next waiter.
func (pl *providerLimiter) popHeadLocked() {
	if len(pl.waiters) == 0 {
		return
	}
	pl.waiters = pl.waiters[1:]
	pl.wakeHeadLocked()
}

func (pl *providerLimiter) wakeHeadLocked() {
	if len(pl.waiters) > 0 {
		select {
		case pl.waiters[0] <- struct{}{}:
		default:
		}
	}
}

// abandon removes a waiter that gave up before reaching the head.
func (pl *providerLimiter) abandon(ready chan struct{}) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	for i, w := range pl.waiters {
		if w == ready {
			pl.waiters = append(pl.waiters[:i], pl.waiters[i+1:]...)
			if i == 0 {
				pl.wakeHeadLocked()
			}
			return
		}
	}
}
