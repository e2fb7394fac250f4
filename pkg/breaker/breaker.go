// Package breaker isolates failing providers behind a per-provider
// three-state circuit: closed, open, half-open.
//
// Consecutive failures at or above the threshold open the circuit.
// While open, calls short-circuit without touching the network. After
// the cooldown the circuit admits exactly one half-open probe; a
// successful probe closes it, a failed probe re-opens it with the
// cooldown doubled, up to a cap.
package breaker

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mindshare-hq/callisto/pkg/providers"
)

// State is the circuit state of one provider.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrOpen is returned by Allow while the circuit rejects calls.
type ErrOpen struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *ErrOpen) Error() string {
	return fmt.Sprintf("provider %q circuit open, retry in %s", e.Provider, e.RetryAfter.Round(time.Second))
}

// StateChangeFunc observes transitions for the event log and metrics.
type StateChangeFunc func(provider string, from, to State)

// Config tunes the breaker set.
type Config struct {
	// FailureThreshold opens the circuit at this many consecutive
	// countable failures.
	FailureThreshold int

	// Cooldown is the initial open interval.
	Cooldown time.Duration

	// CooldownMaxFactor caps doubling at factor times Cooldown.
	CooldownMaxFactor int

	// NonRetryableHourlyCap limits how many non-retryable failures per
	// provider per hour count toward the threshold.
	NonRetryableHourlyCap int
}

// Set holds one circuit per provider. Transitions are atomic under the
// per-provider mutex; the optional callback runs outside any lock.
type Set struct {
	cfg      Config
	onChange StateChangeFunc
	logger   *slog.Logger

	mu       sync.Mutex
	circuits map[string]*circuit
}

type circuit struct {
	mu sync.Mutex

	state               State
	consecutiveFailures int
	cooldown            time.Duration
	openedAt            time.Time
	probeInFlight       bool

	// nonRetryable tracks countable non-retryable failures inside the
	// current hour bucket.
	nonRetryableCount int
	nonRetryableHour  time.Time
}

// NewSet creates the breaker set.
func NewSet(cfg Config, onChange StateChangeFunc) *Set {
	return &Set{
		cfg:      cfg,
		onChange: onChange,
		logger:   slog.Default().With("component", "breaker"),
		circuits: make(map[string]*circuit),
	}
}

func (s *Set) circuitFor(provider string) *circuit {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.circuits[provider]
	if !ok {
		c = &circuit{state: StateClosed, cooldown: s.cfg.Cooldown}
		s.circuits[provider] = c
	}
	return c
}

// Allow reports whether a call to the provider may proceed. In the
// half-open state only a single probe is admitted; concurrent callers
// are rejected until the probe resolves.
func (s *Set) Allow(provider string) error {
	c := s.circuitFor(provider)
	now := time.Now()

	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return nil

	case StateOpen:
		remaining := c.openedAt.Add(c.cooldown).Sub(now)
		if remaining > 0 {
			c.mu.Unlock()
			return &ErrOpen{Provider: provider, RetryAfter: remaining}
		}
		c.state = StateHalfOpen
		c.probeInFlight = true
		c.mu.Unlock()
		s.notify(provider, StateOpen, StateHalfOpen)
		return nil

	case StateHalfOpen:
		if c.probeInFlight {
			c.mu.Unlock()
			return &ErrOpen{Provider: provider, RetryAfter: 0}
		}
		c.probeInFlight = true
		c.mu.Unlock()
		return nil

	default:
		c.mu.Unlock()
		return nil
	}
}

// RecordSuccess resets the failure streak; a successful half-open probe
// closes the circuit and restores the base cooldown.
func (s *Set) RecordSuccess(provider string) {
	c := s.circuitFor(provider)

	c.mu.Lock()
	from := c.state
	c.consecutiveFailures = 0
	c.probeInFlight = false
	if c.state == StateHalfOpen {
		c.state = StateClosed
		c.cooldown = s.cfg.Cooldown
	}
	to := c.state
	c.mu.Unlock()

	if from != to {
		s.notify(provider, from, to)
	}
}

// RecordFailure counts a failed call of the given kind. Auth failures
// never count (the caller rotates the key instead); non-retryable
// failures count only up to the hourly cap. A failed half-open probe
// re-opens with doubled cooldown.
func (s *Set) RecordFailure(provider string, kind providers.ErrorKind) {
	c := s.circuitFor(provider)
	now := time.Now()

	c.mu.Lock()
	countable := kind != providers.KindAuth &&
		(kind != providers.KindNonRetryable || c.countNonRetryable(now, s.cfg.NonRetryableHourlyCap))
	if !countable {
		// An uncounted failure still resolves a half-open probe. The
		// slot must free up so the next Allow can probe again;
		// otherwise the circuit would reject calls forever.
		c.probeInFlight = false
		c.mu.Unlock()
		return
	}

	from := c.state
	switch c.state {
	case StateHalfOpen:
		c.state = StateOpen
		c.openedAt = now
		c.probeInFlight = false
		c.cooldown = c.cooldown * 2
		if max := s.cfg.Cooldown * time.Duration(s.cfg.CooldownMaxFactor); c.cooldown > max {
			c.cooldown = max
		}

	case StateClosed:
		c.consecutiveFailures++
		if c.consecutiveFailures >= s.cfg.FailureThreshold {
			c.state = StateOpen
			c.openedAt = now
		}
	}
	to := c.state
	c.mu.Unlock()

	if from != to {
		s.logger.Warn("circuit state change",
			"provider", provider,
			"from", from.String(),
			"to", to.String(),
		)
		s.notify(provider, from, to)
	}
}

// State returns the provider's current circuit state without touching
// transitions.
func (s *Set) State(provider string) State {
	c := s.circuitFor(provider)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsOpen reports whether calls to the provider currently short-circuit.
func (s *Set) IsOpen(provider string) bool {
	c := s.circuitFor(provider)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen {
		return false
	}
	return time.Now().Before(c.openedAt.Add(c.cooldown))
}

// countNonRetryable reports whether a non-retryable failure should
// count, tracking an hourly cap per provider. Caller holds c.mu.
func (c *circuit) countNonRetryable(now time.Time, hourlyCap int) bool {
	hour := now.Truncate(time.Hour)
	if !hour.Equal(c.nonRetryableHour) {
		c.nonRetryableHour = hour
		c.nonRetryableCount = 0
	}
	if hourlyCap > 0 && c.nonRetryableCount >= hourlyCap {
		return false
	}
	c.nonRetryableCount++
	return true
}

func (s *Set) notify(provider string, from, to State) {
	if s.onChange != nil {
		s.onChange(provider, from, to)
	}
}
