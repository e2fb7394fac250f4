// Package telemetry exposes the crawler's prometheus metrics and the
// rolling per-provider health score.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// namespace prefixes every metric.
const namespace = "callisto"

// Collector registers and records all crawler metrics. Label
// cardinality is bounded by the catalog: provider ids, error kinds and
// statuses are closed sets.
type Collector struct {
	registry *prometheus.Registry

	callsTotal      *prometheus.CounterVec
	callLatency     *prometheus.HistogramVec
	tokensTotal     *prometheus.CounterVec
	costTotal       *prometheus.CounterVec
	domainsTotal    *prometheus.CounterVec
	claimsTotal     prometheus.Counter
	leasesSwept     prometheus.Counter
	healthScore     *prometheus.GaugeVec
	breakerState    *prometheus.GaugeVec
	activeRuns      *prometheus.GaugeVec
	guardianBlocks  prometheus.Counter
	runCostTotal    *prometheus.CounterVec
	scores          *HealthScores
}

// NewCollector builds a collector on a fresh registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{
		registry: registry,
		scores:   NewHealthScores(),

		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Provider calls by outcome and error kind.",
		}, []string{"provider", "outcome", "kind"}),

		callLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_latency_seconds",
			Help:      "Observed provider call latency.",
			// LLM completions routinely take seconds.
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 90},
		}, []string{"provider"}),

		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_tokens_total",
			Help:      "Tokens consumed by direction.",
		}, []string{"provider", "direction"}),

		costTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_cost_usd_total",
			Help:      "Estimated spend in USD.",
		}, []string{"provider", "model"}),

		domainsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "domains_processed_total",
			Help:      "Domains finished by terminal status of the cycle.",
		}, []string{"status"}),

		claimsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "Domains claimed from the work queue.",
		}),

		leasesSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leases_swept_total",
			Help:      "Expired leases reclaimed by the sweeper.",
		}),

		healthScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_health_score",
			Help:      "Rolling provider health score, 0 to 100.",
		}, []string{"provider"}),

		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_breaker_state",
			Help:      "Circuit state: 0 closed, 1 open, 2 half-open.",
		}, []string{"provider"}),

		activeRuns: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Active scheduler runs per tier.",
		}, []string{"tier"}),

		guardianBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guardian_blocks_total",
			Help:      "Runs blocked by the guardian pre-flight gate.",
		}),

		runCostTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_cost_usd_total",
			Help:      "Estimated spend in USD per scheduler tier.",
		}, []string{"tier"}),
	}

	registry.MustRegister(
		c.callsTotal, c.callLatency, c.tokensTotal, c.costTotal,
		c.domainsTotal, c.claimsTotal, c.leasesSwept,
		c.healthScore, c.breakerState, c.activeRuns,
		c.guardianBlocks, c.runCostTotal,
	)
	return c
}

// RecordCall records one provider call outcome. kind is empty on
// success.
func (c *Collector) RecordCall(provider string, success bool, kind string, latency time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.callsTotal.WithLabelValues(provider, outcome, kind).Inc()
	if latency > 0 {
		c.callLatency.WithLabelValues(provider).Observe(latency.Seconds())
	}
	score := c.scores.Record(provider, success)
	c.healthScore.WithLabelValues(provider).Set(float64(score))
}

// RecordUsage records token and cost telemetry for a successful call.
func (c *Collector) RecordUsage(provider, model string, promptTokens, completionTokens int, costUSD float64) {
	c.tokensTotal.WithLabelValues(provider, "prompt").Add(float64(promptTokens))
	c.tokensTotal.WithLabelValues(provider, "completion").Add(float64(completionTokens))
	c.costTotal.WithLabelValues(provider, model).Add(costUSD)
}

// RecordDomain records a finished domain cycle.
func (c *Collector) RecordDomain(status string) {
	c.domainsTotal.WithLabelValues(status).Inc()
}

// RecordClaims counts claimed domains.
func (c *Collector) RecordClaims(n int) {
	c.claimsTotal.Add(float64(n))
}

// RecordSweep counts reclaimed leases.
func (c *Collector) RecordSweep(n int) {
	c.leasesSwept.Add(float64(n))
}

// SetBreakerState mirrors a circuit transition.
func (c *Collector) SetBreakerState(provider string, state int) {
	c.breakerState.WithLabelValues(provider).Set(float64(state))
}

// SetRunActive flags a tier's run as active or idle.
func (c *Collector) SetRunActive(tier string, active bool) {
	v := 0.0
	if active {
		v = 1.0
	}
	c.activeRuns.WithLabelValues(tier).Set(v)
}

// RecordGuardianBlock counts a blocked run.
func (c *Collector) RecordGuardianBlock() {
	c.guardianBlocks.Inc()
}

// RecordRunCost accumulates spend against a tier.
func (c *Collector) RecordRunCost(tier string, costUSD float64) {
	c.runCostTotal.WithLabelValues(tier).Add(costUSD)
}

// HealthScore returns the current rolling score for a provider.
func (c *Collector) HealthScore(provider string) int {
	return c.scores.Score(provider)
}

// Handler serves the metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
