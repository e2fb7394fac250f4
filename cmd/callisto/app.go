package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"mindshare-hq/callisto/pkg/breaker"
	"mindshare-hq/callisto/pkg/catalog"
	"mindshare-hq/callisto/pkg/config"
	"mindshare-hq/callisto/pkg/guardian"
	"mindshare-hq/callisto/pkg/logging"
	"mindshare-hq/callisto/pkg/orchestrator"
	"mindshare-hq/callisto/pkg/providers"
	"mindshare-hq/callisto/pkg/ratelimit"
	"mindshare-hq/callisto/pkg/scheduler"
	"mindshare-hq/callisto/pkg/store"
	"mindshare-hq/callisto/pkg/telemetry"
)

// app is the assembled process: every component wired once, shared by
// the daemon and the one-shot commands.
type app struct {
	cfg      *config.Config
	store    *store.Store
	registry *catalog.Registry
	rotator  *ratelimit.Rotator
	breakers *breaker.Set
	invoker  *providers.Invoker
	metrics  *telemetry.Collector
	guard    *guardian.Guardian
	orch     *orchestrator.Orchestrator
	sched    *scheduler.Scheduler
}

// loadConfig loads and validates configuration with flag overrides
// applied.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if _, err := logging.Setup(cfg.Log.Level, cfg.Log.Format, os.Stdout); err != nil {
		return nil, fmt.Errorf("%w: %s", config.ErrInvalidConfig, err)
	}
	return cfg, nil
}

// newApp wires the full component graph against the database.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	st, err := store.New(ctx, cfg.DatabaseURL, int32(cfg.Worker.Concurrency+4))
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	registry, err := catalog.NewRegistry(catalog.Builtin(), cfg.KeysFile)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("loading provider keys: %w", err)
	}

	metrics := telemetry.NewCollector()

	breakers := breaker.NewSet(breaker.Config{
		FailureThreshold:      cfg.Circuit.FailureThreshold,
		Cooldown:              cfg.Circuit.Cooldown,
		CooldownMaxFactor:     cfg.Circuit.CooldownMaxFactor,
		NonRetryableHourlyCap: cfg.Circuit.NonRetryableHourlyCap,
	}, func(provider string, from, to breaker.State) {
		metrics.SetBreakerState(provider, int(to))
		var kind store.EventKind
		switch to {
		case breaker.StateOpen:
			kind = store.EventCircuitOpen
		case breaker.StateClosed:
			kind = store.EventCircuitClose
		default:
			return
		}
		evtCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = st.AppendEvent(evtCtx, kind, "", map[string]string{
			"provider": provider,
			"from":     from.String(),
			"to":       to.String(),
		})
	})

	rotator := ratelimit.NewRotator()
	syncRotator(rotator, registry)

	invoker := providers.NewInvoker(cfg.Worker.PerCallTimeout)

	critical := make([]catalog.Provider, 0, 3)
	for _, p := range catalog.Builtin() {
		if p.Critical {
			critical = append(critical, p)
		}
	}
	guard := guardian.New(cfg.Guardian, st, invoker, registry, critical)

	orch := orchestrator.New(cfg, st, invoker, rotator, breakers, registry, metrics)
	sched := scheduler.New(cfg, st, orch, guard, registry, metrics)

	return &app{
		cfg:      cfg,
		store:    st,
		registry: registry,
		rotator:  rotator,
		breakers: breakers,
		invoker:  invoker,
		metrics:  metrics,
		guard:    guard,
		orch:     orch,
		sched:    sched,
	}, nil
}

// syncRotator pushes the registry's current key pools into the
// rotator. In-flight calls keep the keys they hold.
func syncRotator(rotator *ratelimit.Rotator, registry *catalog.Registry) {
	for _, p := range catalog.Builtin() {
		rotator.SetKeys(p, registry.Keys(p.ID))
	}
}

// keepRotatorSynced re-syncs key pools periodically so file-watch
// reloads in the registry reach the limiter.
func (a *app) keepRotatorSynced(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			syncRotator(a.rotator, a.registry)
		}
	}
}

func (a *app) close() {
	a.invoker.Close()
	_ = a.registry.Close()
	a.store.Close()
}
