package guardian

import (
	"context"
	"errors"
	"testing"
	"time"

	"mindshare-hq/callisto/pkg/catalog"
	"mindshare-hq/callisto/pkg/config"
	"mindshare-hq/callisto/pkg/store"
)

// fakeStats returns canned values for every guardian query.
type fakeStats struct {
	responses    int
	providers    int
	domains      int
	meanLen      float64
	weekly       []int
	daily        []float64
	activity     []store.ProviderActivity
	staleDomains int
	err          error
}

func (f *fakeStats) ResponseCountSince(context.Context, time.Time) (int, error) {
	return f.responses, f.err
}
func (f *fakeStats) DistinctProvidersSince(context.Context, time.Time) (int, error) {
	return f.providers, f.err
}
func (f *fakeStats) DistinctDomainsSince(context.Context, time.Time) (int, error) {
	return f.domains, f.err
}
func (f *fakeStats) MeanResponseLengthSince(context.Context, time.Time) (float64, error) {
	return f.meanLen, f.err
}
func (f *fakeStats) WeeklyResponseCounts(context.Context, int) ([]int, error) {
	return f.weekly, f.err
}
func (f *fakeStats) DailyMeanLengths(context.Context, int) ([]float64, error) {
	return f.daily, f.err
}
func (f *fakeStats) ProviderRecentActivity(context.Context, time.Duration, time.Duration) ([]store.ProviderActivity, error) {
	return f.activity, f.err
}
func (f *fakeStats) StaleDomainCount(context.Context, time.Duration) (int, error) {
	return f.staleDomains, f.err
}

type fakeProber struct {
	failFor map[string]error
	probed  []string
}

func (f *fakeProber) Probe(_ context.Context, p catalog.Provider, _ string) error {
	f.probed = append(f.probed, p.ID)
	return f.failFor[p.ID]
}

type fakeKeys map[string][]string

func (f fakeKeys) Keys(id string) []string { return f[id] }

func healthyStats() *fakeStats {
	return &fakeStats{
		responses: 5000,
		providers: 8,
		domains:   400,
		meanLen:   900,
		weekly:    []int{100, 110, 105, 95, 102},
		daily:     []float64{900, 880},
	}
}

func testGuardianConfig() config.GuardianConfig {
	return config.GuardianConfig{
		MinWeeklyResponses:   1000,
		MinActiveProviders:   6,
		MinActiveDomains:     100,
		MinMeanResponseChars: 500,
		ProbeTimeout:         time.Second,
	}
}

func criticalProviders() []catalog.Provider {
	return []catalog.Provider{
		{ID: "openai", Critical: true},
		{ID: "anthropic", Critical: true},
	}
}

func TestPreflightHealthy(t *testing.T) {
	prober := &fakeProber{}
	keys := fakeKeys{"openai": {"k"}, "anthropic": {"k"}}
	g := New(testGuardianConfig(), healthyStats(), prober, keys, criticalProviders())

	report, err := g.Preflight(context.Background())
	if err != nil {
		t.Fatalf("Preflight() error = %v", err)
	}
	if !report.Healthy {
		t.Fatalf("report should be healthy: %+v", report.Checks)
	}
	if len(prober.probed) != 2 {
		t.Errorf("probed %v, want both critical providers", prober.probed)
	}
}

func TestPreflightThresholdFailures(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*fakeStats)
		failCheck string
	}{
		{"thin weekly volume", func(f *fakeStats) { f.responses = 999 }, "weekly_response_volume"},
		{"few providers", func(f *fakeStats) { f.providers = 5 }, "provider_coverage"},
		{"few domains", func(f *fakeStats) { f.domains = 99 }, "domain_coverage"},
		{"short responses", func(f *fakeStats) { f.meanLen = 499 }, "response_quality"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := healthyStats()
			tt.mutate(stats)
			keys := fakeKeys{"openai": {"k"}, "anthropic": {"k"}}
			g := New(testGuardianConfig(), stats, &fakeProber{}, keys, criticalProviders())

			report, err := g.Preflight(context.Background())
			if err != nil {
				t.Fatalf("Preflight() error = %v", err)
			}
			if report.Healthy {
				t.Fatal("report should be unhealthy")
			}
			found := false
			for _, c := range report.Checks {
				if c.Name == tt.failCheck && !c.OK {
					found = true
				}
			}
			if !found {
				t.Errorf("check %q should have failed: %+v", tt.failCheck, report.Checks)
			}
		})
	}
}

func TestPreflightProbeFailureBlocks(t *testing.T) {
	prober := &fakeProber{failFor: map[string]error{"anthropic": errors.New("connection refused")}}
	keys := fakeKeys{"openai": {"k"}, "anthropic": {"k"}}
	g := New(testGuardianConfig(), healthyStats(), prober, keys, criticalProviders())

	report, err := g.Preflight(context.Background())
	if err != nil {
		t.Fatalf("Preflight() error = %v", err)
	}
	if report.Healthy {
		t.Fatal("a failing critical probe must block")
	}
}

func TestPreflightCriticalProviderWithoutKeys(t *testing.T) {
	keys := fakeKeys{"openai": {"k"}} // anthropic has no pool
	g := New(testGuardianConfig(), healthyStats(), &fakeProber{}, keys, criticalProviders())

	report, err := g.Preflight(context.Background())
	if err != nil {
		t.Fatalf("Preflight() error = %v", err)
	}
	if report.Healthy {
		t.Fatal("a critical provider with no keys must block")
	}
}

func TestPreflightStoreErrorPropagates(t *testing.T) {
	stats := healthyStats()
	stats.err = errors.New("connection reset")
	g := New(testGuardianConfig(), stats, &fakeProber{}, fakeKeys{}, nil)

	if _, err := g.Preflight(context.Background()); err == nil {
		t.Fatal("store errors must surface as errors, not failed checks")
	}
}

func TestAnomalyVolumeDrop(t *testing.T) {
	stats := healthyStats()
	// Stable history, then a collapse in the latest week.
	stats.weekly = []int{100, 101, 99, 100, 102, 98, 100, 101, 99, 100, 102, 5}
	g := New(testGuardianConfig(), stats, &fakeProber{}, fakeKeys{}, nil)

	anomalies, err := g.Anomalies(context.Background())
	if err != nil {
		t.Fatalf("Anomalies() error = %v", err)
	}
	found := findAnomaly(anomalies, AnomalyVolumeDrop)
	if found == nil {
		t.Fatalf("volume drop not detected: %+v", anomalies)
	}
	if found.Classification != ClassUnknown {
		t.Errorf("volume drop alone = %s, want unknown", found.Classification)
	}
	if found.Propagate {
		t.Error("unknown anomalies must not propagate")
	}
}

func TestAnomalyVolumeDropWithModelFailureIsSystemFailure(t *testing.T) {
	stats := healthyStats()
	stats.weekly = []int{100, 101, 99, 100, 102, 98, 100, 101, 99, 100, 102, 5}
	stats.activity = []store.ProviderActivity{{Provider: "openai", ActiveDays: 40, RecentRows: 0}}
	g := New(testGuardianConfig(), stats, &fakeProber{}, fakeKeys{}, nil)

	anomalies, err := g.Anomalies(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	drop := findAnomaly(anomalies, AnomalyVolumeDrop)
	if drop == nil || drop.Classification != ClassSystemFailure {
		t.Errorf("volume drop with silent provider should classify system_failure: %+v", drop)
	}
	failure := findAnomaly(anomalies, AnomalyModelFailure)
	if failure == nil || failure.Classification != ClassSystemFailure || failure.Propagate {
		t.Errorf("model failure = %+v, want non-propagating system_failure", failure)
	}
}

func TestAnomalyQualityDegradation(t *testing.T) {
	stats := healthyStats()
	stats.daily = []float64{1000, 600} // 40% day-over-day drop

	t.Run("clean infrastructure means memory decay", func(t *testing.T) {
		g := New(testGuardianConfig(), stats, &fakeProber{}, fakeKeys{}, nil)
		anomalies, err := g.Anomalies(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		q := findAnomaly(anomalies, AnomalyQualityDegradation)
		if q == nil {
			t.Fatalf("quality degradation not detected: %+v", anomalies)
		}
		if q.Classification != ClassMemoryDecay || !q.Propagate {
			t.Errorf("quality drop with healthy infra = %+v, want propagating memory_decay", q)
		}
	})

	t.Run("concurrent model failure reclassifies", func(t *testing.T) {
		dirty := *stats
		dirty.activity = []store.ProviderActivity{{Provider: "openai", ActiveDays: 40, RecentRows: 0}}
		g := New(testGuardianConfig(), &dirty, &fakeProber{}, fakeKeys{}, nil)
		anomalies, err := g.Anomalies(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		q := findAnomaly(anomalies, AnomalyQualityDegradation)
		if q == nil || q.Classification != ClassSystemFailure || q.Propagate {
			t.Errorf("quality drop during model failure = %+v, want withheld system_failure", q)
		}
	})
}

func TestAnomalyCoverageGap(t *testing.T) {
	stats := healthyStats()
	stats.staleDomains = 250
	g := New(testGuardianConfig(), stats, &fakeProber{}, fakeKeys{}, nil)

	anomalies, err := g.Anomalies(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	gap := findAnomaly(anomalies, AnomalyCoverageGap)
	if gap == nil || gap.Classification != ClassSystemFailure {
		t.Errorf("coverage gap = %+v, want system_failure", gap)
	}
}

func TestNoAnomaliesOnHealthyHistory(t *testing.T) {
	g := New(testGuardianConfig(), healthyStats(), &fakeProber{}, fakeKeys{}, nil)
	anomalies, err := g.Anomalies(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(anomalies) != 0 {
		t.Errorf("healthy history produced anomalies: %+v", anomalies)
	}
}

func TestLatestZScoreNeedsHistory(t *testing.T) {
	if _, ok := latestZScore([]int{10, 20, 5}); ok {
		t.Error("three samples are not enough history")
	}
	if _, ok := latestZScore([]int{7, 7, 7, 7}); ok {
		t.Error("zero variance history cannot score")
	}
	z, ok := latestZScore([]int{100, 102, 98, 100, 0})
	if !ok {
		t.Fatal("five varied samples should score")
	}
	if z > -2.5 {
		t.Errorf("collapse to zero scored z=%.2f, want strongly negative", z)
	}
}

func findAnomaly(anomalies []Anomaly, typ AnomalyType) *Anomaly {
	for i := range anomalies {
		if anomalies[i].Type == typ {
			return &anomalies[i]
		}
	}
	return nil
}
