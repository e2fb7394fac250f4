package guardian

import (
	"context"
	"fmt"
	"math"
	"time"
)

// AnomalyType names one detector.
type AnomalyType string

const (
	AnomalyVolumeDrop         AnomalyType = "volume_drop"
	AnomalyModelFailure       AnomalyType = "model_failure"
	AnomalyQualityDegradation AnomalyType = "quality_degradation"
	AnomalyCoverageGap        AnomalyType = "coverage_gap"
)

// Classification separates infrastructure problems from genuine change
// in model behavior.
type Classification string

const (
	ClassSystemFailure Classification = "system_failure"
	ClassMemoryDecay   Classification = "memory_decay"
	ClassUnknown       Classification = "unknown"
)

// Anomaly is one typed finding from the look-back window.
type Anomaly struct {
	Type           AnomalyType    `json:"type"`
	Provider       string         `json:"provider,omitempty"`
	Detail         string         `json:"detail"`
	Classification Classification `json:"classification"`

	// Propagate is true only for memory_decay: everything else must be
	// withheld from downstream tensor consumers.
	Propagate bool `json:"propagate"`
}

// Detector thresholds. The look-back is fixed at twelve weeks.
const (
	anomalyLookbackWeeks  = 12
	volumeZThreshold      = 2.5
	qualityDropFraction   = 0.30
	coverageGapDomains    = 100
	coverageGapAge        = 7 * 24 * time.Hour
	modelFailureSilence   = 3 * 24 * time.Hour
	modelFailureMinActive = 1
)

// Anomalies runs the post-hoc classifier over the trailing twelve
// weeks.
func (g *Guardian) Anomalies(ctx context.Context) ([]Anomaly, error) {
	var found []Anomaly

	weekly, err := g.stats.WeeklyResponseCounts(ctx, anomalyLookbackWeeks)
	if err != nil {
		return nil, fmt.Errorf("reading weekly counts: %w", err)
	}
	var volumeDropped bool
	if z, ok := latestZScore(weekly); ok && math.Abs(z) > volumeZThreshold {
		volumeDropped = true
		found = append(found, Anomaly{
			Type:   AnomalyVolumeDrop,
			Detail: fmt.Sprintf("weekly response count z-score %.2f exceeds %.1f", z, volumeZThreshold),
		})
	}

	activity, err := g.stats.ProviderRecentActivity(ctx, time.Duration(anomalyLookbackWeeks)*7*24*time.Hour, modelFailureSilence)
	if err != nil {
		return nil, fmt.Errorf("reading provider activity: %w", err)
	}
	var modelFailed bool
	for _, a := range activity {
		if a.ActiveDays >= modelFailureMinActive && a.RecentRows == 0 {
			modelFailed = true
			found = append(found, Anomaly{
				Type:     AnomalyModelFailure,
				Provider: a.Provider,
				Detail:   fmt.Sprintf("active on %d days but silent for 3 days", a.ActiveDays),
			})
		}
	}

	daily, err := g.stats.DailyMeanLengths(ctx, 2)
	if err != nil {
		return nil, fmt.Errorf("reading daily mean lengths: %w", err)
	}
	if len(daily) == 2 && daily[0] > 0 {
		drop := (daily[0] - daily[1]) / daily[0]
		if drop > qualityDropFraction {
			found = append(found, Anomaly{
				Type:   AnomalyQualityDegradation,
				Detail: fmt.Sprintf("mean response length dropped %.0f%% day-over-day", drop*100),
			})
		}
	}

	stale, err := g.stats.StaleDomainCount(ctx, coverageGapAge)
	if err != nil {
		return nil, fmt.Errorf("reading stale domain count: %w", err)
	}
	if stale > coverageGapDomains {
		found = append(found, Anomaly{
			Type:   AnomalyCoverageGap,
			Detail: fmt.Sprintf("%d domains untouched for 7 days", stale),
		})
	}

	for i := range found {
		found[i].Classification = classify(found[i].Type, volumeDropped, modelFailed)
		found[i].Propagate = found[i].Classification == ClassMemoryDecay
	}
	return found, nil
}

// classify attributes an anomaly to infrastructure or model behavior.
// The bias is conservative: when infrastructure signals overlap, the
// finding is withheld from downstream consumers.
func classify(t AnomalyType, volumeDropped, modelFailed bool) Classification {
	switch t {
	case AnomalyModelFailure, AnomalyCoverageGap:
		return ClassSystemFailure
	case AnomalyVolumeDrop:
		if modelFailed {
			return ClassSystemFailure
		}
		return ClassUnknown
	case AnomalyQualityDegradation:
		if volumeDropped || modelFailed {
			return ClassSystemFailure
		}
		return ClassMemoryDecay
	default:
		return ClassUnknown
	}
}

// latestZScore computes the z-score of the final sample against the
// mean and standard deviation of the preceding samples. It needs at
// least four weeks of history to say anything.
func latestZScore(samples []int) (float64, bool) {
	if len(samples) < 4 {
		return 0, false
	}
	history := samples[:len(samples)-1]
	latest := float64(samples[len(samples)-1])

	var sum float64
	for _, s := range history {
		sum += float64(s)
	}
	mean := sum / float64(len(history))

	var variance float64
	for _, s := range history {
		d := float64(s) - mean
		variance += d * d
	}
	variance /= float64(len(history))
	std := math.Sqrt(variance)
	if std == 0 {
		return 0, false
	}
	return (latest - mean) / std, true
}
