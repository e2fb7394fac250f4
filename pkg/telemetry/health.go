package telemetry

import "sync"

// Health score tuning: successes recover slowly, failures cut deep.
const (
	healthMax          = 100
	healthMin          = 0
	healthSuccessDelta = 2
	healthFailureDelta = -10
)

// HealthScores maintains the rolling per-provider health score in
// [0, 100]. New providers start healthy.
type HealthScores struct {
	mu     sync.Mutex
	scores map[string]int
}

// NewHealthScores creates an empty score table.
func NewHealthScores() *HealthScores {
	return &HealthScores{scores: make(map[string]int)}
}

// Record applies one call outcome and returns the updated score.
func (h *HealthScores) Record(provider string, success bool) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	score, ok := h.scores[provider]
	if !ok {
		score = healthMax
	}
	if success {
		score += healthSuccessDelta
	} else {
		score += healthFailureDelta
	}
	if score > healthMax {
		score = healthMax
	}
	if score < healthMin {
		score = healthMin
	}
	h.scores[provider] = score
	return score
}

// Score returns the current score, 100 for providers never seen.
func (h *HealthScores) Score(provider string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if score, ok := h.scores[provider]; ok {
		return score
	}
	return healthMax
}

// Snapshot copies all current scores.
func (h *HealthScores) Snapshot() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]int, len(h.scores))
	for k, v := range h.scores {
		out[k] = v
	}
	return out
}
