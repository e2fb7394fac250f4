package costs

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestLookupExplicitModel(t *testing.T) {
	got := Lookup("openai", "gpt-4o-mini")
	if !almostEqual(got.PromptPer1K, 0.00015) || !almostEqual(got.CompletionPer1K, 0.0006) {
		t.Errorf("Lookup(openai, gpt-4o-mini) = %+v", got)
	}
}

func TestLookupFallsBackToProviderDefault(t *testing.T) {
	got := Lookup("anthropic", "claude-9-experimental")
	want := Lookup("anthropic", "*")
	if got != want {
		t.Errorf("unknown model = %+v, want provider default %+v", got, want)
	}
}

func TestLookupUnknownProviderUsesGlobalDefault(t *testing.T) {
	got := Lookup("brand-new-lab", "whatever")
	if got != globalDefault {
		t.Errorf("unknown provider = %+v, want global default %+v", got, got)
	}
}

func TestCostMath(t *testing.T) {
	tests := []struct {
		name             string
		provider, model  string
		prompt, complete int
		want             float64
	}{
		{"zero tokens", "openai", "gpt-4o", 0, 0, 0},
		{"round thousands", "openai", "gpt-4o", 1000, 1000, 0.0025 + 0.01},
		{"fractional thousands", "openai", "gpt-4o", 500, 250, 0.00125 + 0.0025},
		{"cheap economy model", "groq", "llama-3.1-8b-instant", 1000, 1000, 0.00005 + 0.00008},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cost(tt.provider, tt.model, tt.prompt, tt.complete)
			if !almostEqual(got, tt.want) {
				t.Errorf("Cost() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEveryCatalogProviderHasTariffRows(t *testing.T) {
	for provider, models := range tariffs {
		if _, ok := models[defaultModelKey]; !ok {
			t.Errorf("provider %q has no %q fallback row", provider, defaultModelKey)
		}
	}
}
