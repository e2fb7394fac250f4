package catalog

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestBuiltinCatalogIsWellFormed(t *testing.T) {
	providers := Builtin()
	if len(providers) != 11 {
		t.Fatalf("catalog has %d providers, want 11", len(providers))
	}

	seen := make(map[string]bool)
	for _, p := range providers {
		if seen[p.ID] {
			t.Errorf("duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true

		if p.Endpoint == "" || p.DefaultModel == "" || p.EnvPrefix == "" {
			t.Errorf("provider %q has empty required fields", p.ID)
		}
		if p.RPMPerKey <= 0 || p.MinDelay <= 0 {
			t.Errorf("provider %q has no rate limits", p.ID)
		}
	}

	critical := 0
	for _, p := range providers {
		if p.Critical {
			critical++
		}
	}
	if critical != 3 {
		t.Errorf("critical providers = %d, want 3 (openai, anthropic, google)", critical)
	}
}

func TestTiersFor(t *testing.T) {
	tests := []struct {
		tier string
		want []Tier
	}{
		{"cheap", []Tier{TierEconomy}},
		{"medium", []Tier{TierStandard, TierEconomy}},
		{"expensive", []Tier{TierPremium, TierStandard, TierEconomy}},
		{"full", []Tier{TierPremium, TierStandard, TierEconomy}},
		{"bogus", nil},
	}
	for _, tt := range tests {
		if got := TiersFor(tt.tier); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("TiersFor(%q) = %v, want %v", tt.tier, got, tt.want)
		}
	}
}

func TestRegistryKeysFromEnvSpellings(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-base")
	t.Setenv("OPENAI_API_KEY_1", "sk-one")
	t.Setenv("OPENAI_API_KEY2", "sk-two")
	// Duplicate value collapses.
	t.Setenv("OPENAI_API_KEY_3", "sk-one")
	// Empty values are skipped.
	t.Setenv("OPENAI_API_KEY_4", "   ")

	r, err := NewRegistry(Builtin(), "")
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	defer r.Close()

	got := r.Keys("openai")
	want := []string{"sk-base", "sk-one", "sk-two"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Keys(openai) = %v, want %v", got, want)
	}
}

func TestRegistryEnabledByTiers(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-premium")
	t.Setenv("GROQ_API_KEY", "gsk-economy")

	r, err := NewRegistry(Builtin(), "")
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	defer r.Close()

	ids := func(ps []Provider) map[string]bool {
		m := make(map[string]bool, len(ps))
		for _, p := range ps {
			m[p.ID] = true
		}
		return m
	}

	enabled := ids(r.ListEnabled())
	if !enabled["openai"] || !enabled["groq"] {
		t.Fatalf("ListEnabled() = %v, want openai and groq enabled", enabled)
	}

	economy := ids(r.EnabledByTiers([]Tier{TierEconomy}))
	if !economy["groq"] || economy["openai"] {
		t.Errorf("EnabledByTiers(economy) = %v, want groq without openai", economy)
	}
	premium := ids(r.EnabledByTiers([]Tier{TierPremium}))
	if !premium["openai"] || premium["groq"] {
		t.Errorf("EnabledByTiers(premium) = %v, want openai without groq", premium)
	}
}

func TestRegistryKeysFileOverridesEnv(t *testing.T) {
	t.Setenv("COHERE_API_KEY", "env-key")

	path := filepath.Join(t.TempDir(), "keys.env")
	content := "# provider keys\nCOHERE_API_KEY=file-key\nexport AI21_API_KEY=\"quoted-key\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	r, err := NewRegistry(Builtin(), path)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	defer r.Close()

	if got := r.Keys("cohere"); len(got) != 1 || got[0] != "file-key" {
		t.Errorf("Keys(cohere) = %v, file entry must win", got)
	}
	if got := r.Keys("ai21"); len(got) != 1 || got[0] != "quoted-key" {
		t.Errorf("Keys(ai21) = %v, quotes must be stripped", got)
	}
}

func TestRegistryGetUnknownProvider(t *testing.T) {
	r, err := NewRegistry(Builtin(), "")
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	defer r.Close()

	if _, err := r.Get("nonesuch"); err == nil {
		t.Fatal("Get(nonesuch) should fail")
	}
}
