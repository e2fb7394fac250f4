// Package catalog holds the immutable catalog of LLM providers the
// crawler talks to, plus the runtime registry that pairs each provider
// with its API key pool.
package catalog

import (
	"fmt"
	"time"
)

// Dialect identifies the wire format a provider speaks. The set is
// closed: adding a provider means extending this enum and the adapter
// switch, never matching on free-form strings.
type Dialect string

const (
	// DialectOpenAI covers every OpenAI-compatible chat completion API
	// (OpenAI itself, DeepSeek, Mistral, Together, xAI, Groq, Perplexity).
	DialectOpenAI Dialect = "openai"

	// DialectAnthropic is the Anthropic messages API.
	DialectAnthropic Dialect = "anthropic"

	// DialectGemini is the Google Gemini generateContent API.
	DialectGemini Dialect = "gemini"

	// DialectAI21 is the AI21 completion API.
	DialectAI21 Dialect = "ai21"

	// DialectCohere is the Cohere generate API.
	DialectCohere Dialect = "cohere"
)

// Tier labels a provider's cost class for scheduler tier selection.
type Tier string

const (
	TierPremium  Tier = "premium"
	TierStandard Tier = "standard"
	TierEconomy  Tier = "economy"
)

// Provider is one catalog entry. Entries are immutable at runtime; only
// the key pool held by the Registry changes.
type Provider struct {
	// ID is the stable provider identifier persisted with responses.
	ID string

	// Name is the human-readable display name.
	Name string

	// Endpoint is the completion endpoint URL. For Gemini the model is
	// interpolated into the path at call time.
	Endpoint string

	// Dialect selects the adapter that shapes requests and extracts
	// responses.
	Dialect Dialect

	// DefaultModel is the model queried for brand-perception prompts.
	DefaultModel string

	// RPMPerKey is the requests-per-minute budget for each key.
	RPMPerKey int

	// MinDelay is the minimum spacing between requests on one key,
	// measured from request start.
	MinDelay time.Duration

	// Tier is the cost class used by scheduler tier selection.
	Tier Tier

	// EnvPrefix names the environment variables holding this
	// provider's keys: <EnvPrefix>_API_KEY, _API_KEY_N and _API_KEYN.
	EnvPrefix string

	// Critical providers are liveness-probed by the guardian before a
	// full crawl is allowed to start.
	Critical bool
}

// Builtin returns the full provider catalog. The slice is freshly
// allocated; callers may not mutate shared state through it.
func Builtin() []Provider {
	return []Provider{
		{
			ID: "openai", Name: "OpenAI",
			Endpoint:     "https://api.openai.com/v1/chat/completions",
			Dialect:      DialectOpenAI,
			DefaultModel: "gpt-4o",
			RPMPerKey:    60, MinDelay: 1 * time.Second,
			Tier: TierPremium, EnvPrefix: "OPENAI", Critical: true,
		},
		{
			ID: "anthropic", Name: "Anthropic",
			Endpoint:     "https://api.anthropic.com/v1/messages",
			Dialect:      DialectAnthropic,
			DefaultModel: "claude-3-5-sonnet-latest",
			RPMPerKey:    50, MinDelay: 1200 * time.Millisecond,
			Tier: TierPremium, EnvPrefix: "ANTHROPIC", Critical: true,
		},
		{
			ID: "google", Name: "Google Gemini",
			Endpoint:     "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent",
			Dialect:      DialectGemini,
			DefaultModel: "gemini-1.5-flash",
			RPMPerKey:    60, MinDelay: 1 * time.Second,
			Tier: TierStandard, EnvPrefix: "GOOGLE", Critical: true,
		},
		{
			ID: "deepseek", Name: "DeepSeek",
			Endpoint:     "https://api.deepseek.com/v1/chat/completions",
			Dialect:      DialectOpenAI,
			DefaultModel: "deepseek-chat",
			RPMPerKey:    60, MinDelay: 1 * time.Second,
			Tier: TierEconomy, EnvPrefix: "DEEPSEEK",
		},
		{
			ID: "mistral", Name: "Mistral",
			Endpoint:     "https://api.mistral.ai/v1/chat/completions",
			Dialect:      DialectOpenAI,
			DefaultModel: "mistral-small-latest",
			RPMPerKey:    60, MinDelay: 1 * time.Second,
			Tier: TierStandard, EnvPrefix: "MISTRAL",
		},
		{
			ID: "xai", Name: "xAI",
			Endpoint:     "https://api.x.ai/v1/chat/completions",
			Dialect:      DialectOpenAI,
			DefaultModel: "grok-2-latest",
			RPMPerKey:    60, MinDelay: 1 * time.Second,
			Tier: TierPremium, EnvPrefix: "XAI",
		},
		{
			ID: "together", Name: "Together",
			Endpoint:     "https://api.together.xyz/v1/chat/completions",
			Dialect:      DialectOpenAI,
			DefaultModel: "meta-llama/Llama-3.3-70B-Instruct-Turbo",
			RPMPerKey:    100, MinDelay: 600 * time.Millisecond,
			Tier: TierEconomy, EnvPrefix: "TOGETHER",
		},
		{
			ID: "perplexity", Name: "Perplexity",
			Endpoint:     "https://api.perplexity.ai/chat/completions",
			Dialect:      DialectOpenAI,
			DefaultModel: "sonar",
			RPMPerKey:    50, MinDelay: 1200 * time.Millisecond,
			Tier: TierStandard, EnvPrefix: "PERPLEXITY",
		},
		{
			ID: "cohere", Name: "Cohere",
			Endpoint:     "https://api.cohere.ai/v1/generate",
			Dialect:      DialectCohere,
			DefaultModel: "command-r",
			RPMPerKey:    40, MinDelay: 1500 * time.Millisecond,
			Tier: TierEconomy, EnvPrefix: "COHERE",
		},
		{
			ID: "ai21", Name: "AI21",
			Endpoint:     "https://api.ai21.com/studio/v1/j2-mid/complete",
			Dialect:      DialectAI21,
			DefaultModel: "j2-mid",
			RPMPerKey:    30, MinDelay: 2 * time.Second,
			Tier: TierEconomy, EnvPrefix: "AI21",
		},
		{
			ID: "groq", Name: "Groq",
			Endpoint:     "https://api.groq.com/openai/v1/chat/completions",
			Dialect:      DialectOpenAI,
			DefaultModel: "llama-3.1-8b-instant",
			RPMPerKey:    30, MinDelay: 2 * time.Second,
			Tier: TierEconomy, EnvPrefix: "GROQ",
		},
	}
}

// ErrUnknownProvider is returned by Registry.Get for ids not in the
// catalog.
type ErrUnknownProvider struct {
	ID string
}

func (e *ErrUnknownProvider) Error() string {
	return fmt.Sprintf("unknown provider %q", e.ID)
}

// TiersFor maps a scheduler tier label to the provider cost classes it
// may use.
func TiersFor(schedulerTier string) []Tier {
	switch schedulerTier {
	case "cheap":
		return []Tier{TierEconomy}
	case "medium":
		return []Tier{TierStandard, TierEconomy}
	case "expensive", "full":
		return []Tier{TierPremium, TierStandard, TierEconomy}
	default:
		return nil
	}
}
