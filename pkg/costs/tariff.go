// Package costs computes per-call USD cost estimates from a single
// authoritative tariff table keyed by provider and model.
package costs

// Tariff is the price of one thousand tokens, split by direction.
type Tariff struct {
	PromptPer1K     float64
	CompletionPer1K float64
}

// defaultModelKey matches any model of a provider without an explicit
// row.
const defaultModelKey = "*"

// tariffs is the authoritative tariff table. Rates are USD per 1K
// tokens. Models missing a row fall back to the provider's "*" row,
// then to globalDefault.
var tariffs = map[string]map[string]Tariff{
	"openai": {
		"gpt-4o":          {PromptPer1K: 0.0025, CompletionPer1K: 0.01},
		"gpt-4o-mini":     {PromptPer1K: 0.00015, CompletionPer1K: 0.0006},
		defaultModelKey:   {PromptPer1K: 0.0025, CompletionPer1K: 0.01},
	},
	"anthropic": {
		"claude-3-5-sonnet-latest": {PromptPer1K: 0.003, CompletionPer1K: 0.015},
		"claude-3-5-haiku-latest":  {PromptPer1K: 0.0008, CompletionPer1K: 0.004},
		defaultModelKey:            {PromptPer1K: 0.003, CompletionPer1K: 0.015},
	},
	"google": {
		"gemini-1.5-flash": {PromptPer1K: 0.000075, CompletionPer1K: 0.0003},
		"gemini-1.5-pro":   {PromptPer1K: 0.00125, CompletionPer1K: 0.005},
		defaultModelKey:    {PromptPer1K: 0.000075, CompletionPer1K: 0.0003},
	},
	"deepseek": {
		defaultModelKey: {PromptPer1K: 0.00014, CompletionPer1K: 0.00028},
	},
	"mistral": {
		defaultModelKey: {PromptPer1K: 0.0002, CompletionPer1K: 0.0006},
	},
	"xai": {
		defaultModelKey: {PromptPer1K: 0.002, CompletionPer1K: 0.01},
	},
	"together": {
		defaultModelKey: {PromptPer1K: 0.00088, CompletionPer1K: 0.00088},
	},
	"perplexity": {
		defaultModelKey: {PromptPer1K: 0.001, CompletionPer1K: 0.001},
	},
	"cohere": {
		defaultModelKey: {PromptPer1K: 0.0005, CompletionPer1K: 0.0015},
	},
	"ai21": {
		defaultModelKey: {PromptPer1K: 0.0002, CompletionPer1K: 0.0004},
	},
	"groq": {
		defaultModelKey: {PromptPer1K: 0.00005, CompletionPer1K: 0.00008},
	},
}

// globalDefault prices providers absent from the table entirely. It is
// deliberately on the expensive side so an unpriced model inflates
// rather than hides spend.
var globalDefault = Tariff{PromptPer1K: 0.003, CompletionPer1K: 0.015}

// Lookup returns the tariff for (provider, model).
func Lookup(provider, model string) Tariff {
	models, ok := tariffs[provider]
	if !ok {
		return globalDefault
	}
	if t, ok := models[model]; ok {
		return t
	}
	if t, ok := models[defaultModelKey]; ok {
		return t
	}
	return globalDefault
}

// Cost computes the USD cost of one call.
func Cost(provider, model string, promptTokens, completionTokens int) float64 {
	t := Lookup(provider, model)
	return float64(promptTokens)/1000*t.PromptPer1K +
		float64(completionTokens)/1000*t.CompletionPer1K
}
