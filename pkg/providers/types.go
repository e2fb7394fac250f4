// Package providers translates uniform completion requests into each
// provider's wire dialect and normalizes the responses back.
//
// One Invoker with one pooled HTTP client serves every provider; the
// dialect is selected from the closed catalog enum, never by matching
// on free-form strings.
package providers

import (
	"time"

	"mindshare-hq/callisto/pkg/catalog"
)

// Request is a uniform, provider-agnostic completion request.
type Request struct {
	// Provider is the catalog record to call.
	Provider catalog.Provider

	// Key is the API credential to use for this call.
	Key string

	// Model overrides the provider default when non-empty.
	Model string

	// Prompt is the fully interpolated prompt text.
	Prompt string

	// MaxTokens bounds the completion length.
	MaxTokens int

	// Temperature controls sampling randomness.
	Temperature float64
}

// ResolvedModel returns the model the call will be issued against.
func (r *Request) ResolvedModel() string {
	if r.Model != "" {
		return r.Model
	}
	return r.Provider.DefaultModel
}

// Result is a successful normalized provider response.
type Result struct {
	// Text is the raw response text, retained verbatim.
	Text string

	// Model is the model that produced the response.
	Model string

	// PromptTokens and CompletionTokens are provider-reported when
	// available, otherwise estimated.
	PromptTokens     int
	CompletionTokens int

	// TokensEstimated is true when counts were estimated rather than
	// reported by the provider.
	TokensEstimated bool

	// Latency is the observed wall time of the HTTP exchange.
	Latency time.Duration
}

// EstimateTokens approximates a token count as ceil(len/4), the
// fallback used when a provider does not report usage.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
