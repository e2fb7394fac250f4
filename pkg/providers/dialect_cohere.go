package providers

import (
	"encoding/json"
	"fmt"
)

// cohereDialect speaks the Cohere generate API.
type cohereDialect struct{}

type cohereRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type cohereResponse struct {
	Generations []struct {
		Text string `json:"text"`
	} `json:"generations"`
	Meta struct {
		BilledUnits struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"billed_units"`
	} `json:"meta"`
}

func (cohereDialect) endpoint(req *Request) string {
	return req.Provider.Endpoint
}

func (cohereDialect) headers(req *Request) map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + req.Key,
		"Content-Type":  "application/json",
	}
}

func (cohereDialect) body(req *Request) ([]byte, error) {
	return json.Marshal(cohereRequest{
		Model:       req.ResolvedModel(),
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
}

func (cohereDialect) parse(req *Request, raw []byte) (*Result, error) {
	var resp cohereResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding generate response: %w", err)
	}
	if len(resp.Generations) == 0 {
		return nil, fmt.Errorf("generate response has no generations")
	}

	res := &Result{
		Text:             resp.Generations[0].Text,
		Model:            req.ResolvedModel(),
		PromptTokens:     resp.Meta.BilledUnits.InputTokens,
		CompletionTokens: resp.Meta.BilledUnits.OutputTokens,
	}
	if res.PromptTokens == 0 && res.CompletionTokens == 0 {
		res.PromptTokens = EstimateTokens(req.Prompt)
		res.CompletionTokens = EstimateTokens(res.Text)
		res.TokensEstimated = true
	}
	return res, nil
}
