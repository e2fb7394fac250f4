package providers

import (
	"encoding/json"
	"fmt"
)

// ai21Dialect speaks the AI21 completion API.
type ai21Dialect struct{}

type ai21Request struct {
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"maxTokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type ai21Response struct {
	Completions []struct {
		Data struct {
			Text string `json:"text"`
		} `json:"data"`
	} `json:"completions"`
}

func (ai21Dialect) endpoint(req *Request) string {
	return req.Provider.Endpoint
}

func (ai21Dialect) headers(req *Request) map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + req.Key,
		"Content-Type":  "application/json",
	}
}

func (ai21Dialect) body(req *Request) ([]byte, error) {
	return json.Marshal(ai21Request{
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
}

func (ai21Dialect) parse(req *Request, raw []byte) (*Result, error) {
	var resp ai21Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding completion response: %w", err)
	}
	if len(resp.Completions) == 0 {
		return nil, fmt.Errorf("completion response has no completions")
	}

	text := resp.Completions[0].Data.Text
	// AI21 does not report usage on this endpoint.
	return &Result{
		Text:             text,
		Model:            req.ResolvedModel(),
		PromptTokens:     EstimateTokens(req.Prompt),
		CompletionTokens: EstimateTokens(text),
		TokensEstimated:  true,
	}, nil
}
