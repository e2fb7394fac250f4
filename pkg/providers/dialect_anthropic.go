package providers

import (
	"encoding/json"
	"fmt"
)

// anthropicDialect speaks the Anthropic messages API.
type anthropicDialect struct{}

// anthropicVersion pins the messages API revision.
const anthropicVersion = "2023-06-01"

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (anthropicDialect) endpoint(req *Request) string {
	return req.Provider.Endpoint
}

func (anthropicDialect) headers(req *Request) map[string]string {
	return map[string]string{
		"x-api-key":         req.Key,
		"anthropic-version": anthropicVersion,
		"Content-Type":      "application/json",
	}
}

func (anthropicDialect) body(req *Request) ([]byte, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		// max_tokens is mandatory on the messages API.
		maxTokens = 1024
	}
	return json.Marshal(anthropicRequest{
		Model:       req.ResolvedModel(),
		Messages:    []anthropicMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	})
}

func (anthropicDialect) parse(req *Request, raw []byte) (*Result, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding messages response: %w", err)
	}
	if len(resp.Content) == 0 {
		return nil, fmt.Errorf("messages response has no content blocks")
	}

	res := &Result{
		Text:             resp.Content[0].Text,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
	}
	if res.Model == "" {
		res.Model = req.ResolvedModel()
	}
	if res.PromptTokens == 0 && res.CompletionTokens == 0 {
		res.PromptTokens = EstimateTokens(req.Prompt)
		res.CompletionTokens = EstimateTokens(res.Text)
		res.TokensEstimated = true
	}
	return res, nil
}
