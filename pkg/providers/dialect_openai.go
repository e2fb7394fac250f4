package providers

import (
	"encoding/json"
	"fmt"
)

// openAIDialect speaks the OpenAI chat completion wire format, shared
// by OpenAI, DeepSeek, Mistral, Together, xAI, Groq and Perplexity.
type openAIDialect struct{}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (openAIDialect) endpoint(req *Request) string {
	return req.Provider.Endpoint
}

func (openAIDialect) headers(req *Request) map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + req.Key,
		"Content-Type":  "application/json",
	}
}

func (openAIDialect) body(req *Request) ([]byte, error) {
	return json.Marshal(openAIRequest{
		Model:       req.ResolvedModel(),
		Messages:    []openAIMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
}

func (openAIDialect) parse(req *Request, raw []byte) (*Result, error) {
	var resp openAIResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding chat completion response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion response has no choices")
	}

	res := &Result{
		Text:             resp.Choices[0].Message.Content,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
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
