package providers

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// geminiDialect speaks the Google Gemini generateContent API. The model
// is part of the path and the key travels as a query parameter.
type geminiDialect struct{}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

func (geminiDialect) endpoint(req *Request) string {
	base := req.Provider.Endpoint
	if strings.Contains(base, "%s") {
		base = fmt.Sprintf(base, req.ResolvedModel())
	}
	return base + "?key=" + url.QueryEscape(req.Key)
}

func (geminiDialect) headers(req *Request) map[string]string {
	return map[string]string{"Content-Type": "application/json"}
}

func (geminiDialect) body(req *Request) ([]byte, error) {
	payload := geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: req.Prompt}}}},
	}
	if req.MaxTokens > 0 || req.Temperature > 0 {
		payload.GenerationConfig = &geminiGenerationConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
		}
	}
	return json.Marshal(payload)
}

func (geminiDialect) parse(req *Request, raw []byte) (*Result, error) {
	var resp geminiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding generateContent response: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("generateContent response has no candidates")
	}

	res := &Result{
		Text:             resp.Candidates[0].Content.Parts[0].Text,
		Model:            req.ResolvedModel(),
		PromptTokens:     resp.UsageMetadata.PromptTokenCount,
		CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
	}
	if res.PromptTokens == 0 && res.CompletionTokens == 0 {
		res.PromptTokens = EstimateTokens(req.Prompt)
		res.CompletionTokens = EstimateTokens(res.Text)
		res.TokensEstimated = true
	}
	return res, nil
}
