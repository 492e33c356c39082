package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ragforge/services"
)

const (
	anthropicBaseURL          = "https://api.anthropic.com/v1"
	anthropicDefaultChatModel = "claude-3-5-haiku-latest"
	anthropicAPIVersion       = "2023-06-01"
	anthropicDefaultMaxTokens = 1024
)

// AnthropicProvider serves chat completions through the Anthropic Messages
// API. Anthropic offers no embedding endpoint, so this adapter registers as
// an LLM provider only.
type AnthropicProvider struct {
	baseURL string
	client  *http.Client
}

func NewAnthropicProvider(baseURL string) *AnthropicProvider {
	if baseURL == "" {
		baseURL = anthropicBaseURL
	}
	return &AnthropicProvider{baseURL: baseURL, client: newHTTPClient()}
}

func anthropicHeader(apiKey string) map[string]string {
	return map[string]string{
		"x-api-key":         apiKey,
		"anthropic-version": anthropicAPIVersion,
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicMessagesRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature,omitempty"`
}

type anthropicMessagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (p *AnthropicProvider) Generate(ctx context.Context, model, prompt, apiKey string, cfg *services.GenerationConfig) (string, error) {
	if model == "" {
		model = anthropicDefaultChatModel
	}

	reqBody := anthropicMessagesRequest{
		Model:     model,
		MaxTokens: anthropicDefaultMaxTokens,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
	}
	if cfg != nil {
		if cfg.MaxTokens > 0 {
			reqBody.MaxTokens = cfg.MaxTokens
		}
		reqBody.System = cfg.SystemPrompt
		reqBody.Temperature = cfg.Temperature
	}

	body, err := postJSON(ctx, p.client, "anthropic", p.baseURL+"/messages", anthropicHeader(apiKey), reqBody)
	if err != nil {
		return "", err
	}

	var resp anthropicMessagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse anthropic completion response: %w", err)
	}
	for _, block := range resp.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("anthropic returned no text content")
}

func (p *AnthropicProvider) ValidateKey(ctx context.Context, apiKey string) error {
	_, err := p.ListModels(ctx, apiKey)
	return err
}

type anthropicModelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (p *AnthropicProvider) ListModels(ctx context.Context, apiKey string) ([]string, error) {
	body, err := getJSON(ctx, p.client, "anthropic", p.baseURL+"/models", anthropicHeader(apiKey))
	if err != nil {
		return nil, err
	}
	var resp anthropicModelsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse anthropic models response: %w", err)
	}
	names := make([]string, 0, len(resp.Data))
	for _, m := range resp.Data {
		names = append(names, m.ID)
	}
	return names, nil
}
