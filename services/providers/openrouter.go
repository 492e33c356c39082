package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ragforge/services"
)

const (
	openrouterBaseURL          = "https://openrouter.ai/api/v1"
	openrouterDefaultChatModel = "openai/gpt-4o-mini"
)

// OpenRouterProvider serves chat completions through OpenRouter's
// OpenAI-compatible API, so it reuses the openai wire types.
type OpenRouterProvider struct {
	baseURL string
	client  *http.Client
}

func NewOpenRouterProvider(baseURL string) *OpenRouterProvider {
	if baseURL == "" {
		baseURL = openrouterBaseURL
	}
	return &OpenRouterProvider{baseURL: baseURL, client: newHTTPClient()}
}

func (p *OpenRouterProvider) Generate(ctx context.Context, model, prompt, apiKey string, cfg *services.GenerationConfig) (string, error) {
	if model == "" {
		model = openrouterDefaultChatModel
	}

	var messages []openaiChatMessage
	if cfg != nil && cfg.SystemPrompt != "" {
		messages = append(messages, openaiChatMessage{Role: "system", Content: cfg.SystemPrompt})
	}
	messages = append(messages, openaiChatMessage{Role: "user", Content: prompt})

	reqBody := openaiChatRequest{Model: model, Messages: messages}
	if cfg != nil {
		reqBody.Temperature = cfg.Temperature
		reqBody.MaxTokens = cfg.MaxTokens
	}

	body, err := postJSON(ctx, p.client, "openrouter", p.baseURL+"/chat/completions", bearerHeader(apiKey), reqBody)
	if err != nil {
		return "", err
	}

	var resp openaiChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse openrouter completion response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openrouter returned no completion choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *OpenRouterProvider) ValidateKey(ctx context.Context, apiKey string) error {
	_, err := p.ListModels(ctx, apiKey)
	return err
}

func (p *OpenRouterProvider) ListModels(ctx context.Context, apiKey string) ([]string, error) {
	body, err := getJSON(ctx, p.client, "openrouter", p.baseURL+"/models", bearerHeader(apiKey))
	if err != nil {
		return nil, err
	}
	var resp openaiModelsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse openrouter models response: %w", err)
	}
	names := make([]string, 0, len(resp.Data))
	for _, m := range resp.Data {
		names = append(names, m.ID)
	}
	return names, nil
}
