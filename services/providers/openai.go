package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ragforge/services"
)

const (
	openaiBaseURL           = "https://api.openai.com/v1"
	openaiDefaultEmbedModel = "text-embedding-3-small"
	openaiDefaultChatModel  = "gpt-4o-mini"
)

var openaiModelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIProvider serves both embeddings and chat completions through the
// OpenAI REST API. Keys are passed per call; the client itself is stateless
// and safe for concurrent use.
type OpenAIProvider struct {
	baseURL string
	client  *http.Client
}

// NewOpenAIProvider builds a client against the given base URL, which is
// left empty outside of tests.
func NewOpenAIProvider(baseURL string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = openaiBaseURL
	}
	return &OpenAIProvider{baseURL: baseURL, client: newHTTPClient()}
}

type openaiEmbeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type openaiEmbeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (p *OpenAIProvider) GenerateEmbeddings(ctx context.Context, model string, texts []string, apiKey string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := validateBatch("openai", texts); err != nil {
		return nil, err
	}
	if model == "" {
		model = openaiDefaultEmbedModel
	}

	body, err := postJSON(ctx, p.client, "openai", p.baseURL+"/embeddings", bearerHeader(apiKey),
		openaiEmbeddingRequest{Input: texts, Model: model})
	if err != nil {
		return nil, err
	}

	var resp openaiEmbeddingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse openai embedding response: %w", err)
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(vectors) {
			vectors[d.Index] = d.Embedding
		}
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("openai returned no embedding for input %d", i)
		}
	}
	return vectors, nil
}

func (p *OpenAIProvider) GetDimension(model string) (int, error) {
	if model == "" {
		model = openaiDefaultEmbedModel
	}
	dim, ok := openaiModelDimensions[model]
	if !ok {
		return 0, fmt.Errorf("unknown openai embedding model %q", model)
	}
	return dim, nil
}

func (p *OpenAIProvider) ValidateKey(ctx context.Context, apiKey string) error {
	_, err := p.ListModels(ctx, apiKey)
	return err
}

type openaiModelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (p *OpenAIProvider) ListModels(ctx context.Context, apiKey string) ([]string, error) {
	body, err := getJSON(ctx, p.client, "openai", p.baseURL+"/models", bearerHeader(apiKey))
	if err != nil {
		return nil, err
	}
	var resp openaiModelsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse openai models response: %w", err)
	}
	names := make([]string, 0, len(resp.Data))
	for _, m := range resp.Data {
		names = append(names, m.ID)
	}
	return names, nil
}

type openaiChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiChatRequest struct {
	Model       string              `json:"model"`
	Messages    []openaiChatMessage `json:"messages"`
	Temperature float64             `json:"temperature,omitempty"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
}

type openaiChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (p *OpenAIProvider) Generate(ctx context.Context, model, prompt, apiKey string, cfg *services.GenerationConfig) (string, error) {
	if model == "" {
		model = openaiDefaultChatModel
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

	body, err := postJSON(ctx, p.client, "openai", p.baseURL+"/chat/completions", bearerHeader(apiKey), reqBody)
	if err != nil {
		return "", err
	}

	var resp openaiChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse openai completion response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no completion choices")
	}
	return resp.Choices[0].Message.Content, nil
}
