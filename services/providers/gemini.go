package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ragforge/services"
)

const (
	geminiBaseURL           = "https://generativelanguage.googleapis.com/v1beta"
	geminiDefaultEmbedModel = "text-embedding-004"
	geminiDefaultChatModel  = "gemini-1.5-flash"
)

var geminiModelDimensions = map[string]int{
	"text-embedding-004": 768,
	"embedding-001":      768,
}

// GeminiProvider serves embeddings and completions through the Google
// Generative Language API. The key travels in the x-goog-api-key header.
type GeminiProvider struct {
	baseURL string
	client  *http.Client
}

func NewGeminiProvider(baseURL string) *GeminiProvider {
	if baseURL == "" {
		baseURL = geminiBaseURL
	}
	return &GeminiProvider{baseURL: baseURL, client: newHTTPClient()}
}

func geminiHeader(apiKey string) map[string]string {
	return map[string]string{"x-goog-api-key": apiKey}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiEmbedItem struct {
	Model   string        `json:"model"`
	Content geminiContent `json:"content"`
}

type geminiBatchEmbedRequest struct {
	Requests []geminiEmbedItem `json:"requests"`
}

type geminiBatchEmbedResponse struct {
	Embeddings []struct {
		Values []float32 `json:"values"`
	} `json:"embeddings"`
}

func (p *GeminiProvider) GenerateEmbeddings(ctx context.Context, model string, texts []string, apiKey string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := validateBatch("gemini", texts); err != nil {
		return nil, err
	}
	if model == "" {
		model = geminiDefaultEmbedModel
	}

	reqBody := geminiBatchEmbedRequest{Requests: make([]geminiEmbedItem, len(texts))}
	for i, text := range texts {
		reqBody.Requests[i] = geminiEmbedItem{
			Model:   "models/" + model,
			Content: geminiContent{Parts: []geminiPart{{Text: text}}},
		}
	}

	url := fmt.Sprintf("%s/models/%s:batchEmbedContents", p.baseURL, model)
	body, err := postJSON(ctx, p.client, "gemini", url, geminiHeader(apiKey), reqBody)
	if err != nil {
		return nil, err
	}

	var resp geminiBatchEmbedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse gemini embedding response: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		vectors[i] = e.Values
	}
	return vectors, nil
}

func (p *GeminiProvider) GetDimension(model string) (int, error) {
	if model == "" {
		model = geminiDefaultEmbedModel
	}
	dim, ok := geminiModelDimensions[model]
	if !ok {
		return 0, fmt.Errorf("unknown gemini embedding model %q", model)
	}
	return dim, nil
}

func (p *GeminiProvider) ValidateKey(ctx context.Context, apiKey string) error {
	_, err := p.ListModels(ctx, apiKey)
	return err
}

type geminiModelsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func (p *GeminiProvider) ListModels(ctx context.Context, apiKey string) ([]string, error) {
	body, err := getJSON(ctx, p.client, "gemini", p.baseURL+"/models", geminiHeader(apiKey))
	if err != nil {
		return nil, err
	}
	var resp geminiModelsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse gemini models response: %w", err)
	}
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, strings.TrimPrefix(m.Name, "models/"))
	}
	return names, nil
}

type geminiGenerateRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (p *GeminiProvider) Generate(ctx context.Context, model, prompt, apiKey string, cfg *services.GenerationConfig) (string, error) {
	if model == "" {
		model = geminiDefaultChatModel
	}

	reqBody := geminiGenerateRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
	}
	if cfg != nil {
		if cfg.SystemPrompt != "" {
			reqBody.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: cfg.SystemPrompt}}}
		}
		if cfg.Temperature > 0 || cfg.MaxTokens > 0 {
			reqBody.GenerationConfig = &geminiGenerationConfig{
				Temperature:     cfg.Temperature,
				MaxOutputTokens: cfg.MaxTokens,
			}
		}
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, model)
	body, err := postJSON(ctx, p.client, "gemini", url, geminiHeader(apiKey), reqBody)
	if err != nil {
		return "", err
	}

	var resp geminiGenerateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("failed to parse gemini completion response: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini returned no completion candidates")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}
