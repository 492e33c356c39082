package services

import "context"

// EmbeddingProvider generates embeddings through one vendor's API. Batches
// are capped at 100 texts per call; larger inputs must be split by the caller.
type EmbeddingProvider interface {
	GenerateEmbeddings(ctx context.Context, model string, texts []string, apiKey string) ([][]float32, error)
	ValidateKey(ctx context.Context, apiKey string) error
	ListModels(ctx context.Context, apiKey string) ([]string, error)
	GetDimension(model string) (int, error)
}

// GenerationConfig tunes one LLM completion call.
type GenerationConfig struct {
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
}

// LLMProvider generates completions through one vendor's API.
type LLMProvider interface {
	Generate(ctx context.Context, model, prompt, apiKey string, cfg *GenerationConfig) (string, error)
	ValidateKey(ctx context.Context, apiKey string) error
	ListModels(ctx context.Context, apiKey string) ([]string, error)
}

// ProviderRegistry looks up provider adapters by name (openai, gemini,
// anthropic, openrouter).
type ProviderRegistry interface {
	Embedding(name string) (EmbeddingProvider, bool)
	LLM(name string) (LLMProvider, bool)
	Names() []string
}
