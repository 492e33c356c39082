package providers

import (
	"sort"
	"strings"

	"github.com/ragforge/services"
)

// Registry is the in-process ProviderRegistry. Lookups are case-insensitive;
// registration happens once at startup, so no locking is needed afterwards.
type Registry struct {
	embeddings map[string]services.EmbeddingProvider
	llms       map[string]services.LLMProvider
}

func NewRegistry() *Registry {
	return &Registry{
		embeddings: make(map[string]services.EmbeddingProvider),
		llms:       make(map[string]services.LLMProvider),
	}
}

// DefaultRegistry wires every supported vendor: openai and gemini for both
// capabilities, anthropic and openrouter for completions only. Query
// embeddings go through the LRU cache so repeated questions skip the
// provider round trip.
func DefaultRegistry(embeddingCacheSize int) (*Registry, error) {
	r := NewRegistry()

	openai := NewOpenAIProvider("")
	gemini := NewGeminiProvider("")

	cachedOpenAI, err := NewCachedEmbedder(openai, embeddingCacheSize)
	if err != nil {
		return nil, err
	}
	cachedGemini, err := NewCachedEmbedder(gemini, embeddingCacheSize)
	if err != nil {
		return nil, err
	}

	r.RegisterEmbedding("openai", cachedOpenAI)
	r.RegisterEmbedding("gemini", cachedGemini)
	r.RegisterLLM("openai", openai)
	r.RegisterLLM("gemini", gemini)
	r.RegisterLLM("anthropic", NewAnthropicProvider(""))
	r.RegisterLLM("openrouter", NewOpenRouterProvider(""))
	return r, nil
}

func (r *Registry) RegisterEmbedding(name string, p services.EmbeddingProvider) {
	r.embeddings[strings.ToLower(name)] = p
}

func (r *Registry) RegisterLLM(name string, p services.LLMProvider) {
	r.llms[strings.ToLower(name)] = p
}

func (r *Registry) Embedding(name string) (services.EmbeddingProvider, bool) {
	p, ok := r.embeddings[strings.ToLower(name)]
	return p, ok
}

func (r *Registry) LLM(name string) (services.LLMProvider, bool) {
	p, ok := r.llms[strings.ToLower(name)]
	return p, ok
}

// Names returns every registered provider name, deduplicated and sorted.
func (r *Registry) Names() []string {
	seen := make(map[string]bool, len(r.embeddings)+len(r.llms))
	for name := range r.embeddings {
		seen[name] = true
	}
	for name := range r.llms {
		seen[name] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
