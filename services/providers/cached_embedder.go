package providers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ragforge/services"
)

const defaultEmbedCacheSize = 2048

// CachedEmbedder memoizes embedding vectors in an LRU keyed by model and
// text. Only the uncached texts travel to the wrapped provider; results come
// back in the caller's original order.
type CachedEmbedder struct {
	inner services.EmbeddingProvider
	cache *lru.Cache[string, []float32]
}

func NewCachedEmbedder(inner services.EmbeddingProvider, size int) (*CachedEmbedder, error) {
	if size <= 0 {
		size = defaultEmbedCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

func (c *CachedEmbedder) GenerateEmbeddings(ctx context.Context, model string, texts []string, apiKey string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	for i, text := range texts {
		if vec, ok := c.cache.Get(embedCacheKey(model, text)); ok {
			results[i] = vec
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return results, nil
	}

	fresh, err := c.inner.GenerateEmbeddings(ctx, model, missing, apiKey)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missing) {
		return nil, fmt.Errorf("provider returned %d embeddings for %d texts", len(fresh), len(missing))
	}

	for j, vec := range fresh {
		results[missingIdx[j]] = vec
		c.cache.Add(embedCacheKey(model, missing[j]), vec)
	}
	return results, nil
}

func (c *CachedEmbedder) ValidateKey(ctx context.Context, apiKey string) error {
	return c.inner.ValidateKey(ctx, apiKey)
}

func (c *CachedEmbedder) ListModels(ctx context.Context, apiKey string) ([]string, error) {
	return c.inner.ListModels(ctx, apiKey)
}

func (c *CachedEmbedder) GetDimension(model string) (int, error) {
	return c.inner.GetDimension(model)
}

func embedCacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}
