package providers

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder records every batch it receives and returns a vector
// derived from the text length, so cache hits are distinguishable.
type countingEmbedder struct {
	mu      sync.Mutex
	batches [][]string
	err     error
	short   bool
}

func (c *countingEmbedder) GenerateEmbeddings(ctx context.Context, model string, texts []string, apiKey string) ([][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, append([]string(nil), texts...))
	if c.err != nil {
		return nil, c.err
	}
	n := len(texts)
	if c.short {
		n--
	}
	out := make([][]float32, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, []float32{float32(len(texts[i])), float32(len(model))})
	}
	return out, nil
}

func (c *countingEmbedder) ValidateKey(ctx context.Context, apiKey string) error { return c.err }

func (c *countingEmbedder) ListModels(ctx context.Context, apiKey string) ([]string, error) {
	return []string{"counting-model"}, c.err
}

func (c *countingEmbedder) GetDimension(model string) (int, error) { return 2, nil }

func TestCachedEmbedder_SecondCallSkipsProvider(t *testing.T) {
	inner := &countingEmbedder{}
	cached, err := NewCachedEmbedder(inner, 16)
	require.NoError(t, err)

	ctx := context.Background()
	first, err := cached.GenerateEmbeddings(ctx, "m1", []string{"alpha", "beta"}, "key")
	require.NoError(t, err)
	require.Len(t, inner.batches, 1)

	second, err := cached.GenerateEmbeddings(ctx, "m1", []string{"alpha", "beta"}, "key")
	require.NoError(t, err)
	assert.Len(t, inner.batches, 1, "cached call must not reach the provider")
	assert.Equal(t, first, second)
}

func TestCachedEmbedder_PartialHitSendsOnlyMisses(t *testing.T) {
	inner := &countingEmbedder{}
	cached, err := NewCachedEmbedder(inner, 16)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = cached.GenerateEmbeddings(ctx, "m1", []string{"alpha"}, "key")
	require.NoError(t, err)

	vectors, err := cached.GenerateEmbeddings(ctx, "m1", []string{"alpha", "beta", "gamma"}, "key")
	require.NoError(t, err)
	require.Len(t, vectors, 3)

	require.Len(t, inner.batches, 2)
	assert.Equal(t, []string{"beta", "gamma"}, inner.batches[1])

	// Positions still follow the caller's order.
	assert.Equal(t, []float32{5, 2}, vectors[0]) // len("alpha"), len("m1")
	assert.Equal(t, []float32{4, 2}, vectors[1])
	assert.Equal(t, []float32{5, 2}, vectors[2])
}

func TestCachedEmbedder_ModelScopesCacheEntries(t *testing.T) {
	inner := &countingEmbedder{}
	cached, err := NewCachedEmbedder(inner, 16)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = cached.GenerateEmbeddings(ctx, "m1", []string{"alpha"}, "key")
	require.NoError(t, err)
	_, err = cached.GenerateEmbeddings(ctx, "m2", []string{"alpha"}, "key")
	require.NoError(t, err)

	assert.Len(t, inner.batches, 2, "same text under another model is a miss")
}

func TestCachedEmbedder_EvictionRefetches(t *testing.T) {
	inner := &countingEmbedder{}
	cached, err := NewCachedEmbedder(inner, 1)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = cached.GenerateEmbeddings(ctx, "m1", []string{"alpha"}, "key")
	require.NoError(t, err)
	_, err = cached.GenerateEmbeddings(ctx, "m1", []string{"beta"}, "key")
	require.NoError(t, err)

	// alpha was evicted by beta in the size-1 cache.
	_, err = cached.GenerateEmbeddings(ctx, "m1", []string{"alpha"}, "key")
	require.NoError(t, err)
	assert.Len(t, inner.batches, 3)
}

func TestCachedEmbedder_ProviderErrorPropagates(t *testing.T) {
	inner := &countingEmbedder{err: fmt.Errorf("provider down")}
	cached, err := NewCachedEmbedder(inner, 16)
	require.NoError(t, err)

	_, err = cached.GenerateEmbeddings(context.Background(), "m1", []string{"alpha"}, "key")
	assert.EqualError(t, err, "provider down")
}

func TestCachedEmbedder_CountMismatchRejected(t *testing.T) {
	inner := &countingEmbedder{short: true}
	cached, err := NewCachedEmbedder(inner, 16)
	require.NoError(t, err)

	_, err = cached.GenerateEmbeddings(context.Background(), "m1", []string{"alpha", "beta"}, "key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "returned 1 embeddings for 2 texts")
}

func TestCachedEmbedder_DelegatesNonEmbeddingCalls(t *testing.T) {
	inner := &countingEmbedder{}
	cached, err := NewCachedEmbedder(inner, 0) // zero size falls back to the default
	require.NoError(t, err)

	require.NoError(t, cached.ValidateKey(context.Background(), "key"))

	names, err := cached.ListModels(context.Background(), "key")
	require.NoError(t, err)
	assert.Equal(t, []string{"counting-model"}, names)

	dim, err := cached.GetDimension("any")
	require.NoError(t, err)
	assert.Equal(t, 2, dim)
}
