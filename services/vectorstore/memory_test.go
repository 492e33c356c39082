package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragforge/services"
)

func TestMemoryStore_CollectionLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	exists, err := store.CollectionExists(ctx, "bot_a")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.CreateCollection(ctx, "bot_a", 3))

	exists, err = store.CollectionExists(ctx, "bot_a")
	require.NoError(t, err)
	assert.True(t, exists)

	info, err := store.CollectionInfo(ctx, "bot_a")
	require.NoError(t, err)
	assert.Equal(t, 3, info.VectorSize)
	assert.Equal(t, int64(0), info.PointsCount)

	require.NoError(t, store.DeleteCollection(ctx, "bot_a"))
	exists, err = store.CollectionExists(ctx, "bot_a")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryStore_CreateCollection_Errors(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	assert.Error(t, store.CreateCollection(ctx, "bad", 0))
	assert.Error(t, store.CreateCollection(ctx, "bad", -5))

	require.NoError(t, store.CreateCollection(ctx, "dup", 4))
	assert.Error(t, store.CreateCollection(ctx, "dup", 4))
}

func TestMemoryStore_Upsert_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.CreateCollection(ctx, "bot_a", 3))

	err := store.Upsert(ctx, "bot_a", []services.VectorPoint{
		{ID: "p1", Vector: []float32{1, 0}},
	})
	assert.Error(t, err)

	err = store.Upsert(ctx, "missing", []services.VectorPoint{
		{ID: "p1", Vector: []float32{1, 0, 0}},
	})
	assert.Error(t, err)
}

func TestMemoryStore_Search_OrdersByCosineSimilarity(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.CreateCollection(ctx, "bot_a", 3))

	require.NoError(t, store.Upsert(ctx, "bot_a", []services.VectorPoint{
		{ID: "exact", Vector: []float32{1, 0, 0}, Payload: map[string]interface{}{"content": "exact"}},
		{ID: "near", Vector: []float32{1, 1, 0}},
		{ID: "orthogonal", Vector: []float32{0, 0, 1}},
	}))

	hits, err := store.Search(ctx, "bot_a", []float32{1, 0, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 3)

	assert.Equal(t, "exact", hits[0].ID)
	assert.Equal(t, "near", hits[1].ID)
	assert.Equal(t, "orthogonal", hits[2].ID)

	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.InDelta(t, 0.7071, hits[1].Score, 1e-3) // 1/sqrt(2)
	assert.InDelta(t, 0.0, hits[2].Score, 1e-6)
	assert.Equal(t, "exact", hits[0].Payload["content"])
}

func TestMemoryStore_Search_ThresholdFiltersLowScores(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.CreateCollection(ctx, "bot_a", 3))

	require.NoError(t, store.Upsert(ctx, "bot_a", []services.VectorPoint{
		{ID: "exact", Vector: []float32{1, 0, 0}},
		{ID: "near", Vector: []float32{1, 1, 0}},
		{ID: "orthogonal", Vector: []float32{0, 0, 1}},
	}))

	threshold := float32(0.9)
	hits, err := store.Search(ctx, "bot_a", []float32{1, 0, 0}, 10, &threshold)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "exact", hits[0].ID)
}

func TestMemoryStore_Search_TopKLimitsResults(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.CreateCollection(ctx, "bot_a", 2))

	points := []services.VectorPoint{
		{ID: "a", Vector: []float32{1, 0}},
		{ID: "b", Vector: []float32{1, 0.1}},
		{ID: "c", Vector: []float32{1, 0.2}},
		{ID: "d", Vector: []float32{0, 1}},
	}
	require.NoError(t, store.Upsert(ctx, "bot_a", points))

	hits, err := store.Search(ctx, "bot_a", []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.Equal(t, "b", hits[1].ID)

	_, err = store.Search(ctx, "missing", []float32{1, 0}, 2, nil)
	assert.Error(t, err)
}

func TestMemoryStore_Upsert_OverwritesByID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.CreateCollection(ctx, "bot_a", 2))

	require.NoError(t, store.Upsert(ctx, "bot_a", []services.VectorPoint{
		{ID: "p1", Vector: []float32{1, 0}},
	}))
	require.NoError(t, store.Upsert(ctx, "bot_a", []services.VectorPoint{
		{ID: "p1", Vector: []float32{0, 1}},
	}))

	info, err := store.CollectionInfo(ctx, "bot_a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.PointsCount)

	hits, err := store.Search(ctx, "bot_a", []float32{0, 1}, 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
}

func TestCosineSimilarity_EdgeCases(t *testing.T) {
	assert.Equal(t, float32(0), cosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}))
	assert.Equal(t, float32(0), cosineSimilarity(nil, nil))
	assert.Equal(t, float32(0), cosineSimilarity([]float32{0, 0}, []float32{1, 1}))
	assert.InDelta(t, -1.0, cosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-6)
}
