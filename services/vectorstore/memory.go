package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/ragforge/services"
)

// MemoryStore is a process-local VectorStore with cosine scoring. It backs
// tests and single-node deployments that run without Qdrant.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

type memoryCollection struct {
	dimension int
	points    map[string]services.VectorPoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memoryCollection)}
}

func (s *MemoryStore) CollectionExists(_ context.Context, collection string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.collections[collection]
	return ok, nil
}

func (s *MemoryStore) CreateCollection(_ context.Context, collection string, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid dimension %d for collection %s", dimension, collection)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[collection]; ok {
		return fmt.Errorf("collection %s already exists", collection)
	}
	s.collections[collection] = &memoryCollection{
		dimension: dimension,
		points:    make(map[string]services.VectorPoint),
	}
	return nil
}

func (s *MemoryStore) DeleteCollection(_ context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, collection)
	return nil
}

func (s *MemoryStore) Upsert(_ context.Context, collection string, points []services.VectorPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[collection]
	if !ok {
		return fmt.Errorf("collection %s does not exist", collection)
	}
	for _, p := range points {
		if len(p.Vector) != c.dimension {
			return fmt.Errorf("vector dimension %d does not match collection %s (%d)",
				len(p.Vector), collection, c.dimension)
		}
		c.points[p.ID] = p
	}
	return nil
}

func (s *MemoryStore) Search(_ context.Context, collection string, vector []float32, topK int, scoreThreshold *float32) ([]services.SearchHit, error) {
	if topK <= 0 {
		topK = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[collection]
	if !ok {
		return nil, fmt.Errorf("collection %s does not exist", collection)
	}

	hits := make([]services.SearchHit, 0, len(c.points))
	for id, p := range c.points {
		score := cosineSimilarity(vector, p.Vector)
		if scoreThreshold != nil && score < *scoreThreshold {
			continue
		}
		hits = append(hits, services.SearchHit{ID: id, Score: score, Payload: p.Payload})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *MemoryStore) CollectionInfo(_ context.Context, collection string) (*services.CollectionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[collection]
	if !ok {
		return nil, fmt.Errorf("collection %s does not exist", collection)
	}
	return &services.CollectionInfo{
		VectorSize:  c.dimension,
		PointsCount: int64(len(c.points)),
	}, nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
