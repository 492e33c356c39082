package services

import "context"

// VectorPoint is one vector plus payload for upsert.
type VectorPoint struct {
	ID      string                 `json:"id"`
	Vector  []float32              `json:"vector"`
	Payload map[string]interface{} `json:"payload"`
}

// SearchHit is one scored result from a similarity search.
type SearchHit struct {
	ID      string                 `json:"id"`
	Score   float32                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

// CollectionInfo describes a collection's configuration and size.
type CollectionInfo struct {
	VectorSize  int   `json:"vector_size"`
	PointsCount int64 `json:"points_count"`
}

// VectorStore abstracts the vector database holding per-bot collections.
type VectorStore interface {
	CollectionExists(ctx context.Context, collection string) (bool, error)
	CreateCollection(ctx context.Context, collection string, dimension int) error
	DeleteCollection(ctx context.Context, collection string) error
	Upsert(ctx context.Context, collection string, points []VectorPoint) error
	// Search returns hits ordered by score descending. A nil scoreThreshold
	// searches without a cutoff.
	Search(ctx context.Context, collection string, vector []float32, topK int, scoreThreshold *float32) ([]SearchHit, error)
	CollectionInfo(ctx context.Context, collection string) (*CollectionInfo, error)
}
