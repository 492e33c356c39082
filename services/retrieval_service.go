package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/ragforge/models"
)

// RetrievalService performs adaptive similarity search over a bot's vector
// collection, cascading through progressively looser thresholds until results
// appear.
type RetrievalService interface {
	// RetrieveRelevantChunks runs the threshold cascade against the bot's
	// collection. The embedding's dimension must match the bot's collection.
	// A non-nil customThreshold seeds the cascade; otherwise the provider's
	// default sequence is used. An exhausted cascade is not an error: the
	// result carries Success=true with zero chunks and the thresholds tried.
	RetrieveRelevantChunks(ctx context.Context, botID uuid.UUID, queryEmbedding []float32, rctx models.RetrievalContext, customThreshold *float64, maxChunks int) (*models.RetrievalResult, error)

	// OptimizeRetrieval reports tuning suggestions for a bot: threshold
	// recommendations from logged performance plus corpus-shape hints.
	OptimizeRetrieval(ctx context.Context, botID uuid.UUID, days int) ([]models.OptimizationSuggestion, error)
}
