package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/ragforge/models"
)

// ThresholdService owns similarity-threshold policy per embedding provider:
// seed configurations, content-type adjustments, the retry cascade used when a
// search returns nothing, and data-driven recommendations mined from logged
// retrieval performance.
type ThresholdService interface {
	// GetProviderConfig returns the threshold configuration for a provider.
	// Unknown providers fall back to the openai configuration.
	GetProviderConfig(provider string) models.ProviderThresholdConfig

	// GetOptimalThreshold computes the starting threshold for a retrieval:
	// provider default, adjusted for content type, corpus size and average
	// document length, clamped to the provider's [min, max] range.
	GetOptimalThreshold(provider, model string, contentType models.ContentType, corpusSize int, avgDocLength float64) float64

	// GetRetryThresholds returns the descending cascade tried after empty
	// results. A non-nil initial threshold seeds a custom cascade stepping
	// down to the provider minimum; nil returns the provider's seed list.
	// A nil entry in the result means search without any score threshold.
	GetRetryThresholds(provider string, initial *float64) []*float64

	// LogPerformance records one retrieval attempt for later analysis.
	LogPerformance(ctx context.Context, entry models.ThresholdPerformanceLog) error

	// GetRecommendations mines the performance log for the bot's provider and
	// suggests threshold changes backed by at least ten samples inside the
	// window.
	GetRecommendations(ctx context.Context, botID uuid.UUID, provider, model string, days int) ([]models.ThresholdRecommendation, error)
}
