package models

import (
	"time"

	"github.com/google/uuid"
)

// ContentType tags a query or corpus with a broad content category that
// carries a threshold adjustment.
type ContentType string

// Content-type tags carrying threshold adjustments.
const (
	ContentTypeTechnical      ContentType = "technical"
	ContentTypeConversational ContentType = "conversational"
	ContentTypeCode           ContentType = "code"
	ContentTypeLegal          ContentType = "legal"
)

// ProviderThresholdConfig is a provider's similarity-threshold profile.
// RetryThresholds is ordered highest-first; a nil entry means "no threshold"
// (accept any score). Immutable after load.
type ProviderThresholdConfig struct {
	Provider         string     `json:"provider"`
	DefaultThreshold float64    `json:"default_threshold"`
	MinThreshold     float64    `json:"min_threshold"`
	MaxThreshold     float64    `json:"max_threshold"`
	AdjustmentStep   float64    `json:"adjustment_step"`
	RetryThresholds  []*float64 `json:"retry_thresholds"`
	// ContentTypeAdjustments maps a content tag to a delta scaled by the
	// provider's adjustment step.
	ContentTypeAdjustments map[string]float64 `json:"content_type_adjustments"`
	EmbeddingDimension     int                `json:"embedding_dimension,omitempty"`
	OptimalRangeLow        float64            `json:"optimal_range_low,omitempty"`
	OptimalRangeHigh       float64            `json:"optimal_range_high,omitempty"`
}

// ThresholdPerformanceLog is one append-only row per retrieval attempt.
type ThresholdPerformanceLog struct {
	ID               uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	BotID            uuid.UUID `json:"bot_id" gorm:"type:uuid;not null;index"`
	ThresholdUsed    *float64  `json:"threshold_used"`
	Provider         string    `json:"provider" gorm:"type:varchar(50);not null"`
	Model            string    `json:"model" gorm:"type:varchar(100)"`
	QueryLength      int       `json:"query_length"`
	QueryHash        string    `json:"query_hash" gorm:"type:varchar(64)"`
	ResultsFound     int       `json:"results_found"`
	MinScore         float64   `json:"min_score"`
	AvgScore         float64   `json:"avg_score"`
	MaxScore         float64   `json:"max_score"`
	ScoreStdDev      float64   `json:"score_std_dev"`
	ProcessingTime   float64   `json:"processing_time"`
	Success          bool      `json:"success"`
	AdjustmentReason string    `json:"adjustment_reason" gorm:"type:varchar(100)"`
	CreatedAt        time.Time `json:"created_at" gorm:"not null;default:now();index"`
}

func (ThresholdPerformanceLog) TableName() string {
	return "rag_engine.threshold_performance_logs"
}

// ThresholdRecommendation suggests replacing the current default threshold
// based on logged performance.
type ThresholdRecommendation struct {
	BotID                uuid.UUID `json:"bot_id"`
	Provider             string    `json:"provider"`
	CurrentThreshold     float64   `json:"current_threshold"`
	RecommendedThreshold float64   `json:"recommended_threshold"`
	Confidence           float64   `json:"confidence"`
	SampleCount          int       `json:"sample_count"`
	Reason               string    `json:"reason"`
	CreatedAt            time.Time `json:"created_at"`
}

// OptimizationSuggestion is advisory output from retrieval optimization.
type OptimizationSuggestion struct {
	Type     string `json:"type"` // threshold, corpus, provider
	Severity string `json:"severity"`
	Message  string `json:"message"`
}
