package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/ragforge/models"
)

// HybridService orchestrates one query end to end: analysis, mode routing,
// cache lookup, concurrent LLM + retrieval fan-out, blending, learning update
// and cache write.
type HybridService interface {
	AnswerQuery(ctx context.Context, req models.HybridQueryRequest) (*models.HybridResponse, error)
}

// QueryAnalyzer extracts routing characteristics from the raw query text and
// conversation history.
type QueryAnalyzer interface {
	Analyze(query string, history []models.ConversationTurn, profile *models.UserProfile) models.QueryCharacteristics
}

// ModeRouter picks a hybrid mode for the analyzed query and learns from how
// well each mode performs.
type ModeRouter interface {
	// Route applies the routing rules to the characteristics. documentCount
	// is the bot's corpus size; a zero-document corpus degrades document
	// modes to pure_llm at reduced confidence.
	Route(qc models.QueryCharacteristics, documentCount int) models.RoutingDecision

	// RecordPerformance feeds an observed per-mode performance score back
	// into the router's learned weights.
	RecordPerformance(mode models.HybridMode, performance float64)

	// Weights exposes the current learned weights, for status endpoints and
	// tests.
	Weights() map[models.HybridMode]float64
}

// ResponseBlender merges LLM output and retrieved chunks into the final answer
// using the strategy chosen for the decision.
type ResponseBlender interface {
	Blend(ctx context.Context, in models.BlendInput) (*models.BlendedResponse, error)
}

// ConversationStore persists per-bot conversation turns consumed by the
// analyzer on follow-up queries.
type ConversationStore interface {
	AppendTurn(ctx context.Context, botID uuid.UUID, userID uuid.UUID, turn models.ConversationTurn) error
	RecentTurns(ctx context.Context, botID uuid.UUID, userID uuid.UUID, limit int) ([]models.ConversationTurn, error)
}
