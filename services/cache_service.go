package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/ragforge/models"
)

// ContextCache is the two-tier response cache in front of the orchestrator.
// Reads validate freshness and context drift before returning a hit; writes
// compute an adaptive TTL from the routing decision and query shape.
type ContextCache interface {
	// Get returns the cached response for the query if it is still valid for
	// the current context, or nil on a miss. Stale or drifted entries are
	// invalidated on the way out.
	Get(ctx context.Context, botID, userID uuid.UUID, query string, qc models.QueryCharacteristics) (*models.HybridResponse, bool)

	// Set stores a response unless the don't-cache rules reject it. Policy
	// rejections are not errors; they are counted in Stats.
	Set(ctx context.Context, botID, userID uuid.UUID, query string, resp *models.HybridResponse, decision models.RoutingDecision, qc models.QueryCharacteristics) error

	// InvalidateBot drops every entry for the bot from both tiers and returns
	// how many entries were removed.
	InvalidateBot(ctx context.Context, botID uuid.UUID, reason models.InvalidationReason) (int, error)

	// InvalidateDocument invalidates entries derived from one document. The
	// cache does not track chunk provenance, so this degrades to bot-wide
	// invalidation.
	InvalidateDocument(ctx context.Context, botID uuid.UUID, documentID uuid.UUID) (int, error)

	// Stats returns hit/miss/eviction counters and current sizing.
	Stats() models.CacheStats

	// Close stops the background maintenance task.
	Close() error
}
