package models

import (
	"math"
	"time"
)

// CacheStrategy tunes admission and validation policy.
type CacheStrategy string

const (
	CacheStrategyAggressive   CacheStrategy = "AGGRESSIVE"
	CacheStrategyConservative CacheStrategy = "CONSERVATIVE"
	CacheStrategyAdaptive     CacheStrategy = "ADAPTIVE"
)

// InvalidationReason counts why entries were dropped.
type InvalidationReason string

const (
	InvalidationTTLExpired       InvalidationReason = "TTL_EXPIRED"
	InvalidationDocumentUpdated  InvalidationReason = "DOCUMENT_UPDATED"
	InvalidationBotConfigChanged InvalidationReason = "BOT_CONFIG_CHANGED"
	InvalidationContextDrift     InvalidationReason = "CONTEXT_DRIFT"
	InvalidationManualFlush      InvalidationReason = "MANUAL_FLUSH"
	InvalidationLowHitRate       InvalidationReason = "LOW_HIT_RATE"
	InvalidationMemoryPressure   InvalidationReason = "MEMORY_PRESSURE"
)

// AllInvalidationReasons enumerates the reason codes for stats reporting.
var AllInvalidationReasons = []InvalidationReason{
	InvalidationTTLExpired,
	InvalidationDocumentUpdated,
	InvalidationBotConfigChanged,
	InvalidationContextDrift,
	InvalidationManualFlush,
	InvalidationLowHitRate,
	InvalidationMemoryPressure,
}

// CacheContext is the stable request-context projection hashed into keys and
// tracked by the drift detector. ComplexityTier is complexity floored to one
// decimal so near-identical queries share entries.
type CacheContext struct {
	Intent         QueryIntent `json:"intent"`
	Domain         float64     `json:"domain"`
	ComplexityTier float64     `json:"complexity_tier"`
}

// NewCacheContext projects analyzer output onto the cache-key context.
func NewCacheContext(qc QueryCharacteristics) CacheContext {
	return CacheContext{
		Intent:         qc.Intent,
		Domain:         qc.DomainSpecificity,
		ComplexityTier: math.Floor(qc.ComplexityScore*10) / 10,
	}
}

// CacheEntry is the serialized query→response value stored in both tiers.
type CacheEntry struct {
	CacheKey        string                 `json:"cache_key"`
	Content         string                 `json:"content"`
	ModeUsed        HybridMode             `json:"mode_used"`
	SourcesUsed     []string               `json:"sources_used"`
	QueryHash       string                 `json:"query_hash"`
	ContextHash     string                 `json:"context_hash"`
	Context         CacheContext           `json:"context"`
	ConfidenceScore float64                `json:"confidence_score"`
	TTLSeconds      float64                `json:"ttl_seconds"`
	CreatedAt       time.Time              `json:"created_at"`
	LastAccessedAt  time.Time              `json:"last_accessed_at"`
	AccessCount     int64                  `json:"access_count"`
	NoCache         bool                   `json:"no_cache,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// Expired reports whether the entry is past its TTL. Entries at exactly the
// TTL boundary are expired.
func (e *CacheEntry) Expired(now time.Time) bool {
	return now.Sub(e.CreatedAt).Seconds() >= e.TTLSeconds
}

// Age returns seconds since creation, floored at a small positive value so
// score ratios stay finite.
func (e *CacheEntry) Age(now time.Time) float64 {
	age := now.Sub(e.CreatedAt).Seconds()
	if age < 1 {
		return 1
	}
	return age
}

// CacheStats is the observable cache state.
type CacheStats struct {
	LocalEntries       int                          `json:"local_entries"`
	LocalBytes         int64                        `json:"local_bytes"`
	Hits               int64                        `json:"hits"`
	Misses             int64                        `json:"misses"`
	Sets               int64                        `json:"sets"`
	Rejections         int64                        `json:"rejections"`
	Evictions          int64                        `json:"evictions"`
	HitRate            float64                      `json:"hit_rate"`
	Strategy           CacheStrategy                `json:"strategy"`
	InvalidationCounts map[InvalidationReason]int64 `json:"invalidation_counts"`
}
