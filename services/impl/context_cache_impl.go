package impl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ragforge/config"
	"github.com/ragforge/models"
	"github.com/ragforge/services"
)

const (
	cacheKeyPrefix = "hybrid_cache"

	minTTLSeconds = 300.0
	maxTTLSeconds = 86400.0

	driftRejectThreshold = 0.3
	driftHistorySize     = 10

	adaptiveMinHitRate  = 0.001
	adaptiveMinAccesses = 5

	minCacheConfidence        = 0.3
	minConversationalDepth    = 2
	conservativeMinConfidence = 0.7
	conservativeMaxTemporal   = 0.5

	maintenanceInterval = 5 * time.Minute
	evictionFraction    = 0.20

	lowHitRateBound        = 0.3
	highHitRateBound       = 0.7
	minLookupsForTuning    = 20
	driftInvalidationLimit = 50
	ttlTuneFactor          = 0.8
	ttlTuneFloor           = 600.0

	maxKeyDepth = 5
)

type contextCacheImpl struct {
	mu    sync.Mutex
	local *lru.Cache[string, *models.CacheEntry]
	redis *redis.Client // nil when the distributed tier is disabled

	strategy       models.CacheStrategy
	baseTTL        float64
	maxMemoryBytes int64

	sizes      map[string]int64
	localBytes int64

	hits        int64
	misses      int64
	sets        int64
	rejections  int64
	evictions   int64
	driftWindow int64

	invalidations map[models.InvalidationReason]int64
	drift         *driftDetector

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once

	now func() time.Time
}

// NewContextCache creates the two-tier response cache. Pass a nil redis
// client to run local-only. The background maintenance task starts
// immediately; callers own Close.
func NewContextCache(cfg *config.EngineConfig, redisClient *redis.Client) (services.ContextCache, error) {
	maxEntries := 1000
	baseTTL := 3600.0
	maxMemoryMB := 512
	strategy := models.CacheStrategyAdaptive
	if cfg != nil {
		if cfg.CacheMaxEntries > 0 {
			maxEntries = cfg.CacheMaxEntries
		}
		if cfg.CacheBaseTTL > 0 {
			baseTTL = float64(cfg.CacheBaseTTL)
		}
		if cfg.CacheMaxMemoryMB > 0 {
			maxMemoryMB = cfg.CacheMaxMemoryMB
		}
		switch models.CacheStrategy(cfg.CacheStrategy) {
		case models.CacheStrategyAggressive, models.CacheStrategyConservative, models.CacheStrategyAdaptive:
			strategy = models.CacheStrategy(cfg.CacheStrategy)
		}
	}

	c := &contextCacheImpl{
		redis:          redisClient,
		strategy:       strategy,
		baseTTL:        baseTTL,
		maxMemoryBytes: int64(maxMemoryMB) * 1024 * 1024,
		sizes:          make(map[string]int64),
		invalidations:  make(map[models.InvalidationReason]int64),
		drift:          newDriftDetector(driftHistorySize),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
		now:            time.Now,
	}
	local, err := lru.NewWithEvict[string, *models.CacheEntry](maxEntries, c.onLocalEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create local cache tier: %w", err)
	}
	c.local = local

	go c.maintenanceLoop()
	return c, nil
}

func (c *contextCacheImpl) Get(ctx context.Context, botID, userID uuid.UUID, query string, qc models.QueryCharacteristics) (*models.HybridResponse, bool) {
	cctx := models.NewCacheContext(qc)
	key := cacheKeyFor(botID, userID, query, qc.ConversationDepth, cctx)

	c.mu.Lock()
	c.drift.Observe(cctx)
	entry, ok := c.local.Get(key)
	c.mu.Unlock()

	var promoteSize int64
	if !ok && c.redis != nil {
		data, err := c.redis.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var stored models.CacheEntry
			if jsonErr := json.Unmarshal(data, &stored); jsonErr == nil {
				entry = &stored
				promoteSize = int64(len(data))
				ok = true
			}
		case err != redis.Nil:
			log.Printf("[CACHE] redis get failed for %s: %v", key, err)
		}
	}
	if !ok {
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		return nil, false
	}

	now := c.now()
	c.mu.Lock()
	if reason, stale := c.validateLocked(entry, cctx, now); stale {
		c.removeLocked(key, reason)
		c.misses++
		c.mu.Unlock()
		if c.redis != nil {
			c.redis.Del(ctx, key)
		}
		log.Printf("[CACHE] invalidated %s on read: %s", key, reason)
		return nil, false
	}
	entry.AccessCount++
	entry.LastAccessedAt = now
	if promoteSize > 0 {
		c.storeLocalLocked(key, entry, promoteSize)
	}
	c.hits++
	c.mu.Unlock()

	return responseFromEntry(entry, now), true
}

func (c *contextCacheImpl) Set(ctx context.Context, botID, userID uuid.UUID, query string, resp *models.HybridResponse, decision models.RoutingDecision, qc models.QueryCharacteristics) error {
	if resp == nil {
		return models.NewValidationError("cannot cache a nil response")
	}
	cctx := models.NewCacheContext(qc)

	c.mu.Lock()
	reason, rejected := c.admissionRejectLocked(resp, qc)
	if rejected {
		c.rejections++
		c.mu.Unlock()
		log.Printf("[CACHE] not caching response for bot %s: %s", botID, reason)
		return nil
	}
	ttl := c.computeTTLLocked(resp, qc)
	c.mu.Unlock()

	key := cacheKeyFor(botID, userID, query, qc.ConversationDepth, cctx)
	now := c.now()
	entry := entryFromResponse(key, query, cctx, resp, ttl, now)
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to serialize cache entry: %w", err)
	}

	c.mu.Lock()
	c.storeLocalLocked(key, entry, int64(len(data)))
	c.drift.Observe(cctx)
	c.sets++
	c.mu.Unlock()

	if c.redis != nil {
		expiry := time.Duration(ttl * float64(time.Second))
		if err := c.redis.Set(ctx, key, data, expiry).Err(); err != nil {
			log.Printf("[CACHE] redis set failed for %s: %v", key, err)
		}
	}
	return nil
}

func (c *contextCacheImpl) InvalidateBot(ctx context.Context, botID uuid.UUID, reason models.InvalidationReason) (int, error) {
	prefix := fmt.Sprintf("%s:%s:", cacheKeyPrefix, botID)

	c.mu.Lock()
	removed := 0
	for _, key := range c.local.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.local.Remove(key)
			removed++
		}
	}
	c.countInvalidationsLocked(reason, int64(removed))
	c.mu.Unlock()

	if c.redis == nil {
		return removed, nil
	}
	deleted, err := c.deleteByPattern(ctx, prefix+"*")
	if err != nil {
		return removed, fmt.Errorf("failed to invalidate distributed tier: %w", err)
	}
	// Both tiers usually hold the same keys; report whichever saw more so the
	// caller learns how many distinct entries existed.
	if deleted > removed {
		c.mu.Lock()
		c.countInvalidationsLocked(reason, int64(deleted-removed))
		c.mu.Unlock()
		removed = deleted
	}
	return removed, nil
}

func (c *contextCacheImpl) InvalidateDocument(ctx context.Context, botID uuid.UUID, documentID uuid.UUID) (int, error) {
	// Entries do not record which chunks produced them, so document-level
	// invalidation falls back to clearing the bot.
	log.Printf("[CACHE] document %s invalidation degrades to bot-wide flush for bot %s", documentID, botID)
	return c.InvalidateBot(ctx, botID, models.InvalidationDocumentUpdated)
}

func (c *contextCacheImpl) Stats() models.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	lookups := c.hits + c.misses
	hitRate := 0.0
	if lookups > 0 {
		hitRate = float64(c.hits) / float64(lookups)
	}
	counts := make(map[models.InvalidationReason]int64, len(c.invalidations))
	for reason, n := range c.invalidations {
		counts[reason] = n
	}
	return models.CacheStats{
		LocalEntries:       c.local.Len(),
		LocalBytes:         c.localBytes,
		Hits:               c.hits,
		Misses:             c.misses,
		Sets:               c.sets,
		Rejections:         c.rejections,
		Evictions:          c.evictions,
		HitRate:            hitRate,
		Strategy:           c.strategy,
		InvalidationCounts: counts,
	}
}

func (c *contextCacheImpl) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopCh)
		<-c.doneCh
	})
	return nil
}

// admissionRejectLocked applies the don't-cache rules. Caller holds mu.
func (c *contextCacheImpl) admissionRejectLocked(resp *models.HybridResponse, qc models.QueryCharacteristics) (string, bool) {
	if resp.ConfidenceScore < minCacheConfidence {
		return fmt.Sprintf("confidence %.2f below cache floor", resp.ConfidenceScore), true
	}
	if qc.Intent == models.IntentConversational && qc.ConversationDepth < minConversationalDepth {
		return "shallow conversational exchange", true
	}
	if noCache, ok := resp.Metadata["no_cache"].(bool); ok && noCache {
		return "response marked no_cache", true
	}
	if c.strategy == models.CacheStrategyConservative {
		if resp.ConfidenceScore < conservativeMinConfidence {
			return fmt.Sprintf("conservative strategy rejects confidence %.2f", resp.ConfidenceScore), true
		}
		if qc.TemporalRelevance > conservativeMaxTemporal {
			return fmt.Sprintf("conservative strategy rejects temporal relevance %.2f", qc.TemporalRelevance), true
		}
	}
	return "", false
}

// computeTTLLocked derives the adaptive TTL in seconds. Caller holds mu.
func (c *contextCacheImpl) computeTTLLocked(resp *models.HybridResponse, qc models.QueryCharacteristics) float64 {
	ttl := c.baseTTL
	switch {
	case qc.TemporalRelevance > 0.7:
		ttl *= 0.25
	case qc.TemporalRelevance > 0.4:
		ttl *= 0.5
	}
	switch {
	case resp.ConfidenceScore > 0.9:
		ttl *= 1.5
	case resp.ConfidenceScore < 0.5:
		ttl *= 0.5
	}
	ttl *= contentTypeTTLMultiplier(qc.Intent)
	if ttl < minTTLSeconds {
		return minTTLSeconds
	}
	if ttl > maxTTLSeconds {
		return maxTTLSeconds
	}
	return ttl
}

func contentTypeTTLMultiplier(intent models.QueryIntent) float64 {
	switch intent {
	case models.IntentFactualLookup:
		return 2.0
	case models.IntentConversational:
		return 0.3
	case models.IntentAnalyticalReasoning:
		return 1.0
	case models.IntentCreativeGeneration:
		return 0.5
	default:
		return 1.0
	}
}

// validateLocked checks a candidate hit for staleness. Caller holds mu.
func (c *contextCacheImpl) validateLocked(entry *models.CacheEntry, cctx models.CacheContext, now time.Time) (models.InvalidationReason, bool) {
	if entry.Expired(now) {
		return models.InvalidationTTLExpired, true
	}
	if score := c.drift.Score(cctx, entry.Context); score > driftRejectThreshold {
		return models.InvalidationContextDrift, true
	}
	if c.strategy == models.CacheStrategyAdaptive {
		rate := float64(entry.AccessCount) / entry.Age(now)
		if rate < adaptiveMinHitRate && entry.AccessCount > adaptiveMinAccesses {
			return models.InvalidationLowHitRate, true
		}
	}
	return "", false
}

// storeLocalLocked inserts into the local tier with byte accounting. Caller
// holds mu.
func (c *contextCacheImpl) storeLocalLocked(key string, entry *models.CacheEntry, size int64) {
	if _, exists := c.local.Peek(key); exists {
		c.local.Remove(key)
	}
	c.sizes[key] = size
	c.localBytes += size
	if evicted := c.local.Add(key, entry); evicted {
		c.evictions++
		c.invalidations[models.InvalidationMemoryPressure]++
	}
}

// removeLocked drops one local entry and counts the reason. Caller holds mu.
func (c *contextCacheImpl) removeLocked(key string, reason models.InvalidationReason) {
	c.local.Remove(key)
	c.countInvalidationsLocked(reason, 1)
}

func (c *contextCacheImpl) countInvalidationsLocked(reason models.InvalidationReason, n int64) {
	if n <= 0 {
		return
	}
	c.invalidations[reason] += n
	if reason == models.InvalidationContextDrift {
		c.driftWindow += n
	}
}

// onLocalEvict keeps byte accounting in step with the LRU. It runs
// synchronously inside Add/Remove/Purge, which are always called under mu.
func (c *contextCacheImpl) onLocalEvict(key string, _ *models.CacheEntry) {
	c.localBytes -= c.sizes[key]
	delete(c.sizes, key)
}

func (c *contextCacheImpl) deleteByPattern(ctx context.Context, pattern string) (int, error) {
	var cursor uint64
	deleted := 0
	for {
		keys, next, err := c.redis.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			if err := c.redis.Del(ctx, keys...).Err(); err != nil {
				return deleted, err
			}
			deleted += len(keys)
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

func (c *contextCacheImpl) maintenanceLoop() {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	defer close(c.doneCh)
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.runMaintenance()
		}
	}
}

func (c *contextCacheImpl) runMaintenance() {
	now := c.now()
	c.mu.Lock()
	c.evictUnderPressureLocked(now)
	c.tuneStrategyLocked()
	trend := c.drift.Trend()
	c.mu.Unlock()

	if trend > driftRejectThreshold {
		log.Printf("[CACHE] elevated context drift trend %.2f across recent requests", trend)
	}
}

// evictUnderPressureLocked drops the coldest fifth of entries, ranked by
// access rate, when serialized bytes exceed the cap. Caller holds mu.
func (c *contextCacheImpl) evictUnderPressureLocked(now time.Time) {
	if c.maxMemoryBytes <= 0 || c.localBytes <= c.maxMemoryBytes {
		return
	}
	type rankedEntry struct {
		key   string
		score float64
	}
	keys := c.local.Keys()
	ranked := make([]rankedEntry, 0, len(keys))
	for _, key := range keys {
		entry, ok := c.local.Peek(key)
		if !ok {
			continue
		}
		ranked = append(ranked, rankedEntry{key: key, score: float64(entry.AccessCount) / entry.Age(now)})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score < ranked[j].score })

	target := int(math.Ceil(float64(len(ranked)) * evictionFraction))
	for i := 0; i < target && i < len(ranked); i++ {
		c.local.Remove(ranked[i].key)
		c.evictions++
		c.invalidations[models.InvalidationMemoryPressure]++
	}
	if target > 0 {
		log.Printf("[CACHE] memory pressure evicted %d entries, %d bytes cached locally", target, c.localBytes)
	}
}

// tuneStrategyLocked adjusts strategy and base TTL from observed hit rates
// and drift churn. Caller holds mu.
func (c *contextCacheImpl) tuneStrategyLocked() {
	lookups := c.hits + c.misses
	if lookups >= minLookupsForTuning {
		rate := float64(c.hits) / float64(lookups)
		switch {
		case rate < lowHitRateBound && c.strategy != models.CacheStrategyConservative:
			c.strategy = models.CacheStrategyConservative
			log.Printf("[CACHE] hit rate %.2f, switching strategy to CONSERVATIVE", rate)
		case rate > highHitRateBound && c.strategy != models.CacheStrategyAggressive:
			c.strategy = models.CacheStrategyAggressive
			log.Printf("[CACHE] hit rate %.2f, switching strategy to AGGRESSIVE", rate)
		}
	}
	if c.driftWindow > driftInvalidationLimit {
		c.baseTTL = math.Max(c.baseTTL*ttlTuneFactor, ttlTuneFloor)
		log.Printf("[CACHE] %d drift invalidations this window, base ttl lowered to %.0fs", c.driftWindow, c.baseTTL)
	}
	c.driftWindow = 0
}

// cacheKeyFor builds the deterministic two-part key. json.Marshal sorts map
// keys, so the digest is stable for identical inputs.
func cacheKeyFor(botID, userID uuid.UUID, query string, depth int, cctx models.CacheContext) string {
	if depth > maxKeyDepth {
		depth = maxKeyDepth
	}
	payload := map[string]interface{}{
		"query_normalized": normalizeQuery(query),
		"bot_id":           botID.String(),
		"user_id":          userID.String(),
		"depth":            depth,
		"context": map[string]interface{}{
			"intent":          string(cctx.Intent),
			"domain":          cctx.Domain,
			"complexity_tier": cctx.ComplexityTier,
		},
	}
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("%s:%s:%s", cacheKeyPrefix, botID, hex.EncodeToString(sum[:])[:16])
}

func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

func hashContext(cctx models.CacheContext) string {
	raw, _ := json.Marshal(cctx)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:16]
}

func entryFromResponse(key, query string, cctx models.CacheContext, resp *models.HybridResponse, ttl float64, now time.Time) *models.CacheEntry {
	return &models.CacheEntry{
		CacheKey:        key,
		Content:         resp.Content,
		ModeUsed:        resp.ModeUsed,
		SourcesUsed:     resp.SourcesUsed,
		QueryHash:       hashQuery(normalizeQuery(query)),
		ContextHash:     hashContext(cctx),
		Context:         cctx,
		ConfidenceScore: resp.ConfidenceScore,
		TTLSeconds:      ttl,
		CreatedAt:       now,
		LastAccessedAt:  now,
		Metadata: map[string]interface{}{
			"information_density":   string(resp.InformationDensity),
			"document_contribution": resp.DocumentContribution,
			"llm_contribution":      resp.LLMContribution,
		},
	}
}

func responseFromEntry(entry *models.CacheEntry, now time.Time) *models.HybridResponse {
	resp := &models.HybridResponse{
		Content:         entry.Content,
		ModeUsed:        entry.ModeUsed,
		SourcesUsed:     entry.SourcesUsed,
		ConfidenceScore: entry.ConfidenceScore,
		CreatedAt:       entry.CreatedAt,
		Metadata: map[string]interface{}{
			"cache_hit":         true,
			"cache_age_seconds": now.Sub(entry.CreatedAt).Seconds(),
		},
	}
	if v, ok := entry.Metadata["information_density"].(string); ok {
		resp.InformationDensity = models.InformationDensity(v)
	}
	if v, ok := entry.Metadata["document_contribution"].(float64); ok {
		resp.DocumentContribution = v
	}
	if v, ok := entry.Metadata["llm_contribution"].(float64); ok {
		resp.LLMContribution = v
	}
	return resp
}

// driftDetector scores how far a request context sits from a cached one and
// keeps a short history of observed contexts for trend reporting.
type driftDetector struct {
	history []models.CacheContext
	limit   int
}

func newDriftDetector(limit int) *driftDetector {
	return &driftDetector{limit: limit}
}

func (d *driftDetector) Observe(cctx models.CacheContext) {
	d.history = append(d.history, cctx)
	if len(d.history) > d.limit {
		d.history = d.history[len(d.history)-d.limit:]
	}
}

// Score is the mean of per-field normalized differences: categorical fields
// contribute 1 on mismatch, numeric fields |a-b|/max(|a|,|b|,1).
func (d *driftDetector) Score(current, cached models.CacheContext) float64 {
	total := 0.0
	if current.Intent != cached.Intent {
		total++
	}
	total += normalizedDiff(current.Domain, cached.Domain)
	total += normalizedDiff(current.ComplexityTier, cached.ComplexityTier)
	return total / 3
}

// Trend is the mean drift between successive observed contexts.
func (d *driftDetector) Trend() float64 {
	if len(d.history) < 2 {
		return 0
	}
	total := 0.0
	for i := 1; i < len(d.history); i++ {
		total += d.Score(d.history[i], d.history[i-1])
	}
	return total / float64(len(d.history)-1)
}

func normalizedDiff(a, b float64) float64 {
	denom := math.Max(math.Abs(a), math.Max(math.Abs(b), 1))
	return math.Abs(a-b) / denom
}
