package impl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/ragforge/models"
	"github.com/ragforge/services"
)

const (
	smallCorpusDocuments  = 5
	geminiAdvisoryCeiling = 0.05
)

type retrievalServiceImpl struct {
	bots        services.BotStore
	collections services.CollectionStore
	documents   services.DocumentStore
	chunks      services.ChunkStore
	thresholds  services.ThresholdService
	store       services.VectorStore
}

// NewRetrievalService creates a retrieval service that cascades through
// similarity thresholds until the vector store returns results.
func NewRetrievalService(
	bots services.BotStore,
	collections services.CollectionStore,
	documents services.DocumentStore,
	chunks services.ChunkStore,
	thresholds services.ThresholdService,
	store services.VectorStore,
) services.RetrievalService {
	return &retrievalServiceImpl{
		bots:        bots,
		collections: collections,
		documents:   documents,
		chunks:      chunks,
		thresholds:  thresholds,
		store:       store,
	}
}

func (s *retrievalServiceImpl) RetrieveRelevantChunks(ctx context.Context, botID uuid.UUID, queryEmbedding []float32, rctx models.RetrievalContext, customThreshold *float64, maxChunks int) (*models.RetrievalResult, error) {
	start := time.Now()

	if maxChunks < 1 {
		return nil, models.NewValidationError("max_chunks must be at least 1")
	}
	if len(queryEmbedding) == 0 {
		return nil, models.NewValidationError("query embedding is empty")
	}

	if _, err := s.bots.GetBot(ctx, botID); err != nil {
		return nil, err
	}

	meta, err := s.collections.GetCollectionMeta(ctx, botID)
	if err != nil {
		if models.IsNotFound(err) {
			// No collection means nothing has been indexed yet. That is an
			// empty corpus, not a failure.
			return &models.RetrievalResult{
				Success:        true,
				Chunks:         []models.RetrievedChunk{},
				ProcessingTime: time.Since(start).Seconds(),
				Metadata:       map[string]interface{}{"reason": "no_collection"},
			}, nil
		}
		return nil, fmt.Errorf("failed to load collection metadata: %w", err)
	}

	if len(queryEmbedding) != meta.EmbeddingDimension {
		return nil, models.NewValidationError(fmt.Sprintf(
			"query embedding dimension %d does not match collection dimension %d",
			len(queryEmbedding), meta.EmbeddingDimension))
	}

	sequence := s.thresholds.GetRetryThresholds(meta.EmbeddingProvider, customThreshold)
	if len(sequence) == 0 {
		sequence = []*float64{nil}
	}

	var (
		tried      []*float64
		lastErr    error
		errorCount int
	)
	for attempt, threshold := range sequence {
		select {
		case <-ctx.Done():
			return nil, models.NewTimeoutError("retrieval cancelled", ctx.Err())
		default:
		}

		attemptStart := time.Now()
		hits, searchErr := s.store.Search(ctx, meta.CollectionName, queryEmbedding, maxChunks, toScoreThreshold(threshold))
		attemptTime := time.Since(attemptStart).Seconds()
		tried = append(tried, threshold)

		reason := "initial_threshold"
		if attempt > 0 {
			reason = "no_results_found"
		}

		if searchErr != nil {
			errorCount++
			lastErr = searchErr
			log.Printf("[RETRIEVAL] search failed for bot %s at threshold %s (attempt %d): %v",
				botID, formatThreshold(threshold), attempt+1, searchErr)
			s.logAttempt(ctx, botID, meta, rctx, threshold, nil, attemptTime, false, "search_error")
			continue
		}

		s.logAttempt(ctx, botID, meta, rctx, threshold, hits, attemptTime, len(hits) > 0, reason)

		if len(hits) > 0 {
			return &models.RetrievalResult{
				Success:         true,
				Chunks:          hitsToChunks(hits),
				ThresholdUsed:   threshold,
				ThresholdsTried: tried,
				FallbackUsed:    attempt > 0,
				AttemptsMade:    attempt + 1,
				ProcessingTime:  time.Since(start).Seconds(),
				Metadata: map[string]interface{}{
					"provider":         meta.EmbeddingProvider,
					"collection":       meta.CollectionName,
					"thresholds_tried": thresholdValues(tried),
				},
			}, nil
		}
	}

	if errorCount == len(sequence) {
		return nil, models.NewRetrievalError("vector search failed at every threshold", lastErr)
	}

	// The cascade found nothing at any threshold. The corpus genuinely has no
	// matching content, so report success with an empty chunk list.
	log.Printf("[RETRIEVAL] exhausted %d thresholds for bot %s without results", len(tried), botID)
	return &models.RetrievalResult{
		Success:         true,
		Chunks:          []models.RetrievedChunk{},
		ThresholdsTried: tried,
		FallbackUsed:    len(tried) > 1,
		AttemptsMade:    len(tried),
		ProcessingTime:  time.Since(start).Seconds(),
		Metadata: map[string]interface{}{
			"provider":         meta.EmbeddingProvider,
			"collection":       meta.CollectionName,
			"thresholds_tried": thresholdValues(tried),
		},
	}, nil
}

func (s *retrievalServiceImpl) OptimizeRetrieval(ctx context.Context, botID uuid.UUID, days int) ([]models.OptimizationSuggestion, error) {
	if _, err := s.bots.GetBot(ctx, botID); err != nil {
		return nil, err
	}

	meta, err := s.collections.GetCollectionMeta(ctx, botID)
	if err != nil {
		if models.IsNotFound(err) {
			return []models.OptimizationSuggestion{{
				Type:     "corpus",
				Severity: "warning",
				Message:  "bot has no vector collection; upload and process documents to enable retrieval",
			}}, nil
		}
		return nil, fmt.Errorf("failed to load collection metadata: %w", err)
	}

	suggestions := []models.OptimizationSuggestion{}

	docCount, err := s.documents.CountDocuments(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	switch {
	case docCount == 0:
		suggestions = append(suggestions, models.OptimizationSuggestion{
			Type:     "corpus",
			Severity: "warning",
			Message:  "bot has no documents; add documents before tuning thresholds",
		})
	case docCount < smallCorpusDocuments:
		suggestions = append(suggestions, models.OptimizationSuggestion{
			Type:     "corpus",
			Severity: "info",
			Message:  fmt.Sprintf("only %d documents indexed; retrieval quality improves with a larger corpus", docCount),
		})
	}

	avgDocLength := 0.0
	if docCount > 0 {
		totalChars, charErr := s.chunks.TotalContentChars(ctx, botID)
		if charErr != nil {
			return nil, fmt.Errorf("failed to measure corpus size: %w", charErr)
		}
		avgDocLength = float64(totalChars) / float64(docCount)
	}

	optimal := s.thresholds.GetOptimalThreshold(meta.EmbeddingProvider, meta.EmbeddingModel, "", docCount, avgDocLength)
	if meta.EmbeddingProvider == "gemini" && optimal > geminiAdvisoryCeiling {
		suggestions = append(suggestions, models.OptimizationSuggestion{
			Type:     "provider",
			Severity: "warning",
			Message: fmt.Sprintf("gemini similarity scores are low-magnitude; computed threshold %.3f will starve retrieval, use 0.01 or lower",
				optimal),
		})
	}

	recs, err := s.thresholds.GetRecommendations(ctx, botID, meta.EmbeddingProvider, meta.EmbeddingModel, days)
	if err != nil {
		return nil, fmt.Errorf("failed to compute threshold recommendations: %w", err)
	}
	for _, rec := range recs {
		suggestions = append(suggestions, models.OptimizationSuggestion{
			Type:     "threshold",
			Severity: "info",
			Message: fmt.Sprintf("%s (current %.3f, recommended %.3f, confidence %.2f over %d samples)",
				rec.Reason, rec.CurrentThreshold, rec.RecommendedThreshold, rec.Confidence, rec.SampleCount),
		})
	}

	return suggestions, nil
}

// logAttempt records one cascade attempt. Logging failures never abort the
// retrieval itself.
func (s *retrievalServiceImpl) logAttempt(ctx context.Context, botID uuid.UUID, meta *models.CollectionMetadata, rctx models.RetrievalContext, threshold *float64, hits []services.SearchHit, seconds float64, success bool, reason string) {
	minScore, avgScore, maxScore, stdDev := scoreStats(hits)
	entry := models.ThresholdPerformanceLog{
		BotID:            botID,
		ThresholdUsed:    threshold,
		Provider:         meta.EmbeddingProvider,
		Model:            meta.EmbeddingModel,
		QueryLength:      queryLength(rctx),
		QueryHash:        hashQuery(rctx.Query),
		ResultsFound:     len(hits),
		MinScore:         minScore,
		AvgScore:         avgScore,
		MaxScore:         maxScore,
		ScoreStdDev:      stdDev,
		ProcessingTime:   seconds,
		Success:          success,
		AdjustmentReason: reason,
	}
	if err := s.thresholds.LogPerformance(ctx, entry); err != nil {
		log.Printf("[RETRIEVAL] failed to log threshold performance for bot %s: %v", botID, err)
	}
}

func queryLength(rctx models.RetrievalContext) int {
	if rctx.QueryLength > 0 {
		return rctx.QueryLength
	}
	return len(rctx.Query)
}

func hashQuery(query string) string {
	if query == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:])[:16]
}

func scoreStats(hits []services.SearchHit) (minScore, avgScore, maxScore, stdDev float64) {
	if len(hits) == 0 {
		return 0, 0, 0, 0
	}
	minScore = float64(hits[0].Score)
	maxScore = float64(hits[0].Score)
	total := 0.0
	for _, h := range hits {
		score := float64(h.Score)
		total += score
		if score < minScore {
			minScore = score
		}
		if score > maxScore {
			maxScore = score
		}
	}
	avgScore = total / float64(len(hits))
	variance := 0.0
	for _, h := range hits {
		d := float64(h.Score) - avgScore
		variance += d * d
	}
	stdDev = math.Sqrt(variance / float64(len(hits)))
	return minScore, avgScore, maxScore, stdDev
}

func hitsToChunks(hits []services.SearchHit) []models.RetrievedChunk {
	chunks := make([]models.RetrievedChunk, 0, len(hits))
	for _, hit := range hits {
		chunk := models.RetrievedChunk{
			ID:    hit.ID,
			Score: float64(hit.Score),
		}
		if hit.Payload != nil {
			chunk.Content, _ = hit.Payload["content"].(string)
			chunk.DocumentID, _ = hit.Payload["document_id"].(string)
			chunk.ChunkIndex = coerceInt(hit.Payload["chunk_index"])
			chunk.ContentType, _ = hit.Payload["content_type"].(string)
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

func coerceInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	case float32:
		return int(n)
	default:
		return 0
	}
}

func toScoreThreshold(t *float64) *float32 {
	if t == nil {
		return nil
	}
	f := float32(*t)
	return &f
}

func formatThreshold(t *float64) string {
	if t == nil {
		return "none"
	}
	return fmt.Sprintf("%.3f", *t)
}

func thresholdValues(tried []*float64) []interface{} {
	values := make([]interface{}, 0, len(tried))
	for _, t := range tried {
		if t == nil {
			values = append(values, nil)
			continue
		}
		values = append(values, *t)
	}
	return values
}
