package impl

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ragforge/metrics"
	"github.com/ragforge/models"
	"github.com/ragforge/services"
)

const (
	defaultQueryTimeout = 10 * time.Second
	promptHistoryTurns  = 6
)

// hybridServiceImpl is the per-query orchestrator: analyze, route, consult
// the cache, fan out to the LLM and retrieval concurrently, blend, feed the
// learning loop and store the answer back into the cache.
type hybridServiceImpl struct {
	bots          services.BotStore
	documents     services.DocumentStore
	credentials   services.CredentialService
	analyzer      services.QueryAnalyzer
	router        services.ModeRouter
	retrieval     services.RetrievalService
	blender       services.ResponseBlender
	cache         services.ContextCache
	conversations services.ConversationStore
	registry      services.ProviderRegistry
	metrics       *metrics.Metrics
	queryTimeout  time.Duration
}

func NewHybridService(
	bots services.BotStore,
	documents services.DocumentStore,
	credentials services.CredentialService,
	analyzer services.QueryAnalyzer,
	router services.ModeRouter,
	retrieval services.RetrievalService,
	blender services.ResponseBlender,
	cache services.ContextCache,
	conversations services.ConversationStore,
	registry services.ProviderRegistry,
	m *metrics.Metrics,
	queryTimeout time.Duration,
) services.HybridService {
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	if m == nil {
		m = metrics.New()
	}
	return &hybridServiceImpl{
		bots:          bots,
		documents:     documents,
		credentials:   credentials,
		analyzer:      analyzer,
		router:        router,
		retrieval:     retrieval,
		blender:       blender,
		cache:         cache,
		conversations: conversations,
		registry:      registry,
		metrics:       m,
		queryTimeout:  queryTimeout,
	}
}

func (s *hybridServiceImpl) AnswerQuery(ctx context.Context, req models.HybridQueryRequest) (*models.HybridResponse, error) {
	start := time.Now()

	if err := ValidateQueryRequest(req).AsError(); err != nil {
		return nil, err
	}
	query := strings.TrimSpace(req.Query)

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	bot, err := s.bots.GetBot(ctx, req.BotID)
	if err != nil {
		return nil, err
	}

	history := req.History
	if len(history) == 0 && s.conversations != nil {
		if turns, convErr := s.conversations.RecentTurns(ctx, req.BotID, req.UserID, promptHistoryTurns*2); convErr == nil {
			history = turns
		}
	}

	qc := s.analyzer.Analyze(query, history, req.UserProfile)

	if cached, ok := s.cache.Get(ctx, req.BotID, req.UserID, query, qc); ok {
		s.metrics.CacheHits.Inc()
		s.metrics.RecordQuery(string(cached.ModeUsed), "cache_hit", time.Since(start).Seconds())
		log.Printf("[HYBRID] cache hit for bot %s (mode %s)", req.BotID, cached.ModeUsed)
		return cached, nil
	}
	s.metrics.CacheMisses.Inc()

	docCount, err := s.documents.CountDocuments(ctx, req.BotID)
	if err != nil {
		log.Printf("[HYBRID] failed to count documents for bot %s: %v", req.BotID, err)
		docCount = 0
	}

	decision := s.router.Route(qc, docCount)
	log.Printf("[HYBRID] routed query for bot %s to %s (confidence %.2f, strategy %s): %s",
		req.BotID, decision.Mode, decision.Confidence, decision.SynthesisStrategy, decision.Reason)

	llmText, chunks := s.fanOut(ctx, bot, req, query, history, decision)

	fallbackUsed := false
	if llmText == "" && len(chunks) == 0 && (decision.LLMWeight > 0 || decision.DocumentWeight > 0) {
		llmText, chunks, decision, fallbackUsed = s.runFallbackChain(ctx, bot, req, query, history, decision)
	}

	if llmText == "" && len(chunks) == 0 {
		resp := s.degradedResponse(start)
		s.metrics.RecordQuery(string(resp.ModeUsed), "degraded", resp.ProcessingTime)
		return resp, nil
	}

	blended, err := s.blender.Blend(ctx, models.BlendInput{
		Query:       query,
		LLMResponse: llmText,
		Chunks:      chunks,
		Decision:    &decision,
	})
	if err != nil {
		log.Printf("[HYBRID] blending failed for bot %s: %v", req.BotID, err)
		resp := s.degradedResponse(start)
		s.metrics.RecordQuery(string(resp.ModeUsed), "degraded", resp.ProcessingTime)
		return resp, nil
	}

	processing := time.Since(start).Seconds()
	resp := &models.HybridResponse{
		Content:              blended.Content,
		ModeUsed:             decision.Mode,
		SourcesUsed:          blended.SourcesUsed,
		ConfidenceScore:      blended.ConfidenceScore,
		InformationDensity:   blended.InformationDensity,
		ProcessingTime:       processing,
		DocumentContribution: blended.DocumentContribution,
		LLMContribution:      blended.LLMContribution,
		Metadata: map[string]interface{}{
			"routing_reason": decision.Reason,
			"strategy":       string(blended.Strategy),
			"chunks_used":    len(chunks),
		},
		CreatedAt: time.Now().UTC(),
	}
	if fallbackUsed {
		resp.Metadata["fallback"] = true
	}

	s.router.RecordPerformance(decision.Mode, performanceEstimate(resp))

	if cacheErr := s.cache.Set(ctx, req.BotID, req.UserID, query, resp, decision, qc); cacheErr != nil {
		log.Printf("[HYBRID] cache store failed for bot %s: %v", req.BotID, cacheErr)
	}

	if s.conversations != nil {
		s.recordTurns(ctx, req, query, resp.Content)
	}

	outcome := "ok"
	if fallbackUsed {
		outcome = "fallback"
	}
	s.metrics.RecordQuery(string(decision.Mode), outcome, processing)
	return resp, nil
}

// fanOut issues the LLM call and the retrieval concurrently, subject to the
// mode's weights. A failed branch logs and yields an empty sub-result; the
// caller decides whether the combination is usable.
func (s *hybridServiceImpl) fanOut(ctx context.Context, bot *models.Bot, req models.HybridQueryRequest, query string, history []models.ConversationTurn, decision models.RoutingDecision) (string, []models.RetrievedChunk) {
	var (
		llmText string
		chunks  []models.RetrievedChunk
	)

	g, gctx := errgroup.WithContext(ctx)

	if decision.LLMWeight > 0 {
		g.Go(func() error {
			text, err := s.generate(gctx, bot, req, query, history, nil)
			if err != nil {
				log.Printf("[HYBRID] llm branch failed for bot %s: %v", req.BotID, err)
				return nil
			}
			llmText = text
			return nil
		})
	}

	if decision.DocumentWeight > 0 {
		g.Go(func() error {
			retrieved, err := s.retrieve(gctx, bot, req, query, decision)
			if err != nil {
				log.Printf("[HYBRID] retrieval branch failed for bot %s: %v", req.BotID, err)
				return nil
			}
			chunks = retrieved
			return nil
		})
	}

	g.Wait() //nolint:errcheck // branches swallow their own errors
	return llmText, chunks
}

// runFallbackChain retries under successively simpler modes after the primary
// fan-out produced nothing. Within each attempt retrieval runs first so its
// chunks can be injected into the retried generation prompt.
func (s *hybridServiceImpl) runFallbackChain(ctx context.Context, bot *models.Bot, req models.HybridQueryRequest, query string, history []models.ConversationTurn, decision models.RoutingDecision) (string, []models.RetrievedChunk, models.RoutingDecision, bool) {
	for _, mode := range decision.FallbackChain {
		select {
		case <-ctx.Done():
			return "", nil, decision, true
		default:
		}

		fb := fallbackDecision(decision, mode)
		log.Printf("[HYBRID] falling back from %s to %s for bot %s", decision.Mode, mode, req.BotID)

		var chunks []models.RetrievedChunk
		if fb.DocumentWeight > 0 {
			retrieved, err := s.retrieve(ctx, bot, req, query, fb)
			if err != nil {
				log.Printf("[HYBRID] fallback %s retrieval failed for bot %s: %v", mode, req.BotID, err)
			} else {
				chunks = retrieved
			}
		}

		var llmText string
		if fb.LLMWeight > 0 {
			text, err := s.generate(ctx, bot, req, query, history, chunks)
			if err != nil {
				log.Printf("[HYBRID] fallback %s generation failed for bot %s: %v", mode, req.BotID, err)
			} else {
				llmText = text
			}
		}

		if llmText != "" || len(chunks) > 0 {
			return llmText, chunks, fb, true
		}
	}
	return "", nil, decision, true
}

// generate resolves a key for the bot's LLM provider and produces the LLM
// side of the answer. Supplied chunks (fallback re-generation) are injected
// as a context block ahead of the query.
func (s *hybridServiceImpl) generate(ctx context.Context, bot *models.Bot, req models.HybridQueryRequest, query string, history []models.ConversationTurn, chunks []models.RetrievedChunk) (string, error) {
	resolution, err := s.credentials.ResolveKeyWithFallback(ctx, req.BotID, req.UserID, bot.LLMProvider)
	if err != nil {
		return "", err
	}
	s.metrics.KeyResolutions.WithLabelValues(resolution.Provider, string(resolution.Source)).Inc()

	provider, ok := s.registry.LLM(resolution.Provider)
	if !ok {
		return "", fmt.Errorf("no llm provider registered for %q", resolution.Provider)
	}

	model := bot.LLMModel
	if resolution.FallbackProvider {
		// The configured model belongs to the original provider; let the
		// alternative pick its own default.
		model = ""
	}

	cfg := &services.GenerationConfig{
		Temperature:  0.7,
		MaxTokens:    1024,
		SystemPrompt: bot.SystemPrompt,
	}
	return provider.Generate(ctx, model, buildPrompt(query, history, chunks), resolution.Key, cfg)
}

// retrieve embeds the query with the bot's embedding provider and runs the
// adaptive threshold cascade. Embedding keys never fall back to alternative
// providers: the collection's vector space is bound to the configured one.
func (s *hybridServiceImpl) retrieve(ctx context.Context, bot *models.Bot, req models.HybridQueryRequest, query string, decision models.RoutingDecision) ([]models.RetrievedChunk, error) {
	resolution, err := s.credentials.ResolveKey(ctx, req.BotID, req.UserID, bot.EmbeddingProvider)
	if err != nil {
		return nil, err
	}
	s.metrics.KeyResolutions.WithLabelValues(resolution.Provider, string(resolution.Source)).Inc()

	provider, ok := s.registry.Embedding(bot.EmbeddingProvider)
	if !ok {
		return nil, fmt.Errorf("no embedding provider registered for %q", bot.EmbeddingProvider)
	}

	vectors, err := provider.GenerateEmbeddings(ctx, bot.EmbeddingModel, []string{query}, resolution.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("embedding provider returned no vector")
	}

	rctx := models.RetrievalContext{Query: query, QueryLength: len(query)}
	depth := decision.RetrievalDepth
	var customThreshold *float64
	if settings := bot.DecodedRetrievalSettings(); settings != nil {
		customThreshold = settings.CustomThreshold
		if settings.ContentType != "" {
			rctx.ContentType = settings.ContentType
		}
		if settings.MaxChunks > 0 && settings.MaxChunks < depth {
			depth = settings.MaxChunks
		}
	}
	result, err := s.retrieval.RetrieveRelevantChunks(ctx, req.BotID, vectors[0], rctx, customThreshold, depth)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordRetrieval(bot.EmbeddingProvider, result.AttemptsMade, len(result.Chunks))
	return result.Chunks, nil
}

func (s *hybridServiceImpl) recordTurns(ctx context.Context, req models.HybridQueryRequest, query, answer string) {
	if err := s.conversations.AppendTurn(ctx, req.BotID, req.UserID, models.ConversationTurn{Role: "user", Content: query}); err != nil {
		log.Printf("[HYBRID] failed to record user turn for bot %s: %v", req.BotID, err)
		return
	}
	if err := s.conversations.AppendTurn(ctx, req.BotID, req.UserID, models.ConversationTurn{Role: "assistant", Content: answer}); err != nil {
		log.Printf("[HYBRID] failed to record assistant turn for bot %s: %v", req.BotID, err)
	}
}

// degradedResponse is the terminal answer when every mode in the chain came
// back empty. Raw provider errors never reach the caller from the query path.
func (s *hybridServiceImpl) degradedResponse(start time.Time) *models.HybridResponse {
	return &models.HybridResponse{
		Content:            "I could not produce an answer for this query right now. Please retry in a moment.",
		ModeUsed:           models.ModePureLLM,
		SourcesUsed:        []string{},
		ConfidenceScore:    0.1,
		InformationDensity: models.DensityVeryLow,
		ProcessingTime:     time.Since(start).Seconds(),
		LLMContribution:    1.0,
		Metadata: map[string]interface{}{
			"fallback": true,
			"degraded": true,
		},
		CreatedAt: time.Now().UTC(),
	}
}

// fallbackDecision rebuilds the routing decision for a fallback mode, keeping
// the original retrieval depth and discounting confidence.
func fallbackDecision(base models.RoutingDecision, mode models.HybridMode) models.RoutingDecision {
	w := modeWeights[mode]
	return models.RoutingDecision{
		Mode:              mode,
		Confidence:        math.Round(base.Confidence*0.8*100) / 100,
		DocumentWeight:    w[0],
		LLMWeight:         w[1],
		RetrievalDepth:    base.RetrievalDepth,
		SynthesisStrategy: baseStrategies[mode],
		Reason:            "fallback_from_" + string(base.Mode),
	}
}

// performanceEstimate scores a completed response for the router's learning
// loop: base 0.7, plus 0.1 each for high confidence, sub-2s completion and
// high information density, capped at 1.0.
func performanceEstimate(resp *models.HybridResponse) float64 {
	score := 0.7
	if resp.ConfidenceScore > 0.8 {
		score += 0.1
	}
	if resp.ProcessingTime < 2.0 {
		score += 0.1
	}
	if models.DensityRank(resp.InformationDensity) >= models.DensityRank(models.DensityHigh) {
		score += 0.1
	}
	return math.Min(score, 1.0)
}

// buildPrompt assembles the generation prompt: recent turns, an optional
// retrieved-context block, then the query.
func buildPrompt(query string, history []models.ConversationTurn, chunks []models.RetrievedChunk) string {
	var builder strings.Builder

	if len(history) > 0 {
		recent := history
		if len(recent) > promptHistoryTurns {
			recent = recent[len(recent)-promptHistoryTurns:]
		}
		for _, turn := range recent {
			builder.WriteString(fmt.Sprintf("%s: %s\n", turn.Role, turn.Content))
		}
		builder.WriteString("\n")
	}

	if len(chunks) > 0 {
		builder.WriteString("\n--- RELEVANT CONTEXT ---\n\n")
		currentDocID := ""
		for _, chunk := range chunks {
			if chunk.DocumentID != currentDocID && chunk.DocumentID != "" {
				if currentDocID != "" {
					builder.WriteString("\n")
				}
				builder.WriteString(fmt.Sprintf("--- Document: %s ---\n", chunk.DocumentID))
				currentDocID = chunk.DocumentID
			}
			builder.WriteString(chunk.Content)
			builder.WriteString("\n")
		}
		builder.WriteString("\n--- END CONTEXT ---\n\n")
	}

	builder.WriteString(query)
	return builder.String()
}
