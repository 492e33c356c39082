package impl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragforge/metrics"
	"github.com/ragforge/models"
	"github.com/ragforge/services"
)

// stubModeRouter returns a fixed decision and records learning feedback.
type stubModeRouter struct {
	mu        sync.Mutex
	decision  models.RoutingDecision
	docCounts []int
	perf      map[models.HybridMode][]float64
}

func (r *stubModeRouter) Route(qc models.QueryCharacteristics, documentCount int) models.RoutingDecision {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docCounts = append(r.docCounts, documentCount)
	return r.decision
}

func (r *stubModeRouter) RecordPerformance(mode models.HybridMode, performance float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.perf == nil {
		r.perf = make(map[models.HybridMode][]float64)
	}
	r.perf[mode] = append(r.perf[mode], performance)
}

func (r *stubModeRouter) Weights() map[models.HybridMode]float64 { return nil }

// stubRetrieval returns canned chunks and records the cascade arguments.
type stubRetrieval struct {
	mu         sync.Mutex
	chunks     []models.RetrievedChunk
	err        error
	calls      int
	depths     []int
	thresholds []*float64
	contexts   []models.RetrievalContext
}

func (s *stubRetrieval) RetrieveRelevantChunks(ctx context.Context, botID uuid.UUID, queryEmbedding []float32, rctx models.RetrievalContext, customThreshold *float64, maxChunks int) (*models.RetrievalResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.depths = append(s.depths, maxChunks)
	s.thresholds = append(s.thresholds, customThreshold)
	s.contexts = append(s.contexts, rctx)
	if s.err != nil {
		return nil, s.err
	}
	return &models.RetrievalResult{Success: true, Chunks: s.chunks, AttemptsMade: 1}, nil
}

func (s *stubRetrieval) OptimizeRetrieval(ctx context.Context, botID uuid.UUID, days int) ([]models.OptimizationSuggestion, error) {
	return nil, nil
}

type hybridFixture struct {
	store       *fakeStore
	llm         *stubLLM
	embedder    *stubEmbedder
	registry    *stubRegistry
	router      *stubModeRouter
	retrieval   *stubRetrieval
	cache       services.ContextCache
	credentials services.CredentialService
	svc         services.HybridService
	bot         *models.Bot
	owner       uuid.UUID
	caller      uuid.UUID
}

func setupHybrid(t *testing.T) *hybridFixture {
	t.Helper()
	store := newFakeStore()
	owner := uuid.New()
	bot := store.addBot(&models.Bot{
		OwnerID:           owner,
		Name:              "support-bot",
		EmbeddingProvider: "openai",
		EmbeddingModel:    "text-embedding-3-small",
		LLMProvider:       "openai",
		LLMModel:          "gpt-4o-mini",
		SystemPrompt:      "You answer support questions.",
	})
	require.NoError(t, store.UpsertKey(context.Background(), &models.UserAPIKey{
		UserID:   owner,
		Provider: "openai",
		APIKey:   "sk-owner",
	}))

	llm := newStubLLM("the refund window is 30 days")
	embedder := newStubEmbedder(4)
	registry := newStubRegistry()
	registry.llms["openai"] = llm
	registry.embedders["openai"] = embedder

	router := &stubModeRouter{decision: models.RoutingDecision{
		Mode:              models.ModeHybridBalanced,
		Confidence:        0.8,
		DocumentWeight:    0.5,
		LLMWeight:         0.5,
		RetrievalDepth:    5,
		SynthesisStrategy: models.StrategyWeightedCombination,
		FallbackChain:     []models.HybridMode{models.ModeHybridLLMHeavy, models.ModePureLLM},
		Reason:            "balanced_default",
	}}
	retrieval := &stubRetrieval{}

	cache, err := NewContextCache(nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	credentials := NewCredentialService(store, store, registry, 0)
	svc := NewHybridService(store, store, credentials, NewQueryAnalyzer(), router,
		retrieval, NewResponseBlender(), cache, NewConversationStore(nil), registry,
		metrics.New(), 0)

	return &hybridFixture{
		store:       store,
		llm:         llm,
		embedder:    embedder,
		registry:    registry,
		router:      router,
		retrieval:   retrieval,
		cache:       cache,
		credentials: credentials,
		svc:         svc,
		bot:         bot,
		owner:       owner,
		caller:      uuid.New(),
	}
}

func (f *hybridFixture) request(query string) models.HybridQueryRequest {
	return models.HybridQueryRequest{BotID: f.bot.ID, UserID: f.caller, Query: query}
}

func TestHybridService_AnswerQuery_PureLLM(t *testing.T) {
	f := setupHybrid(t)
	f.router.decision = models.RoutingDecision{
		Mode:              models.ModePureLLM,
		Confidence:        0.8,
		LLMWeight:         1.0,
		RetrievalDepth:    5,
		SynthesisStrategy: models.StrategyLLMGeneration,
		Reason:            "low_complexity_rule",
	}

	resp, err := f.svc.AnswerQuery(context.Background(), f.request("what is the refund window?"))
	require.NoError(t, err)
	assert.Equal(t, "the refund window is 30 days", resp.Content)
	assert.Equal(t, models.ModePureLLM, resp.ModeUsed)
	assert.Equal(t, 0.8, resp.ConfidenceScore)
	assert.Equal(t, 1.0, resp.LLMContribution)
	assert.Equal(t, 0.0, resp.DocumentContribution)
	assert.Empty(t, resp.SourcesUsed)
	assert.Equal(t, "low_complexity_rule", resp.Metadata["routing_reason"])
	assert.Equal(t, "llm_generation", resp.Metadata["strategy"])
	assert.Equal(t, 0, resp.Metadata["chunks_used"])
	assert.False(t, resp.CreatedAt.IsZero())
	assert.Equal(t, 0, f.retrieval.calls)
	assert.Equal(t, 1, f.llm.calls)

	// Confidence 0.8 earns no bonus; sub-2s completion does; density of a
	// one-liner stays below HIGH.
	require.Len(t, f.router.perf[models.ModePureLLM], 1)
	assert.InDelta(t, 0.8, f.router.perf[models.ModePureLLM][0], 1e-9)

	cached, err := f.svc.AnswerQuery(context.Background(), f.request("what is the refund window?"))
	require.NoError(t, err)
	assert.Equal(t, true, cached.Metadata["cache_hit"])
	assert.Equal(t, resp.Content, cached.Content)
	assert.Equal(t, 1, f.llm.calls)
}

func TestHybridService_AnswerQuery_BlendsDocuments(t *testing.T) {
	f := setupHybrid(t)
	f.llm.response = "Refunds generally take a month."
	f.retrieval.chunks = []models.RetrievedChunk{
		{ID: "c1", DocumentID: "doc-1", Content: "Refunds are processed within 30 days of purchase.", Score: 0.9},
		{ID: "c2", DocumentID: "doc-2", Content: "Card payments refund to the original card.", Score: 0.8},
	}

	resp, err := f.svc.AnswerQuery(context.Background(), f.request("what is the refund window?"))
	require.NoError(t, err)
	assert.Equal(t, "Refunds generally take a month.\n\n[From documents: Refunds are processed within 30 days of purchase.]", resp.Content)
	assert.Equal(t, models.ModeHybridBalanced, resp.ModeUsed)
	assert.Equal(t, []string{"doc-1", "doc-2"}, resp.SourcesUsed)
	assert.Equal(t, 2, resp.Metadata["chunks_used"])
	assert.Equal(t, "weighted_combination", resp.Metadata["strategy"])
	assert.Greater(t, resp.DocumentContribution, 0.0)
	assert.Greater(t, resp.LLMContribution, 0.0)
	assert.InDelta(t, 1.0, resp.DocumentContribution+resp.LLMContribution, 1e-9)
	assert.Equal(t, models.DensityLow, resp.InformationDensity)

	assert.Equal(t, 1, f.llm.calls)
	assert.Equal(t, 1, f.embedder.calls)
	assert.Equal(t, 1, f.retrieval.calls)
	assert.Equal(t, []int{5}, f.retrieval.depths)
	assert.Nil(t, f.retrieval.thresholds[0])
	require.Len(t, f.router.perf[models.ModeHybridBalanced], 1)
}

func TestHybridService_AnswerQuery_RequestValidation(t *testing.T) {
	f := setupHybrid(t)

	cases := []struct {
		name    string
		req     models.HybridQueryRequest
		message string
	}{
		{"empty query", f.request("   "), "query must not be empty"},
		{"oversized query", f.request(strings.Repeat("q", maxQueryChars+1)), "8192 characters or less"},
		{
			"too much history",
			models.HybridQueryRequest{
				BotID:   f.bot.ID,
				UserID:  f.caller,
				Query:   "q",
				History: make([]models.ConversationTurn, maxHistoryTurns+1),
			},
			"50 turns or less",
		},
		{
			"bad history role",
			models.HybridQueryRequest{
				BotID:   f.bot.ID,
				UserID:  f.caller,
				Query:   "q",
				History: []models.ConversationTurn{{Role: "system", Content: "x"}},
			},
			"invalid role 'system'",
		},
		{
			"bad expertise",
			models.HybridQueryRequest{
				BotID:       f.bot.ID,
				UserID:      f.caller,
				Query:       "q",
				UserProfile: &models.UserProfile{Expertise: "wizard"},
			},
			"invalid expertise 'wizard'",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.AnswerQuery(context.Background(), tc.req)
			require.Error(t, err)
			assert.True(t, models.IsValidation(err))
			assert.Contains(t, err.Error(), tc.message)
		})
	}
	assert.Equal(t, 0, f.llm.calls)
}

func TestHybridService_AnswerQuery_UnknownBot(t *testing.T) {
	f := setupHybrid(t)
	req := f.request("what is the refund window?")
	req.BotID = uuid.New()

	_, err := f.svc.AnswerQuery(context.Background(), req)
	require.Error(t, err)
	assert.True(t, models.IsNotFound(err))
}

func TestHybridService_AnswerQuery_FallbackChain(t *testing.T) {
	f := setupHybrid(t)
	f.llm.response = "answer from the model"
	f.retrieval.err = errors.New("vector backend unreachable")
	f.router.decision = models.RoutingDecision{
		Mode:              models.ModeDocumentOnly,
		Confidence:        0.8,
		DocumentWeight:    1.0,
		RetrievalDepth:    5,
		SynthesisStrategy: models.StrategyDocumentExtraction,
		FallbackChain:     []models.HybridMode{models.ModePureLLM},
		Reason:            "corpus_lookup",
	}

	resp, err := f.svc.AnswerQuery(context.Background(), f.request("what is the refund window?"))
	require.NoError(t, err)
	assert.Equal(t, "answer from the model", resp.Content)
	assert.Equal(t, models.ModePureLLM, resp.ModeUsed)
	assert.InDelta(t, 0.64, resp.ConfidenceScore, 1e-9)
	assert.Equal(t, true, resp.Metadata["fallback"])
	assert.Equal(t, "fallback_from_document_only", resp.Metadata["routing_reason"])

	// Primary retrieval failed once; the fallback mode carries no document
	// weight, so it never retried.
	assert.Equal(t, 1, f.retrieval.calls)
	assert.Equal(t, 1, f.llm.calls)
	require.Len(t, f.router.perf[models.ModePureLLM], 1)
}

func TestHybridService_AnswerQuery_FallbackInjectsChunksIntoPrompt(t *testing.T) {
	f := setupHybrid(t)
	f.llm.err = errors.New("provider returned 500")
	f.retrieval.chunks = []models.RetrievedChunk{
		{ID: "c1", DocumentID: "doc-9", Content: "Premium plans include priority support.", Score: 0.9},
	}
	f.router.decision = models.RoutingDecision{
		Mode:              models.ModePureLLM,
		Confidence:        0.8,
		LLMWeight:         1.0,
		RetrievalDepth:    5,
		SynthesisStrategy: models.StrategyLLMGeneration,
		FallbackChain:     []models.HybridMode{models.ModeHybridBalanced},
		Reason:            "low_complexity_rule",
	}

	resp, err := f.svc.AnswerQuery(context.Background(), f.request("what is included in premium?"))
	require.NoError(t, err)
	assert.Equal(t, models.ModeHybridBalanced, resp.ModeUsed)
	assert.Equal(t, true, resp.Metadata["fallback"])
	assert.Contains(t, resp.Content, "Premium plans include priority support.")
	assert.Equal(t, []string{"doc-9"}, resp.SourcesUsed)
	assert.Equal(t, 1.0, resp.DocumentContribution)
	assert.Equal(t, 0.0, resp.LLMContribution)

	// The fallback generation attempt saw the retrieved context even though
	// the provider kept failing.
	require.Len(t, f.llm.prompts, 2)
	assert.NotContains(t, f.llm.prompts[0], "RELEVANT CONTEXT")
	assert.Contains(t, f.llm.prompts[1], "--- RELEVANT CONTEXT ---")
	assert.Contains(t, f.llm.prompts[1], "--- Document: doc-9 ---")
	assert.Contains(t, f.llm.prompts[1], "Premium plans include priority support.")
	assert.True(t, strings.HasSuffix(f.llm.prompts[1], "what is included in premium?"))
}

func TestHybridService_AnswerQuery_Degraded(t *testing.T) {
	const degradedContent = "I could not produce an answer for this query right now. Please retry in a moment."

	t.Run("every branch empty", func(t *testing.T) {
		f := setupHybrid(t)
		f.llm.err = errors.New("provider down")
		f.router.decision = models.RoutingDecision{
			Mode:              models.ModePureLLM,
			Confidence:        0.8,
			LLMWeight:         1.0,
			SynthesisStrategy: models.StrategyLLMGeneration,
			Reason:            "low_complexity_rule",
		}

		resp, err := f.svc.AnswerQuery(context.Background(), f.request("what is the refund window?"))
		require.NoError(t, err)
		assert.Equal(t, degradedContent, resp.Content)
		assert.Equal(t, models.ModePureLLM, resp.ModeUsed)
		assert.Equal(t, 0.1, resp.ConfidenceScore)
		assert.Equal(t, models.DensityVeryLow, resp.InformationDensity)
		assert.Equal(t, true, resp.Metadata["degraded"])
		assert.Equal(t, true, resp.Metadata["fallback"])
		assert.Empty(t, f.router.perf)
		assert.Equal(t, int64(0), f.cache.Stats().Sets)
	})

	t.Run("blend failure", func(t *testing.T) {
		f := setupHybrid(t)
		f.router.decision = models.RoutingDecision{
			Mode:              models.ModePureLLM,
			Confidence:        0.8,
			LLMWeight:         1.0,
			SynthesisStrategy: models.SynthesisStrategy("telepathy"),
			Reason:            "low_complexity_rule",
		}

		resp, err := f.svc.AnswerQuery(context.Background(), f.request("what is the refund window?"))
		require.NoError(t, err)
		assert.Equal(t, degradedContent, resp.Content)
		assert.Equal(t, true, resp.Metadata["degraded"])
		assert.Equal(t, 1, f.llm.calls)
		assert.Empty(t, f.router.perf)
	})
}

func TestHybridService_AnswerQuery_CredentialFailureDegrades(t *testing.T) {
	f := setupHybrid(t)
	require.NoError(t, f.store.DeleteKey(context.Background(), f.owner, "openai"))
	f.router.decision.FallbackChain = nil

	resp, err := f.svc.AnswerQuery(context.Background(), f.request("what is the refund window?"))
	require.NoError(t, err)
	assert.Equal(t, true, resp.Metadata["degraded"])
	assert.Equal(t, 0, f.llm.calls)
	assert.Equal(t, 0, f.embedder.calls)
}

func TestHybridService_AnswerQuery_RetrievalSettingsOverride(t *testing.T) {
	f := setupHybrid(t)
	threshold := 0.42
	settings, err := models.ConvertToJSON(models.RetrievalSettings{
		CustomThreshold: &threshold,
		ContentType:     "technical",
		MaxChunks:       3,
	})
	require.NoError(t, err)
	f.bot.RetrievalSettings = settings

	f.retrieval.chunks = []models.RetrievedChunk{
		{ID: "c1", DocumentID: "doc-1", Content: "The API allows 100 requests per minute.", Score: 0.9},
	}
	f.router.decision = models.RoutingDecision{
		Mode:              models.ModeDocumentOnly,
		Confidence:        0.8,
		DocumentWeight:    1.0,
		RetrievalDepth:    10,
		SynthesisStrategy: models.StrategyDocumentExtraction,
		Reason:            "corpus_lookup",
	}

	query := "what is the api rate limit?"
	resp, err := f.svc.AnswerQuery(context.Background(), f.request(query))
	require.NoError(t, err)
	assert.Contains(t, resp.Content, "The API allows 100 requests per minute.")
	assert.Equal(t, models.ModeDocumentOnly, resp.ModeUsed)
	assert.Equal(t, 1.0, resp.DocumentContribution)

	require.Len(t, f.retrieval.depths, 1)
	assert.Equal(t, 3, f.retrieval.depths[0])
	require.NotNil(t, f.retrieval.thresholds[0])
	assert.Equal(t, 0.42, *f.retrieval.thresholds[0])
	assert.Equal(t, "technical", f.retrieval.contexts[0].ContentType)
	assert.Equal(t, len(query), f.retrieval.contexts[0].QueryLength)
}

func TestHybridService_AnswerQuery_ConversationHistory(t *testing.T) {
	_, client, cleanup := setupTestRedis(t)
	defer cleanup()

	f := setupHybrid(t)
	conversations := NewConversationStore(client)
	svc := NewHybridService(f.store, f.store, f.credentials, NewQueryAnalyzer(), f.router,
		f.retrieval, NewResponseBlender(), f.cache, conversations, f.registry,
		metrics.New(), 0)

	f.llm.response = "annual plans refund pro rata"
	f.router.decision = models.RoutingDecision{
		Mode:              models.ModePureLLM,
		Confidence:        0.8,
		LLMWeight:         1.0,
		SynthesisStrategy: models.StrategyLLMGeneration,
		Reason:            "low_complexity_rule",
	}

	require.NoError(t, conversations.AppendTurn(context.Background(), f.bot.ID, f.caller,
		models.ConversationTurn{Role: "user", Content: "how long do refunds take?"}))
	require.NoError(t, conversations.AppendTurn(context.Background(), f.bot.ID, f.caller,
		models.ConversationTurn{Role: "assistant", Content: "refunds take five business days"}))

	resp, err := svc.AnswerQuery(context.Background(), f.request("what about for annual plans?"))
	require.NoError(t, err)
	assert.Equal(t, "annual plans refund pro rata", resp.Content)

	require.Len(t, f.llm.prompts, 1)
	assert.Equal(t,
		"user: how long do refunds take?\nassistant: refunds take five business days\n\nwhat about for annual plans?",
		f.llm.prompts[0])

	turns, err := conversations.RecentTurns(context.Background(), f.bot.ID, f.caller, 0)
	require.NoError(t, err)
	require.Len(t, turns, 4)
	assert.Equal(t, models.ConversationTurn{Role: "user", Content: "what about for annual plans?"}, turns[2])
	assert.Equal(t, models.ConversationTurn{Role: "assistant", Content: "annual plans refund pro rata"}, turns[3])
}

func TestPerformanceEstimate(t *testing.T) {
	cases := []struct {
		name string
		resp models.HybridResponse
		want float64
	}{
		{"all bonuses capped", models.HybridResponse{ConfidenceScore: 0.9, ProcessingTime: 0.5, InformationDensity: models.DensityVeryHigh}, 1.0},
		{"speed only", models.HybridResponse{ConfidenceScore: 0.8, ProcessingTime: 0.5, InformationDensity: models.DensityLow}, 0.8},
		{"confidence only", models.HybridResponse{ConfidenceScore: 0.9, ProcessingTime: 3.0, InformationDensity: models.DensityMedium}, 0.8},
		{"base score", models.HybridResponse{ConfidenceScore: 0.5, ProcessingTime: 3.0, InformationDensity: models.DensityMedium}, 0.7},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, performanceEstimate(&tc.resp), 1e-9)
		})
	}
}

func TestFallbackDecision(t *testing.T) {
	base := models.RoutingDecision{
		Mode:           models.ModeHybridDocumentHeavy,
		Confidence:     0.9,
		DocumentWeight: 0.7,
		LLMWeight:      0.3,
		RetrievalDepth: 7,
		Reason:         "document_rich_corpus",
	}

	fb := fallbackDecision(base, models.ModeHybridBalanced)
	assert.Equal(t, models.ModeHybridBalanced, fb.Mode)
	assert.InDelta(t, 0.72, fb.Confidence, 1e-9)
	assert.Equal(t, 0.5, fb.DocumentWeight)
	assert.Equal(t, 0.5, fb.LLMWeight)
	assert.Equal(t, 7, fb.RetrievalDepth)
	assert.Equal(t, models.StrategyWeightedCombination, fb.SynthesisStrategy)
	assert.Equal(t, "fallback_from_hybrid_document_heavy", fb.Reason)

	pure := fallbackDecision(base, models.ModePureLLM)
	assert.Equal(t, 0.0, pure.DocumentWeight)
	assert.Equal(t, 1.0, pure.LLMWeight)
	assert.Equal(t, models.StrategyLLMGeneration, pure.SynthesisStrategy)
}

func TestBuildPrompt(t *testing.T) {
	t.Run("bare query", func(t *testing.T) {
		assert.Equal(t, "what is a refund?", buildPrompt("what is a refund?", nil, nil))
	})

	t.Run("history trimmed to recent turns", func(t *testing.T) {
		var history []models.ConversationTurn
		for i := 0; i < promptHistoryTurns+2; i++ {
			role := "user"
			if i%2 == 1 {
				role = "assistant"
			}
			history = append(history, models.ConversationTurn{Role: role, Content: fmt.Sprintf("turn %d", i)})
		}

		prompt := buildPrompt("the query", history, nil)
		assert.NotContains(t, prompt, "turn 0")
		assert.NotContains(t, prompt, "turn 1")
		assert.True(t, strings.HasPrefix(prompt, "user: turn 2\n"))
		assert.Contains(t, prompt, "assistant: turn 7\n")
		assert.True(t, strings.HasSuffix(prompt, "the query"))
	})

	t.Run("chunks grouped by document", func(t *testing.T) {
		chunks := []models.RetrievedChunk{
			{DocumentID: "doc-a", Content: "chunk one"},
			{DocumentID: "doc-a", Content: "chunk two"},
			{DocumentID: "doc-b", Content: "chunk three"},
		}

		prompt := buildPrompt("the query", nil, chunks)
		assert.Contains(t, prompt, "--- RELEVANT CONTEXT ---")
		assert.Contains(t, prompt, "--- END CONTEXT ---")
		assert.Equal(t, 1, strings.Count(prompt, "--- Document: doc-a ---"))
		assert.Equal(t, 1, strings.Count(prompt, "--- Document: doc-b ---"))
		assert.Less(t,
			strings.Index(prompt, "--- Document: doc-a ---"),
			strings.Index(prompt, "--- Document: doc-b ---"))
		assert.Contains(t, prompt, "chunk one\nchunk two\n")
		assert.True(t, strings.HasSuffix(prompt, "the query"))
	})
}
