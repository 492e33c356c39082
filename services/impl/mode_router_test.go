package impl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragforge/models"
)

func TestModeRouter_Route_RulePrecedence(t *testing.T) {
	router := NewModeRouter()

	tests := []struct {
		name       string
		qc         models.QueryCharacteristics
		wantMode   models.HybridMode
		wantConf   float64
		wantReason string
	}{
		{
			"factual lookup needing accuracy",
			models.QueryCharacteristics{Intent: models.IntentFactualLookup, RequiresFactualAccuracy: true},
			models.ModeHybridDocumentHeavy, 0.90, "factual_lookup_with_accuracy",
		},
		{
			"creative generation",
			models.QueryCharacteristics{Intent: models.IntentCreativeGeneration},
			models.ModeHybridLLMHeavy, 0.85, "creative_generation",
		},
		{
			"complex domain query",
			models.QueryCharacteristics{Intent: models.IntentAnalyticalReasoning, ComplexityScore: 0.8, DomainSpecificity: 0.6},
			models.ModeHybridBalanced, 0.80, "complex_domain_query",
		},
		{
			"shallow conversational",
			models.QueryCharacteristics{Intent: models.IntentConversational, ConversationDepth: 1},
			models.ModePureLLM, 0.90, "shallow_conversational",
		},
		{
			"summarization",
			models.QueryCharacteristics{Intent: models.IntentSummarization},
			models.ModeContextualEnhancement, 0.85, "summarization",
		},
		{
			"temporal query",
			models.QueryCharacteristics{Intent: models.IntentFollowUp, TemporalRelevance: 0.8},
			models.ModeHybridLLMHeavy, 0.75, "temporal_query",
		},
		{
			"high specificity",
			models.QueryCharacteristics{Intent: models.IntentFollowUp, SpecificityScore: 0.9},
			models.ModeHybridDocumentHeavy, 0.80, "high_specificity",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := router.Route(tt.qc, 100)
			assert.Equal(t, tt.wantMode, d.Mode)
			assert.InDelta(t, tt.wantConf, d.Confidence, 1e-9)
			assert.Equal(t, tt.wantReason, d.Reason)
		})
	}
}

func TestModeRouter_Route_AdaptiveDefault(t *testing.T) {
	router := NewModeRouter()

	// No rule matches; all adaptive weights start at 0.5.
	d := router.Route(models.QueryCharacteristics{Intent: models.IntentRecommendation}, 100)
	assert.Equal(t, models.ModeHybridBalanced, d.Mode)
	assert.InDelta(t, 0.5, d.Confidence, 1e-9)
	assert.Equal(t, "adaptive_learned_weights", d.Reason)
}

func TestModeRouter_Route_EmptyCorpusDegradesToPureLLM(t *testing.T) {
	router := NewModeRouter()

	qc := models.QueryCharacteristics{Intent: models.IntentFactualLookup, RequiresFactualAccuracy: true}
	d := router.Route(qc, 0)

	assert.Equal(t, models.ModePureLLM, d.Mode)
	assert.Equal(t, "no_documents_available", d.Reason)
	// 0.90 * 0.7 = 0.63
	assert.InDelta(t, 0.63, d.Confidence, 1e-9)
	assert.InDelta(t, 0.0, d.DocumentWeight, 1e-9)
	assert.InDelta(t, 1.0, d.LLMWeight, 1e-9)
	assert.Empty(t, d.FallbackChain)
}

func TestModeRouter_Route_PureLLMUnaffectedByEmptyCorpus(t *testing.T) {
	router := NewModeRouter()

	qc := models.QueryCharacteristics{Intent: models.IntentConversational, ConversationDepth: 0}
	d := router.Route(qc, 0)

	assert.Equal(t, models.ModePureLLM, d.Mode)
	assert.Equal(t, "shallow_conversational", d.Reason)
	assert.InDelta(t, 0.90, d.Confidence, 1e-9)
}

func TestModeRouter_Route_WeightsAndFallbackChain(t *testing.T) {
	router := NewModeRouter()

	qc := models.QueryCharacteristics{Intent: models.IntentFactualLookup, RequiresFactualAccuracy: true}
	d := router.Route(qc, 100)

	assert.InDelta(t, 0.7, d.DocumentWeight, 1e-9)
	assert.InDelta(t, 0.3, d.LLMWeight, 1e-9)
	assert.Equal(t, []models.HybridMode{
		models.ModeHybridBalanced,
		models.ModeHybridLLMHeavy,
		models.ModePureLLM,
	}, d.FallbackChain)
}

func TestModeRouter_Route_RetrievalDepth(t *testing.T) {
	router := NewModeRouter()

	t.Run("document heavy deepens", func(t *testing.T) {
		qc := models.QueryCharacteristics{Intent: models.IntentFactualLookup, RequiresFactualAccuracy: true}
		d := router.Route(qc, 100)
		assert.Equal(t, 7, d.RetrievalDepth) // 5 + 2
	})

	t.Run("llm heavy narrows", func(t *testing.T) {
		qc := models.QueryCharacteristics{Intent: models.IntentCreativeGeneration}
		d := router.Route(qc, 100)
		assert.Equal(t, 3, d.RetrievalDepth) // 5 - 2
	})

	t.Run("complexity deepens and specificity narrows", func(t *testing.T) {
		qc := models.QueryCharacteristics{
			Intent:           models.IntentCreativeGeneration,
			ComplexityScore:  0.8,
			SpecificityScore: 0.75,
		}
		d := router.Route(qc, 100)
		assert.Equal(t, 4, d.RetrievalDepth) // 5 + 3 - 2 - 2
	})

	t.Run("corpus size caps depth", func(t *testing.T) {
		qc := models.QueryCharacteristics{Intent: models.IntentFactualLookup, RequiresFactualAccuracy: true}
		d := router.Route(qc, 3)
		assert.Equal(t, 3, d.RetrievalDepth)
	})

	t.Run("depth never drops below one", func(t *testing.T) {
		qc := models.QueryCharacteristics{
			Intent:           models.IntentCreativeGeneration,
			SpecificityScore: 0.9,
		}
		d := router.Route(qc, 100)
		assert.Equal(t, 1, d.RetrievalDepth) // 5 - 2 - 2
	})
}

func TestModeRouter_Route_SynthesisStrategy(t *testing.T) {
	router := NewModeRouter()

	t.Run("summarization uses extraction", func(t *testing.T) {
		d := router.Route(models.QueryCharacteristics{Intent: models.IntentSummarization}, 100)
		assert.Equal(t, models.StrategyExtractiveSummarization, d.SynthesisStrategy)
	})

	t.Run("comparison overrides the base strategy", func(t *testing.T) {
		d := router.Route(models.QueryCharacteristics{Intent: models.IntentComparison}, 100)
		assert.Equal(t, models.StrategyComparativeSynthesis, d.SynthesisStrategy)
	})

	t.Run("creative blending", func(t *testing.T) {
		d := router.Route(models.QueryCharacteristics{Intent: models.IntentCreativeGeneration}, 100)
		assert.Equal(t, models.StrategyCreativeBlending, d.SynthesisStrategy)
	})

	t.Run("pure llm cannot summarize an empty corpus", func(t *testing.T) {
		d := router.Route(models.QueryCharacteristics{Intent: models.IntentSummarization}, 0)
		assert.Equal(t, models.ModePureLLM, d.Mode)
		assert.Equal(t, models.StrategyLLMGeneration, d.SynthesisStrategy)
	})
}

func TestModeRouter_RecordPerformance(t *testing.T) {
	t.Run("moves the learned weight toward performance", func(t *testing.T) {
		router := NewModeRouter()
		router.RecordPerformance(models.ModeHybridBalanced, 1.0)

		// (1 - 0.1) * 0.5 + 0.1 * 2 * 1.0 = 0.65
		w := router.Weights()
		assert.InDelta(t, 0.65, w[models.ModeHybridBalanced], 1e-9)
		assert.InDelta(t, 0.5, w[models.ModeHybridLLMHeavy], 1e-9)
	})

	t.Run("performance is clamped to the unit interval", func(t *testing.T) {
		router := NewModeRouter()
		router.RecordPerformance(models.ModeHybridBalanced, 7.5)
		assert.InDelta(t, 0.65, router.Weights()[models.ModeHybridBalanced], 1e-9)

		router.RecordPerformance(models.ModeHybridLLMHeavy, -3)
		assert.InDelta(t, 0.45, router.Weights()[models.ModeHybridLLMHeavy], 1e-9)
	})

	t.Run("non-candidate modes are ignored", func(t *testing.T) {
		router := NewModeRouter()
		router.RecordPerformance(models.ModePureLLM, 1.0)

		_, ok := router.Weights()[models.ModePureLLM]
		assert.False(t, ok)
	})

	t.Run("learning shifts adaptive routing", func(t *testing.T) {
		router := NewModeRouter()
		router.RecordPerformance(models.ModeHybridLLMHeavy, 1.0)
		router.RecordPerformance(models.ModeHybridLLMHeavy, 1.0)

		d := router.Route(models.QueryCharacteristics{Intent: models.IntentRecommendation}, 100)
		require.Equal(t, models.ModeHybridLLMHeavy, d.Mode)
		// 0.65 then (0.9 * 0.65) + 0.2 = 0.785
		assert.InDelta(t, 0.785, d.Confidence, 1e-9)
	})
}

func TestModeRouter_Weights_ReturnsACopy(t *testing.T) {
	router := NewModeRouter()

	w := router.Weights()
	w[models.ModeHybridBalanced] = 99

	assert.InDelta(t, 0.5, router.Weights()[models.ModeHybridBalanced], 1e-9)
}
