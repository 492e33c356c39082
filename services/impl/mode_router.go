package impl

import (
	"log"
	"math"
	"sync"

	"github.com/ragforge/models"
	"github.com/ragforge/services"
)

const (
	learningRate       = 0.1
	baseRetrievalDepth = 5
)

// modeWeights maps each concrete mode to (document_weight, llm_weight).
var modeWeights = map[models.HybridMode][2]float64{
	models.ModePureLLM:               {0.0, 1.0},
	models.ModeDocumentOnly:          {1.0, 0.0},
	models.ModeHybridBalanced:        {0.5, 0.5},
	models.ModeHybridLLMHeavy:        {0.3, 0.7},
	models.ModeHybridDocumentHeavy:   {0.7, 0.3},
	models.ModeContextualEnhancement: {0.6, 0.4},
	models.ModeFallbackCascade:       {0.4, 0.6},
}

// fallbackChains lists the modes tried, in order, when a mode produces
// nothing usable.
var fallbackChains = map[models.HybridMode][]models.HybridMode{
	models.ModeHybridDocumentHeavy:   {models.ModeHybridBalanced, models.ModeHybridLLMHeavy, models.ModePureLLM},
	models.ModeHybridBalanced:        {models.ModeHybridLLMHeavy, models.ModePureLLM},
	models.ModeHybridLLMHeavy:        {models.ModePureLLM},
	models.ModeDocumentOnly:          {models.ModeHybridBalanced, models.ModePureLLM},
	models.ModeContextualEnhancement: {models.ModeHybridBalanced, models.ModePureLLM},
	models.ModeFallbackCascade:       {models.ModeHybridLLMHeavy, models.ModePureLLM},
	models.ModePureLLM:               {},
}

// baseStrategies maps modes to their default synthesis strategy; intent
// overrides are applied afterwards.
var baseStrategies = map[models.HybridMode]models.SynthesisStrategy{
	models.ModePureLLM:               models.StrategyLLMGeneration,
	models.ModeDocumentOnly:          models.StrategyDocumentExtraction,
	models.ModeHybridBalanced:        models.StrategyWeightedCombination,
	models.ModeHybridDocumentHeavy:   models.StrategyWeightedCombination,
	models.ModeFallbackCascade:       models.StrategyWeightedCombination,
	models.ModeHybridLLMHeavy:        models.StrategyLLMEnhancedDocuments,
	models.ModeContextualEnhancement: models.StrategyExtractiveSummarization,
}

// adaptiveCandidates are the modes the adaptive rule arbitrates between with
// learned weights.
var adaptiveCandidates = []models.HybridMode{
	models.ModeHybridBalanced,
	models.ModeHybridLLMHeavy,
	models.ModeHybridDocumentHeavy,
	models.ModeContextualEnhancement,
}

type modeRouter struct {
	mu      sync.RWMutex
	weights map[models.HybridMode]float64
}

func NewModeRouter() services.ModeRouter {
	weights := make(map[models.HybridMode]float64, len(adaptiveCandidates))
	for _, m := range adaptiveCandidates {
		weights[m] = 0.5
	}
	return &modeRouter{weights: weights}
}

func (r *modeRouter) Route(qc models.QueryCharacteristics, documentCount int) models.RoutingDecision {
	mode, confidence, reason := r.applyRules(qc)

	// Document modes are useless over an empty corpus.
	if documentCount == 0 && modeWeights[mode][0] > 0 {
		log.Printf("[ROUTER] degrading %s to %s: no documents available", mode, models.ModePureLLM)
		mode = models.ModePureLLM
		confidence = math.Round(confidence*0.7*100) / 100
		reason = "no_documents_available"
	}

	weights := modeWeights[mode]
	decision := models.RoutingDecision{
		Mode:              mode,
		Confidence:        confidence,
		DocumentWeight:    weights[0],
		LLMWeight:         weights[1],
		RetrievalDepth:    retrievalDepth(qc, mode, documentCount),
		SynthesisStrategy: strategyFor(mode, qc.Intent),
		FallbackChain:     fallbackChains[mode],
		Reason:            reason,
	}
	return decision
}

func (r *modeRouter) applyRules(qc models.QueryCharacteristics) (models.HybridMode, float64, string) {
	switch {
	case qc.Intent == models.IntentFactualLookup && qc.RequiresFactualAccuracy:
		return models.ModeHybridDocumentHeavy, 0.90, "factual_lookup_with_accuracy"
	case qc.Intent == models.IntentCreativeGeneration:
		return models.ModeHybridLLMHeavy, 0.85, "creative_generation"
	case qc.ComplexityScore > 0.7 && qc.DomainSpecificity > 0.5:
		return models.ModeHybridBalanced, 0.80, "complex_domain_query"
	case qc.Intent == models.IntentConversational && qc.ConversationDepth < 2:
		return models.ModePureLLM, 0.90, "shallow_conversational"
	case qc.Intent == models.IntentSummarization:
		return models.ModeContextualEnhancement, 0.85, "summarization"
	case qc.TemporalRelevance > 0.7:
		return models.ModeHybridLLMHeavy, 0.75, "temporal_query"
	case qc.SpecificityScore > 0.8:
		return models.ModeHybridDocumentHeavy, 0.80, "high_specificity"
	}

	mode, weight := r.bestAdaptiveMode()
	confidence := math.Min(0.95, math.Max(0.5, weight))
	return mode, confidence, "adaptive_learned_weights"
}

func (r *modeRouter) bestAdaptiveMode() (models.HybridMode, float64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	best := adaptiveCandidates[0]
	bestWeight := r.weights[best]
	for _, m := range adaptiveCandidates[1:] {
		if r.weights[m] > bestWeight {
			best = m
			bestWeight = r.weights[m]
		}
	}
	return best, bestWeight
}

func retrievalDepth(qc models.QueryCharacteristics, mode models.HybridMode, documentCount int) int {
	depth := baseRetrievalDepth
	if qc.ComplexityScore > 0.7 {
		depth += 3
	}
	if qc.SpecificityScore > 0.7 {
		depth -= 2
	}
	switch mode {
	case models.ModeHybridDocumentHeavy:
		depth += 2
	case models.ModeHybridLLMHeavy:
		depth -= 2
	}
	if documentCount > 0 && depth > documentCount {
		depth = documentCount
	}
	if depth < 1 {
		depth = 1
	}
	return depth
}

func strategyFor(mode models.HybridMode, intent models.QueryIntent) models.SynthesisStrategy {
	strategy, ok := baseStrategies[mode]
	if !ok {
		strategy = models.StrategyWeightedCombination
	}
	switch intent {
	case models.IntentSummarization:
		strategy = models.StrategyExtractiveSummarization
	case models.IntentComparison:
		strategy = models.StrategyComparativeSynthesis
	case models.IntentCreativeGeneration:
		strategy = models.StrategyCreativeBlending
	}
	if mode == models.ModePureLLM && intent != models.IntentCreativeGeneration {
		// Without retrieval there is nothing to summarize or compare.
		strategy = models.StrategyLLMGeneration
	}
	return strategy
}

func (r *modeRouter) RecordPerformance(mode models.HybridMode, performance float64) {
	if performance < 0 {
		performance = 0
	} else if performance > 1 {
		performance = 1
	}
	// Adaptive learning only tracks the candidate modes.
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.weights[mode]
	if !ok {
		return
	}
	r.weights[mode] = (1-learningRate)*w + learningRate*2*performance
}

func (r *modeRouter) Weights() map[models.HybridMode]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[models.HybridMode]float64, len(r.weights))
	for m, w := range r.weights {
		out[m] = w
	}
	return out
}
