package models

import (
	"time"

	"github.com/google/uuid"
)

// QueryIntent is the analyzer's pattern-bag classification of a query.
type QueryIntent string

const (
	IntentFactualLookup        QueryIntent = "factual_lookup"
	IntentAnalyticalReasoning  QueryIntent = "analytical_reasoning"
	IntentCreativeGeneration   QueryIntent = "creative_generation"
	IntentConversational       QueryIntent = "conversational"
	IntentClarification        QueryIntent = "clarification"
	IntentSummarization        QueryIntent = "summarization"
	IntentComparison           QueryIntent = "comparison"
	IntentRecommendation       QueryIntent = "recommendation"
	IntentTechnicalExplanation QueryIntent = "technical_explanation"
	IntentFollowUp             QueryIntent = "follow_up"
)

// HybridMode selects how a query's answer is assembled from the LLM and the
// document corpus.
type HybridMode string

const (
	ModePureLLM               HybridMode = "pure_llm"
	ModeDocumentOnly          HybridMode = "document_only"
	ModeHybridBalanced        HybridMode = "hybrid_balanced"
	ModeHybridLLMHeavy        HybridMode = "hybrid_llm_heavy"
	ModeHybridDocumentHeavy   HybridMode = "hybrid_document_heavy"
	ModeAdaptive              HybridMode = "adaptive"
	ModeContextualEnhancement HybridMode = "contextual_enhancement"
	ModeFallbackCascade       HybridMode = "fallback_cascade"
)

// SynthesisStrategy names one of the sealed blending strategies.
type SynthesisStrategy string

const (
	StrategyLLMGeneration           SynthesisStrategy = "llm_generation"
	StrategyDocumentExtraction      SynthesisStrategy = "document_extraction"
	StrategyWeightedCombination     SynthesisStrategy = "weighted_combination"
	StrategyLLMEnhancedDocuments    SynthesisStrategy = "llm_enhanced_documents"
	StrategyExtractiveSummarization SynthesisStrategy = "extractive_summarization"
	StrategyComparativeSynthesis    SynthesisStrategy = "comparative_synthesis"
	StrategyCreativeBlending        SynthesisStrategy = "creative_blending"
)

// InformationDensity bands the blended response's information content.
type InformationDensity string

const (
	DensityVeryLow  InformationDensity = "VERY_LOW"
	DensityLow      InformationDensity = "LOW"
	DensityMedium   InformationDensity = "MEDIUM"
	DensityHigh     InformationDensity = "HIGH"
	DensityVeryHigh InformationDensity = "VERY_HIGH"
)

// DensityRank orders density bands for threshold comparisons.
func DensityRank(d InformationDensity) int {
	switch d {
	case DensityVeryLow:
		return 0
	case DensityLow:
		return 1
	case DensityMedium:
		return 2
	case DensityHigh:
		return 3
	case DensityVeryHigh:
		return 4
	default:
		return 0
	}
}

// QueryCharacteristics is the analyzer output driving routing and caching.
type QueryCharacteristics struct {
	Intent                    QueryIntent `json:"intent"`
	ComplexityScore           float64     `json:"complexity_score"`
	SpecificityScore          float64     `json:"specificity_score"`
	TemporalRelevance         float64     `json:"temporal_relevance"`
	DomainSpecificity         float64     `json:"domain_specificity"`
	RequiresFactualAccuracy   bool        `json:"requires_factual_accuracy"`
	RequiresCreativeSynthesis bool        `json:"requires_creative_synthesis"`
	ConversationDepth         int         `json:"conversation_depth"`
	UserExpertise             float64     `json:"user_expertise"`
}

// RoutingDecision is the router's verdict for one query.
type RoutingDecision struct {
	Mode              HybridMode        `json:"mode"`
	Confidence        float64           `json:"confidence"`
	DocumentWeight    float64           `json:"document_weight"`
	LLMWeight         float64           `json:"llm_weight"`
	RetrievalDepth    int               `json:"retrieval_depth"`
	SynthesisStrategy SynthesisStrategy `json:"synthesis_strategy"`
	FallbackChain     []HybridMode      `json:"fallback_chain"`
	Reason            string            `json:"reason"`
}

// ConversationTurn is one exchange in the rolling history.
type ConversationTurn struct {
	Role    string `json:"role"` // user or assistant
	Content string `json:"content"`
}

// UserProfile carries optional caller hints for analysis.
type UserProfile struct {
	Expertise string `json:"expertise,omitempty"` // beginner, intermediate, advanced, expert
}

// HybridQueryRequest is the AnswerQuery input.
type HybridQueryRequest struct {
	BotID       uuid.UUID          `json:"bot_id"`
	UserID      uuid.UUID          `json:"user_id"`
	Query       string             `json:"query" validate:"required,min=1"`
	History     []ConversationTurn `json:"history,omitempty"`
	UserProfile *UserProfile       `json:"user_profile,omitempty"`
}

// BlendInput feeds one blending pass. LLMResponse may be empty when the mode
// skipped generation; Chunks may be empty when retrieval found nothing.
type BlendInput struct {
	Query       string           `json:"query"`
	LLMResponse string           `json:"llm_response"`
	Chunks      []RetrievedChunk `json:"chunks"`
	Decision    *RoutingDecision `json:"decision"`
}

// BlendedResponse is the blender output before orchestrator bookkeeping.
type BlendedResponse struct {
	Content              string             `json:"content"`
	Strategy             SynthesisStrategy  `json:"strategy"`
	SourcesUsed          []string           `json:"sources_used"`
	DocumentContribution float64            `json:"document_contribution"`
	LLMContribution      float64            `json:"llm_contribution"`
	InformationDensity   InformationDensity `json:"information_density"`
	ConfidenceScore      float64            `json:"confidence_score"`
}

// HybridResponse is the public AnswerQuery result.
type HybridResponse struct {
	Content              string                 `json:"content"`
	ModeUsed             HybridMode             `json:"mode_used"`
	SourcesUsed          []string               `json:"sources_used"`
	ConfidenceScore      float64                `json:"confidence_score"`
	InformationDensity   InformationDensity     `json:"information_density"`
	ProcessingTime       float64                `json:"processing_time"`
	DocumentContribution float64                `json:"document_contribution"`
	LLMContribution      float64                `json:"llm_contribution"`
	Metadata             map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt            time.Time              `json:"created_at"`
}
