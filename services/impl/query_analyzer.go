package impl

import (
	"math"
	"strings"
	"unicode"

	"github.com/ragforge/models"
	"github.com/ragforge/services"
)

// Pattern bags for intent classification. The intent with the most substring
// matches wins; ties go to the earlier entry in intentOrder.
var intentPatterns = map[models.QueryIntent][]string{
	models.IntentFactualLookup: {
		"what is", "what are", "who is", "who was", "when did", "when was",
		"where is", "how many", "how much", "define", "definition of", "which",
	},
	models.IntentAnalyticalReasoning: {
		"why", "analyze", "analysis", "evaluate", "implication", "impact of",
		"reasoning", "root cause", "trade-off", "tradeoff",
	},
	models.IntentCreativeGeneration: {
		"write a", "write me", "create a", "generate a", "compose", "draft",
		"imagine", "story", "poem", "brainstorm",
	},
	models.IntentConversational: {
		"hello", "hi there", "hey", "how are you", "good morning",
		"good afternoon", "thanks", "thank you", "goodbye", "nice to",
	},
	models.IntentClarification: {
		"what do you mean", "clarify", "don't understand", "do not understand",
		"can you explain that", "rephrase", "confused",
	},
	models.IntentSummarization: {
		"summarize", "summarise", "summary", "tl;dr", "overview of",
		"key points", "main points", "recap", "in short",
	},
	models.IntentComparison: {
		"compare", "comparison", "versus", " vs ", "difference between",
		"differences", "better than", "pros and cons", "contrast",
	},
	models.IntentRecommendation: {
		"recommend", "suggest", "should i", "should we", "best way",
		"advice", "what would you",
	},
	models.IntentTechnicalExplanation: {
		"how does", "how do", "how to", "implement", "architecture",
		"algorithm", "internals", "under the hood", "step by step",
	},
	models.IntentFollowUp: {
		"what about", "and then", "tell me more", "more about", "also,",
		"additionally", "furthermore", "expand on",
	},
}

// intentOrder fixes tie-breaking so classification is deterministic.
var intentOrder = []models.QueryIntent{
	models.IntentConversational,
	models.IntentClarification,
	models.IntentSummarization,
	models.IntentComparison,
	models.IntentCreativeGeneration,
	models.IntentRecommendation,
	models.IntentTechnicalExplanation,
	models.IntentAnalyticalReasoning,
	models.IntentFollowUp,
	models.IntentFactualLookup,
}

var technicalTerms = []string{
	"api", "database", "server", "algorithm", "function", "protocol",
	"latency", "schema", "deployment", "kubernetes", "docker", "endpoint",
	"authentication", "encryption", "compiler", "runtime", "index",
	"throughput", "cache", "query",
}

var temporalMarkers = []string{
	"today", "yesterday", "tomorrow", "now", "currently", "current",
	"recent", "recently", "latest", "this week", "this month", "this year",
	"last week", "last month", "last year",
}

var conditionalMarkers = []string{"if ", "unless", "depending on", "in case", "provided that"}

var causalMarkers = []string{"because", "therefore", "due to", "leads to", "causes", "results in", "as a result"}

var nestedClauseMarkers = []string{" which ", " that ", " although ", " whereas ", " while ", " whose "}

var factualAccuracyMarkers = []string{
	"according to", "documentation", "the document", "exact", "exactly",
	"cite", "source", "official", "specification",
}

var creativeMarkers = []string{"write", "create", "imagine", "story", "poem", "brainstorm", "invent"}

// specificDeterminers are counted per occurrence for the specificity score.
var specificDeterminers = []string{"the", "this", "that", "these", "those", "specific"}

type queryAnalyzer struct{}

func NewQueryAnalyzer() services.QueryAnalyzer {
	return &queryAnalyzer{}
}

func (a *queryAnalyzer) Analyze(query string, history []models.ConversationTurn, profile *models.UserProfile) models.QueryCharacteristics {
	lower := strings.ToLower(query)
	words := strings.Fields(query)

	intent := classifyIntent(lower)

	qc := models.QueryCharacteristics{
		Intent:            intent,
		ComplexityScore:   complexityScore(lower),
		SpecificityScore:  specificityScore(query, words),
		TemporalRelevance: temporalRelevance(lower),
		DomainSpecificity: domainSpecificity(lower),
		ConversationDepth: len(history),
		UserExpertise:     expertiseLevel(profile),
	}

	qc.RequiresFactualAccuracy = requiresFactualAccuracy(lower, intent, qc.DomainSpecificity)
	qc.RequiresCreativeSynthesis = intent == models.IntentCreativeGeneration ||
		containsAny(lower, creativeMarkers)

	return qc
}

func classifyIntent(lower string) models.QueryIntent {
	best := models.IntentFactualLookup
	bestMatches := 0
	for _, intent := range intentOrder {
		matches := 0
		for _, pattern := range intentPatterns[intent] {
			if strings.Contains(lower, pattern) {
				matches++
			}
		}
		if matches > bestMatches {
			bestMatches = matches
			best = intent
		}
	}
	return best
}

func complexityScore(lower string) float64 {
	score := 0.0
	if isMultiPart(lower) {
		score += 0.30
	}
	if containsAny(lower, nestedClauseMarkers) {
		score += 0.20
	}
	if containsAny(lower, technicalTerms) {
		score += 0.20
	}
	if containsAny(lower, conditionalMarkers) {
		score += 0.15
	}
	if containsAny(lower, temporalMarkers) {
		score += 0.10
	}
	if containsAny(lower, causalMarkers) {
		score += 0.15
	}
	return math.Min(score, 1)
}

func isMultiPart(lower string) bool {
	if strings.Count(lower, "?") > 1 {
		return true
	}
	if strings.Contains(lower, ";") {
		return true
	}
	return strings.Contains(lower, " and also ") || strings.Contains(lower, " as well as ")
}

// specificityScore counts concrete signals: digit tokens, quoted substrings,
// capitalized words (sentence-initial included), specific determiners, and a
// bonus for queries over ten words.
func specificityScore(query string, words []string) float64 {
	count := 0

	for _, w := range words {
		if strings.ContainsFunc(w, unicode.IsDigit) {
			count++
		}
	}

	count += strings.Count(query, `"`) / 2

	for _, w := range words {
		r := []rune(w)
		if len(r) > 0 && unicode.IsUpper(r[0]) {
			count++
		}
	}

	for _, w := range words {
		trimmed := strings.ToLower(strings.Trim(w, ".,!?;:"))
		for _, det := range specificDeterminers {
			if trimmed == det {
				count++
				break
			}
		}
	}

	if len(words) > 10 {
		count++
	}

	return math.Min(float64(count)/5, 1)
}

func temporalRelevance(lower string) float64 {
	markers := 0
	for _, m := range temporalMarkers {
		if strings.Contains(lower, m) {
			markers++
		}
	}
	return math.Min(0.35*float64(markers), 1)
}

func domainSpecificity(lower string) float64 {
	matches := 0
	for _, term := range technicalTerms {
		if strings.Contains(lower, term) {
			matches++
		}
	}
	return math.Min(float64(matches)/4, 1)
}

func requiresFactualAccuracy(lower string, intent models.QueryIntent, domain float64) bool {
	if containsAny(lower, factualAccuracyMarkers) {
		return true
	}
	switch intent {
	case models.IntentFactualLookup, models.IntentTechnicalExplanation, models.IntentComparison:
		return domain > 0.2
	}
	return false
}

func expertiseLevel(profile *models.UserProfile) float64 {
	if profile == nil {
		return 0.5
	}
	switch strings.ToLower(profile.Expertise) {
	case "beginner", "novice":
		return 0.2
	case "intermediate":
		return 0.5
	case "advanced":
		return 0.7
	case "expert":
		return 0.9
	}
	return 0.5
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
