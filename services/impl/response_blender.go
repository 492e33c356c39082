package impl

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/ragforge/models"
	"github.com/ragforge/services"
)

const (
	maxExtractedChunks   = 5
	maxKeySentences      = 5
	minKeySentenceLength = 20
	maxKeyFacts          = 3
	maxGroupKeyPoints    = 3
	interjectionLimit    = 200
)

type responseBlender struct{}

func NewResponseBlender() services.ResponseBlender {
	return &responseBlender{}
}

func (b *responseBlender) Blend(ctx context.Context, in models.BlendInput) (*models.BlendedResponse, error) {
	llmText := strings.TrimSpace(in.LLMResponse)
	if llmText == "" && len(in.Chunks) == 0 {
		return nil, models.NewBlendingError("nothing to blend: no llm response and no documents")
	}

	strategy := in.Decision.SynthesisStrategy
	var content string
	var used []models.RetrievedChunk

	switch strategy {
	case models.StrategyLLMGeneration:
		content = llmText
	case models.StrategyDocumentExtraction:
		content, used = documentExtraction(in.Chunks)
	case models.StrategyWeightedCombination:
		content, used = weightedCombination(llmText, in.Chunks, *in.Decision)
	case models.StrategyLLMEnhancedDocuments:
		content, used = llmEnhancedDocuments(llmText, in.Chunks)
	case models.StrategyExtractiveSummarization:
		content, used = extractiveSummarization(llmText, in.Chunks)
	case models.StrategyComparativeSynthesis:
		content, used = comparativeSynthesis(llmText, in.Chunks)
	case models.StrategyCreativeBlending:
		content, used = creativeBlending(llmText, in.Chunks)
	default:
		return nil, models.NewBlendingError(fmt.Sprintf("unknown synthesis strategy %q", strategy))
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, models.NewBlendingError(fmt.Sprintf("strategy %s produced empty output", strategy))
	}

	docContribution, llmContribution := estimateContributions(content, in.Chunks, llmText)

	return &models.BlendedResponse{
		Content:              content,
		Strategy:             strategy,
		SourcesUsed:          sourceIDs(used),
		DocumentContribution: docContribution,
		LLMContribution:      llmContribution,
		InformationDensity:   informationDensity(content),
		ConfidenceScore:      in.Decision.Confidence,
	}, nil
}

func documentExtraction(chunks []models.RetrievedChunk) (string, []models.RetrievedChunk) {
	top := topChunks(chunks, maxExtractedChunks)
	if len(top) == 0 {
		return "", nil
	}
	var sb strings.Builder
	for i, c := range top {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, strings.TrimSpace(c.Content))
	}
	return sb.String(), top
}

func weightedCombination(llmText string, chunks []models.RetrievedChunk, decision models.RoutingDecision) (string, []models.RetrievedChunk) {
	top := topChunks(chunks, maxExtractedChunks)

	switch {
	case decision.DocumentWeight >= 0.7 && len(top) > 0:
		var sb strings.Builder
		sb.WriteString("Based on the available documents:\n\n")
		for i, c := range top {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, strings.TrimSpace(c.Content))
		}
		if llmText != "" {
			sb.WriteString("\n")
			sb.WriteString(llmText)
		}
		return sb.String(), top

	case decision.LLMWeight >= 0.7 || len(top) == 0:
		if len(top) == 0 {
			return llmText, nil
		}
		var sb strings.Builder
		sb.WriteString(llmText)
		sb.WriteString("\n\n**Additional Context from Documents:**\n")
		for i, c := range top {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, strings.TrimSpace(c.Content))
		}
		return sb.String(), top

	default:
		// Near-even weights: interleave LLM paragraphs with document
		// interjections.
		if llmText == "" {
			return documentExtraction(chunks)
		}
		paragraphs := splitParagraphs(llmText)
		var sb strings.Builder
		for i, p := range paragraphs {
			if i > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(p)
			if i < len(top) {
				fmt.Fprintf(&sb, "\n\n[From documents: %s]", truncate(top[i].Content, interjectionLimit))
			}
		}
		return sb.String(), top
	}
}

func llmEnhancedDocuments(llmText string, chunks []models.RetrievedChunk) (string, []models.RetrievedChunk) {
	top := topChunks(chunks, maxExtractedChunks)
	if llmText == "" {
		return documentExtraction(chunks)
	}
	if len(top) == 0 {
		return llmText, nil
	}
	var sb strings.Builder
	sb.WriteString(llmText)
	sb.WriteString("\n\n**Supporting Information:**\n")
	for i, c := range top {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, strings.TrimSpace(c.Content))
	}
	return sb.String(), top
}

func extractiveSummarization(llmText string, chunks []models.RetrievedChunk) (string, []models.RetrievedChunk) {
	sentences := keySentences(chunks, maxKeySentences)
	if len(sentences) == 0 {
		return llmText, nil
	}
	var sb strings.Builder
	for i, s := range sentences {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, s)
	}
	if llmText != "" {
		sb.WriteString("\n**Analysis:**\n")
		sb.WriteString(llmText)
	}
	return sb.String(), topChunks(chunks, maxExtractedChunks)
}

func comparativeSynthesis(llmText string, chunks []models.RetrievedChunk) (string, []models.RetrievedChunk) {
	if len(chunks) == 0 {
		return llmText, nil
	}

	// Group by source document, preserving first-seen order.
	groups := make(map[string][]models.RetrievedChunk)
	var order []string
	for _, c := range chunks {
		if _, ok := groups[c.DocumentID]; !ok {
			order = append(order, c.DocumentID)
		}
		groups[c.DocumentID] = append(groups[c.DocumentID], c)
	}

	var sb strings.Builder
	for i, docID := range order {
		fmt.Fprintf(&sb, "**Source %d:**\n", i+1)
		points := keySentences(groups[docID], maxGroupKeyPoints)
		if len(points) == 0 {
			points = []string{truncate(groups[docID][0].Content, interjectionLimit)}
		}
		for _, p := range points {
			fmt.Fprintf(&sb, "- %s\n", p)
		}
		sb.WriteString("\n")
	}
	if llmText != "" {
		sb.WriteString("**Synthesis:**\n")
		sb.WriteString(llmText)
	}
	return sb.String(), chunks
}

func creativeBlending(llmText string, chunks []models.RetrievedChunk) (string, []models.RetrievedChunk) {
	if llmText == "" {
		return documentExtraction(chunks)
	}
	facts := factSentences(chunks, maxKeyFacts)
	if len(facts) == 0 {
		return llmText, nil
	}
	var sb strings.Builder
	sb.WriteString(llmText)
	sb.WriteString("\n\n**Key Facts:**\n")
	for _, f := range facts {
		fmt.Fprintf(&sb, "- %s\n", f)
	}
	return sb.String(), topChunks(chunks, maxExtractedChunks)
}

func topChunks(chunks []models.RetrievedChunk, n int) []models.RetrievedChunk {
	if len(chunks) <= n {
		return chunks
	}
	return chunks[:n]
}

func splitParagraphs(text string) []string {
	parts := strings.Split(text, "\n\n")
	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, strings.TrimSpace(p))
		}
	}
	if len(out) == 0 {
		return []string{text}
	}
	return out
}

func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// keySentences walks chunks in ranking order and keeps substantive sentences.
func keySentences(chunks []models.RetrievedChunk, max int) []string {
	var out []string
	for _, c := range chunks {
		for _, s := range splitSentences(c.Content) {
			if len(s) > minKeySentenceLength {
				out = append(out, s)
				if len(out) == max {
					return out
				}
			}
		}
	}
	return out
}

var copulas = []string{" is ", " are ", " was ", " were ", " has ", " have "}

// factSentences picks sentences that read like facts: digits or copulas.
func factSentences(chunks []models.RetrievedChunk, max int) []string {
	var out []string
	for _, c := range chunks {
		for _, s := range splitSentences(c.Content) {
			if len(s) <= minKeySentenceLength {
				continue
			}
			if strings.ContainsFunc(s, unicode.IsDigit) || containsAny(strings.ToLower(s), copulas) {
				out = append(out, s)
				if len(out) == max {
					return out
				}
			}
		}
	}
	return out
}

func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if len(s) <= limit {
		return s
	}
	return strings.TrimSpace(s[:limit]) + "..."
}

func sourceIDs(used []models.RetrievedChunk) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, c := range used {
		if c.DocumentID == "" || seen[c.DocumentID] {
			continue
		}
		seen[c.DocumentID] = true
		ids = append(ids, c.DocumentID)
	}
	return ids
}

func wordSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		set[w] = struct{}{}
	}
	return set
}

// estimateContributions measures word-set overlap of the blended text against
// the document corpus text and the LLM text, normalized to sum to one.
func estimateContributions(blended string, chunks []models.RetrievedChunk, llmText string) (float64, float64) {
	blendedSet := wordSet(blended)

	var docText strings.Builder
	for _, c := range chunks {
		docText.WriteString(c.Content)
		docText.WriteString(" ")
	}
	docSet := wordSet(docText.String())
	llmSet := wordSet(llmText)

	docOverlap := float64(intersectionSize(blendedSet, docSet))
	llmOverlap := float64(intersectionSize(blendedSet, llmSet))

	total := docOverlap + llmOverlap
	if total == 0 {
		if llmText != "" {
			return 0, 1
		}
		return 1, 0
	}
	return docOverlap / total, llmOverlap / total
}

func intersectionSize(a, b map[string]struct{}) int {
	if len(b) < len(a) {
		a, b = b, a
	}
	n := 0
	for w := range a {
		if _, ok := b[w]; ok {
			n++
		}
	}
	return n
}

var listMarkers = []string{"\n- ", "\n* ", "\n1.", "•"}

func informationDensity(text string) models.InformationDensity {
	score := 0.0
	if len(strings.Fields(text)) > 200 {
		score += 0.3
	}
	if strings.ContainsFunc(text, unicode.IsDigit) {
		score += 0.2
	}
	if strings.HasPrefix(text, "1.") || containsAny(text, listMarkers) {
		score += 0.2
	}
	if containsAny(strings.ToLower(text), technicalTerms) {
		score += 0.3
	}

	switch {
	case score < 0.2:
		return models.DensityVeryLow
	case score < 0.4:
		return models.DensityLow
	case score < 0.6:
		return models.DensityMedium
	case score < 0.8:
		return models.DensityHigh
	default:
		return models.DensityVeryHigh
	}
}
