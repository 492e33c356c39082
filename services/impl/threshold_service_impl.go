package impl

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/ragforge/models"
	"github.com/ragforge/services"
)

// Similarity score distributions differ wildly between embedding providers:
// openai cosine scores cluster high, gemini scores sit near zero. The seed
// table encodes per-provider starting points; everything else is learned from
// logged retrieval performance.

const (
	recommendationMinSamples = 10
	recommendationMinDelta   = 0.05
	recommendationMaxConf    = 0.95
	zeroResultRateLimit      = 0.30
	geminiThresholdCeiling   = 0.1
)

// Content-type deltas are defined against a 0.10 adjustment step and scale
// proportionally for providers with finer steps.
var baseContentAdjustments = map[string]float64{
	string(models.ContentTypeTechnical):      0.05,
	string(models.ContentTypeConversational): -0.05,
	string(models.ContentTypeCode):           0.10,
	string(models.ContentTypeLegal):          0.08,
}

type thresholdServiceImpl struct {
	logs    services.PerformanceLogStore
	configs map[string]models.ProviderThresholdConfig
	now     func() time.Time
}

func NewThresholdService(logs services.PerformanceLogStore) services.ThresholdService {
	return &thresholdServiceImpl{
		logs:    logs,
		configs: seedThresholdConfigs(),
		now:     time.Now,
	}
}

func seedThresholdConfigs() map[string]models.ProviderThresholdConfig {
	openai := models.ProviderThresholdConfig{
		Provider:           "openai",
		DefaultThreshold:   0.70,
		MinThreshold:       0.30,
		MaxThreshold:       0.95,
		AdjustmentStep:     0.10,
		RetryThresholds:    []*float64{floatPtr(0.7), floatPtr(0.5), floatPtr(0.3), floatPtr(0.1)},
		EmbeddingDimension: 1536,
		OptimalRangeLow:    0.50,
		OptimalRangeHigh:   0.80,
	}
	gemini := models.ProviderThresholdConfig{
		Provider:           "gemini",
		DefaultThreshold:   0.01,
		MinThreshold:       0.001,
		MaxThreshold:       0.50,
		AdjustmentStep:     0.01,
		RetryThresholds:    []*float64{floatPtr(0.01), floatPtr(0.005), floatPtr(0.001), nil},
		EmbeddingDimension: 768,
		OptimalRangeLow:    0.001,
		OptimalRangeHigh:   0.05,
	}
	anthropic := models.ProviderThresholdConfig{
		Provider:           "anthropic",
		DefaultThreshold:   0.60,
		MinThreshold:       0.20,
		MaxThreshold:       0.90,
		AdjustmentStep:     0.10,
		RetryThresholds:    []*float64{floatPtr(0.6), floatPtr(0.4), floatPtr(0.2), floatPtr(0.1)},
		EmbeddingDimension: 1024,
		OptimalRangeLow:    0.40,
		OptimalRangeHigh:   0.75,
	}
	openrouter := openai
	openrouter.Provider = "openrouter"
	openrouter.RetryThresholds = []*float64{floatPtr(0.7), floatPtr(0.5), floatPtr(0.3), floatPtr(0.1)}

	configs := map[string]models.ProviderThresholdConfig{
		"openai":     openai,
		"gemini":     gemini,
		"anthropic":  anthropic,
		"openrouter": openrouter,
	}
	for name, cfg := range configs {
		cfg.ContentTypeAdjustments = scaledContentAdjustments(cfg.AdjustmentStep)
		configs[name] = cfg
	}
	return configs
}

func scaledContentAdjustments(step float64) map[string]float64 {
	scaled := make(map[string]float64, len(baseContentAdjustments))
	for tag, delta := range baseContentAdjustments {
		scaled[tag] = roundThreshold(delta * (step / 0.10))
	}
	return scaled
}

func (s *thresholdServiceImpl) GetProviderConfig(provider string) models.ProviderThresholdConfig {
	if cfg, ok := s.configs[provider]; ok {
		return cfg
	}
	// Unknown providers inherit the openai profile.
	cfg := s.configs["openai"]
	cfg.Provider = provider
	return cfg
}

func (s *thresholdServiceImpl) GetOptimalThreshold(provider, model string, contentType models.ContentType, corpusSize int, avgDocLength float64) float64 {
	cfg := s.GetProviderConfig(provider)
	t := cfg.DefaultThreshold

	if delta, ok := cfg.ContentTypeAdjustments[string(contentType)]; ok {
		t += delta
	}

	// Larger corpora can afford stricter matching; long documents dilute
	// per-chunk similarity and need looser matching.
	if corpusSize > 100 {
		t += 0.02
	}
	if corpusSize > 1000 {
		t += 0.05
	}
	if avgDocLength > 2000 {
		t -= 0.02
	}
	if avgDocLength > 5000 {
		t -= 0.05
	}

	t = clampThreshold(t, cfg.MinThreshold, cfg.MaxThreshold)

	if provider == "gemini" && t > geminiThresholdCeiling {
		log.Printf("[THRESHOLD] gemini threshold %.3f exceeds recommended ceiling %.2f (model=%s)", t, geminiThresholdCeiling, model)
	}

	return t
}

func (s *thresholdServiceImpl) GetRetryThresholds(provider string, initial *float64) []*float64 {
	cfg := s.GetProviderConfig(provider)

	if initial == nil {
		out := make([]*float64, len(cfg.RetryThresholds))
		copy(out, cfg.RetryThresholds)
		return out
	}

	if provider == "gemini" && *initial > geminiThresholdCeiling {
		log.Printf("[THRESHOLD] custom gemini threshold %.3f exceeds recommended ceiling %.2f", *initial, geminiThresholdCeiling)
	}

	// Custom cascade: step down from the caller's threshold to the provider
	// minimum, then a final unbounded attempt.
	var out []*float64
	t := *initial
	for t >= cfg.MinThreshold-1e-9 {
		out = append(out, floatPtr(roundThreshold(t)))
		t -= cfg.AdjustmentStep
	}
	if len(out) == 0 {
		out = append(out, floatPtr(roundThreshold(*initial)))
	}
	out = append(out, nil)
	return out
}

func (s *thresholdServiceImpl) LogPerformance(ctx context.Context, entry models.ThresholdPerformanceLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	if err := s.logs.InsertPerformanceLog(ctx, &entry); err != nil {
		return fmt.Errorf("failed to log threshold performance: %w", err)
	}
	return nil
}

// thresholdGroup accumulates stats for one threshold value observed in the
// performance log.
type thresholdGroup struct {
	threshold   *float64
	samples     int
	successes   int
	zeroResults int
	sumResults  float64
	sumScore    float64
	sumTime     float64
}

func (g *thresholdGroup) score() float64 {
	n := float64(g.samples)
	successRate := float64(g.successes) / n
	avgResults := g.sumResults / n
	avgScore := g.sumScore / n
	avgTime := g.sumTime / n
	return 0.4*successRate +
		0.3*math.Min(avgResults/5, 1) +
		0.2*avgScore +
		0.1*math.Max(0, 1-avgTime/5)
}

func (s *thresholdServiceImpl) GetRecommendations(ctx context.Context, botID uuid.UUID, provider, model string, days int) ([]models.ThresholdRecommendation, error) {
	if days <= 0 {
		days = 7
	}
	since := s.now().AddDate(0, 0, -days)

	entries, err := s.logs.ListPerformanceLogs(ctx, botID, provider, model, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load performance logs: %w", err)
	}
	if len(entries) < recommendationMinSamples {
		return nil, nil
	}

	cfg := s.GetProviderConfig(provider)

	groups := make(map[string]*thresholdGroup)
	totalZero := 0
	for _, e := range entries {
		key := "none"
		if e.ThresholdUsed != nil {
			key = fmt.Sprintf("%.3f", *e.ThresholdUsed)
		}
		g, ok := groups[key]
		if !ok {
			g = &thresholdGroup{threshold: e.ThresholdUsed}
			groups[key] = g
		}
		g.samples++
		if e.Success {
			g.successes++
		}
		if e.ResultsFound == 0 {
			totalZero++
		}
		g.sumResults += float64(e.ResultsFound)
		g.sumScore += e.AvgScore
		g.sumTime += e.ProcessingTime
	}

	var best *thresholdGroup
	bestScore := -1.0
	for _, g := range groups {
		// The unbounded ("no threshold") group has no numeric value to
		// recommend; the zero-result rule below covers that case.
		if g.threshold == nil {
			continue
		}
		if sc := g.score(); sc > bestScore {
			bestScore = sc
			best = g
		}
	}

	confidence := math.Min(recommendationMaxConf, 0.5+float64(len(entries))/100)
	now := s.now()

	var recs []models.ThresholdRecommendation
	if best != nil && math.Abs(*best.threshold-cfg.DefaultThreshold) > recommendationMinDelta {
		recs = append(recs, models.ThresholdRecommendation{
			BotID:                botID,
			Provider:             provider,
			CurrentThreshold:     cfg.DefaultThreshold,
			RecommendedThreshold: *best.threshold,
			Confidence:           confidence,
			SampleCount:          best.samples,
			Reason: fmt.Sprintf("threshold %.3f scored %.3f over %d samples in the last %d days",
				*best.threshold, bestScore, best.samples, days),
			CreatedAt: now,
		})
		log.Printf("[THRESHOLD] bot=%s provider=%s recommending %.3f over default %.3f (score=%.3f samples=%d)",
			botID, provider, *best.threshold, cfg.DefaultThreshold, bestScore, best.samples)
	}

	if zeroRate := float64(totalZero) / float64(len(entries)); zeroRate > zeroResultRateLimit {
		lowered := clampThreshold(cfg.DefaultThreshold-cfg.AdjustmentStep, cfg.MinThreshold, cfg.MaxThreshold)
		recs = append(recs, models.ThresholdRecommendation{
			BotID:                botID,
			Provider:             provider,
			CurrentThreshold:     cfg.DefaultThreshold,
			RecommendedThreshold: lowered,
			Confidence:           confidence,
			SampleCount:          len(entries),
			Reason: fmt.Sprintf("%.0f%% of queries returned zero results; lower the threshold",
				zeroRate*100),
			CreatedAt: now,
		})
	}

	return recs, nil
}

func clampThreshold(t, min, max float64) float64 {
	if t < min {
		return min
	}
	if t > max {
		return max
	}
	return roundThreshold(t)
}

func roundThreshold(t float64) float64 {
	return math.Round(t*1000) / 1000
}

func floatPtr(v float64) *float64 {
	return &v
}
