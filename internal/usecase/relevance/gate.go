package relevance

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"content-radar/internal/domain"
	"content-radar/internal/infra/metrics"
)

// Evaluation решение шлюза по одному кандидату.
type Evaluation struct {
	Accept   bool
	Analysis domain.Analysis
}

// Gate совмещает поиск ключевых слов с вердиктом анализатора.
// Ошибки анализатора не покидают шлюз: включается детерминированная эвристика.
type Gate struct {
	analyzer domain.Analyzer
	log      zerolog.Logger
}

// NewGate создаёт шлюз. Анализатор может быть nil, тогда решают ключевые слова.
func NewGate(analyzer domain.Analyzer, logger zerolog.Logger) *Gate {
	return &Gate{analyzer: analyzer, log: logger}
}

const (
	baseConfidence       = 0.3
	perKeywordConfidence = 0.1
	maxConfidence        = 0.95
)

// Evaluate оценивает текст кандидата по набору ключевых слов.
func (g *Gate) Evaluate(ctx context.Context, text string, keywords []string) Evaluation {
	matched := MatchKeywords(text, keywords)
	if len(matched) == 0 {
		return Evaluation{Analysis: domain.Analysis{
			Sentiment:       lexicalSentiment(text),
			MatchedKeywords: matched,
		}}
	}

	analysis := domain.Analysis{MatchedKeywords: matched}
	accept := true

	if g.analyzer != nil {
		verdict, err := g.analyzer.Analyze(ctx, text, keywords)
		if err == nil {
			analysis.Sentiment = verdict.Sentiment
			analysis.Confidence = clamp(verdict.Confidence)
			if !verdict.Relevant {
				accept = false
			}
			return Evaluation{Accept: accept, Analysis: analysis}
		}
		g.log.Warn().Err(err).Msg("relevance: анализатор недоступен, переключаемся на эвристику")
		metrics.AnalyzerFallbacks.Inc()
		analysis.Fallback = true
	}

	analysis.Sentiment = lexicalSentiment(text)
	analysis.Confidence = heuristicConfidence(len(matched))
	return Evaluation{Accept: accept, Analysis: analysis}
}

// MatchKeywords возвращает ключевые слова, найденные в тексте без учёта регистра.
func MatchKeywords(text string, keywords []string) []string {
	lower := strings.ToLower(text)
	matched := make([]string, 0, len(keywords))
	seen := make(map[string]struct{}, len(keywords))
	for _, keyword := range keywords {
		normalized := strings.ToLower(strings.TrimSpace(keyword))
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		if strings.Contains(lower, normalized) {
			seen[normalized] = struct{}{}
			matched = append(matched, normalized)
		}
	}
	return matched
}

func heuristicConfidence(matches int) float64 {
	confidence := baseConfidence + perKeywordConfidence*float64(matches)
	if confidence > maxConfidence {
		confidence = maxConfidence
	}
	return confidence
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

var positiveWords = map[string]struct{}{
	"gain": {}, "gains": {}, "growth": {}, "surge": {}, "rally": {}, "strong": {},
	"success": {}, "record": {}, "profit": {}, "soar": {}, "soaring": {}, "win": {},
	"breakthrough": {}, "exceed": {}, "exceeding": {},
}

var negativeWords = map[string]struct{}{
	"loss": {}, "losses": {}, "drop": {}, "fall": {}, "crash": {}, "weak": {},
	"decline": {}, "fail": {}, "failure": {}, "plunge": {}, "risk": {}, "fraud": {},
	"lawsuit": {}, "layoff": {}, "layoffs": {},
}

// lexicalSentiment сравнивает количество позитивных и негативных слов.
// Равенство трактуется как нейтральная тональность.
func lexicalSentiment(text string) domain.Sentiment {
	positive, negative := 0, 0
	for _, token := range strings.Fields(strings.ToLower(text)) {
		token = strings.Trim(token, ".,!?:;\"'()[]")
		if _, ok := positiveWords[token]; ok {
			positive++
		}
		if _, ok := negativeWords[token]; ok {
			negative++
		}
	}
	switch {
	case positive > negative:
		return domain.SentimentPositive
	case negative > positive:
		return domain.SentimentNegative
	default:
		return domain.SentimentNeutral
	}
}
