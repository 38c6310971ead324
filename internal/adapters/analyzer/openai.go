package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"content-radar/internal/domain"
	openai "content-radar/internal/infra/openai"
)

type chatCompletionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI оценивает релевантность и тональность текста через Chat Completions.
// Любая ошибка возвращается как *domain.AnalysisError: шлюз релевантности
// переключится на эвристику и конвейер продолжит работу.
type OpenAI struct {
	client  chatCompletionClient
	model   string
	timeout time.Duration
}

var _ domain.Analyzer = (*OpenAI)(nil)

// NewOpenAI создаёт анализатор на базе OpenAI Chat Completions.
func NewOpenAI(client chatCompletionClient, model string, timeout time.Duration) *OpenAI {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAI{client: client, model: model, timeout: timeout}
}

type analyzerResponse struct {
	Relevant   bool    `json:"relevant"`
	Sentiment  string  `json:"sentiment"`
	Confidence float64 `json:"confidence"`
}

// Analyze возвращает вердикт модели по тексту и ключевым словам пользователя.
func (a *OpenAI) Analyze(ctx context.Context, text string, keywords []string) (domain.AnalyzerVerdict, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	userPrompt := fmt.Sprintf(`
Оцени текст относительно интересов пользователя.
Ключевые слова пользователя: %s.
1. Определи, релевантен ли текст этим ключевым словам по смыслу, а не только по вхождению.
2. Определи тональность текста: "positive", "negative" или "neutral".
3. Оцени уверенность в релевантности числом от 0 до 1.
4. Ответ верни строго в формате JSON: {"relevant": true, "sentiment": "neutral", "confidence": 0.8}.

Текст:
%s`, strings.Join(keywords, ", "), truncate(text, 4000))

	req := openai.ChatCompletionRequest{
		Model:       a.model,
		Temperature: 0.1,
		Messages: []openai.ChatMessage{
			{
				Role:    openai.RoleSystem,
				Content: "Ты классификатор контента. Отвечай только JSON-объектом без пояснений.",
			},
			{
				Role:    openai.RoleUser,
				Content: userPrompt,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ResponseFormatTypeJSONObject,
		},
	}

	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return domain.AnalyzerVerdict{}, &domain.AnalysisError{Reason: "запрос к модели", Err: err}
	}
	if len(resp.Choices) == 0 {
		return domain.AnalyzerVerdict{}, &domain.AnalysisError{Reason: "пустой ответ модели"}
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	var parsed analyzerResponse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return domain.AnalyzerVerdict{}, &domain.AnalysisError{Reason: "распаковка ответа модели", Err: err}
	}

	sentiment, err := parseSentiment(parsed.Sentiment)
	if err != nil {
		return domain.AnalyzerVerdict{}, &domain.AnalysisError{Reason: "неизвестная тональность", Err: err}
	}
	if parsed.Confidence < 0 || parsed.Confidence > 1 {
		return domain.AnalyzerVerdict{}, &domain.AnalysisError{
			Reason: fmt.Sprintf("уверенность вне диапазона: %v", parsed.Confidence),
		}
	}
	return domain.AnalyzerVerdict{
		Relevant:   parsed.Relevant,
		Sentiment:  sentiment,
		Confidence: parsed.Confidence,
	}, nil
}

func parseSentiment(raw string) (domain.Sentiment, error) {
	switch domain.Sentiment(strings.ToLower(strings.TrimSpace(raw))) {
	case domain.SentimentPositive:
		return domain.SentimentPositive, nil
	case domain.SentimentNegative:
		return domain.SentimentNegative, nil
	case domain.SentimentNeutral:
		return domain.SentimentNeutral, nil
	default:
		return "", fmt.Errorf("значение %q", raw)
	}
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
