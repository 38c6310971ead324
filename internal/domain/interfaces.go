package domain

import (
	"context"
	"time"
)

// SourceFetcher выгружает свежие элементы из одного источника.
// Ошибки возвращаются как *FetchError, чтобы оркестратор мог продолжить цикл.
type SourceFetcher interface {
	Fetch(ctx context.Context, descriptor SourceDescriptor, maxItems int) ([]CandidateItem, error)
}

// AnalyzerVerdict ответ анализатора по тексту.
type AnalyzerVerdict struct {
	Sentiment  Sentiment
	Confidence float64
	Relevant   bool
}

// Analyzer оценивает релевантность и тональность текста.
// Ошибки возвращаются как *AnalysisError.
type Analyzer interface {
	Analyze(ctx context.Context, text string, keywords []string) (AnalyzerVerdict, error)
}

// ConfigRepo управляет конфигурациями пользователей.
type ConfigRepo interface {
	SaveConfig(ctx context.Context, cfg UserConfig) (UserConfig, error)
	GetConfig(ctx context.Context, userID string) (UserConfig, error)
	ListConfigs(ctx context.Context) ([]UserConfig, error)
	// ListDueConfigs возвращает конфигурации, чей интервал сканирования истёк к now.
	ListDueConfigs(ctx context.Context, now time.Time) ([]UserConfig, error)
	// MarkScanned фиксирует момент последнего сканирования для планировщика.
	MarkScanned(ctx context.Context, userID string, at time.Time) error
}

// ContentQuery параметры выборки контента.
type ContentQuery struct {
	Status *ContentStatus
	Limit  int
	Offset int
}

// ContentRepo авторитетное хранилище найденного контента.
// CreateIfAbsent обязан быть одной атомарной условной записью,
// UpdateStatus — сравнением с ожидаемым статусом (CAS).
type ContentRepo interface {
	// CreateIfAbsent сохраняет контент, если ключ дедупликации ещё не занят.
	// Возвращает ErrDuplicateContent, если контент уже существует.
	CreateIfAbsent(ctx context.Context, content FoundContent) (FoundContent, error)
	// HasContentKey сообщает, занят ли ключ дедупликации кандидата.
	// Консультативная проверка: решает условная вставка CreateIfAbsent.
	HasContentKey(ctx context.Context, userID string, candidate CandidateItem) (bool, error)
	// UpdateStatus переводит контент из from в to одной условной записью.
	// Возвращает ErrContentNotFound либо *InvalidTransitionError.
	UpdateStatus(ctx context.Context, contentID, userID string, from, to ContentStatus, at time.Time) (FoundContent, error)
	// GetContent возвращает контент пользователя.
	GetContent(ctx context.Context, contentID, userID string) (FoundContent, error)
	// ListContent возвращает контент пользователя по убыванию discovered_at.
	ListContent(ctx context.Context, userID string, q ContentQuery) ([]FoundContent, error)
	// DeleteContent удаляет контент. Идемпотентна.
	DeleteContent(ctx context.Context, contentID, userID string) error
}

// StatsRepo хранит накопительные счётчики пользователей.
// Инкременты обязаны быть атомарными.
type StatsRepo interface {
	IncrementStats(ctx context.Context, userID string, delta StatsDelta) error
	GetStats(ctx context.Context, userID string) (Statistics, error)
	// RecountStats пересчитывает счётчики из контента и истории переходов.
	RecountStats(ctx context.Context, userID string) (Statistics, error)
}

// StatsDelta атомарное приращение счётчиков.
type StatsDelta struct {
	TotalScanned int64
	AIApproved   int64
	Posted       int64
	Rejected     int64
	ScanAt       *time.Time
	PostedAt     *time.Time
}

// ScanQueue очередь задач сканирования.
type ScanQueue interface {
	Enqueue(ctx context.Context, job ScanJob) error
	Pop(ctx context.Context) (ScanJob, error)
}

// Cache простое TTL-хранилище для блокировок и окна мягкой дедупликации.
type Cache interface {
	// Once возвращает true, если ключ не был задан, и помечает его на ttl.
	Once(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete снимает ключ. Отсутствие ключа не является ошибкой.
	Delete(ctx context.Context, key string) error
}
