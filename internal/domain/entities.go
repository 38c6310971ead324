package domain

import "time"

// SourceKind определяет тип отслеживаемого источника.
type SourceKind string

const (
	// SourceKindAccount аккаунт социальной сети.
	SourceKindAccount SourceKind = "account"
	// SourceKindFeed новостная лента или сайт.
	SourceKindFeed SourceKind = "feed"
)

// SourceDescriptor описывает один опрашиваемый источник пользователя.
type SourceDescriptor struct {
	Kind        SourceKind        `json:"kind"`
	Locator     string            `json:"locator"`
	Credentials map[string]string `json:"credentials,omitempty"`
}

// UserConfig хранит настройки сканирования одного пользователя.
type UserConfig struct {
	UserID              string             `json:"user_id"`
	Sources             []SourceDescriptor `json:"sources"`
	Keywords            []string           `json:"keywords"`
	RequireApproval     bool               `json:"require_approval"`
	ScanIntervalSeconds int                `json:"scan_interval_seconds"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// MinScanIntervalSeconds минимально допустимый интервал сканирования.
const MinScanIntervalSeconds = 60

// ScanInterval возвращает интервал сканирования с учётом нижней границы.
func (c UserConfig) ScanInterval() time.Duration {
	seconds := c.ScanIntervalSeconds
	if seconds < MinScanIntervalSeconds {
		seconds = MinScanIntervalSeconds
	}
	return time.Duration(seconds) * time.Second
}

// CandidateItem сырой элемент из источника, ещё не оценённый.
type CandidateItem struct {
	Text          string
	OriginLocator string
	NativeID      string
	URL           string
	SourceKind    SourceKind
	PublishedAt   time.Time
}

// Sentiment тональность текста.
type Sentiment string

const (
	// SentimentPositive позитивная тональность.
	SentimentPositive Sentiment = "positive"
	// SentimentNegative негативная тональность.
	SentimentNegative Sentiment = "negative"
	// SentimentNeutral нейтральная тональность.
	SentimentNeutral Sentiment = "neutral"
)

// Analysis результат оценки текста: тональность, уверенность и совпавшие слова.
type Analysis struct {
	Sentiment       Sentiment `json:"sentiment"`
	Confidence      float64   `json:"confidence"`
	MatchedKeywords []string  `json:"matched_keywords"`
	Fallback        bool      `json:"fallback,omitempty"`
}

// FoundContent принятый кандидат, проходящий цикл одобрения.
type FoundContent struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	Text          string         `json:"text"`
	SourceLocator string         `json:"source_locator"`
	SourceKind    SourceKind     `json:"source_kind"`
	NativeID      string         `json:"native_id,omitempty"`
	URL           string         `json:"url,omitempty"`
	Status        ContentStatus  `json:"status"`
	PublishedAt   time.Time      `json:"published_at"`
	DiscoveredAt  time.Time      `json:"discovered_at"`
	LastUpdatedAt time.Time      `json:"last_updated_at"`
	Analysis      Analysis       `json:"analysis"`
	StatusLog     []StatusChange `json:"status_log,omitempty"`
}

// StatusChange одна запись истории переходов статуса.
type StatusChange struct {
	From ContentStatus `json:"from"`
	To   ContentStatus `json:"to"`
	At   time.Time     `json:"at"`
}

// Statistics накопительные счётчики пользователя.
// Счётчики только растут: это суммы за всё время, а не срез текущих состояний.
type Statistics struct {
	UserID       string     `json:"user_id"`
	TotalScanned int64      `json:"total_scanned"`
	AIApproved   int64      `json:"ai_approved"`
	Posted       int64      `json:"posted"`
	Rejected     int64      `json:"rejected"`
	LastScanAt   *time.Time `json:"last_scan_at,omitempty"`
	LastPostedAt *time.Time `json:"last_posted_at,omitempty"`
}

// ScanTrigger способ запуска сканирования.
type ScanTrigger string

const (
	// ScanTriggerScheduled запуск по расписанию.
	ScanTriggerScheduled ScanTrigger = "scheduled"
	// ScanTriggerManual ручной запуск пользователем.
	ScanTriggerManual ScanTrigger = "manual"
)

// ScanJob задача сканирования в очереди.
type ScanJob struct {
	UserID     string      `json:"user_id"`
	Trigger    ScanTrigger `json:"trigger"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
}

// ScanUserReport счётчики одного пользователя за цикл сканирования.
type ScanUserReport struct {
	Seen       int `json:"seen"`
	Accepted   int `json:"accepted"`
	Duplicates int `json:"duplicates"`
	Rejected   int `json:"rejected"`
}

// ScanFailure ошибка уровня источника, не прервавшая цикл.
type ScanFailure struct {
	UserID  string `json:"user_id"`
	Locator string `json:"locator"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ScanReport итог одного цикла сканирования.
type ScanReport struct {
	ID         string                    `json:"id"`
	Trigger    ScanTrigger               `json:"trigger"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt time.Time                 `json:"finished_at"`
	PerUser    map[string]ScanUserReport `json:"per_user"`
	Failures   []ScanFailure             `json:"failures"`
}

// Totals суммирует счётчики отчёта по всем пользователям.
func (r ScanReport) Totals() ScanUserReport {
	var total ScanUserReport
	for _, u := range r.PerUser {
		total.Seen += u.Seen
		total.Accepted += u.Accepted
		total.Duplicates += u.Duplicates
		total.Rejected += u.Rejected
	}
	return total
}
