package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"content-radar/internal/domain"
)

// Memory реализует репозитории в памяти для dev-окружения и тестов.
// Повторяет гарантии Postgres: условная вставка и CAS-переходы под одним мьютексом.
type Memory struct {
	mu       sync.Mutex
	configs  map[string]domain.UserConfig
	lastScan map[string]time.Time
	contents map[string]domain.FoundContent
	byNative map[string]string
	byURL    map[string]string
	stats    map[string]domain.Statistics
}

var (
	_ domain.ConfigRepo  = (*Memory)(nil)
	_ domain.ContentRepo = (*Memory)(nil)
	_ domain.StatsRepo   = (*Memory)(nil)
)

// NewMemory создаёт репозиторий в памяти.
func NewMemory() *Memory {
	return &Memory{
		configs:  make(map[string]domain.UserConfig),
		lastScan: make(map[string]time.Time),
		contents: make(map[string]domain.FoundContent),
		byNative: make(map[string]string),
		byURL:    make(map[string]string),
		stats:    make(map[string]domain.Statistics),
	}
}

func nativeKey(userID, nativeID string) string { return userID + "\x00" + nativeID }
func urlKey(userID, url string) string         { return userID + "\x00" + url }

// SaveConfig сохраняет конфигурацию пользователя.
func (m *Memory) SaveConfig(_ context.Context, cfg domain.UserConfig) (domain.UserConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg.ScanIntervalSeconds < domain.MinScanIntervalSeconds {
		cfg.ScanIntervalSeconds = domain.MinScanIntervalSeconds
	}
	cfg.UpdatedAt = time.Now().UTC()
	m.configs[cfg.UserID] = cfg
	return cfg, nil
}

// GetConfig возвращает конфигурацию пользователя.
func (m *Memory) GetConfig(_ context.Context, userID string) (domain.UserConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[userID]
	if !ok {
		return domain.UserConfig{}, domain.ErrConfigNotFound
	}
	return cfg, nil
}

// ListConfigs возвращает все конфигурации.
func (m *Memory) ListConfigs(_ context.Context) ([]domain.UserConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	configs := make([]domain.UserConfig, 0, len(m.configs))
	for _, cfg := range m.configs {
		configs = append(configs, cfg)
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].UserID < configs[j].UserID })
	return configs, nil
}

// ListDueConfigs возвращает конфигурации с истёкшим интервалом.
func (m *Memory) ListDueConfigs(_ context.Context, now time.Time) ([]domain.UserConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []domain.UserConfig
	for userID, cfg := range m.configs {
		last, scanned := m.lastScan[userID]
		if !scanned || !last.Add(cfg.ScanInterval()).After(now) {
			due = append(due, cfg)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].UserID < due[j].UserID })
	return due, nil
}

// MarkScanned фиксирует момент последнего сканирования.
func (m *Memory) MarkScanned(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastScan[userID] = at
	return nil
}

// CreateIfAbsent сохраняет контент, если ключ дедупликации свободен.
func (m *Memory) CreateIfAbsent(_ context.Context, content domain.FoundContent) (domain.FoundContent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if content.NativeID != "" {
		if _, ok := m.byNative[nativeKey(content.UserID, content.NativeID)]; ok {
			return domain.FoundContent{}, domain.ErrDuplicateContent
		}
	}
	if content.URL != "" {
		if _, ok := m.byURL[urlKey(content.UserID, content.URL)]; ok {
			return domain.FoundContent{}, domain.ErrDuplicateContent
		}
	}

	m.contents[content.ID] = content
	if content.NativeID != "" {
		m.byNative[nativeKey(content.UserID, content.NativeID)] = content.ID
	}
	if content.URL != "" {
		m.byURL[urlKey(content.UserID, content.URL)] = content.ID
	}
	return content, nil
}

// HasContentKey сообщает, занят ли ключ дедупликации кандидата.
func (m *Memory) HasContentKey(_ context.Context, userID string, candidate domain.CandidateItem) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if candidate.NativeID != "" {
		if _, ok := m.byNative[nativeKey(userID, candidate.NativeID)]; ok {
			return true, nil
		}
	}
	if candidate.URL != "" {
		if _, ok := m.byURL[urlKey(userID, candidate.URL)]; ok {
			return true, nil
		}
	}
	return false, nil
}

// UpdateStatus переводит контент из from в to под мьютексом.
func (m *Memory) UpdateStatus(_ context.Context, contentID, userID string, from, to domain.ContentStatus, at time.Time) (domain.FoundContent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	content, ok := m.contents[contentID]
	if !ok || content.UserID != userID {
		return domain.FoundContent{}, domain.ErrContentNotFound
	}
	if content.Status != from {
		return domain.FoundContent{}, &domain.InvalidTransitionError{From: content.Status, To: to}
	}
	content.Status = to
	content.LastUpdatedAt = at
	content.StatusLog = append(content.StatusLog, domain.StatusChange{From: from, To: to, At: at})
	m.contents[contentID] = content
	return content, nil
}

// GetContent возвращает контент пользователя.
func (m *Memory) GetContent(_ context.Context, contentID, userID string) (domain.FoundContent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.contents[contentID]
	if !ok || content.UserID != userID {
		return domain.FoundContent{}, domain.ErrContentNotFound
	}
	return content, nil
}

// ListContent возвращает контент пользователя по убыванию discovered_at.
func (m *Memory) ListContent(_ context.Context, userID string, q domain.ContentQuery) ([]domain.FoundContent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var contents []domain.FoundContent
	for _, content := range m.contents {
		if content.UserID != userID {
			continue
		}
		if q.Status != nil && content.Status != *q.Status {
			continue
		}
		contents = append(contents, content)
	}
	sort.Slice(contents, func(i, j int) bool {
		if contents[i].DiscoveredAt.Equal(contents[j].DiscoveredAt) {
			return contents[i].ID < contents[j].ID
		}
		return contents[i].DiscoveredAt.After(contents[j].DiscoveredAt)
	})

	if q.Offset > 0 {
		if q.Offset >= len(contents) {
			return nil, nil
		}
		contents = contents[q.Offset:]
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(contents) > limit {
		contents = contents[:limit]
	}
	return contents, nil
}

// DeleteContent удаляет контент. Идемпотентна.
func (m *Memory) DeleteContent(_ context.Context, contentID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	content, ok := m.contents[contentID]
	if !ok || content.UserID != userID {
		return nil
	}
	delete(m.contents, contentID)
	if content.NativeID != "" {
		delete(m.byNative, nativeKey(userID, content.NativeID))
	}
	if content.URL != "" {
		delete(m.byURL, urlKey(userID, content.URL))
	}
	return nil
}

// IncrementStats применяет приращение под мьютексом.
func (m *Memory) IncrementStats(_ context.Context, userID string, delta domain.StatsDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats[userID]
	stats.UserID = userID
	stats.TotalScanned += delta.TotalScanned
	stats.AIApproved += delta.AIApproved
	stats.Posted += delta.Posted
	stats.Rejected += delta.Rejected
	if delta.ScanAt != nil {
		ts := *delta.ScanAt
		stats.LastScanAt = &ts
	}
	if delta.PostedAt != nil {
		ts := *delta.PostedAt
		stats.LastPostedAt = &ts
	}
	m.stats[userID] = stats
	return nil
}

// GetStats возвращает счётчики пользователя.
func (m *Memory) GetStats(_ context.Context, userID string) (domain.Statistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := m.stats[userID]
	stats.UserID = userID
	return stats, nil
}

// RecountStats пересчитывает счётчики из строк и истории переходов.
// total_scanned и last_scan_at порождаются событиями сканирования и сохраняются.
func (m *Memory) RecountStats(_ context.Context, userID string) (domain.Statistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats[userID]
	stats.UserID = userID
	stats.AIApproved = 0
	stats.Posted = 0
	stats.Rejected = 0
	stats.LastPostedAt = nil
	for _, content := range m.contents {
		if content.UserID != userID {
			continue
		}
		stats.AIApproved++
		for _, change := range content.StatusLog {
			switch change.To {
			case domain.StatusPosted:
				stats.Posted++
				if stats.LastPostedAt == nil || change.At.After(*stats.LastPostedAt) {
					ts := change.At
					stats.LastPostedAt = &ts
				}
			case domain.StatusRejected:
				stats.Rejected++
			}
		}
	}
	m.stats[userID] = stats
	return stats, nil
}
