package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"content-radar/internal/domain"
	"content-radar/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.ConfigRepo  = (*Postgres)(nil)
	_ domain.ContentRepo = (*Postgres)(nil)
	_ domain.StatsRepo   = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

const uniqueViolation = "23505"

// SaveConfig сохраняет конфигурацию пользователя.
func (p *Postgres) SaveConfig(ctx context.Context, cfg domain.UserConfig) (domain.UserConfig, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if cfg.ScanIntervalSeconds < domain.MinScanIntervalSeconds {
		cfg.ScanIntervalSeconds = domain.MinScanIntervalSeconds
	}
	sources, err := json.Marshal(cfg.Sources)
	if err != nil {
		return domain.UserConfig{}, fmt.Errorf("сериализация источников: %w", err)
	}
	keywords, err := json.Marshal(cfg.Keywords)
	if err != nil {
		return domain.UserConfig{}, fmt.Errorf("сериализация ключевых слов: %w", err)
	}

	start := time.Now()
	err = p.pool.QueryRow(ctx, `
INSERT INTO user_configs (user_id, sources, keywords, require_approval, scan_interval_seconds, updated_at)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT (user_id) DO UPDATE
    SET sources = EXCLUDED.sources,
        keywords = EXCLUDED.keywords,
        require_approval = EXCLUDED.require_approval,
        scan_interval_seconds = EXCLUDED.scan_interval_seconds,
        updated_at = now()
RETURNING updated_at
`, cfg.UserID, sources, keywords, cfg.RequireApproval, cfg.ScanIntervalSeconds).Scan(&cfg.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "user_configs_upsert", "user_configs", start, err)
	if err != nil {
		return domain.UserConfig{}, &domain.StorageError{Op: "save_config", Err: err}
	}
	return cfg, nil
}

// GetConfig возвращает конфигурацию пользователя.
func (p *Postgres) GetConfig(ctx context.Context, userID string) (domain.UserConfig, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
SELECT user_id, sources, keywords, require_approval, scan_interval_seconds, updated_at
FROM user_configs WHERE user_id=$1
`, userID)
	cfg, err := scanConfig(row)
	metrics.ObserveNetworkRequest("postgres", "user_configs_get", "user_configs", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserConfig{}, domain.ErrConfigNotFound
	}
	if err != nil {
		return domain.UserConfig{}, &domain.StorageError{Op: "get_config", Err: err}
	}
	return cfg, nil
}

// ListConfigs возвращает конфигурации всех пользователей.
func (p *Postgres) ListConfigs(ctx context.Context) ([]domain.UserConfig, error) {
	return p.listConfigs(ctx, `
SELECT user_id, sources, keywords, require_approval, scan_interval_seconds, updated_at
FROM user_configs ORDER BY user_id
`, "user_configs_list")
}

// ListDueConfigs возвращает конфигурации с истёкшим интервалом сканирования.
func (p *Postgres) ListDueConfigs(ctx context.Context, now time.Time) ([]domain.UserConfig, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT user_id, sources, keywords, require_approval, scan_interval_seconds, updated_at
FROM user_configs
WHERE last_scan_at IS NULL
   OR last_scan_at + make_interval(secs => scan_interval_seconds) <= $1
ORDER BY user_id
`, now)
	metrics.ObserveNetworkRequest("postgres", "user_configs_list_due", "user_configs", start, err)
	if err != nil {
		return nil, &domain.StorageError{Op: "list_due_configs", Err: err}
	}
	defer rows.Close()
	return collectConfigs(rows)
}

// MarkScanned фиксирует момент последнего сканирования.
func (p *Postgres) MarkScanned(ctx context.Context, userID string, at time.Time) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE user_configs SET last_scan_at=$2 WHERE user_id=$1`, userID, at)
	metrics.ObserveNetworkRequest("postgres", "user_configs_mark_scanned", "user_configs", start, err)
	if err != nil {
		return &domain.StorageError{Op: "mark_scanned", Err: err}
	}
	return nil
}

func (p *Postgres) listConfigs(ctx context.Context, query, op string) ([]domain.UserConfig, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, query)
	metrics.ObserveNetworkRequest("postgres", op, "user_configs", start, err)
	if err != nil {
		return nil, &domain.StorageError{Op: op, Err: err}
	}
	defer rows.Close()
	return collectConfigs(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfig(row rowScanner) (domain.UserConfig, error) {
	var (
		cfg      domain.UserConfig
		sources  []byte
		keywords []byte
	)
	if err := row.Scan(&cfg.UserID, &sources, &keywords, &cfg.RequireApproval, &cfg.ScanIntervalSeconds, &cfg.UpdatedAt); err != nil {
		return domain.UserConfig{}, err
	}
	if len(sources) > 0 {
		if err := json.Unmarshal(sources, &cfg.Sources); err != nil {
			return domain.UserConfig{}, fmt.Errorf("разбор источников: %w", err)
		}
	}
	if len(keywords) > 0 {
		if err := json.Unmarshal(keywords, &cfg.Keywords); err != nil {
			return domain.UserConfig{}, fmt.Errorf("разбор ключевых слов: %w", err)
		}
	}
	return cfg, nil
}

func collectConfigs(rows pgx.Rows) ([]domain.UserConfig, error) {
	var configs []domain.UserConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, &domain.StorageError{Op: "scan_config", Err: err}
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "rows", Err: err}
	}
	return configs, nil
}

// CreateIfAbsent сохраняет контент одной условной записью.
// Частичные уникальные индексы по (user_id, native_id) и (user_id, url)
// делают проверку и вставку атомарными: при конфликте строк не возвращается.
func (p *Postgres) CreateIfAbsent(ctx context.Context, content domain.FoundContent) (domain.FoundContent, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	matched, err := json.Marshal(content.Analysis.MatchedKeywords)
	if err != nil {
		return domain.FoundContent{}, fmt.Errorf("сериализация ключевых слов: %w", err)
	}
	statusLog, err := json.Marshal(content.StatusLog)
	if err != nil {
		return domain.FoundContent{}, fmt.Errorf("сериализация истории статусов: %w", err)
	}

	nativeID := nullString(content.NativeID)
	url := nullString(content.URL)

	start := time.Now()
	err = p.pool.QueryRow(ctx, `
INSERT INTO found_contents
    (id, user_id, text_body, source_locator, source_kind, native_id, url,
     status, published_at, discovered_at, last_updated_at, sentiment, confidence, matched_keywords, fallback, status_log)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT DO NOTHING
RETURNING discovered_at
`, content.ID, content.UserID, content.Text, content.SourceLocator, content.SourceKind,
		nativeID, url, content.Status, content.PublishedAt, content.DiscoveredAt, content.LastUpdatedAt,
		content.Analysis.Sentiment, content.Analysis.Confidence, matched, content.Analysis.Fallback, statusLog).
		Scan(&content.DiscoveredAt)
	metrics.ObserveNetworkRequest("postgres", "found_contents_insert", "found_contents", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.FoundContent{}, domain.ErrDuplicateContent
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.FoundContent{}, domain.ErrDuplicateContent
	}
	if err != nil {
		return domain.FoundContent{}, &domain.StorageError{Op: "create_content", Err: err}
	}
	return content, nil
}

// HasContentKey сообщает, занят ли ключ дедупликации кандидата.
func (p *Postgres) HasContentKey(ctx context.Context, userID string, candidate domain.CandidateItem) (bool, error) {
	if candidate.NativeID == "" && candidate.URL == "" {
		return false, nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var exists bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT EXISTS (
    SELECT 1 FROM found_contents
    WHERE user_id = $1
      AND (($2 <> '' AND native_id = $2) OR ($3 <> '' AND url = $3))
)
`, userID, candidate.NativeID, candidate.URL).Scan(&exists)
	metrics.ObserveNetworkRequest("postgres", "found_contents_has_key", "found_contents", start, err)
	if err != nil {
		return false, &domain.StorageError{Op: "has_content_key", Err: err}
	}
	return exists, nil
}

// UpdateStatus переводит контент из from в to сравнением со старым статусом.
// Запоздавший переход с устаревшим from не затирает конкурентно применённый.
func (p *Postgres) UpdateStatus(ctx context.Context, contentID, userID string, from, to domain.ContentStatus, at time.Time) (domain.FoundContent, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	change, err := json.Marshal(domain.StatusChange{From: from, To: to, At: at})
	if err != nil {
		return domain.FoundContent{}, fmt.Errorf("сериализация перехода: %w", err)
	}

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
UPDATE found_contents
SET status=$4, last_updated_at=$5, status_log = status_log || $6::jsonb
WHERE id=$1 AND user_id=$2 AND status=$3
RETURNING id, user_id, text_body, source_locator, source_kind, native_id, url,
          status, published_at, discovered_at, last_updated_at, sentiment, confidence, matched_keywords, fallback, status_log
`, contentID, userID, from, to, at, change)
	content, err := scanContent(row)
	metrics.ObserveNetworkRequest("postgres", "found_contents_cas_update", "found_contents", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		// CAS не прошёл: различаем отсутствие строки и устаревший статус.
		current, getErr := p.GetContent(ctx, contentID, userID)
		if getErr != nil {
			return domain.FoundContent{}, getErr
		}
		return domain.FoundContent{}, &domain.InvalidTransitionError{From: current.Status, To: to}
	}
	if err != nil {
		return domain.FoundContent{}, &domain.StorageError{Op: "update_status", Err: err}
	}
	return content, nil
}

// GetContent возвращает контент пользователя.
func (p *Postgres) GetContent(ctx context.Context, contentID, userID string) (domain.FoundContent, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
SELECT id, user_id, text_body, source_locator, source_kind, native_id, url,
       status, published_at, discovered_at, last_updated_at, sentiment, confidence, matched_keywords, fallback, status_log
FROM found_contents WHERE id=$1 AND user_id=$2
`, contentID, userID)
	content, err := scanContent(row)
	metrics.ObserveNetworkRequest("postgres", "found_contents_get", "found_contents", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.FoundContent{}, domain.ErrContentNotFound
	}
	if err != nil {
		return domain.FoundContent{}, &domain.StorageError{Op: "get_content", Err: err}
	}
	return content, nil
}

// ListContent возвращает контент пользователя по убыванию discovered_at.
func (p *Postgres) ListContent(ctx context.Context, userID string, q domain.ContentQuery) ([]domain.FoundContent, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	var (
		rows pgx.Rows
		err  error
	)
	start := time.Now()
	if q.Status != nil {
		rows, err = p.pool.Query(ctx, `
SELECT id, user_id, text_body, source_locator, source_kind, native_id, url,
       status, published_at, discovered_at, last_updated_at, sentiment, confidence, matched_keywords, fallback, status_log
FROM found_contents WHERE user_id=$1 AND status=$2
ORDER BY discovered_at DESC
LIMIT $3 OFFSET $4
`, userID, *q.Status, limit, q.Offset)
	} else {
		rows, err = p.pool.Query(ctx, `
SELECT id, user_id, text_body, source_locator, source_kind, native_id, url,
       status, published_at, discovered_at, last_updated_at, sentiment, confidence, matched_keywords, fallback, status_log
FROM found_contents WHERE user_id=$1
ORDER BY discovered_at DESC
LIMIT $2 OFFSET $3
`, userID, limit, q.Offset)
	}
	metrics.ObserveNetworkRequest("postgres", "found_contents_list", "found_contents", start, err)
	if err != nil {
		return nil, &domain.StorageError{Op: "list_content", Err: err}
	}
	defer rows.Close()

	var contents []domain.FoundContent
	for rows.Next() {
		content, err := scanContent(rows)
		if err != nil {
			return nil, &domain.StorageError{Op: "scan_content", Err: err}
		}
		contents = append(contents, content)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "rows", Err: err}
	}
	return contents, nil
}

// DeleteContent удаляет контент. Повторное удаление не является ошибкой.
func (p *Postgres) DeleteContent(ctx context.Context, contentID, userID string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM found_contents WHERE id=$1 AND user_id=$2`, contentID, userID)
	metrics.ObserveNetworkRequest("postgres", "found_contents_delete", "found_contents", start, err)
	if err != nil {
		return &domain.StorageError{Op: "delete_content", Err: err}
	}
	return nil
}

func scanContent(row rowScanner) (domain.FoundContent, error) {
	var (
		content   domain.FoundContent
		nativeID  sql.NullString
		url       sql.NullString
		matched   []byte
		statusLog []byte
	)
	err := row.Scan(&content.ID, &content.UserID, &content.Text, &content.SourceLocator, &content.SourceKind,
		&nativeID, &url, &content.Status, &content.PublishedAt, &content.DiscoveredAt, &content.LastUpdatedAt,
		&content.Analysis.Sentiment, &content.Analysis.Confidence, &matched, &content.Analysis.Fallback, &statusLog)
	if err != nil {
		return domain.FoundContent{}, err
	}
	if nativeID.Valid {
		content.NativeID = nativeID.String
	}
	if url.Valid {
		content.URL = url.String
	}
	if len(matched) > 0 {
		if err := json.Unmarshal(matched, &content.Analysis.MatchedKeywords); err != nil {
			return domain.FoundContent{}, fmt.Errorf("разбор ключевых слов: %w", err)
		}
	}
	if len(statusLog) > 0 {
		if err := json.Unmarshal(statusLog, &content.StatusLog); err != nil {
			return domain.FoundContent{}, fmt.Errorf("разбор истории статусов: %w", err)
		}
	}
	return content, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// IncrementStats атомарно применяет приращение счётчиков.
func (p *Postgres) IncrementStats(ctx context.Context, userID string, delta domain.StatsDelta) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var scanAt, postedAt any
	if delta.ScanAt != nil {
		scanAt = *delta.ScanAt
	}
	if delta.PostedAt != nil {
		postedAt = *delta.PostedAt
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO user_statistics (user_id, total_scanned, ai_approved, posted, rejected, last_scan_at, last_posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (user_id) DO UPDATE
    SET total_scanned = user_statistics.total_scanned + EXCLUDED.total_scanned,
        ai_approved = user_statistics.ai_approved + EXCLUDED.ai_approved,
        posted = user_statistics.posted + EXCLUDED.posted,
        rejected = user_statistics.rejected + EXCLUDED.rejected,
        last_scan_at = COALESCE(EXCLUDED.last_scan_at, user_statistics.last_scan_at),
        last_posted_at = COALESCE(EXCLUDED.last_posted_at, user_statistics.last_posted_at)
`, userID, delta.TotalScanned, delta.AIApproved, delta.Posted, delta.Rejected, scanAt, postedAt)
	metrics.ObserveNetworkRequest("postgres", "user_statistics_increment", "user_statistics", start, err)
	if err != nil {
		return &domain.StorageError{Op: "increment_stats", Err: err}
	}
	return nil
}

// GetStats возвращает счётчики пользователя.
func (p *Postgres) GetStats(ctx context.Context, userID string) (domain.Statistics, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	stats := domain.Statistics{UserID: userID}
	var lastScan, lastPosted sql.NullTime

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT total_scanned, ai_approved, posted, rejected, last_scan_at, last_posted_at
FROM user_statistics WHERE user_id=$1
`, userID).Scan(&stats.TotalScanned, &stats.AIApproved, &stats.Posted, &stats.Rejected, &lastScan, &lastPosted)
	metrics.ObserveNetworkRequest("postgres", "user_statistics_get", "user_statistics", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return stats, nil
	}
	if err != nil {
		return domain.Statistics{}, &domain.StorageError{Op: "get_stats", Err: err}
	}
	if lastScan.Valid {
		ts := lastScan.Time
		stats.LastScanAt = &ts
	}
	if lastPosted.Valid {
		ts := lastPosted.Time
		stats.LastPostedAt = &ts
	}
	return stats, nil
}

// RecountStats пересчитывает счётчики из строк контента и истории переходов.
// total_scanned и last_scan_at порождаются событиями сканирования, а не строками,
// поэтому сохраняются как есть.
func (p *Postgres) RecountStats(ctx context.Context, userID string) (domain.Statistics, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		approved   int64
		posted     int64
		rejected   int64
		lastPosted sql.NullTime
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT COUNT(*),
       COALESCE(SUM((SELECT COUNT(*) FROM jsonb_array_elements(status_log) e WHERE e->>'to' = 'posted')), 0),
       COALESCE(SUM((SELECT COUNT(*) FROM jsonb_array_elements(status_log) e WHERE e->>'to' = 'rejected')), 0),
       MAX(last_updated_at) FILTER (WHERE status = 'posted')
FROM found_contents WHERE user_id=$1
`, userID).Scan(&approved, &posted, &rejected, &lastPosted)
	metrics.ObserveNetworkRequest("postgres", "user_statistics_recount", "found_contents", start, err)
	if err != nil {
		return domain.Statistics{}, &domain.StorageError{Op: "recount_stats", Err: err}
	}

	var lastPostedArg any
	if lastPosted.Valid {
		lastPostedArg = lastPosted.Time
	}

	start = time.Now()
	_, err = p.pool.Exec(ctx, `
INSERT INTO user_statistics (user_id, total_scanned, ai_approved, posted, rejected, last_posted_at)
VALUES ($1, 0, $2, $3, $4, $5)
ON CONFLICT (user_id) DO UPDATE
    SET ai_approved = EXCLUDED.ai_approved,
        posted = EXCLUDED.posted,
        rejected = EXCLUDED.rejected,
        last_posted_at = EXCLUDED.last_posted_at
`, userID, approved, posted, rejected, lastPostedArg)
	metrics.ObserveNetworkRequest("postgres", "user_statistics_recount_write", "user_statistics", start, err)
	if err != nil {
		return domain.Statistics{}, &domain.StorageError{Op: "recount_stats_write", Err: err}
	}

	return p.GetStats(ctx, userID)
}
