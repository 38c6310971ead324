package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"content-radar/internal/domain"
	"content-radar/internal/infra/metrics"
	"content-radar/internal/usecase/content"
	"content-radar/internal/usecase/relevance"
)

// Options настройки оркестратора.
type Options struct {
	// FetchTimeout предельное время одного обращения к источнику.
	FetchTimeout time.Duration
	// MaxItems верхняя граница кандидатов с одного источника за цикл.
	MaxItems int
	// MaxConcurrency число одновременно опрашиваемых источников.
	MaxConcurrency int
	// FetchRPS общий предел обращений к источникам в секунду.
	FetchRPS int
}

func (o Options) withDefaults() Options {
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 15 * time.Second
	}
	if o.MaxItems <= 0 {
		o.MaxItems = 25
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = 8
	}
	if o.FetchRPS <= 0 {
		o.FetchRPS = 10
	}
	return o
}

// Orchestrator выполняет циклы сканирования источников.
// Сбои отдельных источников изолируются: цикл продолжает остальные источники
// и остальных пользователей, а сбой попадает в отчёт.
type Orchestrator struct {
	configs  domain.ConfigRepo
	contents *content.Service
	gate     *relevance.Gate
	stats    ScanStats
	fetchers map[domain.SourceKind]domain.SourceFetcher
	limiter  *rate.Limiter
	opts     Options
	log      zerolog.Logger
}

// ScanStats учёт просмотренных кандидатов.
type ScanStats interface {
	OnScanCounted(ctx context.Context, userID string, seen int, at time.Time) error
}

// NewOrchestrator создаёт оркестратор сканирования.
func NewOrchestrator(
	configs domain.ConfigRepo,
	contents *content.Service,
	gate *relevance.Gate,
	stats ScanStats,
	fetchers map[domain.SourceKind]domain.SourceFetcher,
	opts Options,
	logger zerolog.Logger,
) *Orchestrator {
	opts = opts.withDefaults()
	return &Orchestrator{
		configs:  configs,
		contents: contents,
		gate:     gate,
		stats:    stats,
		fetchers: fetchers,
		limiter:  rate.NewLimiter(rate.Limit(opts.FetchRPS), opts.FetchRPS),
		opts:     opts,
		log:      logger,
	}
}

// RunScan выполняет цикл сканирования. Пустой userID означает всех пользователей.
func (o *Orchestrator) RunScan(ctx context.Context, userID string, trigger domain.ScanTrigger) (domain.ScanReport, error) {
	report := domain.ScanReport{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: time.Now().UTC(),
		PerUser:   make(map[string]domain.ScanUserReport),
	}
	metrics.ScansTotal.WithLabelValues(string(trigger)).Inc()
	defer func() {
		metrics.ScanDurationSeconds.Observe(time.Since(report.StartedAt).Seconds())
	}()

	var configs []domain.UserConfig
	if userID == "" {
		all, err := o.configs.ListConfigs(ctx)
		if err != nil {
			return report, fmt.Errorf("выборка конфигураций: %w", err)
		}
		configs = all
	} else {
		cfg, err := o.configs.GetConfig(ctx, userID)
		if err != nil {
			return report, fmt.Errorf("конфигурация пользователя %s: %w", userID, err)
		}
		configs = []domain.UserConfig{cfg}
	}

	for _, cfg := range configs {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = time.Now().UTC()
			return report, err
		}
		userReport, failures := o.scanUser(ctx, cfg)
		report.PerUser[cfg.UserID] = userReport
		report.Failures = append(report.Failures, failures...)

		now := time.Now().UTC()
		if err := o.stats.OnScanCounted(ctx, cfg.UserID, userReport.Seen, now); err != nil {
			o.log.Error().Err(err).Str("user", cfg.UserID).Msg("scan: не удалось учесть просмотренных кандидатов")
		}
		if err := o.configs.MarkScanned(ctx, cfg.UserID, now); err != nil {
			o.log.Error().Err(err).Str("user", cfg.UserID).Msg("scan: не удалось зафиксировать момент сканирования")
		}
	}

	report.FinishedAt = time.Now().UTC()
	totals := report.Totals()
	o.log.Info().
		Str("report", report.ID).
		Str("trigger", string(trigger)).
		Int("users", len(report.PerUser)).
		Int("seen", totals.Seen).
		Int("accepted", totals.Accepted).
		Int("duplicates", totals.Duplicates).
		Int("rejected", totals.Rejected).
		Int("failures", len(report.Failures)).
		Msg("scan: цикл завершён")
	return report, nil
}

// scanUser опрашивает источники пользователя параллельно под семафором.
// Общего состояния между источниками нет, итоги сводятся под мьютексом.
func (o *Orchestrator) scanUser(ctx context.Context, cfg domain.UserConfig) (domain.ScanUserReport, []domain.ScanFailure) {
	var (
		mu       sync.Mutex
		report   domain.ScanUserReport
		failures []domain.ScanFailure
	)

	sem := make(chan struct{}, o.opts.MaxConcurrency)
	var wg sync.WaitGroup
	for _, descriptor := range cfg.Sources {
		wg.Add(1)
		sem <- struct{}{}
		go func(d domain.SourceDescriptor) {
			defer wg.Done()
			defer func() { <-sem }()

			sourceReport, failure := o.scanSource(ctx, cfg, d)
			mu.Lock()
			report.Seen += sourceReport.Seen
			report.Accepted += sourceReport.Accepted
			report.Duplicates += sourceReport.Duplicates
			report.Rejected += sourceReport.Rejected
			if failure != nil {
				failures = append(failures, *failure)
			}
			mu.Unlock()
		}(descriptor)
	}
	wg.Wait()

	return report, failures
}

func (o *Orchestrator) scanSource(ctx context.Context, cfg domain.UserConfig, descriptor domain.SourceDescriptor) (domain.ScanUserReport, *domain.ScanFailure) {
	var report domain.ScanUserReport

	fetcher, ok := o.fetchers[descriptor.Kind]
	if !ok {
		return report, &domain.ScanFailure{
			UserID:  cfg.UserID,
			Locator: descriptor.Locator,
			Kind:    "unsupported_kind",
			Message: fmt.Sprintf("нет фетчера для типа источника %q", descriptor.Kind),
		}
	}

	if err := o.limiter.Wait(ctx); err != nil {
		return report, failureFromError(cfg.UserID, descriptor.Locator, err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, o.opts.FetchTimeout)
	start := time.Now()
	candidates, err := fetcher.Fetch(fetchCtx, descriptor, o.opts.MaxItems)
	cancel()
	metrics.ObserveNetworkRequest("fetcher", "fetch", string(descriptor.Kind), start, err)
	if err != nil {
		failure := failureFromError(cfg.UserID, descriptor.Locator, err)
		metrics.IncSourceFailure(failure.Kind)
		return report, failure
	}

	if len(candidates) > o.opts.MaxItems {
		candidates = candidates[:o.opts.MaxItems]
	}

	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return report, failureFromError(cfg.UserID, descriptor.Locator, err)
		}
		report.Seen++

		duplicate, err := o.contents.Deduplicator().IsDuplicate(ctx, cfg.UserID, candidate)
		if err != nil {
			o.log.Error().Err(err).Str("user", cfg.UserID).Msg("scan: сбой проверки дубликата")
		}
		if duplicate {
			report.Duplicates++
			metrics.IncCandidate("duplicate")
			continue
		}

		evaluation := o.gate.Evaluate(ctx, candidate.Text, cfg.Keywords)
		if !evaluation.Accept {
			report.Rejected++
			metrics.IncCandidate("rejected")
			continue
		}

		created, err := o.contents.Create(ctx, cfg.UserID, candidate, evaluation.Analysis)
		if errors.Is(err, domain.ErrDuplicateContent) {
			// Конкурентное сканирование успело первым: ожидаемый исход, не сбой.
			report.Duplicates++
			metrics.IncCandidate("duplicate")
			continue
		}
		if err != nil {
			metrics.IncCandidate("storage_error")
			return report, &domain.ScanFailure{
				UserID:  cfg.UserID,
				Locator: descriptor.Locator,
				Kind:    "storage",
				Message: err.Error(),
			}
		}

		report.Accepted++
		metrics.IncCandidate("accepted")

		if !cfg.RequireApproval {
			if _, err := o.contents.Transition(ctx, created.ID, cfg.UserID, domain.StatusApproved); err != nil {
				o.log.Error().Err(err).Str("content", created.ID).Msg("scan: автоодобрение не применилось")
			}
		}
	}

	return report, nil
}

// failureFromError переводит ошибку источника в запись отчёта.
func failureFromError(userID, locator string, err error) *domain.ScanFailure {
	var fetchErr *domain.FetchError
	if errors.As(err, &fetchErr) {
		return &domain.ScanFailure{
			UserID:  userID,
			Locator: locator,
			Kind:    string(fetchErr.Kind),
			Message: fetchErr.Error(),
		}
	}
	kind := "unreachable"
	if errors.Is(err, context.DeadlineExceeded) {
		kind = string(domain.FetchTimeout)
	}
	if errors.Is(err, context.Canceled) {
		kind = "canceled"
	}
	return &domain.ScanFailure{
		UserID:  userID,
		Locator: locator,
		Kind:    kind,
		Message: err.Error(),
	}
}
