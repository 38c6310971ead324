package scan

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"content-radar/internal/adapters/repo"
	"content-radar/internal/domain"
	"content-radar/internal/infra/cache"
	"content-radar/internal/usecase/content"
	"content-radar/internal/usecase/relevance"
	"content-radar/internal/usecase/stats"
)

type stubFetcher struct {
	items []domain.CandidateItem
	err   error
}

func (s *stubFetcher) Fetch(_ context.Context, descriptor domain.SourceDescriptor, maxItems int) ([]domain.CandidateItem, error) {
	if s.err != nil {
		return nil, s.err
	}
	items := make([]domain.CandidateItem, 0, len(s.items))
	for _, item := range s.items {
		if len(items) >= maxItems {
			break
		}
		item.OriginLocator = descriptor.Locator
		item.SourceKind = descriptor.Kind
		items = append(items, item)
	}
	return items, nil
}

type routingFetcher struct {
	byLocator map[string]domain.SourceFetcher
}

func (r *routingFetcher) Fetch(ctx context.Context, descriptor domain.SourceDescriptor, maxItems int) ([]domain.CandidateItem, error) {
	f, ok := r.byLocator[descriptor.Locator]
	if !ok {
		return nil, domain.NewFetchError(domain.FetchUnreachable, descriptor.Locator, errors.New("неизвестный локатор"))
	}
	return f.Fetch(ctx, descriptor, maxItems)
}

type testHarness struct {
	store        *repo.Memory
	contents     *content.Service
	orchestrator *Orchestrator
}

func newHarness(t *testing.T, fetchers map[domain.SourceKind]domain.SourceFetcher, cfgs ...domain.UserConfig) *testHarness {
	t.Helper()
	store := repo.NewMemory()
	for _, cfg := range cfgs {
		if _, err := store.SaveConfig(context.Background(), cfg); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}
	aggregator := stats.NewAggregator(store)
	contents := content.NewService(store, content.NewDeduplicator(store, cache.NewMemory()), aggregator, zerolog.Nop())
	gate := relevance.NewGate(nil, zerolog.Nop())
	orchestrator := NewOrchestrator(store, contents, gate, aggregator, fetchers, Options{
		FetchTimeout:   time.Second,
		MaxItems:       10,
		MaxConcurrency: 4,
		FetchRPS:       1000,
	}, zerolog.Nop())
	return &testHarness{store: store, contents: contents, orchestrator: orchestrator}
}

func userConfig(userID string, requireApproval bool, sources ...domain.SourceDescriptor) domain.UserConfig {
	return domain.UserConfig{
		UserID:              userID,
		Sources:             sources,
		Keywords:            []string{"golang"},
		RequireApproval:     requireApproval,
		ScanIntervalSeconds: 60,
	}
}

func feedItems() []domain.CandidateItem {
	return []domain.CandidateItem{
		{Text: "golang 1.26 вышел", NativeID: "n1"},
		{Text: "golang и базы данных", NativeID: "n2"},
		{Text: "прогноз погоды", NativeID: "n3"},
	}
}

func TestRunScanIsIdempotent(t *testing.T) {
	fetchers := map[domain.SourceKind]domain.SourceFetcher{
		domain.SourceKindFeed: &stubFetcher{items: feedItems()},
	}
	h := newHarness(t, fetchers, userConfig("user-1", true, domain.SourceDescriptor{Kind: domain.SourceKindFeed, Locator: "https://example.com/rss"}))
	ctx := context.Background()

	first, err := h.orchestrator.RunScan(ctx, "user-1", domain.ScanTriggerManual)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	firstTotals := first.Totals()
	if firstTotals.Seen != 3 || firstTotals.Accepted != 2 || firstTotals.Rejected != 1 || firstTotals.Duplicates != 0 {
		t.Fatalf("неожиданный первый отчёт: %+v", firstTotals)
	}

	second, err := h.orchestrator.RunScan(ctx, "user-1", domain.ScanTriggerManual)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	secondTotals := second.Totals()
	if secondTotals.Accepted != 0 || secondTotals.Duplicates != 2 {
		t.Fatalf("повторный цикл должен увидеть только дубликаты: %+v", secondTotals)
	}

	items, err := h.store.ListContent(ctx, "user-1", domain.ContentQuery{})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("два цикла не должны плодить строки, получили %d", len(items))
	}
}

func TestRunScanIsolatesFailingSource(t *testing.T) {
	router := &routingFetcher{byLocator: map[string]domain.SourceFetcher{
		"https://a.example/rss": &stubFetcher{items: []domain.CandidateItem{{Text: "golang news", NativeID: "a1"}}},
		"https://b.example/rss": &stubFetcher{err: domain.NewFetchError(domain.FetchTimeout, "https://b.example/rss", context.DeadlineExceeded)},
		"https://c.example/rss": &stubFetcher{items: []domain.CandidateItem{{Text: "golang tips", NativeID: "c1"}}},
	}}
	fetchers := map[domain.SourceKind]domain.SourceFetcher{domain.SourceKindFeed: router}
	h := newHarness(t, fetchers, userConfig("user-1", true,
		domain.SourceDescriptor{Kind: domain.SourceKindFeed, Locator: "https://a.example/rss"},
		domain.SourceDescriptor{Kind: domain.SourceKindFeed, Locator: "https://b.example/rss"},
		domain.SourceDescriptor{Kind: domain.SourceKindFeed, Locator: "https://c.example/rss"},
	))

	report, err := h.orchestrator.RunScan(context.Background(), "user-1", domain.ScanTriggerManual)
	if err != nil {
		t.Fatalf("сбой одного источника не должен ронять цикл: %v", err)
	}
	if len(report.Failures) != 1 {
		t.Fatalf("ожидали один сбой, получили %d", len(report.Failures))
	}
	failure := report.Failures[0]
	if failure.Kind != string(domain.FetchTimeout) || failure.Locator != "https://b.example/rss" {
		t.Fatalf("неожиданный сбой: %+v", failure)
	}
	if report.Totals().Accepted != 2 {
		t.Fatalf("живые источники должны отработать, принято %d", report.Totals().Accepted)
	}
}

func TestRunScanUnsupportedSourceKind(t *testing.T) {
	fetchers := map[domain.SourceKind]domain.SourceFetcher{}
	h := newHarness(t, fetchers, userConfig("user-1", true, domain.SourceDescriptor{Kind: domain.SourceKindAccount, Locator: "@news"}))

	report, err := h.orchestrator.RunScan(context.Background(), "user-1", domain.ScanTriggerManual)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(report.Failures) != 1 || report.Failures[0].Kind != "unsupported_kind" {
		t.Fatalf("ожидали сбой unsupported_kind, получили %+v", report.Failures)
	}
}

func TestRunScanAutoApprove(t *testing.T) {
	fetchers := map[domain.SourceKind]domain.SourceFetcher{
		domain.SourceKindFeed: &stubFetcher{items: []domain.CandidateItem{{Text: "golang release", NativeID: "n1"}}},
	}
	h := newHarness(t, fetchers, userConfig("user-1", false, domain.SourceDescriptor{Kind: domain.SourceKindFeed, Locator: "https://example.com/rss"}))

	if _, err := h.orchestrator.RunScan(context.Background(), "user-1", domain.ScanTriggerScheduled); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	items, err := h.store.ListContent(context.Background(), "user-1", domain.ContentQuery{})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(items) != 1 || items[0].Status != domain.StatusApproved {
		t.Fatalf("при отключённом одобрении контент сразу approved, получили %+v", items)
	}
}

func TestRunScanConcurrentScansDoNotDuplicate(t *testing.T) {
	fetchers := map[domain.SourceKind]domain.SourceFetcher{
		domain.SourceKindFeed: &stubFetcher{items: feedItems()},
	}
	h := newHarness(t, fetchers, userConfig("user-1", true, domain.SourceDescriptor{Kind: domain.SourceKindFeed, Locator: "https://example.com/rss"}))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.orchestrator.RunScan(context.Background(), "user-1", domain.ScanTriggerManual); err != nil {
				t.Errorf("не ожидали ошибку: %v", err)
			}
		}()
	}
	wg.Wait()

	items, err := h.store.ListContent(context.Background(), "user-1", domain.ContentQuery{})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("конкурентные циклы не должны плодить строки, получили %d", len(items))
	}
}

func TestRunScanAllUsers(t *testing.T) {
	fetchers := map[domain.SourceKind]domain.SourceFetcher{
		domain.SourceKindFeed: &stubFetcher{items: []domain.CandidateItem{{Text: "golang digest", NativeID: "n1"}}},
	}
	h := newHarness(t, fetchers,
		userConfig("user-1", true, domain.SourceDescriptor{Kind: domain.SourceKindFeed, Locator: "https://example.com/rss"}),
		userConfig("user-2", true, domain.SourceDescriptor{Kind: domain.SourceKindFeed, Locator: "https://example.com/rss"}),
	)

	report, err := h.orchestrator.RunScan(context.Background(), "", domain.ScanTriggerScheduled)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(report.PerUser) != 2 {
		t.Fatalf("ожидали отчёт по двум пользователям, получили %d", len(report.PerUser))
	}
	for userID, userReport := range report.PerUser {
		if userReport.Accepted != 1 {
			t.Fatalf("пользователь %s: ожидали 1 принятый, получили %+v", userID, userReport)
		}
	}
}

func TestRunScanMissingConfig(t *testing.T) {
	h := newHarness(t, map[domain.SourceKind]domain.SourceFetcher{})
	if _, err := h.orchestrator.RunScan(context.Background(), "ghost", domain.ScanTriggerManual); !errors.Is(err, domain.ErrConfigNotFound) {
		t.Fatalf("ожидали ErrConfigNotFound, получили %v", err)
	}
}
