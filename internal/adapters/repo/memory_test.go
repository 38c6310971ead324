package repo

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"content-radar/internal/domain"
)

func TestUpdateStatusCAS(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	content := domain.FoundContent{ID: "c1", UserID: "user-1", NativeID: "n1", Status: domain.StatusPending, DiscoveredAt: time.Now().UTC()}
	if _, err := store.CreateIfAbsent(ctx, content); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	if _, err := store.UpdateStatus(ctx, "c1", "user-1", domain.StatusPending, domain.StatusApproved, time.Now().UTC()); err != nil {
		t.Fatalf("переход из актуального статуса: %v", err)
	}

	// Запись с устаревшим ожидаемым статусом не должна пройти.
	var transitionErr *domain.InvalidTransitionError
	_, err := store.UpdateStatus(ctx, "c1", "user-1", domain.StatusPending, domain.StatusRejected, time.Now().UTC())
	if !errors.As(err, &transitionErr) {
		t.Fatalf("ожидали InvalidTransitionError для устаревшего статуса, получили %v", err)
	}
	if transitionErr.From != domain.StatusApproved {
		t.Fatalf("ошибка должна сообщать фактический статус, получили %s", transitionErr.From)
	}
}

func TestUpdateStatusAppendsLog(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	content := domain.FoundContent{ID: "c1", UserID: "user-1", NativeID: "n1", Status: domain.StatusPending}
	if _, err := store.CreateIfAbsent(ctx, content); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	at := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	updated, err := store.UpdateStatus(ctx, "c1", "user-1", domain.StatusPending, domain.StatusRejected, at)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(updated.StatusLog) != 1 {
		t.Fatalf("ожидали одну запись истории, получили %d", len(updated.StatusLog))
	}
	change := updated.StatusLog[0]
	if change.From != domain.StatusPending || change.To != domain.StatusRejected || !change.At.Equal(at) {
		t.Fatalf("неожиданная запись истории: %+v", change)
	}
	if !updated.LastUpdatedAt.Equal(at) {
		t.Fatalf("last_updated_at должен совпадать с моментом перехода")
	}
}

func TestCreateIfAbsentDetectsURLKey(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	first := domain.FoundContent{ID: "c1", UserID: "user-1", URL: "https://example.com/a", Status: domain.StatusPending}
	if _, err := store.CreateIfAbsent(ctx, first); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	second := domain.FoundContent{ID: "c2", UserID: "user-1", URL: "https://example.com/a", Status: domain.StatusPending}
	if _, err := store.CreateIfAbsent(ctx, second); !errors.Is(err, domain.ErrDuplicateContent) {
		t.Fatalf("ожидали ErrDuplicateContent по URL, получили %v", err)
	}

	has, err := store.HasContentKey(ctx, "user-1", domain.CandidateItem{URL: "https://example.com/a"})
	if err != nil || !has {
		t.Fatalf("ключ URL должен быть занят: %v %v", has, err)
	}
	has, err = store.HasContentKey(ctx, "user-2", domain.CandidateItem{URL: "https://example.com/a"})
	if err != nil || has {
		t.Fatalf("ключ другого пользователя должен быть свободен: %v %v", has, err)
	}
}

func TestDeleteFreesDedupKey(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	content := domain.FoundContent{ID: "c1", UserID: "user-1", NativeID: "n1", Status: domain.StatusPending}
	if _, err := store.CreateIfAbsent(ctx, content); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := store.DeleteContent(ctx, "c1", "user-1"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	content.ID = "c2"
	if _, err := store.CreateIfAbsent(ctx, content); err != nil {
		t.Fatalf("после удаления ключ должен освободиться: %v", err)
	}
}

func TestListContentOrderAndPagination(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	base := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		content := domain.FoundContent{
			ID:           fmt.Sprintf("c%d", i),
			UserID:       "user-1",
			NativeID:     fmt.Sprintf("n%d", i),
			Status:       domain.StatusPending,
			DiscoveredAt: base.Add(time.Duration(i) * time.Minute),
		}
		if _, err := store.CreateIfAbsent(ctx, content); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}

	items, err := store.ListContent(ctx, "user-1", domain.ContentQuery{Limit: 2})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(items) != 2 || items[0].ID != "c4" || items[1].ID != "c3" {
		t.Fatalf("ожидали порядок по убыванию discovered_at, получили %+v", items)
	}

	items, err = store.ListContent(ctx, "user-1", domain.ContentQuery{Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(items) != 1 || items[0].ID != "c0" {
		t.Fatalf("ожидали хвост выборки, получили %+v", items)
	}

	items, err = store.ListContent(ctx, "user-1", domain.ContentQuery{Offset: 10})
	if err != nil || items != nil {
		t.Fatalf("смещение за пределами выборки даёт пусто: %v %v", items, err)
	}
}

func TestListContentFiltersStatus(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	pending := domain.FoundContent{ID: "c1", UserID: "user-1", NativeID: "n1", Status: domain.StatusPending}
	approved := domain.FoundContent{ID: "c2", UserID: "user-1", NativeID: "n2", Status: domain.StatusApproved}
	for _, c := range []domain.FoundContent{pending, approved} {
		if _, err := store.CreateIfAbsent(ctx, c); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}

	status := domain.StatusApproved
	items, err := store.ListContent(ctx, "user-1", domain.ContentQuery{Status: &status})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(items) != 1 || items[0].ID != "c2" {
		t.Fatalf("ожидали только approved, получили %+v", items)
	}
}

func TestListDueConfigs(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	now := time.Now().UTC()

	fresh := domain.UserConfig{UserID: "fresh", ScanIntervalSeconds: 300}
	stale := domain.UserConfig{UserID: "stale", ScanIntervalSeconds: 60}
	never := domain.UserConfig{UserID: "never", ScanIntervalSeconds: 60}
	for _, cfg := range []domain.UserConfig{fresh, stale, never} {
		if _, err := store.SaveConfig(ctx, cfg); err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
	}
	if err := store.MarkScanned(ctx, "fresh", now.Add(-time.Minute)); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := store.MarkScanned(ctx, "stale", now.Add(-2*time.Minute)); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	due, err := store.ListDueConfigs(ctx, now)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("ожидали двух должников, получили %d", len(due))
	}
	if due[0].UserID != "never" || due[1].UserID != "stale" {
		t.Fatalf("неожиданный состав: %+v", due)
	}
}

func TestSaveConfigEnforcesMinInterval(t *testing.T) {
	store := NewMemory()
	saved, err := store.SaveConfig(context.Background(), domain.UserConfig{UserID: "user-1", ScanIntervalSeconds: 5})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if saved.ScanIntervalSeconds != domain.MinScanIntervalSeconds {
		t.Fatalf("интервал должен подняться до минимума, получили %d", saved.ScanIntervalSeconds)
	}
}

func TestGetStatsForUnknownUser(t *testing.T) {
	store := NewMemory()
	stats, err := store.GetStats(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if stats.TotalScanned != 0 || stats.AIApproved != 0 || stats.LastScanAt != nil {
		t.Fatalf("для нового пользователя счётчики нулевые: %+v", stats)
	}
}
