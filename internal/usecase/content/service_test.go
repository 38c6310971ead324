package content

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
)

type recordingStats struct {
	created     int
	transitions []domain.ContentStatus
}

func (r *recordingStats) OnContentCreated(context.Context, string) error {
	r.created++
	return nil
}

func (r *recordingStats) OnTransition(_ context.Context, _ string, _, to domain.ContentStatus, _ time.Time) error {
	r.transitions = append(r.transitions, to)
	return nil
}

func newTestService() (*Service, *recordingStats) {
	contents := repo.NewMemory()
	stats := &recordingStats{}
	service := NewService(contents, NewDeduplicator(contents, cache.NewMemory()), stats, zerolog.Nop())
	return service, stats
}

func TestCreateRejectsDuplicateNativeID(t *testing.T) {
	service, stats := newTestService()
	ctx := context.Background()
	candidate := domain.CandidateItem{Text: "первый", NativeID: "post-1", OriginLocator: "@news", SourceKind: domain.SourceKindAccount}

	if _, err := service.Create(ctx, "user-1", candidate, domain.Analysis{}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := service.Create(ctx, "user-1", candidate, domain.Analysis{}); !errors.Is(err, domain.ErrDuplicateContent) {
		t.Fatalf("ожидали ErrDuplicateContent, получили %v", err)
	}
	if stats.created != 1 {
		t.Fatalf("статистика создания должна учитываться один раз, получили %d", stats.created)
	}
}

func TestCreateAllowsSameNativeIDForAnotherUser(t *testing.T) {
	service, _ := newTestService()
	ctx := context.Background()
	candidate := domain.CandidateItem{Text: "общий пост", NativeID: "post-1", SourceKind: domain.SourceKindAccount}

	if _, err := service.Create(ctx, "user-1", candidate, domain.Analysis{}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := service.Create(ctx, "user-2", candidate, domain.Analysis{}); err != nil {
		t.Fatalf("ключ дедупликации действует в пределах пользователя: %v", err)
	}
}

func TestCreateTextWindowForUnkeyedCandidates(t *testing.T) {
	service, _ := newTestService()
	ctx := context.Background()
	candidate := domain.CandidateItem{Text: "Новости  дня", SourceKind: domain.SourceKindFeed}

	if _, err := service.Create(ctx, "user-1", candidate, domain.Analysis{}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	// Нормализация: регистр и пробелы не делают текст новым.
	repeat := domain.CandidateItem{Text: "новости дня", SourceKind: domain.SourceKindFeed}
	if _, err := service.Create(ctx, "user-1", repeat, domain.Analysis{}); !errors.Is(err, domain.ErrDuplicateContent) {
		t.Fatalf("ожидали ErrDuplicateContent по текстовому окну, получили %v", err)
	}
}

// laggyCache добавляет задержку каждой операции, как у сетевого Redis:
// чтение-перед-записью на таком кэше пропускало бы конкурентов между Get и Set.
type laggyCache struct {
	inner domain.Cache
}

func (c *laggyCache) Once(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	time.Sleep(time.Millisecond)
	return c.inner.Once(ctx, key, ttl)
}

func (c *laggyCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	time.Sleep(time.Millisecond)
	return c.inner.Set(ctx, key, value, ttl)
}

func (c *laggyCache) Get(ctx context.Context, key string) ([]byte, error) {
	time.Sleep(time.Millisecond)
	return c.inner.Get(ctx, key)
}

func (c *laggyCache) Delete(ctx context.Context, key string) error {
	time.Sleep(time.Millisecond)
	return c.inner.Delete(ctx, key)
}

func TestCreateUnkeyedConcurrentSingleRow(t *testing.T) {
	contents := repo.NewMemory()
	stats := &recordingStats{}
	dedup := NewDeduplicator(contents, &laggyCache{inner: cache.NewMemory()})
	service := NewService(contents, dedup, stats, zerolog.Nop())
	ctx := context.Background()
	candidate := domain.CandidateItem{Text: "пост без идентификатора", SourceKind: domain.SourceKindFeed}

	const workers = 8
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		created    int
		duplicates int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.Create(ctx, "user-1", candidate, domain.Analysis{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, domain.ErrDuplicateContent):
				duplicates++
			default:
				t.Errorf("неожиданная ошибка: %v", err)
			}
		}()
	}
	wg.Wait()

	if created != 1 || duplicates != workers-1 {
		t.Fatalf("ожидали 1 создание и %d дубликатов, получили %d/%d", workers-1, created, duplicates)
	}
	rows, err := service.Query(ctx, "user-1", domain.ContentQuery{})
	if err != nil {
		t.Fatalf("выборка: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("конкурентные создания оставили %d строк вместо одной", len(rows))
	}
	if stats.created != 1 {
		t.Fatalf("статистика создания должна учитываться один раз, получили %d", stats.created)
	}
}

// failOnceRepo откатывает первую вставку, имитируя сбой хранилища.
type failOnceRepo struct {
	*repo.Memory
	failed bool
}

func (r *failOnceRepo) CreateIfAbsent(ctx context.Context, content domain.FoundContent) (domain.FoundContent, error) {
	if !r.failed {
		r.failed = true
		return domain.FoundContent{}, &domain.StorageError{Op: "create_content", Err: errors.New("обрыв соединения")}
	}
	return r.Memory.CreateIfAbsent(ctx, content)
}

func TestCreateUnkeyedReleasesClaimOnStorageError(t *testing.T) {
	contents := &failOnceRepo{Memory: repo.NewMemory()}
	service := NewService(contents, NewDeduplicator(contents, cache.NewMemory()), &recordingStats{}, zerolog.Nop())
	ctx := context.Background()
	candidate := domain.CandidateItem{Text: "пост без идентификатора", SourceKind: domain.SourceKindFeed}

	var storageErr *domain.StorageError
	if _, err := service.Create(ctx, "user-1", candidate, domain.Analysis{}); !errors.As(err, &storageErr) {
		t.Fatalf("ожидали StorageError, получили %v", err)
	}
	// Текстовый ключ снят: повторное сканирование не теряет кандидата на всё окно.
	if _, err := service.Create(ctx, "user-1", candidate, domain.Analysis{}); err != nil {
		t.Fatalf("после сбоя хранилища кандидат должен сохраняться: %v", err)
	}
}

func TestCreateCarriesPublishedAt(t *testing.T) {
	service, _ := newTestService()
	ctx := context.Background()
	publishedAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	created, err := service.Create(ctx, "user-1", domain.CandidateItem{Text: "пост", NativeID: "p1", PublishedAt: publishedAt}, domain.Analysis{})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !created.PublishedAt.Equal(publishedAt) {
		t.Fatalf("ожидали published_at %v, получили %v", publishedAt, created.PublishedAt)
	}

	// Без метки источника берётся момент обнаружения.
	unkeyed, err := service.Create(ctx, "user-1", domain.CandidateItem{Text: "без метки", NativeID: "p2"}, domain.Analysis{})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !unkeyed.PublishedAt.Equal(unkeyed.DiscoveredAt) {
		t.Fatalf("ожидали published_at равным discovered_at, получили %v и %v", unkeyed.PublishedAt, unkeyed.DiscoveredAt)
	}
}

func TestTransitionLifecycle(t *testing.T) {
	service, stats := newTestService()
	ctx := context.Background()
	created, err := service.Create(ctx, "user-1", domain.CandidateItem{Text: "пост", NativeID: "p1"}, domain.Analysis{})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if created.Status != domain.StatusPending {
		t.Fatalf("новый контент должен быть pending, получили %s", created.Status)
	}

	approved, err := service.Transition(ctx, created.ID, "user-1", domain.StatusApproved)
	if err != nil {
		t.Fatalf("pending → approved: %v", err)
	}
	if approved.Status != domain.StatusApproved {
		t.Fatalf("ожидали approved, получили %s", approved.Status)
	}

	posted, err := service.Transition(ctx, created.ID, "user-1", domain.StatusPosted)
	if err != nil {
		t.Fatalf("approved → posted: %v", err)
	}
	if len(posted.StatusLog) != 2 {
		t.Fatalf("ожидали 2 записи истории, получили %d", len(posted.StatusLog))
	}

	var transitionErr *domain.InvalidTransitionError
	if _, err := service.Transition(ctx, created.ID, "user-1", domain.StatusRejected); !errors.As(err, &transitionErr) {
		t.Fatalf("posted терминален, ожидали InvalidTransitionError, получили %v", err)
	}

	if len(stats.transitions) != 2 {
		t.Fatalf("хук переходов должен сработать дважды, получили %d", len(stats.transitions))
	}
}

func TestTransitionRejectedIsIdempotent(t *testing.T) {
	service, _ := newTestService()
	ctx := context.Background()
	created, err := service.Create(ctx, "user-1", domain.CandidateItem{Text: "пост", NativeID: "p1"}, domain.Analysis{})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := service.Transition(ctx, created.ID, "user-1", domain.StatusRejected); err != nil {
		t.Fatalf("pending → rejected: %v", err)
	}
	again, err := service.Transition(ctx, created.ID, "user-1", domain.StatusRejected)
	if err != nil {
		t.Fatalf("rejected → rejected допустим: %v", err)
	}
	if again.Status != domain.StatusRejected {
		t.Fatalf("ожидали rejected, получили %s", again.Status)
	}
}

func TestTransitionUnknownStatus(t *testing.T) {
	service, _ := newTestService()
	if _, err := service.Transition(context.Background(), "id", "user-1", domain.ContentStatus("archived")); err == nil {
		t.Fatalf("ожидали ошибку для неизвестного статуса")
	}
}

func TestTransitionForeignContentLooksMissing(t *testing.T) {
	service, _ := newTestService()
	ctx := context.Background()
	created, err := service.Create(ctx, "user-1", domain.CandidateItem{Text: "пост", NativeID: "p1"}, domain.Analysis{})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	_, foreignErr := service.Transition(ctx, created.ID, "user-2", domain.StatusApproved)
	_, missingErr := service.Transition(ctx, "no-such-id", "user-2", domain.StatusApproved)
	if !errors.Is(foreignErr, domain.ErrContentNotFound) || !errors.Is(missingErr, domain.ErrContentNotFound) {
		t.Fatalf("чужой и отсутствующий контент должны быть неотличимы: %v / %v", foreignErr, missingErr)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	service, _ := newTestService()
	ctx := context.Background()
	created, err := service.Create(ctx, "user-1", domain.CandidateItem{Text: "пост", NativeID: "p1"}, domain.Analysis{})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if err := service.Delete(ctx, created.ID, "user-1"); err != nil {
		t.Fatalf("удаление: %v", err)
	}
	if err := service.Delete(ctx, created.ID, "user-1"); err != nil {
		t.Fatalf("повторное удаление должно быть безошибочным: %v", err)
	}
	if _, err := service.Transition(ctx, created.ID, "user-1", domain.StatusApproved); !errors.Is(err, domain.ErrContentNotFound) {
		t.Fatalf("после удаления контент недоступен: %v", err)
	}
}

func TestQueryRejectsUnknownStatus(t *testing.T) {
	service, _ := newTestService()
	bad := domain.ContentStatus("draft")
	if _, err := service.Query(context.Background(), "user-1", domain.ContentQuery{Status: &bad}); err == nil {
		t.Fatalf("ожидали ошибку для неизвестного статуса фильтра")
	}
}
