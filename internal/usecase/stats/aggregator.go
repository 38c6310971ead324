package stats

import (
	"context"
	"time"

	"content-radar/internal/domain"
)

// Aggregator инкрементально ведёт накопительные счётчики пользователей.
// Каждый хук — одно атомарное приращение в хранилище; полный пересчёт
// оставлен для восстановления после сбоя.
type Aggregator struct {
	repo domain.StatsRepo
}

// NewAggregator создаёт агрегатор.
func NewAggregator(repo domain.StatsRepo) *Aggregator {
	return &Aggregator{repo: repo}
}

// OnContentCreated учитывает принятый шлюзом контент.
func (a *Aggregator) OnContentCreated(ctx context.Context, userID string) error {
	return a.repo.IncrementStats(ctx, userID, domain.StatsDelta{AIApproved: 1})
}

// OnScanCounted учитывает просмотренных за цикл кандидатов и момент сканирования.
func (a *Aggregator) OnScanCounted(ctx context.Context, userID string, seen int, at time.Time) error {
	return a.repo.IncrementStats(ctx, userID, domain.StatsDelta{TotalScanned: int64(seen), ScanAt: &at})
}

// OnTransition учитывает переход статуса.
// Счётчики накопительные: approved не ведётся отдельным уменьшаемым счётчиком,
// публикации и отклонения только прибавляются.
func (a *Aggregator) OnTransition(ctx context.Context, userID string, from, to domain.ContentStatus, at time.Time) error {
	var delta domain.StatsDelta
	switch to {
	case domain.StatusPosted:
		delta.Posted = 1
		delta.PostedAt = &at
	case domain.StatusRejected:
		delta.Rejected = 1
	default:
		return nil
	}
	return a.repo.IncrementStats(ctx, userID, delta)
}

// CurrentStats возвращает текущие счётчики пользователя.
func (a *Aggregator) CurrentStats(ctx context.Context, userID string) (domain.Statistics, error) {
	return a.repo.GetStats(ctx, userID)
}

// Reconcile пересчитывает счётчики из контента и истории переходов.
// Применяется после пропущенного хука, например при падении между записями.
func (a *Aggregator) Reconcile(ctx context.Context, userID string) (domain.Statistics, error) {
	return a.repo.RecountStats(ctx, userID)
}
