package content

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"content-radar/internal/domain"
)

// StatsHooks уведомления об изменениях контента для агрегатора статистики.
type StatsHooks interface {
	OnContentCreated(ctx context.Context, userID string) error
	OnTransition(ctx context.Context, userID string, from, to domain.ContentStatus, at time.Time) error
}

// Service реализует жизненный цикл найденного контента.
type Service struct {
	contents domain.ContentRepo
	dedup    *Deduplicator
	stats    StatsHooks
	log      zerolog.Logger
}

// NewService создаёт сервис контента.
func NewService(contents domain.ContentRepo, dedup *Deduplicator, stats StatsHooks, logger zerolog.Logger) *Service {
	return &Service{contents: contents, dedup: dedup, stats: stats, log: logger}
}

// Deduplicator возвращает дедупликатор сервиса.
func (s *Service) Deduplicator() *Deduplicator { return s.dedup }

// Create сохраняет принятого кандидата в статусе pending.
// Возвращает domain.ErrDuplicateContent, если кандидат уже известен.
// Кандидаты со стабильным ключом упираются в уникальные индексы хранилища;
// кандидаты без ключа занимают текстовый ключ одной SetNX-записью до вставки,
// поэтому из конкурентных сканирований строку создаёт ровно одно.
func (s *Service) Create(ctx context.Context, userID string, candidate domain.CandidateItem, analysis domain.Analysis) (domain.FoundContent, error) {
	unkeyed := candidate.NativeID == "" && candidate.URL == ""
	if unkeyed {
		claimed, err := s.dedup.ClaimText(ctx, userID, candidate.Text)
		if err != nil {
			return domain.FoundContent{}, err
		}
		if !claimed {
			return domain.FoundContent{}, domain.ErrDuplicateContent
		}
	}

	now := time.Now().UTC()
	publishedAt := candidate.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = now
	}
	content := domain.FoundContent{
		ID:            uuid.NewString(),
		UserID:        userID,
		Text:          candidate.Text,
		SourceLocator: candidate.OriginLocator,
		SourceKind:    candidate.SourceKind,
		NativeID:      candidate.NativeID,
		URL:           candidate.URL,
		Status:        domain.StatusPending,
		PublishedAt:   publishedAt,
		DiscoveredAt:  now,
		LastUpdatedAt: now,
		Analysis:      analysis,
	}

	created, err := s.contents.CreateIfAbsent(ctx, content)
	if err != nil {
		if unkeyed && !errors.Is(err, domain.ErrDuplicateContent) {
			s.dedup.ReleaseText(ctx, userID, candidate.Text)
		}
		return domain.FoundContent{}, err
	}

	if err := s.stats.OnContentCreated(ctx, userID); err != nil {
		s.log.Error().Err(err).Str("user", userID).Msg("content: не удалось обновить статистику создания")
	}
	return created, nil
}

// Transition переводит контент в новый статус.
// Допустимость перехода проверяется по центральной таблице, а запись идёт
// сравнением с текущим статусом: устаревший запрос не затирает конкурентный.
func (s *Service) Transition(ctx context.Context, contentID, userID string, to domain.ContentStatus) (domain.FoundContent, error) {
	if !domain.KnownStatus(to) {
		return domain.FoundContent{}, fmt.Errorf("неизвестный статус %q", to)
	}

	current, err := s.contents.GetContent(ctx, contentID, userID)
	if err != nil {
		return domain.FoundContent{}, err
	}
	if !domain.CanTransition(current.Status, to) {
		return domain.FoundContent{}, &domain.InvalidTransitionError{From: current.Status, To: to}
	}

	now := time.Now().UTC()
	updated, err := s.contents.UpdateStatus(ctx, contentID, userID, current.Status, to, now)
	if err != nil {
		return domain.FoundContent{}, err
	}

	if err := s.stats.OnTransition(ctx, userID, current.Status, to, now); err != nil {
		s.log.Error().Err(err).Str("user", userID).Msg("content: не удалось обновить статистику перехода")
	}
	return updated, nil
}

// Query возвращает контент пользователя по убыванию discovered_at.
func (s *Service) Query(ctx context.Context, userID string, q domain.ContentQuery) ([]domain.FoundContent, error) {
	if q.Status != nil && !domain.KnownStatus(*q.Status) {
		return nil, fmt.Errorf("неизвестный статус %q", *q.Status)
	}
	return s.contents.ListContent(ctx, userID, q)
}

// Delete безвозвратно удаляет контент из любого статуса. Идемпотентна.
func (s *Service) Delete(ctx context.Context, contentID, userID string) error {
	return s.contents.DeleteContent(ctx, contentID, userID)
}
