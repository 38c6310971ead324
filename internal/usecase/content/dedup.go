package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"content-radar/internal/domain"
)

// textDedupWindow окно мягкой дедупликации по тексту для кандидатов без
// стабильного идентификатора.
const textDedupWindow = 24 * time.Hour

// Deduplicator решает, был ли кандидат уже сохранён для пользователя.
// Для кандидатов со стабильным ключом решение консультативное: последним словом
// остаётся условная вставка хранилища.
type Deduplicator struct {
	contents domain.ContentRepo
	cache    domain.Cache
}

// NewDeduplicator создаёт дедупликатор.
func NewDeduplicator(contents domain.ContentRepo, cache domain.Cache) *Deduplicator {
	return &Deduplicator{contents: contents, cache: cache}
}

// IsDuplicate проверяет кандидата по ключу native_id либо url, а для
// кандидатов без ключей — по окну нормализованного текста.
// Для обоих видов проверка консультативная: последнее слово за ClaimText
// либо условной вставкой хранилища.
func (d *Deduplicator) IsDuplicate(ctx context.Context, userID string, candidate domain.CandidateItem) (bool, error) {
	if candidate.NativeID != "" || candidate.URL != "" {
		return d.contents.HasContentKey(ctx, userID, candidate)
	}
	if d.cache == nil {
		return false, nil
	}
	value, err := d.cache.Get(ctx, textKey(userID, candidate.Text))
	if err != nil {
		// Кэш не авторитетен: при сбое считаем кандидата новым.
		return false, nil
	}
	return len(value) > 0, nil
}

// ClaimText атомарно занимает текстовый ключ кандидата без стабильного
// идентификатора. false означает, что ключ уже занят: кандидат — дубликат.
// Одна SetNX-запись, поэтому из конкурентных сканирований ключ достаётся
// ровно одному.
func (d *Deduplicator) ClaimText(ctx context.Context, userID, text string) (bool, error) {
	if d.cache == nil {
		return true, nil
	}
	free, err := d.cache.Once(ctx, textKey(userID, text), textDedupWindow)
	if err != nil {
		// Кэш не авторитетен: при сбое считаем кандидата новым.
		return true, nil
	}
	return free, nil
}

// ReleaseText снимает текстовый ключ, если сохранение кандидата не удалось,
// чтобы повторное сканирование не потеряло его на всё окно.
func (d *Deduplicator) ReleaseText(ctx context.Context, userID, text string) {
	if d.cache == nil {
		return
	}
	_ = d.cache.Delete(ctx, textKey(userID, text))
}

func textKey(userID, text string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(text))), " ")
	sum := sha256.Sum256([]byte(normalized))
	return "dedup:text:" + userID + ":" + hex.EncodeToString(sum[:])
}
