package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"content-radar/internal/domain"
)

// Static отдаёт заранее заданный список кандидатов. Используется в dev-окружении
// и для посева тестового контента без внешних вызовов.
type Static struct {
	texts []string
}

var _ domain.SourceFetcher = (*Static)(nil)

// NewStatic создаёт фетчер с фиксированными текстами.
func NewStatic(texts []string) *Static {
	return &Static{texts: texts}
}

// Fetch возвращает кандидатов из фиксированного набора. NativeID детерминирован
// по тексту, поэтому повторные сканирования дают дубликаты, как у реального источника.
func (f *Static) Fetch(_ context.Context, descriptor domain.SourceDescriptor, maxItems int) ([]domain.CandidateItem, error) {
	items := make([]domain.CandidateItem, 0, len(f.texts))
	for _, text := range f.texts {
		if len(items) >= maxItems {
			break
		}
		sum := sha256.Sum256([]byte(text))
		items = append(items, domain.CandidateItem{
			Text:          text,
			OriginLocator: descriptor.Locator,
			NativeID:      "static-" + hex.EncodeToString(sum[:8]),
			SourceKind:    descriptor.Kind,
			PublishedAt:   time.Now().UTC(),
		})
	}
	return items, nil
}
