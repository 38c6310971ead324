package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"content-radar/internal/domain"
	"content-radar/internal/infra/metrics"
)

// RSS читает ленты RSS/Atom. Локатор источника — URL ленты.
type RSS struct {
	client      *http.Client
	maxBodySize int64
}

var _ domain.SourceFetcher = (*RSS)(nil)

// NewRSS создаёт фетчер лент.
func NewRSS(timeout time.Duration) *RSS {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RSS{
		client:      &http.Client{Timeout: timeout},
		maxBodySize: 5 << 20,
	}
}

// Fetch скачивает и парсит ленту, отдавая не более maxItems записей.
func (f *RSS) Fetch(ctx context.Context, descriptor domain.SourceDescriptor, maxItems int) ([]domain.CandidateItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, descriptor.Locator, nil)
	if err != nil {
		return nil, domain.NewFetchError(domain.FetchUnreachable, descriptor.Locator, err)
	}
	req.Header.Set("User-Agent", "content-radar/1.0")

	start := time.Now()
	resp, err := f.client.Do(req)
	metrics.ObserveNetworkRequest("rss", "fetch_feed", descriptor.Locator, start, err)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.NewFetchError(domain.FetchTimeout, descriptor.Locator, err)
		}
		return nil, domain.NewFetchError(domain.FetchUnreachable, descriptor.Locator, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, domain.NewFetchError(domain.FetchAuthFailure, descriptor.Locator, fmt.Errorf("статус %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, domain.NewFetchError(domain.FetchUnreachable, descriptor.Locator, fmt.Errorf("статус %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		return nil, domain.NewFetchError(domain.FetchUnreachable, descriptor.Locator, err)
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, domain.NewFetchError(domain.FetchParseFailure, descriptor.Locator, err)
	}

	items := make([]domain.CandidateItem, 0, len(feed.Items))
	for _, entry := range feed.Items {
		if len(items) >= maxItems {
			break
		}
		text := entry.Title
		if entry.Description != "" {
			text = text + "\n" + entry.Description
		}
		published := time.Now().UTC()
		if entry.PublishedParsed != nil {
			published = entry.PublishedParsed.UTC()
		}
		items = append(items, domain.CandidateItem{
			Text:          text,
			OriginLocator: descriptor.Locator,
			URL:           entry.Link,
			NativeID:      entry.GUID,
			SourceKind:    domain.SourceKindFeed,
			PublishedAt:   published,
		})
	}
	return items, nil
}
