package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"content-radar/internal/domain"
	"content-radar/internal/infra/metrics"
)

// XAPI выгружает посты аккаунтов через HTTP API платформы X.
// Все ошибки типизированы как *domain.FetchError, чтобы оркестратор
// мог изолировать сбой источника.
type XAPI struct {
	client  *http.Client
	baseURL string
}

var _ domain.SourceFetcher = (*XAPI)(nil)

// NewXAPI создаёт фетчер аккаунтов.
func NewXAPI(baseURL string, timeout time.Duration) *XAPI {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &XAPI{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type xapiPost struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type xapiResponse struct {
	Posts []xapiPost `json:"posts"`
}

// Fetch возвращает свежие посты аккаунта.
func (f *XAPI) Fetch(ctx context.Context, descriptor domain.SourceDescriptor, maxItems int) ([]domain.CandidateItem, error) {
	if f.baseURL == "" {
		return nil, domain.NewFetchError(domain.FetchUnreachable, descriptor.Locator, errors.New("не задан адрес API"))
	}

	endpoint := fmt.Sprintf("%s/accounts/%s/posts?limit=%s",
		f.baseURL, url.PathEscape(descriptor.Locator), strconv.Itoa(maxItems))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, domain.NewFetchError(domain.FetchUnreachable, descriptor.Locator, err)
	}
	if token := descriptor.Credentials["token"]; token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	metrics.ObserveNetworkRequest("xapi", "list_posts", descriptor.Locator, start, err)
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
	case resp.StatusCode == http.StatusRequestTimeout:
		return nil, domain.NewFetchError(domain.FetchTimeout, descriptor.Locator, fmt.Errorf("статус %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, domain.NewFetchError(domain.FetchUnreachable, descriptor.Locator,
			fmt.Errorf("статус %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
	}

	var payload xapiResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, domain.NewFetchError(domain.FetchParseFailure, descriptor.Locator, err)
	}

	items := make([]domain.CandidateItem, 0, len(payload.Posts))
	for _, post := range payload.Posts {
		if len(items) >= maxItems {
			break
		}
		items = append(items, domain.CandidateItem{
			Text:          post.Text,
			OriginLocator: descriptor.Locator,
			NativeID:      post.ID,
			SourceKind:    domain.SourceKindAccount,
			PublishedAt:   post.CreatedAt,
		})
	}
	return items, nil
}
