package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/factcheck-aggregator/internal/article"
	"github.com/JakeFAU/factcheck-aggregator/internal/storage/memory"
)

func seededStore(t *testing.T) *memory.ArticleStore {
	t.Helper()
	day := func(d int) *time.Time {
		ts := time.Date(2025, time.March, d, 12, 0, 0, 0, time.UTC)
		return &ts
	}
	store := memory.NewArticleStore()
	n, err := store.Ingest(context.Background(), []article.Article{
		{URL: "https://x/1", Medium: "X", PublishedAt: day(1), Topic: "Migration & Asyl"},
		{URL: "https://x/2", Medium: "X", PublishedAt: day(2), Topic: "Migration & Asyl"},
		{URL: "https://y/3", Medium: "Y", PublishedAt: day(3), Topic: "Klima & Umwelt"},
		{URL: "https://y/4", Medium: "Y", PublishedAt: day(4)},
	})
	require.NoError(t, err)
	require.Equal(t, 4, n)
	return store
}

func serve(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(memory.NewArticleStore(), 0, zap.NewNop()), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDIsPropagated(t *testing.T) {
	t.Parallel()

	s := NewServer(memory.NewArticleStore(), 0, zap.NewNop())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := NewServer(memory.NewArticleStore(), 0, zap.NewNop())
	serve(t, s, "/healthz")
	rec := serve(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestListArticlesFiltersAndPages(t *testing.T) {
	t.Parallel()

	s := NewServer(seededStore(t), 0, zap.NewNop())
	rec := serve(t, s, "/v1/articles?medium=X&published_before=2025-03-02&limit=1&offset=1")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Articles []article.Article `json:"articles"`
		Limit    int               `json:"limit"`
		Offset   int               `json:"offset"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Articles, 1)
	assert.Equal(t, "https://x/2", body.Articles[0].URL)
	assert.Equal(t, 1, body.Limit)
	assert.Equal(t, 1, body.Offset)
}

func TestListArticlesByTopic(t *testing.T) {
	t.Parallel()

	s := NewServer(seededStore(t), 0, zap.NewNop())
	rec := serve(t, s, "/v1/articles?topic=Klima+%26+Umwelt")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "https://y/3")
	assert.NotContains(t, rec.Body.String(), "https://x/1")
}

func TestListArticlesEmptyIsArray(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(memory.NewArticleStore(), 0, zap.NewNop()), "/v1/articles")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"articles":[],"limit":50,"offset":0}`, rec.Body.String())
}

func TestListArticlesRejectsBadInput(t *testing.T) {
	t.Parallel()

	s := NewServer(memory.NewArticleStore(), 0, zap.NewNop())
	for _, target := range []string{
		"/v1/articles?limit=0",
		"/v1/articles?limit=abc",
		"/v1/articles?offset=-1",
		"/v1/articles?published_after=yesterday",
		"/v1/articles?published_before=03/2025",
		"/v1/articles?published_after=2025-03-05&published_before=2025-03-01",
	} {
		rec := serve(t, s, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestTopicCounts(t *testing.T) {
	t.Parallel()

	s := NewServer(seededStore(t), 0, zap.NewNop())
	rec := serve(t, s, "/v1/topic-counts")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t,
		`{"topic_counts":[{"topic":"Migration & Asyl","count":2},{"topic":"Klima & Umwelt","count":1}]}`,
		rec.Body.String())

	rec = serve(t, s, "/v1/topic-counts?medium=Y&published_after=2025-03-03")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"topic_counts":[{"topic":"Klima & Umwelt","count":1}]}`, rec.Body.String())
}

type countingStore struct {
	article.Store
	calls atomic.Int32
	err   error
}

func (c *countingStore) TopicCounts(ctx context.Context, f article.Filter) ([]article.TopicCount, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.Store.TopicCounts(ctx, f)
}

func TestTopicCountsAreCached(t *testing.T) {
	t.Parallel()

	store := &countingStore{Store: seededStore(t)}
	s := NewServer(store, time.Minute, zap.NewNop())

	first := serve(t, s, "/v1/topic-counts?medium=X")
	second := serve(t, s, "/v1/topic-counts?medium=X")
	other := serve(t, s, "/v1/topic-counts?medium=Y")

	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "MISS", other.Header().Get("X-Cache"))
	assert.Equal(t, int32(2), store.calls.Load())
}

func TestTopicCountsStoreError(t *testing.T) {
	t.Parallel()

	store := &countingStore{Store: memory.NewArticleStore(), err: errors.New("connection refused")}
	rec := serve(t, NewServer(store, time.Minute, zap.NewNop()), "/v1/topic-counts")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

type panickingStore struct{ article.Store }

func (panickingStore) Query(context.Context, article.Filter, article.Page) ([]article.Article, error) {
	panic("boom")
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(panickingStore{}, 0, zap.NewNop()), "/v1/articles")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}
