package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/cls-news-crawler/internal/crawler"
	"github.com/JakeFAU/cls-news-crawler/internal/history"
)

type fakeArticles struct {
	records []crawler.Record
	err     error
}

func (f *fakeArticles) LoadAll(context.Context) ([]crawler.Record, error) {
	return f.records, f.err
}

func (f *fakeArticles) Get(_ context.Context, id string) (crawler.Record, error) {
	if f.err != nil {
		return crawler.Record{}, f.err
	}
	for _, rec := range f.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return crawler.Record{}, history.ErrNotFound
}

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type blockingRunner struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
}

func (r *blockingRunner) Run(context.Context) (crawler.RunSummary, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	<-r.release
	return crawler.RunSummary{RunID: "run-1", Accepted: 1}, nil
}

func sampleRecords() []crawler.Record {
	return []crawler.Record{
		{ID: "a", Title: "昨日快讯一", Date: "2024-05-19 08:00:00"},
		{ID: "b", Title: "昨日快讯二", Date: "2024-05-19 21:30:00"},
		{ID: "c", Title: "今日快讯", Date: "2024-05-20 09:00:00"},
	}
}

func newTestServer(opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = fakeClock{now: time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC)}
	}
	return NewServer(opts)
}

func serve(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServerHealthAndReady(t *testing.T) {
	t.Parallel()

	s := newTestServer(Options{Articles: &fakeArticles{}})
	require.Equal(t, http.StatusOK, serve(t, s, http.MethodGet, "/healthz").Code)
	rec := serve(t, s, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	broken := newTestServer(Options{Articles: &fakeArticles{err: errors.New("disk gone")}})
	require.Equal(t, http.StatusServiceUnavailable, serve(t, broken, http.MethodGet, "/readyz").Code)
}

func TestServerMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := newTestServer(Options{})
	rec := serve(t, s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServerListArticlesDefaultsToYesterday(t *testing.T) {
	t.Parallel()

	s := newTestServer(Options{Articles: &fakeArticles{records: sampleRecords()}})
	rec := serve(t, s, http.MethodGet, "/v1/articles")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Articles []crawler.Record `json:"articles"`
		Count    int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, "a", body.Articles[0].ID)
	assert.Equal(t, "b", body.Articles[1].ID)
}

func TestServerListArticlesByDate(t *testing.T) {
	t.Parallel()

	s := newTestServer(Options{Articles: &fakeArticles{records: sampleRecords()}})
	rec := serve(t, s, http.MethodGet, "/v1/articles?date=2024-05-20")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "今日快讯")

	rec = serve(t, s, http.MethodGet, "/v1/articles?date=20240520")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, s, http.MethodGet, "/v1/articles?date=2023-01-01")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"articles":[]`)
}

func TestServerGetArticle(t *testing.T) {
	t.Parallel()

	s := newTestServer(Options{Articles: &fakeArticles{records: sampleRecords()}})
	rec := serve(t, s, http.MethodGet, "/v1/articles/c")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "今日快讯")

	require.Equal(t, http.StatusNotFound, serve(t, s, http.MethodGet, "/v1/articles/zzz").Code)
}

func TestServerArticlesUnavailable(t *testing.T) {
	t.Parallel()

	s := newTestServer(Options{})
	require.Equal(t, http.StatusServiceUnavailable, serve(t, s, http.MethodGet, "/v1/articles").Code)
	require.Equal(t, http.StatusServiceUnavailable, serve(t, s, http.MethodGet, "/v1/articles/a").Code)
}

func TestServerStartRunAllowsOneAtATime(t *testing.T) {
	t.Parallel()

	runner := &blockingRunner{release: make(chan struct{})}
	s := newTestServer(Options{Runner: runner})

	require.Equal(t, http.StatusAccepted, serve(t, s, http.MethodPost, "/v1/runs").Code)
	require.Equal(t, http.StatusConflict, serve(t, s, http.MethodPost, "/v1/runs").Code)

	close(runner.release)
	s.Wait()
	require.Equal(t, http.StatusAccepted, serve(t, s, http.MethodPost, "/v1/runs").Code)
	s.Wait()

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, 2, runner.calls)
}

func TestServerStartRunWithoutRunner(t *testing.T) {
	t.Parallel()

	s := newTestServer(Options{})
	require.Equal(t, http.StatusServiceUnavailable, serve(t, s, http.MethodPost, "/v1/runs").Code)
}
