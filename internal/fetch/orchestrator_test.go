package fetch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/cls-news-crawler/internal/crawler"
	"github.com/JakeFAU/cls-news-crawler/internal/headless/detector"
	"github.com/JakeFAU/cls-news-crawler/internal/progress"
)

const (
	articleHTML  = `<html><body><div class="detail-content">财联社5月20日电，央行开展逆回购操作。</div></body></html>`
	homepageHTML = `<html><body>财联社-主流财经新闻集团 上证指数 深证成指 创业板指 电报 盯盘 VIP</body></html>`
	detailURL    = "https://www.cls.cn/detail/1690001"
)

type step struct {
	html string
	err  error
}

// scriptedRenderer replays steps for the longest matching URL prefix; the
// last step repeats.
type scriptedRenderer struct {
	mu       sync.Mutex
	steps    map[string][]step
	requests []crawler.RenderRequest
}

func (r *scriptedRenderer) Render(_ context.Context, req crawler.RenderRequest) (crawler.RenderResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	best := ""
	for prefix := range r.steps {
		if strings.HasPrefix(req.URL, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	steps, ok := r.steps[best]
	if !ok {
		return crawler.RenderResult{}, errors.New("unexpected url " + req.URL)
	}
	s := steps[0]
	if len(steps) > 1 {
		r.steps[best] = steps[1:]
	}
	return crawler.RenderResult{HTML: s.html, FinalURL: req.URL}, s.err
}

func (r *scriptedRenderer) urls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.requests))
	for _, req := range r.requests {
		out = append(out, req.URL)
	}
	return out
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newOrchestrator(r crawler.Renderer, cfg Config, opts ...Option) *Orchestrator {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	cfg.BackoffUnit = time.Millisecond
	cfg.PageTimeout = time.Second
	return New(r, detector.NewHeuristic(3, nil), cfg, nil, opts...)
}

func TestFetchSuccessFirstAttempt(t *testing.T) {
	t.Parallel()

	r := &scriptedRenderer{steps: map[string][]step{detailURL: {{html: articleHTML}}}}
	o := newOrchestrator(r, Config{Script: DetailScript, SettleDelay: 12 * time.Second})

	res := o.Fetch(context.Background(), detailURL)
	require.True(t, res.Success)
	assert.False(t, res.RedirectedToHome)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, articleHTML, res.HTML)

	require.Len(t, r.requests, 1)
	assert.Equal(t, DetailScript, r.requests[0].Script)
	assert.Equal(t, 12*time.Second, r.requests[0].SettleDelay)
	assert.Nil(t, r.requests[0].Schema, "detail pages render in raw mode")
}

func TestFetchRetriesTransportAndEmptyHTML(t *testing.T) {
	t.Parallel()

	r := &scriptedRenderer{steps: map[string][]step{detailURL: {
		{err: errors.New("net::ERR_CONNECTION_RESET")},
		{html: "   "},
		{html: articleHTML},
	}}}
	o := newOrchestrator(r, Config{})

	res := o.Fetch(context.Background(), detailURL)
	require.True(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
}

func TestFetchGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	r := &scriptedRenderer{steps: map[string][]step{detailURL: {{err: crawler.ErrTransport}}}}
	o := newOrchestrator(r, Config{MaxAttempts: 2})

	res := o.Fetch(context.Background(), detailURL)
	assert.False(t, res.Success)
	assert.False(t, res.RedirectedToHome)
	assert.Equal(t, 2, res.Attempts)
	assert.Empty(t, res.HTML)
	assert.Len(t, r.requests, 2)
}

func TestFetchLinearBackoff(t *testing.T) {
	t.Parallel()

	r := &scriptedRenderer{steps: map[string][]step{detailURL: {{err: crawler.ErrTransport}}}}
	o := New(r, detector.NewHeuristic(3, nil), Config{MaxAttempts: 3, BackoffUnit: 20 * time.Millisecond}, nil)

	start := time.Now()
	res := o.Fetch(context.Background(), detailURL)
	elapsed := time.Since(start)
	assert.False(t, res.Success)
	// 1x + 2x unit between three attempts.
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
}

func TestFetchRedirectRecoveredByVariant(t *testing.T) {
	t.Parallel()

	now := time.UnixMilli(1716170000123)
	r := &scriptedRenderer{steps: map[string][]step{
		detailURL + "?_t=": {{html: articleHTML}},
		detailURL:          {{html: homepageHTML}},
	}}
	o := newOrchestrator(r, Config{TryVariants: true, MobileHost: "m.cls.cn"}, WithClock(fixedClock{t: now}))

	res := o.Fetch(context.Background(), detailURL)
	require.True(t, res.Success)
	assert.False(t, res.RedirectedToHome)
	assert.Equal(t, articleHTML, res.HTML)
	assert.Equal(t, detailURL, res.URL)
	assert.Equal(t, []string{detailURL, detailURL + "?_t=1716170000123"}, r.urls())
}

func TestFetchRedirectExhaustsVariants(t *testing.T) {
	t.Parallel()

	r := &scriptedRenderer{steps: map[string][]step{
		"https://www.cls.cn/": {{html: homepageHTML}},
		"https://m.cls.cn/":   {{html: homepageHTML}},
	}}
	o := newOrchestrator(r, Config{TryVariants: true, MobileHost: "m.cls.cn"})

	res := o.Fetch(context.Background(), detailURL)
	assert.False(t, res.Success)
	assert.True(t, res.RedirectedToHome)
	assert.Equal(t, homepageHTML, res.HTML, "homepage html is kept for recovery")
	assert.Equal(t, 3, res.Attempts)

	urls := r.urls()
	require.Len(t, urls, 3)
	assert.Contains(t, urls[1], "_t=")
	assert.Equal(t, "https://m.cls.cn/detail/1690001", urls[2])
}

func TestFetchRedirectWithoutVariants(t *testing.T) {
	t.Parallel()

	r := &scriptedRenderer{steps: map[string][]step{detailURL: {{html: homepageHTML}}}}
	o := newOrchestrator(r, Config{})

	res := o.Fetch(context.Background(), detailURL)
	assert.False(t, res.Success)
	assert.True(t, res.RedirectedToHome)
	assert.Len(t, r.requests, 1)
}

func TestFetchCanceledContextStopsRetries(t *testing.T) {
	t.Parallel()

	r := &scriptedRenderer{steps: map[string][]step{detailURL: {{err: crawler.ErrTransport}}}}
	o := newOrchestrator(r, Config{MaxAttempts: 5})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := o.Fetch(ctx, detailURL)
	assert.False(t, res.Success)
	assert.Empty(t, r.requests)
}

func TestFetchEmitsStageEvents(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		events []progress.Event
	)
	emitter := progress.EmitterFunc(func(evt progress.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, evt)
	})
	r := &scriptedRenderer{steps: map[string][]step{detailURL: {{err: crawler.ErrTransport}, {html: articleHTML}}}}
	o := newOrchestrator(r, Config{}, WithEmitter(emitter))

	runID := progress.UUIDToBytes(uuid.New())
	res := o.Fetch(progress.WithRunID(context.Background(), runID), detailURL)
	require.True(t, res.Success)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.Equal(t, progress.OutcomeRetry, events[0].Outcome)
	assert.Equal(t, 1, events[0].Attempt)
	assert.Equal(t, progress.OutcomeSuccess, events[1].Outcome)
	for _, evt := range events {
		assert.Equal(t, progress.StageFetch, evt.Stage)
		assert.Equal(t, runID, evt.RunID)
		assert.NoError(t, evt.Validate())
	}
}
