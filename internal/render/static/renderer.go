// Package static renders pages with plain HTTP through colly. It executes no
// JavaScript, which is enough for server-rendered hydration payloads.
package static

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/cls-news-crawler/internal/crawler"
	"github.com/JakeFAU/cls-news-crawler/internal/metrics"
	"github.com/JakeFAU/cls-news-crawler/internal/render/schema"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	Headers   map[string]string
	Transport http.RoundTripper
}

// Renderer implements crawler.Renderer using a Colly collector.
type Renderer struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds a Renderer.
func New(cfg Config, logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	c.WithTransport(transport)
	return &Renderer{cfg: cfg, baseCollector: c, logger: logger}
}

// Render performs a single GET. Scripts and settle delays are not applicable
// and are ignored.
func (r *Renderer) Render(ctx context.Context, req crawler.RenderRequest) (crawler.RenderResult, error) {
	start := time.Now()
	mode := "raw"
	if req.Schema != nil {
		mode = "schema"
	}

	var (
		result   crawler.RenderResult
		fetchErr error
	)
	collector := r.baseCollector.Clone()
	if r.cfg.UserAgent != "" {
		collector.UserAgent = r.cfg.UserAgent
	}
	timeout := req.Timeout
	if timeout <= 0 || timeout > r.cfg.Timeout {
		timeout = r.cfg.Timeout
	}
	collector.SetRequestTimeout(timeout)

	collector.OnRequest(func(cr *colly.Request) {
		for k, v := range r.cfg.Headers {
			cr.Headers.Set(k, v)
		}
	})
	collector.OnResponse(func(resp *colly.Response) {
		result = crawler.RenderResult{
			HTML:     string(resp.Body),
			FinalURL: resp.Request.URL.String(),
		}
	})
	collector.OnError(func(resp *colly.Response, err error) {
		if resp != nil && resp.StatusCode != 0 {
			fetchErr = fmt.Errorf("status %d: %w", resp.StatusCode, err)
			return
		}
		fetchErr = err
	})

	if err := runCollector(ctx, collector, req.URL); err != nil {
		metrics.ObserveRender(mode, "error", time.Since(start))
		return crawler.RenderResult{}, err
	}
	if fetchErr != nil {
		metrics.ObserveRender(mode, "error", time.Since(start))
		return crawler.RenderResult{}, fmt.Errorf("%w: colly response failed: %w", crawler.ErrTransport, fetchErr)
	}

	if req.Schema != nil {
		extracted, err := schema.Apply(*req.Schema, result.HTML)
		if err != nil {
			metrics.ObserveRender(mode, "error", time.Since(start))
			return crawler.RenderResult{}, fmt.Errorf("apply schema: %w", err)
		}
		result.Extracted = extracted
	}
	metrics.ObserveRender(mode, "ok", time.Since(start))
	r.logger.Debug("page fetched", zap.String("url", req.URL), zap.Int("html_bytes", len(result.HTML)))
	return result, nil
}

func runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("static render canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: colly visit failed: %w", crawler.ErrTransport, err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
	}
}
