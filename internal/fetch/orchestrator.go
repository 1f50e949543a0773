// Package fetch renders detail pages with bounded retries and detects renders
// that silently landed on the site homepage.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/cls-news-crawler/internal/clock/system"
	"github.com/JakeFAU/cls-news-crawler/internal/crawler"
	"github.com/JakeFAU/cls-news-crawler/internal/metrics"
	"github.com/JakeFAU/cls-news-crawler/internal/progress"
	"github.com/JakeFAU/cls-news-crawler/internal/retry"
)

// DetailScript waits for the hydration payload and article body, then scrolls
// so lazily loaded paragraphs render before capture.
const DetailScript = `(async () => {
  const sleep = (ms) => new Promise((r) => setTimeout(r, ms));
  for (let i = 0; i < 10 && !document.getElementById('__NEXT_DATA__'); i++) {
    await sleep(1000);
  }
  const body = '.detail-content, .article-content, [class*="content"]';
  for (let i = 0; i < 15 && !document.querySelector(body); i++) {
    await sleep(1000);
  }
  window.scrollTo(0, document.body.scrollHeight);
  await sleep(2000);
  return true;
})()`

var errEmptyHTML = errors.New("render returned empty html")

// Config tunes the orchestrator.
type Config struct {
	MaxAttempts int
	// BackoffUnit is multiplied by the attempt index between retries.
	BackoffUnit time.Duration
	PageTimeout time.Duration
	SettleDelay time.Duration
	Script      string
	// TryVariants enables the cache-busting and mobile-host retries after a
	// homepage redirect.
	TryVariants bool
	MobileHost  string
}

// Orchestrator implements crawler.Fetcher on top of a Renderer.
type Orchestrator struct {
	renderer crawler.Renderer
	detector crawler.RedirectDetector
	clock    crawler.Clock
	events   progress.Emitter
	logger   *zap.Logger
	cfg      Config
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the clock used for durations and cache-busting values.
func WithClock(c crawler.Clock) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithEmitter routes stage events to e.
func WithEmitter(e progress.Emitter) Option {
	return func(o *Orchestrator) {
		o.events = progress.OrDiscard(e)
	}
}

// New wires an Orchestrator.
func New(renderer crawler.Renderer, detector crawler.RedirectDetector, cfg Config, logger *zap.Logger, opts ...Option) *Orchestrator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		renderer: renderer,
		detector: detector,
		clock:    system.New(),
		events:   progress.Discard(),
		logger:   logger,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Fetch renders rawURL in raw mode. A result flagged RedirectedToHome carries
// the homepage HTML so the caller can attempt recovery.
func (o *Orchestrator) Fetch(ctx context.Context, rawURL string) crawler.FetchResult {
	start := o.clock.Now()
	runID := progress.RunIDFrom(ctx)
	result := crawler.FetchResult{URL: rawURL}

	html, attempts, err := o.renderWithRetry(ctx, rawURL, o.cfg.MaxAttempts)
	result.Attempts = attempts
	if err != nil {
		result.Duration = o.clock.Now().Sub(start)
		o.logger.Warn("fetch abandoned",
			zap.String("url", rawURL),
			zap.Int("attempt", attempts),
			zap.Error(err),
		)
		o.emit(runID, progress.OutcomeAbandon, rawURL, attempts, result.Duration, err.Error())
		return result
	}

	if o.detector == nil || !o.detector.IsHomepage(html) {
		result.HTML = html
		result.Success = true
		result.Duration = o.clock.Now().Sub(start)
		o.emit(runID, progress.OutcomeSuccess, rawURL, attempts, result.Duration, "")
		return result
	}

	metrics.ObserveRedirect()
	o.logger.Info("render landed on homepage", zap.String("url", rawURL))
	o.emit(runID, progress.OutcomeRetry, rawURL, attempts, 0, crawler.ErrRedirectDetected.Error())

	if o.cfg.TryVariants {
		for _, variant := range o.variants(rawURL) {
			attempts++
			variantHTML, _, verr := o.renderWithRetry(ctx, variant, 1)
			if verr != nil {
				o.logger.Debug("variant render failed", zap.String("variant", variant), zap.Error(verr))
				continue
			}
			if o.detector.IsHomepage(variantHTML) {
				o.logger.Debug("variant also redirected", zap.String("variant", variant))
				continue
			}
			result.HTML = variantHTML
			result.Success = true
			result.Attempts = attempts
			result.Duration = o.clock.Now().Sub(start)
			o.emit(runID, progress.OutcomeSuccess, rawURL, attempts, result.Duration, "variant "+variant)
			return result
		}
	}

	result.HTML = html
	result.RedirectedToHome = true
	result.Attempts = attempts
	result.Duration = o.clock.Now().Sub(start)
	o.emit(runID, progress.OutcomeAbandon, rawURL, attempts, result.Duration, crawler.ErrRedirectDetected.Error())
	return result
}

// renderWithRetry returns the HTML and the number of attempts made.
func (o *Orchestrator) renderWithRetry(ctx context.Context, target string, maxAttempts int) (string, int, error) {
	var html string
	attempts := 0
	runID := progress.RunIDFrom(ctx)
	err := retry.Do(ctx, retry.Config{
		MaxAttempts: maxAttempts,
		Backoff:     retry.Linear(o.cfg.BackoffUnit),
		Retryable: func(err error) bool {
			return errors.Is(err, crawler.ErrTransport) || errors.Is(err, errEmptyHTML)
		},
		OnRetry: func(attempt int, _ time.Duration, err error) {
			o.emit(runID, progress.OutcomeRetry, target, attempt, 0, err.Error())
		},
		Logger: o.logger,
	}, func(ctx context.Context, attempt int) error {
		attempts = attempt
		res, err := o.renderer.Render(ctx, crawler.RenderRequest{
			URL:         target,
			Timeout:     o.cfg.PageTimeout,
			SettleDelay: o.cfg.SettleDelay,
			Script:      o.cfg.Script,
		})
		if err != nil {
			if ctx.Err() != nil {
				return retry.Permanent(err)
			}
			if !errors.Is(err, crawler.ErrTransport) {
				err = fmt.Errorf("%w: %w", crawler.ErrTransport, err)
			}
			return err
		}
		if strings.TrimSpace(res.HTML) == "" {
			return errEmptyHTML
		}
		html = res.HTML
		return nil
	})
	if err != nil {
		return "", attempts, crawler.NewStageError("fetch", target, err)
	}
	return html, attempts, nil
}

// variants lists alternate URLs for a detail page: a cache-busting query
// parameter, then the mobile host.
func (o *Orchestrator) variants(rawURL string) []string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	var out []string

	busted := *u
	q := busted.Query()
	q.Set("_t", strconv.FormatInt(o.clock.Now().UnixMilli(), 10))
	busted.RawQuery = q.Encode()
	out = append(out, busted.String())

	if o.cfg.MobileHost != "" && !strings.EqualFold(u.Host, o.cfg.MobileHost) {
		mobile := *u
		mobile.Host = o.cfg.MobileHost
		out = append(out, mobile.String())
	}
	return out
}

func (o *Orchestrator) emit(runID [16]byte, outcome progress.Outcome, target string, attempt int, dur time.Duration, note string) {
	if runID == [16]byte{} {
		return
	}
	o.events.Emit(progress.Event{
		RunID:   runID,
		TS:      o.clock.Now().UTC(),
		Stage:   progress.StageFetch,
		Outcome: outcome,
		URL:     target,
		Attempt: attempt,
		Dur:     dur,
		Note:    note,
	})
}
