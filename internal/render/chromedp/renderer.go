// Package chromedp renders pages in one long-lived headless Chrome session.
package chromedp

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/cls-news-crawler/internal/crawler"
	"github.com/JakeFAU/cls-news-crawler/internal/metrics"
	"github.com/JakeFAU/cls-news-crawler/internal/render/schema"
)

const defaultTimeout = 90 * time.Second

// Config controls the browser session.
type Config struct {
	UserAgent      string
	ExecPath       string
	Headless       bool
	DefaultTimeout time.Duration
	Headers        map[string]string
}

// Renderer implements crawler.Renderer. All renders share one browser and are
// serialized through a single slot.
type Renderer struct {
	cfg           Config
	slot          chan struct{}
	allocCancel   context.CancelFunc
	browser       context.Context
	browserCancel context.CancelFunc
	logger        *zap.Logger
}

// New starts the browser session.
func New(cfg Config, logger *zap.Logger) (*Renderer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultTimeout
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Run with no actions launches the browser so startup failures surface here.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	return &Renderer{
		cfg:           cfg,
		slot:          make(chan struct{}, 1),
		allocCancel:   allocCancel,
		browser:       browserCtx,
		browserCancel: browserCancel,
		logger:        logger,
	}, nil
}

// Close shuts the browser down.
func (r *Renderer) Close() {
	r.browserCancel()
	r.allocCancel()
}

// Render opens req.URL in a new tab of the shared browser and returns the DOM.
func (r *Renderer) Render(ctx context.Context, req crawler.RenderRequest) (crawler.RenderResult, error) {
	mode := modeOf(req)
	start := time.Now()
	if err := r.acquire(ctx); err != nil {
		return crawler.RenderResult{}, err
	}
	defer r.release()

	tabCtx, tabCancel := chromedp.NewContext(r.browser)
	defer tabCancel()
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.cfg.DefaultTimeout
	}
	tabCtx, cancel := context.WithTimeout(tabCtx, timeout)
	defer cancel()

	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		r.networkSetupAction(),
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if req.Script != "" {
		actions = append(actions, evaluateScript(req.Script))
	}
	if req.SettleDelay > 0 {
		actions = append(actions, chromedp.Sleep(req.SettleDelay))
	}
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		metrics.ObserveRender(mode, "error", time.Since(start))
		if ctx.Err() != nil {
			return crawler.RenderResult{}, fmt.Errorf("render canceled: %w", ctx.Err())
		}
		return crawler.RenderResult{}, fmt.Errorf("%w: chromedp run: %w", crawler.ErrTransport, err)
	}

	result := crawler.RenderResult{HTML: html, FinalURL: finalURL}
	if req.Schema != nil {
		extracted, err := schema.Apply(*req.Schema, html)
		if err != nil {
			metrics.ObserveRender(mode, "error", time.Since(start))
			return crawler.RenderResult{}, fmt.Errorf("apply schema: %w", err)
		}
		result.Extracted = extracted
	}
	metrics.ObserveRender(mode, "ok", time.Since(start))
	r.logger.Debug("page rendered",
		zap.String("url", req.URL),
		zap.String("final_url", finalURL),
		zap.String("mode", mode),
		zap.Int("html_bytes", len(html)),
		zap.Duration("dur", time.Since(start)),
	)
	return result, nil
}

func (r *Renderer) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := network.SetCacheDisabled(true).Do(ctx); err != nil {
			return fmt.Errorf("disable cache: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(r.cfg.Headers) > 0 {
			headers := network.Headers{}
			for k, v := range r.cfg.Headers {
				headers[k] = v
			}
			if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func evaluateScript(script string) chromedp.Action {
	var ignored any
	return chromedp.Evaluate(script, &ignored, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	})
}

func (r *Renderer) acquire(ctx context.Context) error {
	select {
	case r.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("render slot wait canceled: %w", ctx.Err())
	}
}

func (r *Renderer) release() {
	select {
	case <-r.slot:
	default:
	}
}

func modeOf(req crawler.RenderRequest) string {
	if req.Schema != nil {
		return "schema"
	}
	return "raw"
}
