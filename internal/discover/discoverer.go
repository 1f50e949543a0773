// Package discover harvests article links from category listing pages.
package discover

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/cls-news-crawler/internal/crawler"
	"github.com/JakeFAU/cls-news-crawler/internal/progress"
	"github.com/JakeFAU/cls-news-crawler/internal/render/schema"
	"github.com/JakeFAU/cls-news-crawler/internal/retry"
)

// ListingScript waits for article anchors, scrolls to the bottom and clicks a
// visible "load more" control once.
const ListingScript = `(async () => {
  const sleep = (ms) => new Promise((r) => setTimeout(r, ms));
  await sleep(3000);
  for (let i = 0; i < 15 && !document.querySelector('a[href*="/detail/"]'); i++) {
    await sleep(1000);
  }
  window.scrollTo(0, document.body.scrollHeight);
  await sleep(2000);
  const more = document.querySelector('.more-button, .load-more, [class*="more"]');
  if (more && more.offsetParent !== null) {
    more.click();
    await sleep(3000);
  }
  return true;
})()`

const detailPathMarker = "/detail/"

// ErrNoEndpoints is returned when every endpoint failed.
var ErrNoEndpoints = errors.New("all listing endpoints failed")

var errMalformed = errors.New("malformed listing extraction")

// Endpoint is one category listing page.
type Endpoint struct {
	Label string
	URL   string
}

// Config tunes discovery. Detail links are kept when they sit on BaseURL's
// host or on MobileHost.
type Config struct {
	BaseURL      string
	MobileHost   string
	Endpoints    []Endpoint
	LinkSelector string
	MaxAttempts  int
	RetryDelay   time.Duration
	PageTimeout  time.Duration
	SettleDelay  time.Duration
	Script       string
}

// Discoverer implements crawler.Discoverer over rendered listing pages.
type Discoverer struct {
	renderer crawler.Renderer
	cfg      Config
	base     *url.URL
	schema   *crawler.Schema
	events   progress.Emitter
	logger   *zap.Logger
}

// New validates cfg and returns a Discoverer.
func New(renderer crawler.Renderer, cfg Config, events progress.Emitter, logger *zap.Logger) (*Discoverer, error) {
	if renderer == nil {
		return nil, errors.New("discover: renderer is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("discover: invalid base url %q", cfg.BaseURL)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{
		renderer: renderer,
		cfg:      cfg,
		base:     base,
		schema:   schema.DetailLinks(cfg.LinkSelector),
		events:   progress.OrDiscard(events),
		logger:   logger,
	}, nil
}

// Discover renders every endpoint and returns the unique detail links in
// discovery order. A URL seen under several categories keeps the first.
// Failed endpoints are skipped; ErrNoEndpoints is returned only when none
// succeeded.
func (d *Discoverer) Discover(ctx context.Context) ([]crawler.ArticleLink, error) {
	seen := make(map[string]struct{})
	var (
		links     []crawler.ArticleLink
		succeeded int
	)
	for _, ep := range d.cfg.Endpoints {
		if err := ctx.Err(); err != nil {
			return links, fmt.Errorf("discover canceled: %w", err)
		}
		start := time.Now()
		hrefs, err := d.endpoint(ctx, ep)
		if err != nil {
			d.logger.Warn("listing endpoint skipped",
				zap.String("category", ep.Label),
				zap.String("url", ep.URL),
				zap.Error(err),
			)
			d.emit(ctx, ep, progress.OutcomeAbandon, d.cfg.MaxAttempts, time.Since(start), err.Error())
			continue
		}
		succeeded++
		added := 0
		for _, href := range hrefs {
			if _, dup := seen[href]; dup {
				continue
			}
			seen[href] = struct{}{}
			links = append(links, crawler.ArticleLink{URL: href, Category: ep.Label})
			added++
		}
		d.logger.Info("listing harvested",
			zap.String("category", ep.Label),
			zap.Int("links", len(hrefs)),
			zap.Int("new", added),
		)
		d.emit(ctx, ep, progress.OutcomeSuccess, 0, time.Since(start), fmt.Sprintf("%d links", added))
	}
	if succeeded == 0 && len(d.cfg.Endpoints) > 0 {
		return nil, ErrNoEndpoints
	}
	return links, nil
}

// endpoint renders one listing with a fixed delay between attempts.
func (d *Discoverer) endpoint(ctx context.Context, ep Endpoint) ([]string, error) {
	var hrefs []string
	err := retry.Do(ctx, retry.Config{
		MaxAttempts: d.cfg.MaxAttempts,
		Backoff:     retry.Fixed(d.cfg.RetryDelay),
		OnRetry: func(attempt int, _ time.Duration, err error) {
			d.emit(ctx, ep, progress.OutcomeRetry, attempt, 0, err.Error())
		},
		Logger: d.logger,
	}, func(ctx context.Context, _ int) error {
		res, err := d.renderer.Render(ctx, crawler.RenderRequest{
			URL:         ep.URL,
			Timeout:     d.cfg.PageTimeout,
			SettleDelay: d.cfg.SettleDelay,
			Schema:      d.schema,
			Script:      d.cfg.Script,
		})
		if err != nil {
			return err
		}
		parsed, err := d.parse(res.Extracted)
		if err != nil {
			return err
		}
		hrefs = parsed
		return nil
	})
	if err != nil {
		return nil, crawler.NewStageError("discover", ep.URL, err)
	}
	return hrefs, nil
}

type listingItem struct {
	AllLinks []struct {
		Href string `json:"href"`
		Text string `json:"text"`
	} `json:"all_links"`
}

// parse turns the schema output into canonical absolute detail URLs on the
// site's host.
func (d *Discoverer) parse(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty result", errMalformed)
	}
	var items []listingItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: %w", errMalformed, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no base element", errMalformed)
	}
	seen := make(map[string]struct{})
	var out []string
	for _, item := range items {
		for _, link := range item.AllLinks {
			if !strings.Contains(link.Href, detailPathMarker) {
				continue
			}
			abs, err := crawler.ResolveLink(d.base, link.Href)
			if err != nil {
				continue
			}
			if u, err := url.Parse(abs); err != nil || !d.onSite(u.Hostname()) {
				continue
			}
			if _, dup := seen[abs]; dup {
				continue
			}
			seen[abs] = struct{}{}
			out = append(out, abs)
		}
	}
	return out, nil
}

func (d *Discoverer) onSite(host string) bool {
	if strings.EqualFold(host, d.base.Hostname()) {
		return true
	}
	return d.cfg.MobileHost != "" && strings.EqualFold(host, d.cfg.MobileHost)
}

func (d *Discoverer) emit(ctx context.Context, ep Endpoint, outcome progress.Outcome, attempt int, dur time.Duration, note string) {
	runID := progress.RunIDFrom(ctx)
	if runID == [16]byte{} {
		return
	}
	d.events.Emit(progress.Event{
		RunID:    runID,
		TS:       time.Now().UTC(),
		Stage:    progress.StageDiscover,
		Outcome:  outcome,
		URL:      ep.URL,
		Category: ep.Label,
		Attempt:  attempt,
		Dur:      dur,
		Note:     note,
	})
}
