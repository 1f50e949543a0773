// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/cls-news-crawler/internal/api"
	"github.com/JakeFAU/cls-news-crawler/internal/archive"
	"github.com/JakeFAU/cls-news-crawler/internal/clock/system"
	"github.com/JakeFAU/cls-news-crawler/internal/config"
	"github.com/JakeFAU/cls-news-crawler/internal/crawler"
	"github.com/JakeFAU/cls-news-crawler/internal/discover"
	"github.com/JakeFAU/cls-news-crawler/internal/extract"
	"github.com/JakeFAU/cls-news-crawler/internal/fetch"
	"github.com/JakeFAU/cls-news-crawler/internal/hash/sha256"
	"github.com/JakeFAU/cls-news-crawler/internal/headless/detector"
	"github.com/JakeFAU/cls-news-crawler/internal/history"
	"github.com/JakeFAU/cls-news-crawler/internal/history/postgres"
	"github.com/JakeFAU/cls-news-crawler/internal/history/sqlite"
	"github.com/JakeFAU/cls-news-crawler/internal/id/uuid"
	"github.com/JakeFAU/cls-news-crawler/internal/pipeline"
	"github.com/JakeFAU/cls-news-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/cls-news-crawler/internal/progress"
	"github.com/JakeFAU/cls-news-crawler/internal/progress/sinks"
	memorypub "github.com/JakeFAU/cls-news-crawler/internal/publisher/memory"
	natspub "github.com/JakeFAU/cls-news-crawler/internal/publisher/nats"
	pubsubpub "github.com/JakeFAU/cls-news-crawler/internal/publisher/pubsub"
	chromedprender "github.com/JakeFAU/cls-news-crawler/internal/render/chromedp"
	"github.com/JakeFAU/cls-news-crawler/internal/render/static"
	"github.com/JakeFAU/cls-news-crawler/internal/storage/gcs"
	"github.com/JakeFAU/cls-news-crawler/internal/storage/local"
	memorystore "github.com/JakeFAU/cls-news-crawler/internal/storage/memory"
)

const recorderEvents = 10000

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// Option customizes New.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	renderer   crawler.Renderer
	publisher  crawler.Publisher
	extraSinks []progress.Sink
}

// WithRegisterer registers the progress collectors against reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithRenderer replaces the configured render backend.
func WithRenderer(r crawler.Renderer) Option {
	return func(o *options) { o.renderer = r }
}

// WithPublisher replaces the configured publisher backend.
func WithPublisher(p crawler.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithSink adds a progress sink next to the log, metrics and recorder sinks.
func WithSink(s progress.Sink) Option {
	return func(o *options) { o.extraSinks = append(o.extraSinks, s) }
}

// App holds all the shared, long-lived services for the application.
// The history store and progress hub are built eagerly; the browser session
// and publisher connection are built on the first call to Pipeline so that
// read-only commands never start a browser.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	clock    *system.Clock
	history  history.Store
	recorder *sinks.Recorder
	hub      *progress.Hub
	opts     options

	pipeline *pipeline.Pipeline
	closers  []closer
}

// New creates and initializes an App from cfg. It fails fast when a critical
// service cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}

	clk, err := system.NewIn(cfg.Site.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	a := &App{cfg: cfg, logger: logger, clock: clk, opts: o}
	logger.Info("Initializing application services...")

	store, err := a.openHistory(ctx)
	if err != nil {
		return nil, err
	}
	a.history = store

	promSink, err := sinks.NewPrometheusSink(o.registerer)
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("init progress metrics: %w", err)
	}
	a.recorder = sinks.NewRecorder(recorderEvents)
	all := append([]progress.Sink{sinks.NewLogSink(logger), promSink, a.recorder}, o.extraSinks...)
	a.hub = progress.NewHub(progress.Config{Logger: logger}, all...)

	logger.Info("Application services initialized",
		zap.String("history_backend", cfg.History.Backend),
		zap.String("publisher_backend", cfg.Publisher.Backend),
		zap.String("render_backend", cfg.Render.Backend),
	)
	return a, nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Clock returns the site-local clock.
func (a *App) Clock() *system.Clock {
	return a.clock
}

// History exposes the configured history store.
func (a *App) History() history.Store {
	return a.history
}

// Recorder exposes the in-memory run recorder.
func (a *App) Recorder() *sinks.Recorder {
	return a.recorder
}

// Events returns the progress emitter shared by every stage.
func (a *App) Events() progress.Emitter {
	return a.hub
}

// Pipeline builds the crawl pipeline on first use and returns the same
// instance afterwards.
func (a *App) Pipeline(ctx context.Context) (*pipeline.Pipeline, error) {
	if a.pipeline != nil {
		return a.pipeline, nil
	}

	renderer, err := a.buildRenderer()
	if err != nil {
		return nil, err
	}
	publisher, err := a.buildPublisher(ctx)
	if err != nil {
		return nil, err
	}
	archiver, err := a.buildArchiver(ctx)
	if err != nil {
		return nil, err
	}

	endpoints := make([]discover.Endpoint, 0, len(a.cfg.Discovery.Categories))
	for _, cat := range a.cfg.Discovery.Categories {
		endpoints = append(endpoints, discover.Endpoint{Label: cat.Label, URL: a.cfg.ListingURL(cat)})
	}
	disc, err := discover.New(renderer, discover.Config{
		BaseURL:      a.cfg.Site.BaseURL,
		MobileHost:   a.cfg.Fetch.MobileHost,
		Endpoints:    endpoints,
		LinkSelector: a.cfg.Discovery.LinkSelector,
		MaxAttempts:  a.cfg.Discovery.MaxAttempts,
		RetryDelay:   a.cfg.Discovery.RetryDelay,
		PageTimeout:  a.cfg.Discovery.PageTimeout,
		SettleDelay:  a.cfg.Discovery.SettleDelay,
		Script:       discover.ListingScript,
	}, a.hub, a.logger.Named("discover"))
	if err != nil {
		return nil, fmt.Errorf("init discoverer: %w", err)
	}

	det := detector.NewHeuristic(a.cfg.Fetch.RedirectThreshold, a.cfg.Fetch.Indicators)
	fetcher := fetch.New(renderer, det, fetch.Config{
		MaxAttempts: a.cfg.Fetch.MaxAttempts,
		BackoffUnit: a.cfg.Fetch.BackoffUnit,
		PageTimeout: a.cfg.Fetch.PageTimeout,
		SettleDelay: a.cfg.Fetch.SettleDelay,
		Script:      fetch.DetailScript,
		TryVariants: a.cfg.Fetch.TryVariants,
		MobileHost:  a.cfg.Fetch.MobileHost,
	}, a.logger.Named("fetch"), fetch.WithClock(a.clock), fetch.WithEmitter(a.hub))

	extractor := extract.New(extract.Config{
		StructuredFloor: a.cfg.Extract.StructuredFloor,
		DOMFloor:        a.cfg.Extract.DOMFloor,
		TextFloor:       a.cfg.Extract.TextFloor,
		RecoveryFloor:   a.cfg.Extract.RecoveryFloor,
		MaxDepth:        a.cfg.Extract.StructuredMaxDepth,
		Location:        a.clock.Location(),
	}, a.clock.Now, a.logger.Named("extract"))

	subject := a.cfg.Publisher.Subject
	if publisher == nil {
		subject = ""
	}
	p, err := pipeline.New(pipeline.Deps{
		Discoverer: disc,
		Fetcher:    fetcher,
		Extractor:  extractor,
		History:    a.history,
		Publisher:  publisher,
		Pacer: ratelimit.New(ratelimit.Config{
			RPS:        a.cfg.Pacing.RPS,
			Burst:      a.cfg.Pacing.Burst,
			BatchSize:  a.cfg.Pacing.BatchSize,
			BatchPause: a.cfg.Pacing.BatchPause,
		}),
		Archiver: archiver,
		IDs:      uuid.NewUUIDGenerator(),
		Clock:    a.clock,
		Events:   a.hub,
	}, pipeline.Config{
		Subject:         subject,
		MinTitleRunes:   a.cfg.Extract.MinTitleRunes,
		PublishAttempts: a.cfg.Publisher.MaxAttempts,
		PublishBackoff:  a.cfg.Publisher.RetryBackoff,
		Deadline:        a.cfg.Run.Deadline,
	}, a.logger.Named("pipeline"))
	if err != nil {
		return nil, fmt.Errorf("init pipeline: %w", err)
	}
	a.pipeline = p
	return p, nil
}

// Server builds the admin HTTP API. When withRunner is set the pipeline is
// built so runs can be triggered over HTTP.
func (a *App) Server(ctx context.Context, withRunner bool) (*api.Server, error) {
	opts := api.Options{
		Articles:    a.history,
		Runs:        a.recorder,
		Clock:       a.clock,
		Logger:      a.logger.Named("api"),
		BaseContext: ctx,
	}
	if withRunner {
		p, err := a.Pipeline(ctx)
		if err != nil {
			return nil, err
		}
		opts.Runner = p
	}
	return api.NewServer(opts), nil
}

// Close flushes the progress hub and releases every service in reverse
// order of construction.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close progress hub: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("Failed to close service", zap.String("service", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) addCloser(name string, fn func(ctx context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) openHistory(ctx context.Context) (history.Store, error) {
	hcfg := a.cfg.History
	switch hcfg.Backend {
	case "jsonl":
		store, err := history.OpenFile(hcfg.Path, a.logger.Named("history"))
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		if n := store.Skipped(); n > 0 {
			a.logger.Warn("Skipped unreadable history lines", zap.Int("count", n), zap.String("path", hcfg.Path))
		}
		return store, nil
	case "sqlite":
		store, err := sqlite.Open(ctx, hcfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite history: %w", err)
		}
		a.addCloser("sqlite history", func(context.Context) error { return store.Close() })
		return store, nil
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{DSN: hcfg.DSN, Table: hcfg.Table})
		if err != nil {
			return nil, fmt.Errorf("open postgres history: %w", err)
		}
		a.addCloser("postgres history", func(context.Context) error {
			store.Close()
			return nil
		})
		return store, nil
	default:
		return nil, fmt.Errorf("unknown history backend: %s", hcfg.Backend)
	}
}

func (a *App) buildRenderer() (crawler.Renderer, error) {
	if a.opts.renderer != nil {
		return a.opts.renderer, nil
	}
	rcfg := a.cfg.Render
	switch rcfg.Backend {
	case "chromedp":
		r, err := chromedprender.New(chromedprender.Config{
			UserAgent:      rcfg.UserAgent,
			ExecPath:       rcfg.ChromePath,
			Headless:       rcfg.Headless,
			DefaultTimeout: a.cfg.Fetch.PageTimeout,
		}, a.logger.Named("render"))
		if err != nil {
			return nil, fmt.Errorf("start browser: %w", err)
		}
		a.addCloser("browser", func(context.Context) error {
			r.Close()
			return nil
		})
		return r, nil
	case "static":
		a.logger.Warn("Static renderer selected; hydration scripts will not run")
		return static.New(static.Config{
			UserAgent: rcfg.UserAgent,
			Timeout:   a.cfg.Fetch.PageTimeout,
		}, a.logger.Named("render")), nil
	default:
		return nil, fmt.Errorf("unknown render backend: %s", rcfg.Backend)
	}
}

// prober is implemented by publishers that can check connectivity up front.
type prober interface {
	Probe(ctx context.Context) error
}

// buildPublisher returns nil when publishing is disabled. A backend that
// cannot connect is fatal only when probe_on_start is set; otherwise the
// pipeline gets a publisher that redials on each publish until one succeeds.
func (a *App) buildPublisher(ctx context.Context) (crawler.Publisher, error) {
	if a.opts.publisher != nil {
		return a.opts.publisher, nil
	}
	pcfg := a.cfg.Publisher
	switch pcfg.Backend {
	case "none":
		a.logger.Info("Publishing disabled")
		return nil, nil
	case "memory":
		return memorypub.New(), nil
	case "nats", "pubsub":
	default:
		return nil, fmt.Errorf("unknown publisher backend: %s", pcfg.Backend)
	}

	pub, closeF, err := a.connectPublisher(ctx)
	if err == nil && pcfg.ProbeOnStart {
		if p, ok := pub.(prober); ok {
			probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err = p.Probe(probeCtx)
			cancel()
			if err != nil {
				_ = closeF()
			}
		}
	}
	if err != nil {
		if pcfg.ProbeOnStart {
			return nil, fmt.Errorf("connect publisher %s: %w", pcfg.Backend, err)
		}
		a.logger.Warn("Publisher unavailable; will reconnect on publish",
			zap.String("backend", pcfg.Backend), zap.Error(err))
		lazy := newRedialPublisher(a.connectPublisher, a.logger.Named("publisher"))
		a.addCloser("publisher", func(context.Context) error { return lazy.Close() })
		return lazy, nil
	}
	a.addCloser("publisher", func(context.Context) error { return closeF() })
	return pub, nil
}

func (a *App) connectPublisher(ctx context.Context) (crawler.Publisher, func() error, error) {
	pcfg := a.cfg.Publisher
	switch pcfg.Backend {
	case "nats":
		np, err := natspub.Connect(ctx, pcfg.NATS.URL, natspub.StreamConfig{
			Name:     pcfg.NATS.Stream,
			Subjects: pcfg.NATS.Subjects,
			MaxMsgs:  pcfg.NATS.MaxMsgs,
			MaxBytes: pcfg.NATS.MaxBytes,
			MaxAge:   pcfg.NATS.MaxAge,
		}, a.logger.Named("nats"))
		if err != nil {
			return nil, nil, err
		}
		return np, np.Close, nil
	case "pubsub":
		pp, err := pubsubpub.New(ctx, pcfg.PubSub.ProjectID, pcfg.PubSub.TopicName)
		if err != nil {
			return nil, nil, err
		}
		return pp, pp.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown publisher backend: %s", pcfg.Backend)
	}
}

func (a *App) buildArchiver(ctx context.Context) (pipeline.Archiver, error) {
	acfg := a.cfg.Archive
	var store crawler.BlobStore
	switch acfg.Backend {
	case "none", "":
		return nil, nil
	case "memory":
		store = memorystore.NewBlobStore()
	case "local":
		s, err := local.New(local.Config{BaseDir: acfg.Dir})
		if err != nil {
			return nil, fmt.Errorf("init local archive: %w", err)
		}
		store = s
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		s, err := gcs.New(client, gcs.Config{Bucket: acfg.Bucket})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("init gcs archive: %w", err)
		}
		a.addCloser("gcs archive", func(context.Context) error { return s.Close() })
		store = s
	default:
		return nil, fmt.Errorf("unknown archive backend: %s", acfg.Backend)
	}
	return archive.New(store, sha256.New(), archive.Config{
		Prefix:        acfg.Prefix,
		IncludeFailed: acfg.IncludeFailed,
	}, a.logger.Named("archive")), nil
}
