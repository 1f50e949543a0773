// Package pipeline runs one crawl pass: discover links, skip those already in
// history, then fetch, extract, persist and publish the rest.
//
// The pipeline is a single worker. It owns no connections: the renderer,
// history store and publisher are built once by the caller and passed in.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/cls-news-crawler/internal/archive"
	"github.com/JakeFAU/cls-news-crawler/internal/clock/system"
	"github.com/JakeFAU/cls-news-crawler/internal/crawler"
	"github.com/JakeFAU/cls-news-crawler/internal/id/uuid"
	"github.com/JakeFAU/cls-news-crawler/internal/progress"
	"github.com/JakeFAU/cls-news-crawler/internal/retry"
)

// Pacer spaces out detail fetches.
type Pacer interface {
	Wait(ctx context.Context, rawURL string) error
	Done(ctx context.Context) (bool, error)
}

// Archiver stores debug snapshots of rendered pages.
type Archiver interface {
	Save(ctx context.Context, pageURL, html string, status archive.Status, at time.Time) (archive.Snapshot, error)
}

// Config tunes one pass.
type Config struct {
	// Subject is the publish subject; empty disables publishing.
	Subject         string
	MinTitleRunes   int
	PublishAttempts int
	PublishBackoff  time.Duration
	// Deadline bounds the whole pass; zero means no run-level limit.
	Deadline time.Duration
}

// Deps are the collaborators a Pipeline composes. Publisher, Pacer and
// Archiver are optional.
type Deps struct {
	Discoverer crawler.Discoverer
	Fetcher    crawler.Fetcher
	Extractor  crawler.Extractor
	History    crawler.HistoryStore
	Publisher  crawler.Publisher
	Pacer      Pacer
	Archiver   Archiver
	IDs        crawler.IDGenerator
	Clock      crawler.Clock
	Events     progress.Emitter
}

// Pipeline is the dedup, persist and publish loop parameterized by a
// Discoverer and an Extractor.
type Pipeline struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New validates deps and fills defaults.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Pipeline, error) {
	switch {
	case deps.Discoverer == nil:
		return nil, errors.New("pipeline: discoverer is required")
	case deps.Fetcher == nil:
		return nil, errors.New("pipeline: fetcher is required")
	case deps.Extractor == nil:
		return nil, errors.New("pipeline: extractor is required")
	case deps.History == nil:
		return nil, errors.New("pipeline: history store is required")
	}
	if deps.IDs == nil {
		deps.IDs = uuid.NewUUIDGenerator()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	deps.Events = progress.OrDiscard(deps.Events)
	if cfg.MinTitleRunes <= 0 {
		cfg.MinTitleRunes = 5
	}
	if cfg.PublishAttempts <= 0 {
		cfg.PublishAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{deps: deps, cfg: cfg, logger: logger}, nil
}

// Subject is where accepted records are published; empty means publishing is off.
func (p *Pipeline) Subject() string {
	if p.deps.Publisher == nil {
		return ""
	}
	return p.cfg.Subject
}

// Run executes one pass. Per-link failures are logged and counted; only a
// failed discovery or a canceled context is returned as an error.
func (p *Pipeline) Run(ctx context.Context) (crawler.RunSummary, error) {
	runID, err := p.deps.IDs.NewID()
	if err != nil {
		return crawler.RunSummary{}, fmt.Errorf("generate run id: %w", err)
	}
	rid, err := uuid.Parse(runID)
	if err != nil {
		return crawler.RunSummary{}, err
	}
	ctx = progress.WithRunID(ctx, rid)
	if p.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Deadline)
		defer cancel()
	}

	summary := crawler.RunSummary{RunID: runID, Started: p.deps.Clock.Now()}
	logger := p.logger.With(zap.String("run_id", runID))
	logger.Info("run started")
	p.emit(ctx, progress.Event{Stage: progress.StageRun, Outcome: progress.OutcomeStart})

	links, err := p.deps.Discoverer.Discover(ctx)
	if err != nil {
		summary.Finished = p.deps.Clock.Now()
		logger.Error("discovery failed", zap.Error(err))
		p.emit(ctx, progress.Event{Stage: progress.StageRun, Outcome: progress.OutcomeAbandon, Note: err.Error()})
		return summary, crawler.NewStageError("discover", "", err)
	}
	summary.Discovered = len(links)

	for _, link := range links {
		if ctx.Err() != nil {
			break
		}
		p.process(ctx, logger, link, &summary)
	}

	summary.Finished = p.deps.Clock.Now()
	fields := []zap.Field{
		zap.Int("discovered", summary.Discovered),
		zap.Int("skipped", summary.Skipped),
		zap.Int("fetched", summary.Fetched),
		zap.Int("accepted", summary.Accepted),
		zap.Int("published", summary.Published),
		zap.Int("failed", summary.Failed),
		zap.Duration("dur", summary.Finished.Sub(summary.Started)),
	}
	if err := ctx.Err(); err != nil {
		logger.Warn("run stopped early", append(fields, zap.Error(err))...)
		p.emit(ctx, progress.Event{Stage: progress.StageRun, Outcome: progress.OutcomeAbandon, Note: err.Error()})
		return summary, fmt.Errorf("run canceled: %w", err)
	}
	logger.Info("run finished", fields...)
	p.emit(ctx, progress.Event{
		Stage:   progress.StageRun,
		Outcome: progress.OutcomeSuccess,
		Dur:     summary.Finished.Sub(summary.Started),
		Note:    fmt.Sprintf("%d accepted, %d published", summary.Accepted, summary.Published),
	})
	return summary, nil
}

// process handles one link. Once the history check has passed the link
// counts toward the batch pause, whatever its outcome.
func (p *Pipeline) process(ctx context.Context, logger *zap.Logger, link crawler.ArticleLink, s *crawler.RunSummary) {
	id := crawler.ArticleID(link.URL)
	logger = logger.With(zap.String("url", link.URL), zap.String("id", id), zap.String("category", link.Category))

	seen, err := p.deps.History.Contains(ctx, id)
	if err != nil {
		s.Failed++
		logger.Error("history lookup failed", zap.Error(err))
		p.emitLink(ctx, link, progress.StageFetch, progress.OutcomeAbandon, "", err.Error())
		return
	}
	if seen {
		s.Skipped++
		logger.Debug("already in history")
		p.emitLink(ctx, link, progress.StageFetch, progress.OutcomeSkip, "", "already in history")
		return
	}

	defer func() {
		if _, err := p.pace(ctx); err != nil {
			logger.Debug("batch pause interrupted", zap.Error(err))
		}
	}()

	if p.deps.Pacer != nil {
		if err := p.deps.Pacer.Wait(ctx, link.URL); err != nil {
			s.Failed++
			logger.Warn("pacing wait interrupted", zap.Error(err))
			return
		}
	}

	res := p.deps.Fetcher.Fetch(ctx, link.URL)
	s.Fetched++

	var (
		article crawler.Article
		ok      bool
	)
	switch {
	case res.Success:
		article, ok = p.deps.Extractor.Extract(res.HTML, link.URL)
	case res.RedirectedToHome:
		article, ok = p.deps.Extractor.Recover(res.HTML, link.URL)
	default:
		s.Failed++
		logger.Warn("link abandoned", zap.Error(crawler.ErrTransport), zap.Int("attempt", res.Attempts))
		return
	}

	// The floor applies to the extracted title, not ToRecord's id fallback.
	if ok && utf8.RuneCountInString(strings.TrimSpace(article.Title)) < p.cfg.MinTitleRunes {
		ok = false
	}
	if !ok {
		s.Failed++
		note := crawler.ErrExtractionMiss.Error()
		if res.RedirectedToHome {
			note = crawler.ErrRedirectDetected.Error() + ", recovery failed"
		}
		logger.Warn("no usable article", zap.String("reason", note))
		p.emitLink(ctx, link, progress.StageExtract, progress.OutcomeAbandon, "", note)
		p.archive(ctx, logger, link.URL, res.HTML, archive.StatusFailed)
		return
	}

	article.Category = link.Category
	rec := article.ToRecord(p.deps.Clock.Now())
	s.Accepted++
	logger.Info("article accepted",
		zap.String("strategy", string(article.Strategy)),
		zap.String("title", rec.Title),
		zap.Int("body_runes", utf8.RuneCountInString(rec.Content)),
	)
	p.emitLink(ctx, link, progress.StageExtract, progress.OutcomeSuccess, string(article.Strategy), "")

	p.persist(ctx, logger, link, rec)
	if p.publish(ctx, logger, link, rec) {
		s.Published++
	}
	p.archive(ctx, logger, link.URL, res.HTML, archive.StatusAccepted)
}

// persist logs write failures; the store keeps its in-memory view either way.
func (p *Pipeline) persist(ctx context.Context, logger *zap.Logger, link crawler.ArticleLink, rec crawler.Record) {
	if err := p.deps.History.Upsert(ctx, rec); err != nil {
		logger.Error("history write failed", zap.Error(err))
		p.emitLink(ctx, link, progress.StagePersist, progress.OutcomeAbandon, "", err.Error())
		return
	}
	p.emitLink(ctx, link, progress.StagePersist, progress.OutcomeSuccess, "", "")
}

// publish never returns an error: failures are logged and swallowed.
func (p *Pipeline) publish(ctx context.Context, logger *zap.Logger, link crawler.ArticleLink, rec crawler.Record) bool {
	if p.deps.Publisher == nil || p.cfg.Subject == "" {
		return false
	}
	start := p.deps.Clock.Now()
	var ack string
	err := retry.Do(ctx, retry.Config{
		MaxAttempts: p.cfg.PublishAttempts,
		Backoff:     retry.Exponential(p.cfg.PublishBackoff, 4*p.cfg.PublishBackoff),
		OnRetry: func(attempt int, _ time.Duration, err error) {
			p.emit(ctx, progress.Event{
				Stage:    progress.StagePublish,
				Outcome:  progress.OutcomeRetry,
				URL:      link.URL,
				Category: link.Category,
				Attempt:  attempt,
				Note:     err.Error(),
			})
		},
		Logger: logger,
	}, func(ctx context.Context, _ int) error {
		var err error
		ack, err = p.deps.Publisher.Publish(ctx, p.cfg.Subject, rec)
		return err
	})
	dur := p.deps.Clock.Now().Sub(start)
	if err != nil {
		logger.Warn("publish failed", zap.Error(fmt.Errorf("%w: %w", crawler.ErrPublish, err)))
		p.emit(ctx, progress.Event{
			Stage:    progress.StagePublish,
			Outcome:  progress.OutcomeAbandon,
			URL:      link.URL,
			Category: link.Category,
			Dur:      dur,
			Note:     err.Error(),
		})
		return false
	}
	logger.Debug("published", zap.String("subject", p.cfg.Subject), zap.String("ack", ack))
	p.emit(ctx, progress.Event{
		Stage:    progress.StagePublish,
		Outcome:  progress.OutcomeSuccess,
		URL:      link.URL,
		Category: link.Category,
		Dur:      dur,
		Note:     ack,
	})
	return true
}

func (p *Pipeline) archive(ctx context.Context, logger *zap.Logger, pageURL, html string, status archive.Status) {
	if p.deps.Archiver == nil || html == "" {
		return
	}
	if _, err := p.deps.Archiver.Save(ctx, pageURL, html, status, p.deps.Clock.Now()); err != nil {
		logger.Warn("snapshot archive failed", zap.Error(err))
	}
}

func (p *Pipeline) pace(ctx context.Context) (bool, error) {
	if p.deps.Pacer == nil {
		return false, nil
	}
	return p.deps.Pacer.Done(ctx)
}

func (p *Pipeline) emitLink(ctx context.Context, link crawler.ArticleLink, stage progress.Stage, outcome progress.Outcome, strategy, note string) {
	p.emit(ctx, progress.Event{
		Stage:    stage,
		Outcome:  outcome,
		URL:      link.URL,
		Category: link.Category,
		Strategy: strategy,
		Note:     note,
	})
}

func (p *Pipeline) emit(ctx context.Context, evt progress.Event) {
	evt.RunID = progress.RunIDFrom(ctx)
	evt.TS = p.deps.Clock.Now().UTC()
	p.deps.Events.Emit(evt)
}
