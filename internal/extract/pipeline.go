// Package extract turns rendered article pages into accepted Articles using a
// fixed fallback chain: the hydration payload, then DOM selectors, then plain
// text heuristics. Each strategy has its own body-length acceptance floor.
package extract

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/cls-news-crawler/internal/crawler"
	"github.com/JakeFAU/cls-news-crawler/internal/metrics"
)

// Config holds the acceptance floors, in runes of body text.
type Config struct {
	StructuredFloor int
	DOMFloor        int
	TextFloor       int
	RecoveryFloor   int
	// MaxDepth bounds the hydration payload search.
	MaxDepth int
	// Location interprets timestamps printed without a zone.
	Location *time.Location
}

// DefaultConfig returns the production floors.
func DefaultConfig() Config {
	return Config{
		StructuredFloor: 50,
		DOMFloor:        100,
		TextFloor:       30,
		RecoveryFloor:   30,
		MaxDepth:        10,
	}
}

// candidate is what a strategy read from a page, before acceptance.
type candidate struct {
	Title       string
	Body        string
	Author      string
	PublishedAt time.Time
}

type strategy interface {
	name() crawler.Strategy
	extract(doc, url string) candidate
}

type link struct {
	strategy strategy
	floor    int
}

// Pipeline implements crawler.Extractor.
type Pipeline struct {
	chain         []link
	recoveryFloor int
	logger        *zap.Logger
}

// New builds the strategy chain. now supplies the year for dates printed
// without one; nil means time.Now.
func New(cfg Config, now func() time.Time, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Pipeline{
		chain: []link{
			{strategy: structuredStrategy{maxDepth: cfg.MaxDepth}, floor: cfg.StructuredFloor},
			{strategy: domStrategy{floor: cfg.DOMFloor, loc: loc, now: now}, floor: cfg.DOMFloor},
			{strategy: textStrategy{loc: loc, now: now}, floor: cfg.TextFloor},
		},
		recoveryFloor: cfg.RecoveryFloor,
		logger:        logger,
	}
}

// Extract returns the first candidate whose body meets its strategy's floor.
// Metadata the winner lacks (title, time, author) is filled from candidates
// of earlier strategies.
func (p *Pipeline) Extract(doc, rawURL string) (crawler.Article, bool) {
	var earlier []candidate
	for _, l := range p.chain {
		c := l.strategy.extract(doc, rawURL)
		c.Body = strings.TrimSpace(c.Body)
		accepted := c.Body != "" && runeLen(c.Body) >= l.floor
		metrics.ObserveExtraction(string(l.strategy.name()), accepted)
		if !accepted {
			p.logger.Debug("strategy below floor",
				zap.String("url", rawURL),
				zap.String("strategy", string(l.strategy.name())),
				zap.Int("body_runes", runeLen(c.Body)),
				zap.Int("floor", l.floor),
			)
			earlier = append(earlier, c)
			continue
		}
		for _, prev := range earlier {
			c = fillMissing(c, prev)
		}
		return p.article(c, rawURL, l.strategy.name()), true
	}
	return crawler.Article{}, false
}

// Recover extracts a lower-confidence article from the homepage HTML a
// redirected fetch returned.
func (p *Pipeline) Recover(homepage, rawURL string) (crawler.Article, bool) {
	c := recoverFromHomepage(homepage, rawURL)
	accepted := c.Title != "" && runeLen(c.Body) >= p.recoveryFloor
	metrics.ObserveExtraction(string(crawler.StrategyRecovery), accepted)
	if !accepted {
		return crawler.Article{}, false
	}
	return p.article(c, rawURL, crawler.StrategyRecovery), true
}

func (p *Pipeline) article(c candidate, rawURL string, s crawler.Strategy) crawler.Article {
	return crawler.Article{
		ID:          crawler.ArticleID(rawURL),
		Title:       c.Title,
		Body:        c.Body,
		PublishedAt: c.PublishedAt,
		Author:      c.Author,
		SourceURL:   rawURL,
		Strategy:    s,
	}
}

func fillMissing(c, prev candidate) candidate {
	if c.Title == "" {
		c.Title = prev.Title
	}
	if c.PublishedAt.IsZero() {
		c.PublishedAt = prev.PublishedAt
	}
	if c.Author == "" {
		c.Author = prev.Author
	}
	return c
}
