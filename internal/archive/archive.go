// Package archive keeps debug snapshots of rendered detail pages: the raw
// HTML plus a markdown rendition, named by content digest.
package archive

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/cls-news-crawler/internal/crawler"
)

// Status tags why a page was archived.
type Status string

// Snapshot statuses.
const (
	StatusAccepted Status = "accepted"
	StatusFailed   Status = "failed"
)

// Snapshot records where one page was written.
type Snapshot struct {
	HTMLURI     string
	MarkdownURI string
}

// Archiver writes snapshots to a blob store.
type Archiver struct {
	store         crawler.BlobStore
	hasher        crawler.Hasher
	prefix        string
	includeFailed bool
	logger        *zap.Logger
}

// Config tunes snapshot naming.
type Config struct {
	Prefix        string
	IncludeFailed bool
}

// New returns an Archiver. A nil store yields nil, which Save treats as disabled.
func New(store crawler.BlobStore, hasher crawler.Hasher, cfg Config, logger *zap.Logger) *Archiver {
	if store == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{
		store:         store,
		hasher:        hasher,
		prefix:        strings.Trim(cfg.Prefix, "/"),
		includeFailed: cfg.IncludeFailed,
		logger:        logger,
	}
}

// Save archives html for pageURL. Failed pages are skipped unless configured.
func (a *Archiver) Save(ctx context.Context, pageURL, html string, status Status, at time.Time) (Snapshot, error) {
	if a == nil || html == "" {
		return Snapshot{}, nil
	}
	if status == StatusFailed && !a.includeFailed {
		return Snapshot{}, nil
	}

	digest, err := a.hasher.Hash([]byte(html))
	if err != nil {
		return Snapshot{}, fmt.Errorf("hash snapshot: %w", err)
	}
	base := path.Join(a.prefix, at.Format(crawler.DayLayout), string(status),
		crawler.DetailID(pageURL)+"-"+digest)

	var snap Snapshot
	snap.HTMLURI, err = a.store.PutObject(ctx, base+".html", "text/html; charset=utf-8", []byte(html))
	if err != nil {
		return Snapshot{}, fmt.Errorf("store html snapshot: %w", err)
	}

	markdown, err := ToMarkdown(pageURL, html)
	if err != nil {
		a.logger.Warn("markdown conversion failed", zap.String("url", pageURL), zap.Error(err))
		return snap, nil
	}
	snap.MarkdownURI, err = a.store.PutObject(ctx, base+".md", "text/markdown; charset=utf-8", []byte(markdown))
	if err != nil {
		return snap, fmt.Errorf("store markdown snapshot: %w", err)
	}
	a.logger.Debug("snapshot archived",
		zap.String("url", pageURL),
		zap.String("status", string(status)),
		zap.String("uri", snap.HTMLURI),
	)
	return snap, nil
}

// ToMarkdown converts a rendered page to GitHub-flavored markdown with links
// resolved against pageURL.
func ToMarkdown(pageURL, html string) (string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	converter := md.NewConverter(base.Host, true, nil)
	converter.Use(plugin.GitHubFlavored())
	converter.Remove("script", "style", "noscript")
	converter.AddRules(md.Rule{
		Filter: []string{"a"},
		Replacement: func(content string, sel *goquery.Selection, _ *md.Options) *string {
			href, ok := sel.Attr("href")
			if !ok {
				return nil
			}
			resolved, err := crawler.ResolveLink(base, href)
			if err != nil {
				return nil
			}
			text := strings.TrimSpace(content)
			if text == "" {
				text = resolved
			}
			out := fmt.Sprintf("[%s](%s)", text, resolved)
			return &out
		},
	})
	return converter.ConvertString(html)
}
