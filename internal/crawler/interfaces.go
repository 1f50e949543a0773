package crawler

import (
	"context"
	"time"
)

// Renderer produces HTML (and optionally schema-extracted JSON) for a URL.
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) (RenderResult, error)
}

// Discoverer yields article links for one run, keyed by absolute URL.
type Discoverer interface {
	Discover(ctx context.Context) ([]ArticleLink, error)
}

// Fetcher fetches a detail page with retry and redirect detection.
type Fetcher interface {
	Fetch(ctx context.Context, url string) FetchResult
}

// Extractor turns rendered HTML into an accepted Article.
type Extractor interface {
	Extract(html, url string) (Article, bool)
	Recover(homepageHTML, url string) (Article, bool)
}

// HistoryStore persists accepted records keyed by article id.
type HistoryStore interface {
	Contains(ctx context.Context, id string) (bool, error)
	Upsert(ctx context.Context, rec Record) error
	LoadAll(ctx context.Context) ([]Record, error)
}

// Publisher pushes accepted records to the downstream sink.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// RedirectDetector reports whether rendered HTML is the site homepage.
type RedirectDetector interface {
	IsHomepage(html string) bool
}

// Hasher computes digests for ids and snapshot names.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
