// Package ratelimit paces detail fetches: a per-host token bucket plus a
// pause after every batch of processed articles.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/cls-news-crawler/internal/metrics"
	"github.com/JakeFAU/cls-news-crawler/internal/retry"
)

// Config holds pacing configuration.
type Config struct {
	// RPS is the per-host request rate; <= 0 disables the token bucket.
	RPS   float64
	Burst int
	// BatchSize articles are processed between pauses; <= 0 disables pausing.
	BatchSize  int
	BatchPause time.Duration
}

// Limiter manages per-host rate limits and batch pauses.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int

	batchSize  int
	batchPause time.Duration
	processed  int
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:   make(map[string]*rate.Limiter),
		rate:       r,
		burst:      burst,
		batchSize:  cfg.BatchSize,
		batchPause: cfg.BatchPause,
	}
}

// Wait blocks until a token is available for rawURL's host.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Immediate tokens are not worth a histogram sample.
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObservePacingDelay(host, d)
	}
	return nil
}

// Done marks one article processed and pauses once a batch completes. It
// reports whether it paused.
func (l *Limiter) Done(ctx context.Context) (bool, error) {
	if l.batchSize <= 0 || l.batchPause <= 0 {
		return false, nil
	}
	l.mu.Lock()
	l.processed++
	pause := l.processed%l.batchSize == 0
	l.mu.Unlock()
	if !pause {
		return false, nil
	}
	start := time.Now()
	if err := retry.Sleep(ctx, l.batchPause); err != nil {
		return true, err
	}
	metrics.ObservePacingDelay("batch", time.Since(start))
	return true, nil
}
