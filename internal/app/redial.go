package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/cls-news-crawler/internal/crawler"
)

const redialTimeout = 10 * time.Second

type dialFunc func(ctx context.Context) (crawler.Publisher, func() error, error)

// redialPublisher connects on first use and retries the connection on every
// publish until it succeeds. Each failed dial fails that publish.
type redialPublisher struct {
	dial   dialFunc
	logger *zap.Logger

	mu     sync.Mutex
	pub    crawler.Publisher
	closeF func() error
}

func newRedialPublisher(dial dialFunc, logger *zap.Logger) *redialPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &redialPublisher{dial: dial, logger: logger}
}

func (r *redialPublisher) Publish(ctx context.Context, subject string, payload any) (string, error) {
	pub, err := r.connected(ctx)
	if err != nil {
		return "", err
	}
	return pub.Publish(ctx, subject, payload)
}

func (r *redialPublisher) connected(ctx context.Context) (crawler.Publisher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pub != nil {
		return r.pub, nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, redialTimeout)
	defer cancel()
	pub, closeF, err := r.dial(dialCtx)
	if err != nil {
		r.logger.Warn("publisher still unavailable", zap.Error(err))
		return nil, fmt.Errorf("%w: connect: %w", crawler.ErrPublish, err)
	}
	r.logger.Info("publisher connected")
	r.pub, r.closeF = pub, closeF
	return pub, nil
}

// Close releases the underlying connection if one was made.
func (r *redialPublisher) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closeF == nil {
		return nil
	}
	err := r.closeF()
	r.pub, r.closeF = nil, nil
	return err
}
