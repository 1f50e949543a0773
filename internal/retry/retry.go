// Package retry runs operations with bounded attempts and context-aware backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// Backoff returns the wait before the attempt following attempt (1-based).
type Backoff func(attempt int) time.Duration

// Linear waits attempt x unit: unit, 2*unit, 3*unit...
func Linear(unit time.Duration) Backoff {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * unit
	}
}

// Fixed waits the same delay between every attempt.
func Fixed(delay time.Duration) Backoff {
	return func(int) time.Duration {
		return delay
	}
}

// Exponential doubles from initial up to limit.
func Exponential(initial, limit time.Duration) Backoff {
	return func(attempt int) time.Duration {
		d := float64(initial) * math.Pow(2, float64(attempt-1))
		if limit > 0 && d > float64(limit) {
			return limit
		}
		return time.Duration(d)
	}
}

// Config defines retry behavior.
type Config struct {
	MaxAttempts int
	Backoff     Backoff
	// Retryable reports whether err deserves another attempt; nil retries all.
	Retryable func(err error) bool
	// OnRetry observes each failed attempt that will be retried.
	OnRetry func(attempt int, wait time.Duration, err error)
	Logger  *zap.Logger
}

// ErrPermanent marks an error that must not be retried.
var ErrPermanent = errors.New("permanent failure")

// Permanent wraps err so Do stops immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Do executes fn until it succeeds, attempts run out, or ctx ends. fn receives
// the 1-based attempt number.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context, attempt int) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("retry canceled after %d attempts: %w", attempt-1, lastErr)
			}
			return fmt.Errorf("retry canceled: %w", err)
		}

		err := fn(ctx, attempt)
		if err == nil {
			if attempt > 1 {
				logger.Debug("retry succeeded", zap.Int("attempts", attempt))
			}
			return nil
		}
		lastErr = err

		if errors.Is(err, ErrPermanent) || (cfg.Retryable != nil && !cfg.Retryable(err)) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		var wait time.Duration
		if cfg.Backoff != nil {
			wait = cfg.Backoff(attempt)
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, wait, err)
		}
		logger.Debug("retrying after backoff",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", cfg.MaxAttempts),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if err := Sleep(ctx, wait); err != nil {
			return fmt.Errorf("retry canceled after %d attempts: %w", attempt, lastErr)
		}
	}
	return fmt.Errorf("operation failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// Sleep waits for d or until ctx ends.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	}
}
