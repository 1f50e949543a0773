package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinearBackoff(t *testing.T) {
	t.Parallel()

	b := Linear(2 * time.Second)
	assert.Equal(t, 2*time.Second, b(1))
	assert.Equal(t, 4*time.Second, b(2))
	assert.Equal(t, 6*time.Second, b(3))
}

func TestExponentialBackoffCaps(t *testing.T) {
	t.Parallel()

	b := Exponential(100*time.Millisecond, 300*time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, b(1))
	assert.Equal(t, 200*time.Millisecond, b(2))
	assert.Equal(t, 300*time.Millisecond, b(3))
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	var waits []time.Duration
	calls := 0
	err := Do(context.Background(), Config{
		MaxAttempts: 3,
		Backoff:     Linear(time.Millisecond),
		OnRetry: func(_ int, wait time.Duration, _ error) {
			waits = append(waits, wait)
		},
	}, func(_ context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, waits)
}

func TestDoExhaustsAttempts(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	calls := 0
	err := Do(context.Background(), Config{MaxAttempts: 2}, func(context.Context, int) error {
		calls++
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestDoStopsOnPermanent(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), Config{MaxAttempts: 5}, func(context.Context, int) error {
		calls++
		return Permanent(errors.New("bad input"))
	})

	require.ErrorIs(t, err, ErrPermanent)
	assert.Equal(t, 1, calls)
}

func TestDoHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Config{MaxAttempts: 3, Backoff: Fixed(time.Hour)}, func(context.Context, int) error {
		calls++
		cancel()
		return errors.New("fail")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
