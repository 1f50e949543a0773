package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/cls-news-crawler/internal/crawler"
	"github.com/JakeFAU/cls-news-crawler/internal/publisher/memory"
)

func TestRedialPublisherReconnectsOnLaterPublish(t *testing.T) {
	t.Parallel()

	target := memory.New()
	dials, closes := 0, 0
	dial := func(context.Context) (crawler.Publisher, func() error, error) {
		dials++
		if dials == 1 {
			return nil, nil, errors.New("connection refused")
		}
		return target, func() error { closes++; return nil }, nil
	}
	r := newRedialPublisher(dial, nil)

	_, err := r.Publish(context.Background(), "news.cls", crawler.Record{ID: "a"})
	require.ErrorIs(t, err, crawler.ErrPublish)
	assert.Empty(t, target.Messages())

	ack, err := r.Publish(context.Background(), "news.cls", crawler.Record{ID: "b"})
	require.NoError(t, err)
	assert.Equal(t, "memory:1", ack)

	_, err = r.Publish(context.Background(), "news.cls", crawler.Record{ID: "c"})
	require.NoError(t, err)
	assert.Equal(t, 2, dials)
	assert.Len(t, target.Messages(), 2)

	require.NoError(t, r.Close())
	assert.Equal(t, 1, closes)
}

func TestRedialPublisherCloseWithoutConnection(t *testing.T) {
	t.Parallel()

	r := newRedialPublisher(func(context.Context) (crawler.Publisher, func() error, error) {
		return nil, nil, errors.New("down")
	}, nil)
	require.NoError(t, r.Close())
}
