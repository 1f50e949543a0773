package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"cloud.google.com/go/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/cls-news-crawler/internal/crawler"
)

func TestPublishSetsAttributes(t *testing.T) {
	t.Parallel()

	var sent *pubsub.Message
	p := &Publisher{send: func(_ context.Context, msg *pubsub.Message) (string, error) {
		sent = msg
		return "msg-1", nil
	}}

	rec := crawler.Record{ID: "abc", Type: "A股", Title: "沪指收涨"}
	id, err := p.Publish(context.Background(), "news.cls", rec)
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
	require.NotNil(t, sent)
	assert.Equal(t, map[string]string{"subject": "news.cls", "id": "abc", "type": "A股"}, sent.Attributes)

	var got crawler.Record
	require.NoError(t, json.Unmarshal(sent.Data, &got))
	assert.Equal(t, rec, got)
}

func TestPublishErrors(t *testing.T) {
	t.Parallel()

	_, err := (&Publisher{}).Publish(context.Background(), "news.cls", "x")
	require.ErrorIs(t, err, crawler.ErrPublish)

	p := &Publisher{send: func(context.Context, *pubsub.Message) (string, error) {
		return "", errors.New("unavailable")
	}}
	_, err = p.Publish(context.Background(), "news.cls", "x")
	require.ErrorIs(t, err, crawler.ErrPublish)
}

func TestCloseWithoutClient(t *testing.T) {
	t.Parallel()

	require.NoError(t, (&Publisher{}).Close())
	require.NoError(t, (&Publisher{}).Probe(context.Background()))
}
