package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "news.cls", map[string]string{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, "memory:1", id1)
	id2, err := pub.Publish(context.Background(), "news.other", "payload")
	require.NoError(t, err)
	assert.Equal(t, "memory:2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "news.cls", msgs[0].Subject)
	assert.Equal(t, "news.other", msgs[1].Subject)

	msgs[0].Subject = "modified"
	assert.Equal(t, "news.cls", pub.Messages()[0].Subject, "Messages() must return a copy")
}

func TestPublisherFailNext(t *testing.T) {
	t.Parallel()

	pub := New()
	pub.FailNext(1)
	_, err := pub.Publish(context.Background(), "news.cls", "a")
	require.Error(t, err)
	_, err = pub.Publish(context.Background(), "news.cls", "b")
	require.NoError(t, err)
	assert.Len(t, pub.Messages(), 1)
}
