package archive

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/cls-news-crawler/internal/hash/sha256"
	"github.com/JakeFAU/cls-news-crawler/internal/storage/memory"
)

const page = `<html><head><script>var x = 1;</script></head><body>
<h1>央行宣布降准0.5个百分点</h1>
<p>财联社5月20日电，<a href="/detail/1700001">相关阅读</a></p>
</body></html>`

func TestSaveWritesHTMLAndMarkdown(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	a := New(store, &sha256.Hasher{Prefix: 12}, Config{Prefix: "cls"}, nil)
	at := time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC)

	snap, err := a.Save(context.Background(), "https://www.cls.cn/detail/1700000", page, StatusAccepted, at)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(snap.HTMLURI, "memory://cls/2024-05-20/accepted/1700000-"))
	assert.True(t, strings.HasSuffix(snap.MarkdownURI, ".md"))
	require.Len(t, store.Paths(), 2)

	markdown, ok := store.Get(strings.TrimPrefix(snap.MarkdownURI, "memory://"))
	require.True(t, ok)
	assert.Contains(t, string(markdown), "# 央行宣布降准0.5个百分点")
	assert.Contains(t, string(markdown), "[相关阅读](https://www.cls.cn/detail/1700001)")
	assert.NotContains(t, string(markdown), "var x")
}

func TestSaveSkipsFailedUnlessConfigured(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	a := New(store, sha256.New(), Config{Prefix: "cls"}, nil)
	snap, err := a.Save(context.Background(), "https://www.cls.cn/detail/1", page, StatusFailed, time.Now())
	require.NoError(t, err)
	assert.Empty(t, snap.HTMLURI)
	assert.Empty(t, store.Paths())

	a = New(store, sha256.New(), Config{Prefix: "cls", IncludeFailed: true}, nil)
	snap, err = a.Save(context.Background(), "https://www.cls.cn/detail/1", page, StatusFailed, time.Now())
	require.NoError(t, err)
	assert.NotEmpty(t, snap.HTMLURI)
}

func TestNilArchiverIsDisabled(t *testing.T) {
	t.Parallel()

	a := New(nil, sha256.New(), Config{}, nil)
	assert.Nil(t, a)
	snap, err := a.Save(context.Background(), "https://www.cls.cn/detail/1", page, StatusAccepted, time.Now())
	require.NoError(t, err)
	assert.Equal(t, Snapshot{}, snap)
}
