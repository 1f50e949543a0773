package history

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/cls-news-crawler/internal/crawler"
)

func sampleRecord(n string) crawler.Record {
	link := "https://www.cls.cn/detail/" + n
	return crawler.Record{
		Title:    "央行宣布降准" + n,
		Abstract: "摘要" + n,
		Date:     "2024-05-20 09:30:00",
		Link:     link,
		Content:  "正文" + n,
		ID:       crawler.ArticleID(link),
		Type:     "头条",
		Author:   "财联社",
		Time:     "2024-05-20",
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data", "cls.json")
	store, err := OpenFile(path, nil)
	require.NoError(t, err)

	want := []crawler.Record{sampleRecord("1"), sampleRecord("2"), sampleRecord("3")}
	for _, rec := range want {
		require.NoError(t, store.Upsert(context.Background(), rec))
	}

	reopened, err := OpenFile(path, nil)
	require.NoError(t, err)
	got, err := reopened.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	for _, rec := range want {
		ok, err := reopened.Contains(context.Background(), rec.ID)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestFileStoreAppendsWhenFileWasAbsent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cls.json")
	store, err := OpenFile(path, nil)
	require.NoError(t, err)
	require.NoError(t, store.Upsert(context.Background(), sampleRecord("1")))
	require.NoError(t, store.Upsert(context.Background(), sampleRecord("2")))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"title":"央行宣布降准1"`, "han characters are written unescaped")
}

func TestFileStoreRewritesExistingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cls.json")
	first := sampleRecord("1")
	line, err := encodeLine(first)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, line, 0o600))

	store, err := OpenFile(path, nil)
	require.NoError(t, err)

	update := first
	update.Content = ""
	update.Title = "新标题"
	require.NoError(t, store.Upsert(context.Background(), update))
	require.NoError(t, store.Upsert(context.Background(), sampleRecord("2")))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2, "rewrite keeps one line per id")

	got, err := store.Get(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, "新标题", got.Title)
	assert.Equal(t, first.Content, got.Content, "empty fields never overwrite data")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileStoreSkipsCorruptLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cls.json")
	good, err := encodeLine(sampleRecord("1"))
	require.NoError(t, err)
	noID := sampleRecord("2")
	noID.ID = ""
	derived, err := encodeLine(noID)
	require.NoError(t, err)
	content := string(good) + "{not json\n\n" + `{"title":"no id or link"}` + "\n" + string(derived)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	store, err := OpenFile(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Skipped())

	all, err := store.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, crawler.ArticleID("https://www.cls.cn/detail/2"), all[1].ID, "missing id is derived from link")
}

func TestFileStoreMergesDuplicateLinesAtLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cls.json")
	rec := sampleRecord("1")
	first, err := encodeLine(rec)
	require.NoError(t, err)
	rec.Author = "记者王明"
	rec.Abstract = ""
	second, err := encodeLine(rec)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, append(first, second...), 0o600))

	store, err := OpenFile(path, nil)
	require.NoError(t, err)
	got, err := store.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "记者王明", got.Author)
	assert.Equal(t, "摘要1", got.Abstract)
}

func TestFileStoreWriteFailureKeepsMemory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	blocker := filepath.Join(dir, "data")
	store, err := OpenFile(filepath.Join(blocker, "cls.json"), nil)
	require.NoError(t, err)
	// A plain file where the data directory should be makes every write fail.
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	rec := sampleRecord("1")
	err = store.Upsert(context.Background(), rec)
	require.ErrorIs(t, err, crawler.ErrPersistence)

	ok, err := store.Contains(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFileStoreGetMissing(t *testing.T) {
	t.Parallel()

	store, err := OpenFile(filepath.Join(t.TempDir(), "cls.json"), nil)
	require.NoError(t, err)
	_, err = store.Get(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
	require.Error(t, store.Upsert(context.Background(), crawler.Record{}))
}

func TestLastDay(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("CST", 8*3600)
	records := []crawler.Record{
		{ID: "a", Date: "2024-05-19 23:59:00"},
		{ID: "b", Date: "2024-05-20 10:00:00"},
		{ID: "c", Date: "2024-05-19 08:00:00"},
	}
	got := LastDay(records, time.Date(2024, 5, 20, 12, 0, 0, 0, loc))
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
}
