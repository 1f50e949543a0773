package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/cls-news-crawler/internal/crawler"
	"github.com/JakeFAU/cls-news-crawler/internal/history"
)

var columns = []string{"id", "title", "abstract", "published", "link", "content", "category", "author", "read_number", "crawl_day"}

func sample() crawler.Record {
	return crawler.Record{
		ID:       "5eb63bbbe01eeed093cb22bb8f5acdc3",
		Title:    "央行宣布降准",
		Abstract: "摘要",
		Date:     "2024-05-20 09:30:00",
		Link:     "https://www.cls.cn/detail/1",
		Content:  "正文",
		Type:     "头条",
		Author:   "财联社",
		Time:     "2024-05-20",
	}
}

func TestUpsertMergesOnConflict(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "")
	require.NoError(t, err)

	rec := sample()
	mock.ExpectExec(`(?s)INSERT INTO cls_articles AS t .* ON CONFLICT \(id\) DO UPDATE`).
		WithArgs(rec.ID, rec.Title, rec.Abstract, rec.Date, rec.Link, rec.Content, rec.Type, rec.Author, 0, rec.Time).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Upsert(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertFailureIsPersistenceError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "news")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO news").WillReturnError(errors.New("connection reset"))
	err = store.Upsert(context.Background(), sample())
	require.ErrorIs(t, err, crawler.ErrPersistence)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContains(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT EXISTS").WithArgs("abc").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	ok, err := store.Contains(context.Background(), "abc")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAndLoadAll(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "")
	require.NoError(t, err)

	rec := sample()
	row := []any{rec.ID, rec.Title, rec.Abstract, rec.Date, rec.Link, rec.Content, rec.Type, rec.Author, 0, rec.Time}

	mock.ExpectQuery("SELECT id, title").WithArgs(rec.ID).
		WillReturnRows(pgxmock.NewRows(columns).AddRow(row...))
	got, err := store.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, rec, got)

	mock.ExpectQuery("SELECT id, title").WithArgs("missing").
		WillReturnRows(pgxmock.NewRows(columns))
	_, err = store.Get(context.Background(), "missing")
	require.ErrorIs(t, err, history.ErrNotFound)

	mock.ExpectQuery("SELECT id, title .* ORDER BY published").
		WillReturnRows(pgxmock.NewRows(columns).AddRow(row...))
	all, err := store.LoadAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, []crawler.Record{rec}, all)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "")
	require.NoError(t, err)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS cls_articles").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "bad;name")
	require.Error(t, err)
	_, err = NewWithPool(nil, "")
	require.Error(t, err)
}
