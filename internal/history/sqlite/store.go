// Package sqlite stores article history in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver

	"github.com/JakeFAU/cls-news-crawler/internal/crawler"
	"github.com/JakeFAU/cls-news-crawler/internal/history"
)

// Store implements history.Store on SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and initializes the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("history.path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; sqlite serializes writes anyway.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS articles (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		abstract TEXT NOT NULL DEFAULT '',
		published TEXT NOT NULL DEFAULT '',
		link TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		author TEXT NOT NULL DEFAULT '',
		read_number INTEGER NOT NULL DEFAULT 0,
		crawl_day TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_articles_published ON articles(published);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Contains reports whether id exists.
func (s *Store) Contains(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM articles WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check history: %w", err)
	}
	return n > 0, nil
}

// Upsert inserts rec or merges it into the stored row.
func (s *Store) Upsert(ctx context.Context, rec crawler.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: record id is required", crawler.ErrPersistence)
	}
	const query = `
	INSERT INTO articles (id, title, abstract, published, link, content, category, author, read_number, crawl_day)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = COALESCE(NULLIF(excluded.title, ''), articles.title),
		abstract = COALESCE(NULLIF(excluded.abstract, ''), articles.abstract),
		published = COALESCE(NULLIF(excluded.published, ''), articles.published),
		link = COALESCE(NULLIF(excluded.link, ''), articles.link),
		content = COALESCE(NULLIF(excluded.content, ''), articles.content),
		category = COALESCE(NULLIF(excluded.category, ''), articles.category),
		author = COALESCE(NULLIF(excluded.author, ''), articles.author),
		read_number = MAX(excluded.read_number, articles.read_number),
		crawl_day = COALESCE(NULLIF(excluded.crawl_day, ''), articles.crawl_day)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.Title, rec.Abstract, rec.Date, rec.Link,
		rec.Content, rec.Type, rec.Author, rec.ReadNumber, rec.Time,
	)
	if err != nil {
		return crawler.NewStageError("persist", rec.Link, fmt.Errorf("upsert history: %w: %w", crawler.ErrPersistence, err))
	}
	return nil
}

const selectColumns = `id, title, abstract, published, link, content, category, author, read_number, crawl_day`

// Get returns one record or history.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (crawler.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM articles WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.Record{}, history.ErrNotFound
	}
	if err != nil {
		return crawler.Record{}, fmt.Errorf("get history: %w", err)
	}
	return rec, nil
}

// LoadAll returns every record ordered by publish date.
func (s *Store) LoadAll(ctx context.Context) ([]crawler.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM articles ORDER BY published, id`)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	out := make([]crawler.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (crawler.Record, error) {
	var rec crawler.Record
	err := row.Scan(
		&rec.ID, &rec.Title, &rec.Abstract, &rec.Date, &rec.Link,
		&rec.Content, &rec.Type, &rec.Author, &rec.ReadNumber, &rec.Time,
	)
	return rec, err
}
