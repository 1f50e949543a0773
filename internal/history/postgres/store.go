// Package postgres stores article history in a Postgres table with the same
// union-merge semantics as the file backend.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/cls-news-crawler/internal/crawler"
	"github.com/JakeFAU/cls-news-crawler/internal/history"
)

const defaultTable = "cls_articles"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements history.Store on Postgres.
type Store struct {
	pool  pool
	table string
}

// New connects to Postgres and creates the table when missing.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("history.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool wraps an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: p, table: table}, nil
}

// EnsureSchema creates the history table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL DEFAULT '',
	abstract    TEXT NOT NULL DEFAULT '',
	published   TEXT NOT NULL DEFAULT '',
	link        TEXT NOT NULL DEFAULT '',
	content     TEXT NOT NULL DEFAULT '',
	category    TEXT NOT NULL DEFAULT '',
	author      TEXT NOT NULL DEFAULT '',
	read_number INTEGER NOT NULL DEFAULT 0,
	crawl_day   TEXT NOT NULL DEFAULT ''
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create history table: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Contains reports whether id exists.
func (s *Store) Contains(ctx context.Context, id string) (bool, error) {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, s.table)
	if err := s.pool.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check history: %w", err)
	}
	return exists, nil
}

// Upsert inserts rec or merges it into the existing row; empty values never
// replace stored ones.
func (s *Store) Upsert(ctx context.Context, rec crawler.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: record id is required", crawler.ErrPersistence)
	}
	query := fmt.Sprintf(`
INSERT INTO %[1]s AS t (
	id, title, abstract, published, link, content, category, author, read_number, crawl_day
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO UPDATE SET
	title       = COALESCE(NULLIF(EXCLUDED.title, ''), t.title),
	abstract    = COALESCE(NULLIF(EXCLUDED.abstract, ''), t.abstract),
	published   = COALESCE(NULLIF(EXCLUDED.published, ''), t.published),
	link        = COALESCE(NULLIF(EXCLUDED.link, ''), t.link),
	content     = COALESCE(NULLIF(EXCLUDED.content, ''), t.content),
	category    = COALESCE(NULLIF(EXCLUDED.category, ''), t.category),
	author      = COALESCE(NULLIF(EXCLUDED.author, ''), t.author),
	read_number = GREATEST(EXCLUDED.read_number, t.read_number),
	crawl_day   = COALESCE(NULLIF(EXCLUDED.crawl_day, ''), t.crawl_day)`, s.table)

	_, err := s.pool.Exec(ctx, query,
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
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, selectColumns, s.table)
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Record{}, history.ErrNotFound
	}
	if err != nil {
		return crawler.Record{}, fmt.Errorf("get history: %w", err)
	}
	return rec, nil
}

// LoadAll returns every record ordered by publish date.
func (s *Store) LoadAll(ctx context.Context) ([]crawler.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY published, id`, selectColumns, s.table)
	rows, err := s.pool.Query(ctx, query)
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

func scanRecord(row pgx.Row) (crawler.Record, error) {
	var rec crawler.Record
	err := row.Scan(
		&rec.ID, &rec.Title, &rec.Abstract, &rec.Date, &rec.Link,
		&rec.Content, &rec.Type, &rec.Author, &rec.ReadNumber, &rec.Time,
	)
	return rec, err
}
