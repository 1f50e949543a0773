package history

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/cls-news-crawler/internal/crawler"
)

const maxLineBytes = 16 << 20

// FileStore keeps every record in memory and mirrors it to a JSON lines
// file. A single process writes the file; the mutex only serializes
// readers in the same process (the admin API) against the pipeline.
type FileStore struct {
	mu      sync.RWMutex
	path    string
	records map[string]crawler.Record
	order   []string
	// appendMode is set when the file was absent at open: new records are
	// appended instead of rewriting the merged set.
	appendMode bool
	skipped    int
	logger     *zap.Logger
}

// OpenFile loads path, skipping lines that do not parse.
func OpenFile(path string, logger *zap.Logger) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("history path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &FileStore{
		path:    path,
		records: make(map[string]crawler.Record),
		logger:  logger,
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		s.appendMode = true
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec crawler.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			s.skipped++
			logger.Debug("skipping corrupt history line", zap.Int("line", line), zap.Error(err))
			continue
		}
		if rec.ID == "" && rec.Link != "" {
			rec.ID = crawler.ArticleID(rec.Link)
		}
		if rec.ID == "" {
			s.skipped++
			continue
		}
		s.merge(rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read history %s: %w", path, err)
	}
	logger.Info("history loaded",
		zap.String("path", path),
		zap.Int("records", len(s.records)),
		zap.Int("skipped", s.skipped),
	)
	return s, nil
}

// Contains reports whether id has been accepted before.
func (s *FileStore) Contains(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[id]
	return ok, nil
}

// Get returns the record for id.
func (s *FileStore) Get(_ context.Context, id string) (crawler.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return crawler.Record{}, ErrNotFound
	}
	return rec, nil
}

// Upsert merges rec into memory, then appends it or rewrites the file. On a
// write failure the in-memory state keeps the merge and the error wraps
// crawler.ErrPersistence.
func (s *FileStore) Upsert(_ context.Context, rec crawler.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: record id is required", crawler.ErrPersistence)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := s.merge(rec)

	if s.appendMode {
		if err := s.appendLine(merged); err != nil {
			return persistenceError("append history", err)
		}
		return nil
	}
	if err := s.rewrite(); err != nil {
		return persistenceError("rewrite history", err)
	}
	return nil
}

// LoadAll returns every record in first-seen order.
func (s *FileStore) LoadAll(_ context.Context) ([]crawler.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}
	return out, nil
}

// Skipped reports how many lines were dropped at load.
func (s *FileStore) Skipped() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.skipped
}

// Path returns the backing file.
func (s *FileStore) Path() string {
	return s.path
}

// merge must be called with mu held or before the store is shared.
func (s *FileStore) merge(rec crawler.Record) crawler.Record {
	existing, ok := s.records[rec.ID]
	if !ok {
		s.order = append(s.order, rec.ID)
		s.records[rec.ID] = rec
		return rec
	}
	merged := crawler.Merge(existing, rec)
	s.records[rec.ID] = merged
	return merged
}

func (s *FileStore) appendLine(rec crawler.Record) error {
	if err := s.ensureDir(); err != nil {
		return err
	}
	line, err := encodeLine(rec)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("write: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

// rewrite writes the merged set to a temp file and renames it into place.
func (s *FileStore) rewrite() error {
	if err := s.ensureDir(); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	w := bufio.NewWriter(tmp)
	for _, id := range s.order {
		line, err := encodeLine(s.records[id])
		if err != nil {
			cleanup()
			return err
		}
		if _, err := w.Write(line); err != nil {
			cleanup()
			return fmt.Errorf("write temp: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		cleanup()
		return fmt.Errorf("flush temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func (s *FileStore) ensureDir() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	return nil
}

func encodeLine(rec crawler.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rec); err != nil {
		return nil, fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	return buf.Bytes(), nil
}
