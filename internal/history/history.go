// Package history persists accepted article records keyed by their
// content-addressed id. The default backend is a JSON lines file; the
// postgres and sqlite subpackages offer the same contract.
package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/cls-news-crawler/internal/crawler"
)

// ErrNotFound is returned by Get for unknown ids.
var ErrNotFound = errors.New("article not found")

// Store is a HistoryStore that can also serve single records.
type Store interface {
	crawler.HistoryStore
	Get(ctx context.Context, id string) (crawler.Record, error)
}

// LastDay returns the records dated on the calendar day before now, in the
// location of now.
func LastDay(records []crawler.Record, now time.Time) []crawler.Record {
	return OnDay(records, now.AddDate(0, 0, -1))
}

// OnDay returns the records whose date falls on day's calendar date, sorted
// by date.
func OnDay(records []crawler.Record, day time.Time) []crawler.Record {
	prefix := day.Format(crawler.DayLayout)
	out := make([]crawler.Record, 0)
	for _, rec := range records {
		if strings.Contains(rec.Date, prefix) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date < out[j].Date
	})
	return out
}

func persistenceError(op string, err error) error {
	return crawler.NewStageError("persist", "", fmt.Errorf("%s: %w: %w", op, crawler.ErrPersistence, err))
}
