package sinks

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/cls-news-crawler/internal/progress"
)

// ErrRunNotFound is returned when a run ID was never recorded.
var ErrRunNotFound = errors.New("run not found")

// RunStatus is the coarse state of a recorded run.
type RunStatus string

// Recorded run states.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// RunStats aggregates the events of one pipeline run.
type RunStats struct {
	RunID    uuid.UUID
	Status   RunStatus
	Started  time.Time
	Finished time.Time
	Note     string
	// Counts is keyed by stage, then outcome.
	Counts map[progress.Stage]map[progress.Outcome]int
}

// Recorder keeps per-run aggregates and the most recent events in memory.
type Recorder struct {
	mu        sync.RWMutex
	runs      map[uuid.UUID]*RunStats
	events    []progress.Event
	maxEvents int
}

// NewRecorder returns a Recorder retaining at most maxEvents raw events;
// zero keeps them all.
func NewRecorder(maxEvents int) *Recorder {
	return &Recorder{
		runs:      make(map[uuid.UUID]*RunStats),
		maxEvents: maxEvents,
	}
}

// Consume folds the batch into the per-run aggregates.
func (r *Recorder) Consume(_ context.Context, batch []progress.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, evt := range batch {
		r.events = append(r.events, evt)
		r.apply(evt)
	}
	if r.maxEvents > 0 && len(r.events) > r.maxEvents {
		r.events = append([]progress.Event(nil), r.events[len(r.events)-r.maxEvents:]...)
	}
	return nil
}

func (r *Recorder) apply(evt progress.Event) {
	id := evt.RunUUID()
	stats := r.runs[id]
	if stats == nil {
		stats = &RunStats{
			RunID:   id,
			Status:  RunRunning,
			Started: evt.TS,
			Counts:  make(map[progress.Stage]map[progress.Outcome]int),
		}
		r.runs[id] = stats
	}
	if evt.Stage != progress.StageRun {
		byOutcome := stats.Counts[evt.Stage]
		if byOutcome == nil {
			byOutcome = make(map[progress.Outcome]int)
			stats.Counts[evt.Stage] = byOutcome
		}
		byOutcome[evt.Outcome]++
		return
	}
	switch evt.Outcome {
	case progress.OutcomeStart:
		stats.Started = evt.TS
	case progress.OutcomeSuccess:
		stats.Status = RunSuccess
		stats.Finished = evt.TS
	default:
		stats.Status = RunError
		stats.Finished = evt.TS
		stats.Note = evt.Note
	}
}

// Close implements the Sink interface; it performs no action.
func (r *Recorder) Close(context.Context) error {
	return nil
}

// Events returns a copy of the retained events in arrival order.
func (r *Recorder) Events() []progress.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]progress.Event(nil), r.events...)
}

// Count returns how many retained events match stage and outcome.
func (r *Recorder) Count(stage progress.Stage, outcome progress.Outcome) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, evt := range r.events {
		if evt.Stage == stage && evt.Outcome == outcome {
			n++
		}
	}
	return n
}

// ListRuns returns runs newest first.
func (r *Recorder) ListRuns(_ context.Context, limit, offset int) ([]RunStats, error) {
	r.mu.RLock()
	out := make([]RunStats, 0, len(r.runs))
	for _, stats := range r.runs {
		out = append(out, copyStats(stats))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Started.After(out[j].Started)
	})
	if offset >= len(out) {
		return []RunStats{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// GetRun returns the aggregate for id or ErrRunNotFound.
func (r *Recorder) GetRun(_ context.Context, id uuid.UUID) (RunStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats, ok := r.runs[id]
	if !ok {
		return RunStats{}, ErrRunNotFound
	}
	return copyStats(stats), nil
}

func copyStats(in *RunStats) RunStats {
	out := *in
	out.Counts = make(map[progress.Stage]map[progress.Outcome]int, len(in.Counts))
	for stage, byOutcome := range in.Counts {
		inner := make(map[progress.Outcome]int, len(byOutcome))
		for outcome, n := range byOutcome {
			inner[outcome] = n
		}
		out.Counts[stage] = inner
	}
	return out
}
