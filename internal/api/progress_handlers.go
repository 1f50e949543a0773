package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/cls-news-crawler/internal/progress/sinks"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
	progressTimeout = 3 * time.Second
)

// RunReader exposes aggregated run progress.
type RunReader interface {
	ListRuns(ctx context.Context, limit, offset int) ([]sinks.RunStats, error)
	GetRun(ctx context.Context, id uuid.UUID) (sinks.RunStats, error)
}

// ProgressHandler exposes read-only run progress endpoints.
type ProgressHandler struct {
	runs    RunReader
	timeout time.Duration
	logger  *zap.Logger
}

// NewProgressHandler wires the reader and logger.
func NewProgressHandler(runs RunReader, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{
		runs:    runs,
		timeout: progressTimeout,
		logger:  logger,
	}
}

// ListRuns handles GET /v1/runs?status=&limit=&offset=. It returns
// {"runs": [...]} newest first, 400 for invalid filters, 503 when no recorder
// is wired, or 500 if the reader fails.
func (h *ProgressHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "progress recorder unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *sinks.RunStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		val, parseErr := parseStatus(raw)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		status = &val
	}

	runs, err := h.runs.ListRuns(ctx, limit, offset)
	if err != nil {
		h.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	out := make([]runDTO, 0, len(runs))
	for _, run := range runs {
		if status != nil && run.Status != *status {
			continue
		}
		out = append(out, toRunDTO(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

// GetRun handles GET /v1/runs/{run_id}: 200 with {"run": {...}}, 400 for a
// malformed id, 404 for an unknown run.
func (h *ProgressHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "progress recorder unavailable")
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.runs.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, sinks.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.Error("get run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": toRunDTO(run)})
}

func parseRunID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "run_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("run_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid run_id")
	}
	return id, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (sinks.RunStatus, error) {
	switch strings.ToLower(input) {
	case "running":
		return sinks.RunRunning, nil
	case "success":
		return sinks.RunSuccess, nil
	case "error", "failed", "failure":
		return sinks.RunError, nil
	default:
		return "", errors.New("invalid status")
	}
}

func toRunDTO(run sinks.RunStats) runDTO {
	dto := runDTO{
		RunID:     run.RunID.String(),
		StartedAt: run.Started,
		Status:    string(run.Status),
		Note:      run.Note,
		Counts:    make(map[string]map[string]int, len(run.Counts)),
	}
	if !run.Finished.IsZero() {
		finished := run.Finished
		dto.FinishedAt = &finished
	}
	for stage, outcomes := range run.Counts {
		byOutcome := make(map[string]int, len(outcomes))
		for outcome, n := range outcomes {
			byOutcome[string(outcome)] = n
		}
		dto.Counts[string(stage)] = byOutcome
	}
	return dto
}

type runDTO struct {
	RunID      string                    `json:"run_id"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt *time.Time                `json:"finished_at,omitempty"`
	Status     string                    `json:"status"`
	Note       string                    `json:"note,omitempty"`
	Counts     map[string]map[string]int `json:"counts"`
}
