package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/cls-news-crawler/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms follow the events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRun, Outcome: progress.OutcomeStart},
		{RunID: runID, TS: now, Stage: progress.StageFetch, Outcome: progress.OutcomeRetry, Attempt: 1},
		{RunID: runID, TS: now, Stage: progress.StageFetch, Outcome: progress.OutcomeSuccess, Dur: 2 * time.Second},
		{RunID: runID, TS: now, Stage: progress.StagePublish, Outcome: progress.OutcomeSuccess},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.stageEvents.WithLabelValues("fetch", "retry")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.stageEvents.WithLabelValues("fetch", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.stageEvents.WithLabelValues("publish", "success")))
	require.Equal(t, 1, testutil.CollectAndCount(sink.stageDuration, "clscrawler_stage_duration_seconds"))

	done := []progress.Event{
		{RunID: runID, TS: now.Add(time.Minute), Stage: progress.StageRun, Outcome: progress.OutcomeSuccess, Dur: time.Minute},
	}
	require.NoError(t, sink.Consume(context.Background(), done))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
}

func TestPrometheusSinkRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
