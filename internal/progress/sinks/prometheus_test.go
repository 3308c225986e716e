package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/feedharvest/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart},
		{RunID: runID, TS: now.Add(time.Second), Stage: progress.StagePassDone, NewRecords: 7, Total: 7, Dur: 300 * time.Millisecond},
		{RunID: runID, TS: now.Add(2 * time.Second), Stage: progress.StagePassDone, NewRecords: 0, Total: 7, Dur: 100 * time.Millisecond},
		{RunID: runID, TS: now.Add(3 * time.Second), Stage: progress.StageCheckpoint, Total: 7, URI: "file:///tmp/x.json"},
		{RunID: runID, TS: now.Add(4 * time.Second), Stage: progress.StageRunDone, Total: 7, Dur: 4 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.passes))
	require.Equal(t, 7.0, testutil.ToFloat64(sink.newRecords))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.checkpoints))
	require.Equal(t, 7.0, testutil.ToFloat64(sink.harvestedSize))
	require.Equal(t, 1, testutil.CollectAndCount(sink.passDuration, "harvest_pass_duration_seconds"))
}

// TestPrometheusSinkRunningGauge ensures duplicate starts do not inflate the running gauge.
func TestPrometheusSinkRunningGauge(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	start := progress.Event{RunID: runID, TS: time.Now(), Stage: progress.StageRunStart}
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{start, start}))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsRunning))

	failed := progress.Event{RunID: runID, TS: time.Now(), Stage: progress.StageRunError, Note: "scroll failed"}
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{failed}))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
}

// TestPrometheusSinkDuplicateRegistration surfaces registry conflicts.
func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
