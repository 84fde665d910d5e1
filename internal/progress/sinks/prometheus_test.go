package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mixtape-indexer/internal/progress"
)

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	tok := func(stage progress.Stage, id int64, attempts int) progress.Event {
		return progress.Event{RunID: runID, TS: now, Stage: stage, Chain: "ethereum", Contract: "0xabc", TokenID: id, Attempts: attempts}
	}
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart},
		tok(progress.StageTokenDone, 1, 1),
		tok(progress.StageTokenDone, 2, 3),
		tok(progress.StageTokenAbandoned, 3, 15),
		tok(progress.StageTokenAbsent, 4, 1),
		tok(progress.StageContractDone, 0, 0),
		{RunID: runID, TS: now, Stage: progress.StageDirectoryDone, Chain: "ethereum", Count: 2},
		{RunID: runID, TS: now, Stage: progress.StagePublishError, Chain: "ethereum"},
		{RunID: runID, TS: now, Stage: progress.StageChainDone, Chain: "ethereum"},
		{RunID: runID, TS: now, Stage: progress.StageRunDone, Dur: time.Minute},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 2.0, testutil.ToFloat64(sink.tokens.WithLabelValues("ethereum", "stored")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.tokens.WithLabelValues("ethereum", "abandoned")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.tokens.WithLabelValues("ethereum", "absent")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.contracts.WithLabelValues("ethereum", "indexed")))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.directoryAdded.WithLabelValues("ethereum")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.publishes.WithLabelValues("ethereum", "error")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.chainRuns.WithLabelValues("ethereum", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted))
	require.Equal(t, float64(now.Unix()), testutil.ToFloat64(sink.lastRunFinished))
	require.Equal(t, 1, testutil.CollectAndCount(sink.tokenAttempts, "indexer_token_attempts"))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
