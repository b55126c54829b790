package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/marketplace-scraper/internal/progress"
)

func item(id string, outcome progress.Outcome, ts time.Time) progress.Event {
	return progress.Event{JobID: "job-1", TS: ts, Stage: progress.StageItemDone, ItemID: id, Outcome: outcome}
}

func TestStatusSinkTracksJob(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	sink := NewStatusSink()
	ctx := context.Background()

	require.NoError(t, sink.Consume(ctx, []progress.Event{
		{JobID: "job-1", RunID: "run-1", TS: base, Stage: progress.StageJobStart, City: "austin", Note: "TX"},
		{JobID: "job-1", TS: base.Add(time.Minute), Stage: progress.StageLinksCollected, Count: 3},
		item("1", progress.OutcomeWritten, base.Add(2*time.Minute)),
		item("2", progress.OutcomeDuplicate, base.Add(3*time.Minute)),
		item("3", progress.OutcomeFailed, base.Add(4*time.Minute)),
		{JobID: "job-1", TS: base.Add(5 * time.Minute), Stage: progress.StageBreak},
	}))

	snap := sink.Snapshot()
	require.NotNil(t, snap.Current)
	assert.Equal(t, "austin", snap.Current.City)
	assert.Equal(t, "TX", snap.Current.State)
	assert.Equal(t, 3, snap.Current.Links)
	assert.Equal(t, 1, snap.Current.Written)
	assert.Equal(t, 1, snap.Current.Duplicates)
	assert.Equal(t, 1, snap.Current.Failed)
	assert.Equal(t, 1, snap.Current.Breaks)
	assert.Equal(t, 3, snap.ItemsProcessed)

	require.NoError(t, sink.Consume(ctx, []progress.Event{
		{JobID: "job-1", TS: base.Add(6 * time.Minute), Stage: progress.StageJobDone, Count: 3},
		{TS: base.Add(7 * time.Minute), Stage: progress.StageBrowserRestart},
		{JobID: "job-2", TS: base.Add(8 * time.Minute), Stage: progress.StageJobError, Note: "collect failed"},
	}))
	snap = sink.Snapshot()
	assert.Nil(t, snap.Current)
	require.NotNil(t, snap.Last)
	assert.Equal(t, "job-2", snap.Last.JobID)
	assert.Equal(t, "collect failed", snap.Last.Error)
	assert.Equal(t, 1, snap.JobsCompleted)
	assert.Equal(t, 1, snap.JobsFailed)
	assert.Equal(t, 1, snap.BrowserRestarts)
	assert.Equal(t, base.Add(8*time.Minute), snap.LastEventAt)
}

func TestStatusSinkSnapshotIsCopy(t *testing.T) {
	t.Parallel()

	sink := NewStatusSink()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "job-1", TS: time.Now(), Stage: progress.StageJobStart},
	}))
	snap := sink.Snapshot()
	snap.Current.Written = 99
	assert.Zero(t, sink.Snapshot().Current.Written)
}

func TestLogSink(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		item("1", progress.OutcomeWritten, time.Now()),
		item("2", progress.OutcomeFailed, time.Now()),
	}))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zap.DebugLevel, entries[0].Level)
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
	assert.Equal(t, "2", entries[1].ContextMap()["item_id"])
}
