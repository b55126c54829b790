package taskgen

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/marketplace-scraper/internal/marketplace"
)

func TestCSVSourceCycles(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "input.csv", "a@x,pw,austin,25,,true\na@x,pw,dallas,0,,true\n")
	src := NewCSVSource(path, nil)
	ctx := context.Background()

	job, ok, err := src.NextJob(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "csv-1-1", job.JobID)
	assert.Equal(t, "austin", job.City)
	assert.Equal(t, 25, job.Threshold)

	job, ok, err = src.NextJob(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "dallas", job.City)

	// End of cycle idles once.
	_, ok, err = src.NextJob(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	job, ok, err = src.NextJob(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "csv-2-1", job.JobID)
}

func TestCSVSourceReports(t *testing.T) {
	t.Parallel()

	src := NewCSVSource(writeFile(t, "input.csv", "a@x,pw,austin,25,,true\n"), nil)
	ctx := context.Background()
	job := marketplace.Job{JobID: "csv-1-1", City: "austin"}

	require.NoError(t, src.ReportInProgress(ctx, job))
	require.NoError(t, src.ReportCompleted(ctx, job, marketplace.JobResult{ListingsFound: 3, NewListingsAdded: 2, Failed: 1}))
	got, ok := src.Result("csv-1-1")
	require.True(t, ok)
	assert.Equal(t, 2, got.NewListingsAdded)

	require.NoError(t, src.ReportFailed(ctx, job, "navigate failed"))
	msg, ok := src.Failure("csv-1-1")
	require.True(t, ok)
	assert.Equal(t, "navigate failed", msg)
	require.Error(t, src.ReportFailed(ctx, marketplace.Job{}, "x"))
}

func TestCSVSourceEmptyAndMissingFile(t *testing.T) {
	t.Parallel()

	_, ok, err := NewCSVSource(writeFile(t, "input.csv", "bad\n"), nil).NextJob(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = NewCSVSource("/nonexistent/input.csv", nil).NextJob(context.Background())
	require.Error(t, err)
}
