package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GMartin-Data/imdb-api/internal/crawler"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewJobStore(fixedClock{now: now})
	ctx := context.Background()
	job := crawler.Job{ID: "job-1", Kinds: []string{"movie"}, Limit: 5, Status: crawler.JobStatusQueued}

	require.NoError(t, store.CreateJob(ctx, job))
	require.Error(t, store.CreateJob(ctx, job))

	require.NoError(t, store.UpdateJob(ctx, job.ID, crawler.JobStatusRunning, "", crawler.Report{}))
	running, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusRunning, running.Status)
	require.NotNil(t, running.Started)
	require.Nil(t, running.Finished)

	report := crawler.Report{PagesFetched: 1, RecordsStored: 5}
	require.NoError(t, store.UpdateJob(ctx, job.ID, crawler.JobStatusSucceeded, "", report))
	final, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusSucceeded, final.Status)
	require.Equal(t, now, *final.Finished)
	require.Equal(t, report, final.Report)

	final.Kinds[0] = "mutated"
	again, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"movie"}, again.Kinds)
}

func TestJobStoreUnknownJob(t *testing.T) {
	t.Parallel()

	store := NewJobStore(nil)
	_, err := store.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, crawler.ErrJobNotFound)
	err = store.UpdateJob(context.Background(), "missing", crawler.JobStatusFailed, "x", crawler.Report{})
	require.ErrorIs(t, err, crawler.ErrJobNotFound)
}

func TestJobStoreFailedWithoutStart(t *testing.T) {
	t.Parallel()

	store := NewJobStore(nil)
	ctx := context.Background()
	require.NoError(t, store.CreateJob(ctx, crawler.Job{ID: "j"}))
	require.NoError(t, store.UpdateJob(ctx, "j", crawler.JobStatusFailed, "boom", crawler.Report{}))
	job, err := store.GetJob(ctx, "j")
	require.NoError(t, err)
	require.NotNil(t, job.Started)
	require.NotNil(t, job.Finished)
	require.Equal(t, "boom", job.ErrorText)
}
