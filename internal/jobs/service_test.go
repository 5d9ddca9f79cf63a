package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trackwatch/trackwatch/internal/api/exchange"
	"github.com/trackwatch/trackwatch/internal/database/types"
	"github.com/trackwatch/trackwatch/internal/jobs"
	"github.com/trackwatch/trackwatch/internal/setup/config"
	"go.uber.org/zap"
)

func newTestService(
	t *testing.T, store *memoryJobStore, leaderboards *fakeLeaderboards,
) *jobs.Service {
	t.Helper()

	runner := jobs.NewRunner(
		store,
		&fakeAlerts{},
		&fakeCatalog{maps: map[string][]exchange.CatalogMap{"author1": {
			{MapID: 1, MapUID: "uid-1", Name: "Map 1"},
		}}},
		leaderboards,
		&fakeNames{},
		&fakeSeeder{},
		trackerConfig(),
		zap.NewNop(),
	)

	limiter := jobs.NewLimiter(newTestRedis(t), time.Minute, 2, zap.NewNop())

	return jobs.NewService(store, limiter, runner, &config.Crawl{
		LimiterWindow:    60,
		LimiterMax:       2,
		JobRetentionDays: 30,
	}, zap.NewNop())
}

func TestServiceStartCrawl(t *testing.T) {
	t.Parallel()

	t.Run("rejects malformed input before any job exists", func(t *testing.T) {
		t.Parallel()

		store := newMemoryJobStore()
		service := newTestService(t, store, &fakeLeaderboards{})

		_, err := service.StartCrawl(context.Background(), "", "daily")
		require.ErrorIs(t, err, jobs.ErrUsernameRequired)

		_, err = service.StartCrawl(context.Background(), "author1", "sometimes")
		require.ErrorIs(t, err, jobs.ErrInvalidPeriod)

		assert.Empty(t, store.rows)
	})

	t.Run("returns a job id immediately and completes out of band", func(t *testing.T) {
		t.Parallel()

		store := newMemoryJobStore()
		service := newTestService(t, store, &fakeLeaderboards{})

		jobID, err := service.StartCrawl(context.Background(), "author1", "daily")
		require.NoError(t, err)
		require.NoError(t, uuid.Validate(jobID))

		require.Eventually(t, func() bool {
			job, err := service.GetJob(context.Background(), jobID)
			return err == nil && job.Status == types.JobStatusCompleted
		}, 5*time.Second, 10*time.Millisecond)
	})

	t.Run("third start inside the window is rate limited", func(t *testing.T) {
		t.Parallel()

		store := newMemoryJobStore()
		service := newTestService(t, store, &fakeLeaderboards{})

		for range 2 {
			_, err := service.StartCrawl(context.Background(), "author1", "daily")
			require.NoError(t, err)
		}

		_, err := service.StartCrawl(context.Background(), "author1", "daily")
		require.ErrorIs(t, err, jobs.ErrRateLimited)

		var rateErr *jobs.RateLimitError
		require.ErrorAs(t, err, &rateErr)
		assert.Positive(t, rateErr.RetryAfterSeconds)
	})

	t.Run("a panicking crawl ends as a failed job", func(t *testing.T) {
		t.Parallel()

		store := newMemoryJobStore()
		service := newTestService(t, store, &fakeLeaderboards{panics: true})

		jobID, err := service.StartCrawl(context.Background(), "author1", "daily")
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			job, err := service.GetJob(context.Background(), jobID)
			return err == nil && job.Status == types.JobStatusFailed
		}, 5*time.Second, 10*time.Millisecond)

		job, err := service.GetJob(context.Background(), jobID)
		require.NoError(t, err)
		assert.Contains(t, job.ErrorMessage, "leaderboard fetch blew up")
	})
}
