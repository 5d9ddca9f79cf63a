package jobs_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trackwatch/trackwatch/internal/api/exchange"
	"github.com/trackwatch/trackwatch/internal/database/models"
	"github.com/trackwatch/trackwatch/internal/database/types"
	"github.com/trackwatch/trackwatch/internal/jobs"
	"github.com/trackwatch/trackwatch/internal/setup/config"
	"go.uber.org/zap"
)

// memoryJobStore is an in-memory JobStore enforcing the same forward-only
// transition guard as the database model.
type memoryJobStore struct {
	mu   sync.Mutex
	rows map[string]*types.CrawlJob
}

func newMemoryJobStore() *memoryJobStore {
	return &memoryJobStore{rows: make(map[string]*types.CrawlJob)}
}

func (s *memoryJobStore) Create(_ context.Context, job *types.CrawlJob, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *job
	s.rows[job.JobID] = &clone

	return nil
}

func (s *memoryJobStore) Get(_ context.Context, jobID string) (*types.CrawlJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.rows[jobID]
	if !ok {
		return nil, models.ErrJobNotFound
	}

	clone := *job

	return &clone, nil
}

func (s *memoryJobStore) GetPending(_ context.Context, limit int) ([]*types.CrawlJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []*types.CrawlJob

	for _, job := range s.rows {
		if job.Status == types.JobStatusPending && len(pending) < limit {
			clone := *job
			pending = append(pending, &clone)
		}
	}

	return pending, nil
}

func (s *memoryJobStore) SetStatus(
	_ context.Context, jobID string, status types.JobStatus, result *types.CrawlResult, errorMessage string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.rows[jobID]
	if !ok {
		return models.ErrJobNotFound
	}

	if !job.Status.CanTransitionTo(status) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidJobTransition, job.Status, status)
	}

	job.Status = status
	job.Result = result
	job.ErrorMessage = errorMessage
	job.UpdatedAt = time.Now()

	return nil
}

type fakeAlerts struct {
	alert *types.AlertSubscription
}

func (f *fakeAlerts) GetByUsername(_ context.Context, _ string) (*types.AlertSubscription, error) {
	if f.alert == nil {
		return nil, models.ErrAlertNotFound
	}

	return f.alert, nil
}

type fakeCatalog struct {
	maps map[string][]exchange.CatalogMap
	err  error
}

func (f *fakeCatalog) GetAuthorMaps(_ context.Context, author string) ([]exchange.CatalogMap, error) {
	if f.err != nil {
		return nil, f.err
	}

	return f.maps[author], nil
}

type fakeLeaderboards struct {
	rows    map[string][]types.LeaderboardRow
	fetches int
	panics  bool
}

func (f *fakeLeaderboards) GetTop(_ context.Context, mapUID string, _ int) ([]types.LeaderboardRow, error) {
	if f.panics {
		panic("leaderboard fetch blew up")
	}

	f.fetches++

	return f.rows[mapUID], nil
}

type fakeNames struct {
	resolved []string
}

func (f *fakeNames) ResolveNames(_ context.Context, accountIDs []string) (map[string]string, error) {
	f.resolved = accountIDs

	names := make(map[string]string, len(accountIDs))
	for _, id := range accountIDs {
		names[id] = "name-" + id
	}

	return names, nil
}

type fakeSeeder struct {
	seededUIDs []string
}

func (f *fakeSeeder) SeedMissingBaselines(_ context.Context, mapUIDs []string) (int, error) {
	f.seededUIDs = mapUIDs

	return len(mapUIDs), nil
}

func trackerConfig() *config.Tracker {
	return &config.Tracker{
		MapThreshold: 100,
		OverflowCap:  100,
		FetchDelay:   0,
		TopN:         100,
		WindowHours:  24,
	}
}

func pendingJob(username, period string) *types.CrawlJob {
	now := time.Now()

	return &types.CrawlJob{
		JobID:     "job-" + username,
		Username:  username,
		Period:    period,
		Status:    types.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestRunnerProcess(t *testing.T) {
	t.Parallel()

	t.Run("completes with windowed records and resolved names", func(t *testing.T) {
		t.Parallel()

		store := newMemoryJobStore()
		job := pendingJob("author1", "daily")
		require.NoError(t, store.Create(context.Background(), job, 0))

		leaderboards := &fakeLeaderboards{rows: map[string][]types.LeaderboardRow{
			"uid-1": {
				{AccountID: "acc-1", Login: "d1", Position: 1, Score: 41000, Timestamp: time.Now().Add(-time.Hour)},
				{AccountID: "acc-2", Login: "d2", Position: 2, Score: 42000, Timestamp: time.Now().Add(-48 * time.Hour)},
			},
			"uid-2": {
				{AccountID: "acc-3", Login: "d3", Position: 1, Score: 39000, Timestamp: time.Now().Add(-2 * time.Hour)},
			},
		}}
		names := &fakeNames{}

		runner := jobs.NewRunner(
			store,
			&fakeAlerts{},
			&fakeCatalog{maps: map[string][]exchange.CatalogMap{"author1": {
				{MapID: 1, MapUID: "uid-1", Name: "Map 1"},
				{MapID: 2, MapUID: "uid-2", Name: "Map 2"},
			}}},
			leaderboards,
			names,
			&fakeSeeder{},
			trackerConfig(),
			zap.NewNop(),
		)

		require.NoError(t, runner.Process(context.Background(), job))

		stored, err := store.Get(context.Background(), job.JobID)
		require.NoError(t, err)
		assert.Equal(t, types.JobStatusCompleted, stored.Status)
		require.NotNil(t, stored.Result)
		require.Len(t, stored.Result.Maps, 2)

		// The 48h-old entry falls outside the daily window
		require.Len(t, stored.Result.Maps[0].Records, 1)
		assert.Equal(t, "acc-1", stored.Result.Maps[0].Records[0].AccountID)

		assert.Len(t, stored.Result.Names, 2)
		assert.Equal(t, "name-acc-1", stored.Result.Names["acc-1"])
		assert.NotContains(t, stored.Result.Names, "acc-2")
	})

	t.Run("failure is captured on the job record", func(t *testing.T) {
		t.Parallel()

		store := newMemoryJobStore()
		job := pendingJob("author1", "daily")
		require.NoError(t, store.Create(context.Background(), job, 0))

		runner := jobs.NewRunner(
			store,
			&fakeAlerts{},
			&fakeCatalog{err: errors.New("catalog unreachable")},
			&fakeLeaderboards{},
			&fakeNames{},
			&fakeSeeder{},
			trackerConfig(),
			zap.NewNop(),
		)

		require.NoError(t, runner.Process(context.Background(), job))

		stored, err := store.Get(context.Background(), job.JobID)
		require.NoError(t, err)
		assert.Equal(t, types.JobStatusFailed, stored.Status)
		assert.Contains(t, stored.ErrorMessage, "catalog unreachable")
		assert.Nil(t, stored.Result)
	})

	t.Run("seeds baselines for inaccurate-mode subscribers", func(t *testing.T) {
		t.Parallel()

		store := newMemoryJobStore()
		job := pendingJob("author1", "daily")
		require.NoError(t, store.Create(context.Background(), job, 0))

		seeder := &fakeSeeder{}

		runner := jobs.NewRunner(
			store,
			&fakeAlerts{alert: &types.AlertSubscription{
				AlertID:   1,
				Username:  "author1",
				AlertType: types.AlertTypeInaccurate,
			}},
			&fakeCatalog{maps: map[string][]exchange.CatalogMap{"author1": {
				{MapID: 1, MapUID: "uid-1", Name: "Map 1"},
				{MapID: 2, MapUID: "uid-2", Name: "Map 2"},
			}}},
			&fakeLeaderboards{},
			&fakeNames{},
			seeder,
			trackerConfig(),
			zap.NewNop(),
		)

		require.NoError(t, runner.Process(context.Background(), job))
		assert.Equal(t, []string{"uid-1", "uid-2"}, seeder.seededUIDs)
	})

	t.Run("accurate-mode subscribers under the threshold skip seeding", func(t *testing.T) {
		t.Parallel()

		store := newMemoryJobStore()
		job := pendingJob("author1", "daily")
		require.NoError(t, store.Create(context.Background(), job, 0))

		seeder := &fakeSeeder{}

		runner := jobs.NewRunner(
			store,
			&fakeAlerts{alert: &types.AlertSubscription{
				AlertID:   1,
				Username:  "author1",
				AlertType: types.AlertTypeAccurate,
			}},
			&fakeCatalog{maps: map[string][]exchange.CatalogMap{"author1": {
				{MapID: 1, MapUID: "uid-1", Name: "Map 1"},
			}}},
			&fakeLeaderboards{},
			&fakeNames{},
			seeder,
			trackerConfig(),
			zap.NewNop(),
		)

		require.NoError(t, runner.Process(context.Background(), job))
		assert.Empty(t, seeder.seededUIDs)
	})
}

func TestRunnerDrain(t *testing.T) {
	t.Parallel()

	store := newMemoryJobStore()
	good := pendingJob("author1", "daily")
	bad := pendingJob("author2", "daily")
	require.NoError(t, store.Create(context.Background(), good, 0))
	require.NoError(t, store.Create(context.Background(), bad, 0))

	// author2 has no catalog entry, which succeeds with zero maps; make the
	// batch isolation visible through a catalog that fails only for author2.
	catalog := &fakeCatalog{maps: map[string][]exchange.CatalogMap{
		"author1": {{MapID: 1, MapUID: "uid-1", Name: "Map 1"}},
	}}

	failing := &failingCatalog{inner: catalog, failFor: "author2"}

	runner := jobs.NewRunner(
		store,
		&fakeAlerts{},
		failing,
		&fakeLeaderboards{},
		&fakeNames{},
		&fakeSeeder{},
		trackerConfig(),
		zap.NewNop(),
	)

	processed, err := runner.Drain(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)

	goodJob, err := store.Get(context.Background(), good.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCompleted, goodJob.Status)

	badJob, err := store.Get(context.Background(), bad.JobID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFailed, badJob.Status)
	assert.Contains(t, badJob.ErrorMessage, "no such author")
}

type failingCatalog struct {
	inner   jobs.Catalog
	failFor string
}

func (f *failingCatalog) GetAuthorMaps(ctx context.Context, author string) ([]exchange.CatalogMap, error) {
	if author == f.failFor {
		return nil, errors.New("no such author")
	}

	return f.inner.GetAuthorMaps(ctx, author)
}

func TestParsePeriod(t *testing.T) {
	t.Parallel()

	tests := []struct {
		period   string
		expected time.Duration
		wantErr  bool
	}{
		{period: "daily", expected: 24 * time.Hour},
		{period: "weekly", expected: 7 * 24 * time.Hour},
		{period: "monthly", expected: 30 * 24 * time.Hour},
		{period: "36h", expected: 36 * time.Hour},
		{period: "", wantErr: true},
		{period: "yearly", wantErr: true},
		{period: "-24h", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("period %q", tt.period), func(t *testing.T) {
			t.Parallel()

			window, err := jobs.ParsePeriod(tt.period)
			if tt.wantErr {
				require.ErrorIs(t, err, jobs.ErrInvalidPeriod)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, window)
		})
	}
}
