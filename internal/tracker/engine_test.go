package tracker_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/rueidis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trackwatch/trackwatch/internal/api/exchange"
	"github.com/trackwatch/trackwatch/internal/api/live"
	"github.com/trackwatch/trackwatch/internal/database/types"
	"github.com/trackwatch/trackwatch/internal/setup/config"
	"github.com/trackwatch/trackwatch/internal/tracker"
	"go.uber.org/zap"
)

type memoryAlertStore struct {
	mu        sync.Mutex
	alertType map[int64]types.AlertType
	mapCount  map[int64]int
	alertMaps map[int64][]string
}

func newMemoryAlertStore() *memoryAlertStore {
	return &memoryAlertStore{
		alertType: make(map[int64]types.AlertType),
		mapCount:  make(map[int64]int),
		alertMaps: make(map[int64][]string),
	}
}

func (s *memoryAlertStore) SetType(_ context.Context, alertID int64, alertType types.AlertType, mapCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.alertType[alertID] = alertType
	s.mapCount[alertID] = mapCount

	return nil
}

func (s *memoryAlertStore) GetAlertMaps(_ context.Context, alertID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.alertMaps[alertID], nil
}

func (s *memoryAlertStore) ReplaceAlertMaps(_ context.Context, alertID int64, mapUIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.alertMaps[alertID] = mapUIDs

	return nil
}

type memoryBaselineStore struct {
	mu     sync.Mutex
	rows   map[string]*types.MapPositionBaseline
	alerts *memoryAlertStore
}

func newMemoryBaselineStore() *memoryBaselineStore {
	return &memoryBaselineStore{rows: make(map[string]*types.MapPositionBaseline)}
}

func (s *memoryBaselineStore) GetByUIDs(
	_ context.Context, mapUIDs []string,
) (map[string]*types.MapPositionBaseline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make(map[string]*types.MapPositionBaseline)

	for _, uid := range mapUIDs {
		if b, ok := s.rows[uid]; ok {
			clone := *b
			result[uid] = &clone
		}
	}

	return result, nil
}

func (s *memoryBaselineStore) Upsert(_ context.Context, baseline *types.MapPositionBaseline) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *baseline
	s.rows[baseline.MapUID] = &clone

	return nil
}

func (s *memoryBaselineStore) BulkUpsert(_ context.Context, baselines []*types.MapPositionBaseline) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range baselines {
		clone := *b
		s.rows[b.MapUID] = &clone
	}

	return nil
}

func (s *memoryBaselineStore) Touch(_ context.Context, mapUID string, checkedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.rows[mapUID]; ok {
		b.LastCheckedAt = checkedAt
	}

	return nil
}

// PruneUnreferenced mirrors the database model's delete of baselines no
// alert map references. Stores built without an alert store keep everything.
func (s *memoryBaselineStore) PruneUnreferenced(_ context.Context) (int64, error) {
	if s.alerts == nil {
		return 0, nil
	}

	referenced := make(map[string]struct{})

	s.alerts.mu.Lock()
	for _, uids := range s.alerts.alertMaps {
		for _, uid := range uids {
			referenced[uid] = struct{}{}
		}
	}
	s.alerts.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64

	for uid := range s.rows {
		if _, ok := referenced[uid]; !ok {
			delete(s.rows, uid)
			removed++
		}
	}

	return removed, nil
}

func (s *memoryBaselineStore) get(mapUID string) *types.MapPositionBaseline {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.rows[mapUID]; ok {
		clone := *b
		return &clone
	}

	return nil
}

func (s *memoryBaselineStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.rows)
}

type fakeCatalog struct {
	maps []exchange.CatalogMap
}

func (f *fakeCatalog) GetAuthorMaps(_ context.Context, _ string) ([]exchange.CatalogMap, error) {
	return f.maps, nil
}

type fakeLeaderboards struct {
	mu      sync.Mutex
	rows    map[string][]types.LeaderboardRow
	probes  map[string]live.Probe
	fetches int
}

func (f *fakeLeaderboards) GetTop(_ context.Context, mapUID string, _ int) ([]types.LeaderboardRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetches++

	return f.rows[mapUID], nil
}

func (f *fakeLeaderboards) ProbePositions(_ context.Context, mapUIDs []string) (map[string]live.Probe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := make(map[string]live.Probe)

	for _, uid := range mapUIDs {
		if p, ok := f.probes[uid]; ok {
			result[uid] = p
		}
	}

	return result, nil
}

func (f *fakeLeaderboards) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.fetches
}

func newSnapshotCache(t *testing.T) *tracker.SnapshotCache {
	t.Helper()

	mr := miniredis.RunT(t)

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{mr.Addr()},
		DisableCache: true,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return tracker.NewSnapshotCache(client, zap.NewNop())
}

func testConfig() *config.Tracker {
	return &config.Tracker{
		MapThreshold: 100,
		OverflowCap:  100,
		FetchDelay:   0,
		TopN:         100,
		WindowHours:  24,
	}
}

func makeCatalog(n int) []exchange.CatalogMap {
	maps := make([]exchange.CatalogMap, n)
	for i := range maps {
		maps[i] = exchange.CatalogMap{
			MapID:  int64(i + 1),
			MapUID: fmt.Sprintf("uid-%03d", i+1),
			Name:   fmt.Sprintf("Map %d", i+1),
		}
	}

	return maps
}

func makeProbes(maps []exchange.CatalogMap, position, score int) map[string]live.Probe {
	probes := make(map[string]live.Probe, len(maps))
	for _, m := range maps {
		probes[m.MapUID] = live.Probe{Position: position, Score: score}
	}

	return probes
}

func accurateAlert(filter types.RecordFilter) *types.AlertSubscription {
	return &types.AlertSubscription{
		AlertID:      1,
		Username:     "author1",
		Email:        "author1@example.com",
		AlertType:    types.AlertTypeAccurate,
		RecordFilter: filter,
	}
}

func inaccurateAlert() *types.AlertSubscription {
	return &types.AlertSubscription{
		AlertID:   1,
		Username:  "author1",
		Email:     "author1@example.com",
		AlertType: types.AlertTypeInaccurate,
	}
}

func TestAccurateModeFilters(t *testing.T) {
	t.Parallel()

	board := []types.LeaderboardRow{
		{AccountID: "a1", Login: "d1", Position: 1, Score: 40000, Timestamp: time.Now().Add(-time.Hour)},
		{AccountID: "a2", Login: "d2", Position: 3, Score: 41000, Timestamp: time.Now().Add(-time.Hour)},
		{AccountID: "a3", Login: "d3", Position: 7, Score: 43000, Timestamp: time.Now().Add(-time.Hour)},
		{AccountID: "a4", Login: "d4", Position: 2, Score: 40500, Timestamp: time.Now().Add(-72 * time.Hour)},
	}

	tests := []struct {
		name            string
		filter          types.RecordFilter
		expectedRecords int
	}{
		{name: "top5 keeps positions at most 5", filter: types.RecordFilterTop5, expectedRecords: 2},
		{name: "wr keeps only position 1", filter: types.RecordFilterWR, expectedRecords: 1},
		{name: "all keeps every windowed entry", filter: types.RecordFilterAll, expectedRecords: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			engine := tracker.NewEngine(
				newMemoryAlertStore(),
				newMemoryBaselineStore(),
				&fakeCatalog{maps: makeCatalog(1)},
				&fakeLeaderboards{rows: map[string][]types.LeaderboardRow{"uid-001": board}},
				newSnapshotCache(t),
				testConfig(),
				zap.NewNop(),
			)

			result, err := engine.Run(context.Background(), accurateAlert(tt.filter))
			require.NoError(t, err)
			assert.Equal(t, types.AlertTypeAccurate, result.Mode)
			assert.Len(t, result.Records, tt.expectedRecords)
		})
	}
}

func TestAccurateModeCachesSnapshots(t *testing.T) {
	t.Parallel()

	board := []types.LeaderboardRow{
		{AccountID: "a1", Login: "d1", Position: 1, Score: 40000, Timestamp: time.Now().Add(-time.Hour)},
	}

	snapshots := newSnapshotCache(t)

	engine := tracker.NewEngine(
		newMemoryAlertStore(),
		newMemoryBaselineStore(),
		&fakeCatalog{maps: makeCatalog(1)},
		&fakeLeaderboards{rows: map[string][]types.LeaderboardRow{"uid-001": board}},
		snapshots,
		testConfig(),
		zap.NewNop(),
	)

	_, err := engine.Run(context.Background(), accurateAlert(types.RecordFilterAll))
	require.NoError(t, err)

	day := time.Now().Format(time.DateOnly)

	cached, ok, err := snapshots.Get(context.Background(), "uid-001", day)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, cached, 1)
	assert.Equal(t, "a1", cached[0].AccountID)
}

func TestInaccurateMode(t *testing.T) {
	t.Parallel()

	t.Run("baseline 5 to 7 reports one changed map and updates the baseline", func(t *testing.T) {
		t.Parallel()

		catalog := makeCatalog(2)
		alerts := newMemoryAlertStore()
		alerts.alertMaps[1] = []string{"uid-001", "uid-002"}

		baselines := newMemoryBaselineStore()
		require.NoError(t, baselines.Upsert(context.Background(), &types.MapPositionBaseline{
			MapUID: "uid-001", Position: 5, Score: 60000,
		}))
		require.NoError(t, baselines.Upsert(context.Background(), &types.MapPositionBaseline{
			MapUID: "uid-002", Position: 9, Score: 61000,
		}))

		leaderboards := &fakeLeaderboards{
			probes: map[string]live.Probe{
				"uid-001": {Position: 7, Score: 60000},
				"uid-002": {Position: 9, Score: 61000},
			},
			rows: map[string][]types.LeaderboardRow{
				"uid-001": {{AccountID: "a1", Login: "d1", Position: 1, Score: 40000}},
			},
		}

		engine := tracker.NewEngine(
			alerts, baselines, &fakeCatalog{maps: catalog}, leaderboards,
			newSnapshotCache(t), testConfig(), zap.NewNop(),
		)

		result, err := engine.Run(context.Background(), inaccurateAlert())
		require.NoError(t, err)
		assert.Equal(t, 1, result.ChangedMaps)
		require.Len(t, result.Records, 1)
		assert.Contains(t, result.Records[0], "5 -> 7")
		assert.False(t, result.Overflow)

		updated := baselines.get("uid-001")
		require.NotNil(t, updated)
		assert.Equal(t, 7, updated.Position)
	})

	t.Run("consecutive probes with no change are idempotent", func(t *testing.T) {
		t.Parallel()

		catalog := makeCatalog(3)
		alerts := newMemoryAlertStore()
		alerts.alertMaps[1] = []string{"uid-001", "uid-002", "uid-003"}

		baselines := newMemoryBaselineStore()
		leaderboards := &fakeLeaderboards{probes: makeProbes(catalog, 4, 59000)}

		engine := tracker.NewEngine(
			alerts, baselines, &fakeCatalog{maps: catalog}, leaderboards,
			newSnapshotCache(t), testConfig(), zap.NewNop(),
		)

		// First run initializes every baseline silently
		first, err := engine.Run(context.Background(), inaccurateAlert())
		require.NoError(t, err)
		assert.Zero(t, first.ChangedMaps)
		assert.Empty(t, first.Records)
		assert.Equal(t, 3, baselines.count())

		before := baselines.get("uid-002")

		second, err := engine.Run(context.Background(), inaccurateAlert())
		require.NoError(t, err)
		assert.Zero(t, second.ChangedMaps)
		assert.Empty(t, second.Records)

		after := baselines.get("uid-002")
		assert.Equal(t, before.Position, after.Position)
		assert.Equal(t, before.Score, after.Score)
	})

	t.Run("overflow past the cap skips every leaderboard fetch", func(t *testing.T) {
		t.Parallel()

		catalog := makeCatalog(150)
		uids := make([]string, len(catalog))
		for i, m := range catalog {
			uids[i] = m.MapUID
		}

		alerts := newMemoryAlertStore()
		alerts.alertMaps[1] = uids

		// Every map has a baseline at position 3 and now probes at 8
		baselines := newMemoryBaselineStore()
		for _, uid := range uids {
			require.NoError(t, baselines.Upsert(context.Background(), &types.MapPositionBaseline{
				MapUID: uid, Position: 3, Score: 50000,
			}))
		}

		leaderboards := &fakeLeaderboards{probes: makeProbes(catalog, 8, 50000)}

		engine := tracker.NewEngine(
			alerts, baselines, &fakeCatalog{maps: catalog}, leaderboards,
			newSnapshotCache(t), testConfig(), zap.NewNop(),
		)

		result, err := engine.Run(context.Background(), inaccurateAlert())
		require.NoError(t, err)
		assert.True(t, result.Overflow)
		assert.Equal(t, 150, result.ChangedMaps)
		require.Len(t, result.Records, 1)
		assert.Contains(t, result.Records[0], "150 maps")
		assert.Zero(t, leaderboards.fetchCount())
	})

	t.Run("maps missing from the probe response carry no signal", func(t *testing.T) {
		t.Parallel()

		catalog := makeCatalog(2)
		alerts := newMemoryAlertStore()
		alerts.alertMaps[1] = []string{"uid-001", "uid-002"}

		baselines := newMemoryBaselineStore()
		require.NoError(t, baselines.Upsert(context.Background(), &types.MapPositionBaseline{
			MapUID: "uid-001", Position: 5, Score: 60000,
		}))

		// Only uid-001 responds, unchanged; uid-002 is absent
		leaderboards := &fakeLeaderboards{probes: map[string]live.Probe{
			"uid-001": {Position: 5, Score: 60000},
		}}

		engine := tracker.NewEngine(
			alerts, baselines, &fakeCatalog{maps: catalog}, leaderboards,
			newSnapshotCache(t), testConfig(), zap.NewNop(),
		)

		result, err := engine.Run(context.Background(), inaccurateAlert())
		require.NoError(t, err)
		assert.Zero(t, result.ChangedMaps)
		assert.Empty(t, result.Records)
		assert.Equal(t, 1, baselines.count())
	})
}

func TestPromotion(t *testing.T) {
	t.Parallel()

	catalog := makeCatalog(150)
	alerts := newMemoryAlertStore()
	baselines := newMemoryBaselineStore()
	leaderboards := &fakeLeaderboards{probes: makeProbes(catalog, 10, 70000)}

	engine := tracker.NewEngine(
		alerts, baselines, &fakeCatalog{maps: catalog}, leaderboards,
		newSnapshotCache(t), testConfig(), zap.NewNop(),
	)

	alert := accurateAlert(types.RecordFilterAll)

	result, err := engine.Run(context.Background(), alert)
	require.NoError(t, err)

	// The promoting run emits zero notices
	assert.True(t, result.Promoted)
	assert.Equal(t, types.AlertTypeInaccurate, result.Mode)
	assert.Empty(t, result.Records)
	assert.Zero(t, result.ChangedMaps)

	// Subscription flipped, map set populated, every baseline seeded
	assert.Equal(t, types.AlertTypeInaccurate, alerts.alertType[1])
	assert.Equal(t, 150, alerts.mapCount[1])
	assert.Len(t, alerts.alertMaps[1], 150)
	assert.Equal(t, 150, baselines.count())
	assert.Zero(t, leaderboards.fetchCount())

	// The next run sees no changes
	next, err := engine.Run(context.Background(), alert)
	require.NoError(t, err)
	assert.False(t, next.Promoted)
	assert.Zero(t, next.ChangedMaps)
	assert.Empty(t, next.Records)
}

func TestPromotionPrunesOrphanBaselines(t *testing.T) {
	t.Parallel()

	catalog := makeCatalog(150)
	alerts := newMemoryAlertStore()

	// Baselines left over from maps the author deleted from the catalog
	baselines := newMemoryBaselineStore()
	baselines.alerts = alerts
	require.NoError(t, baselines.Upsert(context.Background(), &types.MapPositionBaseline{
		MapUID: "gone-001", Position: 4, Score: 52000,
	}))
	require.NoError(t, baselines.Upsert(context.Background(), &types.MapPositionBaseline{
		MapUID: "gone-002", Position: 8, Score: 53000,
	}))

	leaderboards := &fakeLeaderboards{probes: makeProbes(catalog, 10, 70000)}

	engine := tracker.NewEngine(
		alerts, baselines, &fakeCatalog{maps: catalog}, leaderboards,
		newSnapshotCache(t), testConfig(), zap.NewNop(),
	)

	result, err := engine.Run(context.Background(), accurateAlert(types.RecordFilterAll))
	require.NoError(t, err)
	require.True(t, result.Promoted)

	// Only the 150 tracked maps keep a baseline
	assert.Equal(t, 150, baselines.count())
	assert.Nil(t, baselines.get("gone-001"))
	assert.Nil(t, baselines.get("gone-002"))
}
