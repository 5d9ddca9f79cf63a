package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/rueidis"
	"github.com/trackwatch/trackwatch/internal/database/types"
	"go.uber.org/zap"
)

// snapshotTTL keeps a daily snapshot around long enough for the driver phase
// of the same day plus a grace period.
const snapshotTTL = 48 * time.Hour

// SnapshotCache stores the leaderboards fetched by accurate-mode runs so the
// driver engine can attach the same-day board without refetching it.
type SnapshotCache struct {
	client rueidis.Client
	logger *zap.Logger
}

// NewSnapshotCache creates a Redis-backed daily snapshot cache.
func NewSnapshotCache(client rueidis.Client, logger *zap.Logger) *SnapshotCache {
	return &SnapshotCache{
		client: client,
		logger: logger.Named("snapshot_cache"),
	}
}

func snapshotKey(mapUID, day string) string {
	return fmt.Sprintf("snapshot:%s:%s", mapUID, day)
}

// Store caches one map's leaderboard for the given day (YYYY-MM-DD).
func (c *SnapshotCache) Store(ctx context.Context, mapUID, day string, rows []types.LeaderboardRow) error {
	payload, err := sonic.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	cmd := c.client.B().Set().
		Key(snapshotKey(mapUID, day)).
		Value(string(payload)).
		Ex(snapshotTTL).
		Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}

	return nil
}

// Get returns the cached leaderboard for a map and day, or false when none
// was cached.
func (c *SnapshotCache) Get(ctx context.Context, mapUID, day string) ([]types.LeaderboardRow, bool, error) {
	resp := c.client.Do(ctx, c.client.B().Get().Key(snapshotKey(mapUID, day)).Build())
	if err := resp.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, false, nil
		}

		return nil, false, fmt.Errorf("failed to read snapshot: %w", err)
	}

	payload, err := resp.AsBytes()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read snapshot payload: %w", err)
	}

	var rows []types.LeaderboardRow
	if err := sonic.Unmarshal(payload, &rows); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return rows, true, nil
}
