package models

import (
	"context"
	"fmt"
	"time"

	"github.com/trackwatch/trackwatch/internal/database/dbretry"
	"github.com/trackwatch/trackwatch/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// BaselineModel handles database operations for sentinel-rank baselines.
type BaselineModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewBaseline creates a new BaselineModel instance.
func NewBaseline(db *bun.DB, logger *zap.Logger) *BaselineModel {
	return &BaselineModel{
		db:     db,
		logger: logger.Named("db_baseline"),
	}
}

// GetByUIDs returns existing baselines for the given maps, keyed by map UID.
// Maps without a baseline are simply absent from the result.
func (m *BaselineModel) GetByUIDs(ctx context.Context, mapUIDs []string) (map[string]*types.MapPositionBaseline, error) {
	if len(mapUIDs) == 0 {
		return map[string]*types.MapPositionBaseline{}, nil
	}

	return dbretry.Operation(ctx, func(ctx context.Context) (map[string]*types.MapPositionBaseline, error) {
		var baselines []*types.MapPositionBaseline

		err := m.db.NewSelect().
			Model(&baselines).
			Where("map_uid IN (?)", bun.In(mapUIDs)).
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get baselines: %w", err)
		}

		result := make(map[string]*types.MapPositionBaseline, len(baselines))
		for _, b := range baselines {
			result[b.MapUID] = b
		}

		return result, nil
	})
}

// Upsert creates or overwrites one baseline.
func (m *BaselineModel) Upsert(ctx context.Context, baseline *types.MapPositionBaseline) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewInsert().
			Model(baseline).
			On("CONFLICT (map_uid) DO UPDATE").
			Set("position = EXCLUDED.position").
			Set("score = EXCLUDED.score").
			Set("last_checked_at = EXCLUDED.last_checked_at").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to upsert baseline: %w", err)
		}

		return nil
	})
}

// BulkUpsert creates or overwrites multiple baselines in one statement.
// Used when seeding a freshly promoted subscription.
func (m *BaselineModel) BulkUpsert(ctx context.Context, baselines []*types.MapPositionBaseline) error {
	if len(baselines) == 0 {
		return nil
	}

	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewInsert().
			Model(&baselines).
			On("CONFLICT (map_uid) DO UPDATE").
			Set("position = EXCLUDED.position").
			Set("score = EXCLUDED.score").
			Set("last_checked_at = EXCLUDED.last_checked_at").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to bulk upsert baselines: %w", err)
		}

		return nil
	})
}

// Touch advances only the last-checked time of an unchanged baseline.
func (m *BaselineModel) Touch(ctx context.Context, mapUID string, checkedAt time.Time) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewUpdate().
			Model((*types.MapPositionBaseline)(nil)).
			Set("last_checked_at = ?", checkedAt).
			Where("map_uid = ?", mapUID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to touch baseline: %w", err)
		}

		return nil
	})
}

// PruneUnreferenced deletes baselines for maps no alert subscription tracks
// anymore. Returns the number of rows removed.
func (m *BaselineModel) PruneUnreferenced(ctx context.Context) (int64, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (int64, error) {
		res, err := m.db.NewDelete().
			Model((*types.MapPositionBaseline)(nil)).
			Where("map_uid NOT IN (SELECT map_uid FROM alert_maps)").
			Exec(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to prune baselines: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to check affected rows: %w", err)
		}

		return affected, nil
	})
}
