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

// DriverModel handles database operations for driver standing subscriptions.
type DriverModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewDriver creates a new DriverModel instance.
func NewDriver(db *bun.DB, logger *zap.Logger) *DriverModel {
	return &DriverModel{
		db:     db,
		logger: logger.Named("db_driver"),
	}
}

// Create inserts a new driver subscription.
func (m *DriverModel) Create(ctx context.Context, sub *types.DriverNotification) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewInsert().
			Model(sub).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create driver subscription: %w", err)
		}

		return nil
	})
}

// GetActive returns all active subscriptions, optionally filtered to one user.
func (m *DriverModel) GetActive(ctx context.Context, userID string) ([]*types.DriverNotification, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.DriverNotification, error) {
		q := m.db.NewSelect().
			Model((*types.DriverNotification)(nil)).
			Where("is_active = TRUE").
			Order("id ASC")

		if userID != "" {
			q = q.Where("user_id = ?", userID)
		}

		var subs []*types.DriverNotification
		if err := q.Scan(ctx, &subs); err != nil {
			return nil, fmt.Errorf("failed to get active driver subscriptions: %w", err)
		}

		return subs, nil
	})
}

// UpdateStanding stores a new observed position/score and stamps the check time.
func (m *DriverModel) UpdateStanding(ctx context.Context, id int64, position, score int, checkedAt time.Time) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewUpdate().
			Model((*types.DriverNotification)(nil)).
			Set("current_position = ?", position).
			Set("current_score = ?", score).
			Set("last_checked_at = ?", checkedAt).
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to update driver standing: %w", err)
		}

		return nil
	})
}

// Deactivate flips a subscription inactive once its rank left the top 5.
func (m *DriverModel) Deactivate(ctx context.Context, id int64, position, score int, checkedAt time.Time) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewUpdate().
			Model((*types.DriverNotification)(nil)).
			Set("current_position = ?", position).
			Set("current_score = ?", score).
			Set("status = ?", types.DriverStatusInactive).
			Set("is_active = FALSE").
			Set("last_checked_at = ?", checkedAt).
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to deactivate driver subscription: %w", err)
		}

		return nil
	})
}

// StampChecked advances the last-checked time for every examined subscription,
// changed or not, so staleness cannot compound.
func (m *DriverModel) StampChecked(ctx context.Context, ids []int64, checkedAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewUpdate().
			Model((*types.DriverNotification)(nil)).
			Set("last_checked_at = ?", checkedAt).
			Where("id IN (?)", bun.In(ids)).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to stamp driver subscriptions: %w", err)
		}

		return nil
	})
}
