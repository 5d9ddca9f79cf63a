package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/trackwatch/trackwatch/internal/database/dbretry"
	"github.com/trackwatch/trackwatch/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// ErrAlertNotFound is returned when no subscription exists for a username.
var ErrAlertNotFound = errors.New("alert subscription not found")

// AlertModel handles database operations for mapper alert subscriptions and
// their tracked map sets.
type AlertModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewAlert creates a new AlertModel instance.
func NewAlert(db *bun.DB, logger *zap.Logger) *AlertModel {
	return &AlertModel{
		db:     db,
		logger: logger.Named("db_alert"),
	}
}

// Create inserts a new alert subscription.
func (m *AlertModel) Create(ctx context.Context, alert *types.AlertSubscription) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewInsert().
			Model(alert).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create alert: %w", err)
		}

		return nil
	})
}

// GetByUsername returns the subscription for a username or ErrAlertNotFound.
func (m *AlertModel) GetByUsername(ctx context.Context, username string) (*types.AlertSubscription, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.AlertSubscription, error) {
		var alert types.AlertSubscription

		err := m.db.NewSelect().
			Model(&alert).
			Where("username = ?", username).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, ErrAlertNotFound
			}

			return nil, fmt.Errorf("failed to get alert: %w", err)
		}

		return &alert, nil
	})
}

// GetAll returns every alert subscription.
func (m *AlertModel) GetAll(ctx context.Context) ([]*types.AlertSubscription, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.AlertSubscription, error) {
		var alerts []*types.AlertSubscription

		err := m.db.NewSelect().
			Model(&alerts).
			Order("alert_id ASC").
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get alerts: %w", err)
		}

		return alerts, nil
	})
}

// SetType updates a subscription's alert type and map count. Used by
// auto-promotion and admin override.
func (m *AlertModel) SetType(
	ctx context.Context, alertID int64, alertType types.AlertType, mapCount int,
) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewUpdate().
			Model((*types.AlertSubscription)(nil)).
			Set("alert_type = ?", alertType).
			Set("map_count = ?", mapCount).
			Set("updated_at = ?", time.Now()).
			Where("alert_id = ?", alertID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to set alert type: %w", err)
		}

		return nil
	})
}

// GetAlertMaps returns the tracked map UIDs for a subscription.
func (m *AlertModel) GetAlertMaps(ctx context.Context, alertID int64) ([]string, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]string, error) {
		var uids []string

		err := m.db.NewSelect().
			Model((*types.AlertMap)(nil)).
			Column("map_uid").
			Where("alert_id = ?", alertID).
			Order("map_uid ASC").
			Scan(ctx, &uids)
		if err != nil {
			return nil, fmt.Errorf("failed to get alert maps: %w", err)
		}

		return uids, nil
	})
}

// ReplaceAlertMaps replaces a subscription's tracked map set in one
// transaction so a failed refresh cannot leave a partial set behind.
func (m *AlertModel) ReplaceAlertMaps(ctx context.Context, alertID int64, mapUIDs []string) error {
	rows := make([]*types.AlertMap, 0, len(mapUIDs))
	for _, uid := range mapUIDs {
		rows = append(rows, &types.AlertMap{AlertID: alertID, MapUID: uid})
	}

	return dbretry.Transaction(ctx, m.db, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewDelete().
			Model((*types.AlertMap)(nil)).
			Where("alert_id = ?", alertID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to clear alert maps: %w", err)
		}

		if len(rows) == 0 {
			return nil
		}

		_, err = tx.NewInsert().
			Model(&rows).
			On("CONFLICT (alert_id, map_uid) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to insert alert maps: %w", err)
		}

		return nil
	})
}
