package models

import (
	"context"
	"fmt"

	"github.com/trackwatch/trackwatch/internal/database/dbretry"
	"github.com/trackwatch/trackwatch/internal/database/types"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// HistoryModel handles database operations for the notification audit trail.
type HistoryModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewHistory creates a new HistoryModel instance.
func NewHistory(db *bun.DB, logger *zap.Logger) *HistoryModel {
	return &HistoryModel{
		db:     db,
		logger: logger.Named("db_history"),
	}
}

// Log appends one history entry.
func (m *HistoryModel) Log(ctx context.Context, entry *types.NotificationHistory) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewInsert().
			Model(entry).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to log notification history: %w", err)
		}

		return nil
	})
}

// GetRecent returns the newest entries for a user, limited. Backs the
// history command.
func (m *HistoryModel) GetRecent(ctx context.Context, username string, limit int) ([]*types.NotificationHistory, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.NotificationHistory, error) {
		var entries []*types.NotificationHistory

		err := m.db.NewSelect().
			Model(&entries).
			Where("username = ?", username).
			Order("created_at DESC").
			Limit(limit).
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get notification history: %w", err)
		}

		return entries, nil
	})
}
