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

// OutboxModel handles database operations for daily outbox rows. Each phase
// upserts only its own content column so concurrent phase runs cannot clear
// each other's text.
type OutboxModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewOutbox creates a new OutboxModel instance.
func NewOutbox(db *bun.DB, logger *zap.Logger) *OutboxModel {
	return &OutboxModel{
		db:     db,
		logger: logger.Named("db_outbox"),
	}
}

// UpsertMapperContent writes the mapper phase's text for a user/date,
// preserving any driver content already present.
func (m *OutboxModel) UpsertMapperContent(ctx context.Context, username, email, date, content string) error {
	return m.upsertContent(ctx, username, email, date, "mapper_content", content)
}

// UpsertDriverContent writes the driver phase's text for a user/date,
// preserving any mapper content already present.
func (m *OutboxModel) UpsertDriverContent(ctx context.Context, username, email, date, content string) error {
	return m.upsertContent(ctx, username, email, date, "driver_content", content)
}

func (m *OutboxModel) upsertContent(ctx context.Context, username, email, date, column, content string) error {
	now := time.Now()

	row := &types.DailyOutbox{
		Username:  username,
		Email:     email,
		Date:      date,
		Status:    types.OutboxStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	switch column {
	case "mapper_content":
		row.MapperContent = content
	case "driver_content":
		row.DriverContent = content
	}

	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewInsert().
			Model(row).
			On("CONFLICT (username, date) DO UPDATE").
			Set(fmt.Sprintf("%s = EXCLUDED.%s", column, column)).
			Set("email = EXCLUDED.email").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to upsert outbox content: %w", err)
		}

		return nil
	})
}

// GetPendingForDate returns all unsent rows for a date.
func (m *OutboxModel) GetPendingForDate(ctx context.Context, date string) ([]*types.DailyOutbox, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.DailyOutbox, error) {
		var rows []*types.DailyOutbox

		err := m.db.NewSelect().
			Model(&rows).
			Where("date = ?", date).
			Where("status = ?", types.OutboxStatusPending).
			Order("username ASC").
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get pending outbox rows: %w", err)
		}

		return rows, nil
	})
}

// MarkSent flips a row to sent after successful delivery.
func (m *OutboxModel) MarkSent(ctx context.Context, id int64) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewUpdate().
			Model((*types.DailyOutbox)(nil)).
			Set("status = ?", types.OutboxStatusSent).
			Set("updated_at = ?", time.Now()).
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to mark outbox row sent: %w", err)
		}

		return nil
	})
}
