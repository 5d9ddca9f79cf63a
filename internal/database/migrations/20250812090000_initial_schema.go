package migrations

import (
	"context"
	"fmt"

	"github.com/trackwatch/trackwatch/internal/database/types"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		models := []any{
			(*types.APIToken)(nil),
			(*types.CrawlJob)(nil),
			(*types.AlertSubscription)(nil),
			(*types.AlertMap)(nil),
			(*types.MapPositionBaseline)(nil),
			(*types.DriverNotification)(nil),
			(*types.DailyOutbox)(nil),
			(*types.NotificationHistory)(nil),
		}

		for _, model := range models {
			_, err := db.NewCreateTable().
				Model(model).
				IfNotExists().
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to create table %T: %w", model, err)
			}
		}

		// Indexes for the hot query paths
		indexes := []struct {
			name  string
			table string
			expr  string
		}{
			{"idx_jobs_status_created", "jobs", "(status, created_at)"},
			{"idx_alert_maps_map_uid", "alert_maps", "(map_uid)"},
			{"idx_driver_active_user", "driver_notifications", "(user_id, is_active)"},
			{"idx_outbox_date_status", "outbox", "(date, status)"},
			{"idx_history_user_created", "notification_history", "(username, created_at)"},
		}

		for _, idx := range indexes {
			_, err := db.NewRaw(fmt.Sprintf(
				"CREATE INDEX IF NOT EXISTS %s ON %s %s", idx.name, idx.table, idx.expr)).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to create index %s: %w", idx.name, err)
			}
		}

		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		tables := []string{
			"notification_history", "outbox", "driver_notifications",
			"map_positions", "alert_maps", "alerts", "jobs", "api_tokens",
		}

		for _, table := range tables {
			_, err := db.NewRaw(fmt.Sprintf("DROP TABLE IF EXISTS %s", table)).Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to drop table %s: %w", table, err)
			}
		}

		return nil
	})
}
