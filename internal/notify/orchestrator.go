package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/trackwatch/trackwatch/internal/database/types"
	"github.com/trackwatch/trackwatch/internal/driver"
	"github.com/trackwatch/trackwatch/internal/tracker"
	"go.uber.org/zap"
)

// AlertDirectory lists mapper subscriptions. Implemented by the database
// alert model.
type AlertDirectory interface {
	GetAll(ctx context.Context) ([]*types.AlertSubscription, error)
	GetByUsername(ctx context.Context, username string) (*types.AlertSubscription, error)
}

// TrackerEngine runs the mapper position-diff phase.
type TrackerEngine interface {
	Run(ctx context.Context, alert *types.AlertSubscription) (*tracker.Result, error)
}

// DriverEngine runs the driver standing phase.
type DriverEngine interface {
	Run(ctx context.Context, userID string) ([]driver.Notice, error)
	ActiveUsers(ctx context.Context) ([]driver.Subscriber, error)
}

// Outbox is the daily outbox persistence surface. Implemented by the database
// outbox model.
type Outbox interface {
	UpsertMapperContent(ctx context.Context, username, email, date, content string) error
	UpsertDriverContent(ctx context.Context, username, email, date, content string) error
}

// History appends audit entries. Implemented by the database history model.
type History interface {
	Log(ctx context.Context, entry *types.NotificationHistory) error
}

// Orchestrator drives the two notification phases across subscribers and
// aggregates their text into the daily outbox. Phase failures stay per-user.
type Orchestrator struct {
	alerts  AlertDirectory
	tracker TrackerEngine
	driver  DriverEngine
	outbox  Outbox
	history History
	logger  *zap.Logger
}

// NewOrchestrator creates a phase orchestrator.
func NewOrchestrator(
	alerts AlertDirectory,
	trackerEngine TrackerEngine,
	driverEngine DriverEngine,
	outbox Outbox,
	history History,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		alerts:  alerts,
		tracker: trackerEngine,
		driver:  driverEngine,
		outbox:  outbox,
		history: history,
		logger:  logger.Named("notify"),
	}
}

// RunPhase1 runs the mapper diff for one user and upserts the mapper field of
// today's outbox row. Returns the number of records found.
func (o *Orchestrator) RunPhase1(ctx context.Context, username, email string) (int, error) {
	alert, err := o.alerts.GetByUsername(ctx, username)
	if err != nil {
		return 0, fmt.Errorf("failed to get subscription: %w", err)
	}

	result, err := o.tracker.Run(ctx, alert)
	if err != nil {
		return 0, fmt.Errorf("mapper phase failed: %w", err)
	}

	content := strings.Join(result.Records, "\n")
	date := time.Now().Format(time.DateOnly)

	if err := o.outbox.UpsertMapperContent(ctx, username, email, date, content); err != nil {
		return 0, fmt.Errorf("failed to upsert mapper content: %w", err)
	}

	if !result.Overflow && !result.Promoted {
		for _, record := range result.Records {
			o.logHistory(ctx, &types.NotificationHistory{
				Username:  username,
				Kind:      types.HistoryKindNewRecord,
				Detail:    record,
				CreatedAt: time.Now(),
			})
		}
	}

	o.logger.Debug("Mapper phase finished",
		zap.String("username", username),
		zap.String("mode", string(result.Mode)),
		zap.Int("records", len(result.Records)),
		zap.Bool("promoted", result.Promoted),
		zap.Bool("overflow", result.Overflow))

	return len(result.Records), nil
}

// RunPhase2 runs the driver standing check for one user and upserts the
// driver field of today's outbox row. Returns the number of notices.
func (o *Orchestrator) RunPhase2(ctx context.Context, username, email string) (int, error) {
	notices, err := o.driver.Run(ctx, username)
	if err != nil {
		return 0, fmt.Errorf("driver phase failed: %w", err)
	}

	lines := make([]string, 0, len(notices))
	for _, notice := range notices {
		lines = append(lines, notice.String())

		o.logHistory(ctx, &types.NotificationHistory{
			Username:  username,
			Kind:      notice.Kind,
			MapUID:    notice.MapUID,
			Detail:    notice.String(),
			CreatedAt: time.Now(),
		})
	}

	date := time.Now().Format(time.DateOnly)
	if err := o.outbox.UpsertDriverContent(ctx, username, email, date, strings.Join(lines, "\n")); err != nil {
		return 0, fmt.Errorf("failed to upsert driver content: %w", err)
	}

	return len(notices), nil
}

// RunAll runs both phases for every subscriber. A failing phase is logged and
// recorded as a technical-error history entry, and the remaining users still
// run; the two phases of one user fail independently of each other.
func (o *Orchestrator) RunAll(ctx context.Context) error {
	alerts, err := o.alerts.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list subscribers: %w", err)
	}

	covered := make(map[string]struct{}, len(alerts))

	for _, alert := range alerts {
		covered[alert.Username] = struct{}{}

		if _, err := o.RunPhase1(ctx, alert.Username, alert.Email); err != nil {
			o.recordFailure(ctx, alert.Username, "phase1", err)
		}

		if _, err := o.RunPhase2(ctx, alert.Username, alert.Email); err != nil {
			o.recordFailure(ctx, alert.Username, "phase2", err)
		}
	}

	// Mapper subscriptions and driver rows key users by the same account
	// identifier. Users who only track standings have no alert row, so they
	// are swept separately for phase 2.
	driverUsers, err := o.driver.ActiveUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list driver subscribers: %w", err)
	}

	for _, user := range driverUsers {
		if _, ok := covered[user.UserID]; ok {
			continue
		}

		if _, err := o.RunPhase2(ctx, user.UserID, user.Email); err != nil {
			o.recordFailure(ctx, user.UserID, "phase2", err)
		}
	}

	return nil
}

func (o *Orchestrator) recordFailure(ctx context.Context, username, phase string, err error) {
	o.logger.Error("Notification phase failed",
		zap.String("username", username),
		zap.String("phase", phase),
		zap.Error(err))

	o.logHistory(ctx, &types.NotificationHistory{
		Username:  username,
		Kind:      types.HistoryKindTechnicalError,
		Detail:    fmt.Sprintf("%s: %v", phase, err),
		CreatedAt: time.Now(),
	})
}

func (o *Orchestrator) logHistory(ctx context.Context, entry *types.NotificationHistory) {
	if err := o.history.Log(ctx, entry); err != nil {
		o.logger.Warn("Failed to log notification history",
			zap.String("username", entry.Username),
			zap.Error(err))
	}
}
