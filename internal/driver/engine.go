package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/trackwatch/trackwatch/internal/database/types"
	"go.uber.org/zap"
)

// ErrNotTopFive is returned when a subscription is requested for a map the
// user does not currently hold a top-5 position on.
var ErrNotTopFive = errors.New("user does not hold a top-5 position on this map")

// subscriptionRankLimit is the rank a driver must hold to subscribe and keep
// an active subscription.
const subscriptionRankLimit = 5

// Store is the driver-subscription persistence surface. Implemented by the
// database driver model.
type Store interface {
	Create(ctx context.Context, sub *types.DriverNotification) error
	GetActive(ctx context.Context, userID string) ([]*types.DriverNotification, error)
	UpdateStanding(ctx context.Context, id int64, position, score int, checkedAt time.Time) error
	Deactivate(ctx context.Context, id int64, position, score int, checkedAt time.Time) error
	StampChecked(ctx context.Context, ids []int64, checkedAt time.Time) error
}

// Leaderboards fetches ranked entries per map. Implemented by the live client.
type Leaderboards interface {
	GetTop(ctx context.Context, mapUID string, length int) ([]types.LeaderboardRow, error)
}

// Snapshots reads same-day cached leaderboards. Implemented by the tracker
// snapshot cache.
type Snapshots interface {
	Get(ctx context.Context, mapUID, day string) ([]types.LeaderboardRow, bool, error)
}

// Notice is one detected standing change.
type Notice struct {
	Kind        types.HistoryKind
	Login       string
	MapUID      string
	MapName     string
	OldPosition int
	NewPosition int
	OldScore    int
	NewScore    int
	Snapshot    []types.LeaderboardRow
}

// String renders the notice as outbox text.
func (n Notice) String() string {
	switch n.Kind {
	case types.HistoryKindImproved:
		return fmt.Sprintf("%s: your standing improved, #%d -> #%d", n.MapName, n.OldPosition, n.NewPosition)
	case types.HistoryKindBeaten:
		return fmt.Sprintf("%s: you were beaten, #%d -> #%d", n.MapName, n.OldPosition, n.NewPosition)
	default:
		return fmt.Sprintf("%s: standing changed, #%d -> #%d", n.MapName, n.OldPosition, n.NewPosition)
	}
}

// Engine tracks driver standings across subscribed maps. Lower is better for
// both rank and score.
type Engine struct {
	store        Store
	leaderboards Leaderboards
	snapshots    Snapshots
	topN         int
	logger       *zap.Logger
}

// NewEngine creates a driver standing engine.
func NewEngine(store Store, leaderboards Leaderboards, snapshots Snapshots, topN int, logger *zap.Logger) *Engine {
	return &Engine{
		store:        store,
		leaderboards: leaderboards,
		snapshots:    snapshots,
		topN:         topN,
		logger:       logger.Named("driver"),
	}
}

// Subscribe creates a standing subscription after verifying the user holds a
// top-5 position right now, checked with a 5-row lookup.
func (e *Engine) Subscribe(ctx context.Context, userID, login, email, mapUID, mapName string) (*types.DriverNotification, error) {
	rows, err := e.leaderboards.GetTop(ctx, mapUID, subscriptionRankLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch top positions: %w", err)
	}

	entry, ok := locate(rows, userID, login)
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrNotTopFive, login, mapUID)
	}

	sub := &types.DriverNotification{
		UserID:          userID,
		Login:           login,
		Email:           email,
		MapUID:          mapUID,
		MapName:         mapName,
		CurrentPosition: entry.Position,
		CurrentScore:    entry.Score,
		Status:          types.DriverStatusActive,
		IsActive:        true,
		LastCheckedAt:   time.Now(),
	}

	if err := e.store.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	e.logger.Info("Created driver subscription",
		zap.String("login", login),
		zap.String("mapUID", mapUID),
		zap.Int("position", entry.Position))

	return sub, nil
}

// Subscriber identifies one user holding at least one active subscription.
type Subscriber struct {
	UserID string
	Email  string
}

// ActiveUsers returns the distinct users with an active subscription. Used by
// the phase orchestrator to cover users who track standings but have no
// mapper alert.
func (e *Engine) ActiveUsers(ctx context.Context) ([]Subscriber, error) {
	subs, err := e.store.GetActive(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to get active subscriptions: %w", err)
	}

	seen := make(map[string]struct{}, len(subs))
	users := make([]Subscriber, 0, len(subs))

	for _, sub := range subs {
		if _, ok := seen[sub.UserID]; ok {
			continue
		}

		seen[sub.UserID] = struct{}{}
		users = append(users, Subscriber{UserID: sub.UserID, Email: sub.Email})
	}

	return users, nil
}

// Run examines every active subscription for the user (all users when empty)
// and returns the detected changes. Distinct maps are fetched once no matter
// how many subscriptions share them, and every examined subscription's
// last-checked time advances even when nothing changed.
func (e *Engine) Run(ctx context.Context, userID string) ([]Notice, error) {
	subs, err := e.store.GetActive(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get active subscriptions: %w", err)
	}

	if len(subs) == 0 {
		return nil, nil
	}

	boards, err := e.fetchBoards(ctx, subs)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	day := now.Format(time.DateOnly)

	var notices []Notice

	examined := make([]int64, 0, len(subs))

	for _, sub := range subs {
		examined = append(examined, sub.ID)

		rows, ok := boards[sub.MapUID]
		if !ok {
			continue
		}

		entry, found := locate(rows, sub.UserID, sub.Login)
		if !found {
			// Absent from the board is no signal, not a worsening
			continue
		}

		switch {
		case improved(sub, entry):
			notice := Notice{
				Kind:        types.HistoryKindImproved,
				Login:       sub.Login,
				MapUID:      sub.MapUID,
				MapName:     sub.MapName,
				OldPosition: sub.CurrentPosition,
				NewPosition: entry.Position,
				OldScore:    sub.CurrentScore,
				NewScore:    entry.Score,
			}

			if snapshot, cached, err := e.snapshots.Get(ctx, sub.MapUID, day); err == nil && cached {
				notice.Snapshot = snapshot
			}

			notices = append(notices, notice)

			if err := e.store.UpdateStanding(ctx, sub.ID, entry.Position, entry.Score, now); err != nil {
				return nil, fmt.Errorf("failed to update standing: %w", err)
			}

		case entry.Position > sub.CurrentPosition:
			notices = append(notices, Notice{
				Kind:        types.HistoryKindBeaten,
				Login:       sub.Login,
				MapUID:      sub.MapUID,
				MapName:     sub.MapName,
				OldPosition: sub.CurrentPosition,
				NewPosition: entry.Position,
				OldScore:    sub.CurrentScore,
				NewScore:    entry.Score,
			})

			if entry.Position > subscriptionRankLimit {
				if err := e.store.Deactivate(ctx, sub.ID, entry.Position, entry.Score, now); err != nil {
					return nil, fmt.Errorf("failed to deactivate subscription: %w", err)
				}
			} else if err := e.store.UpdateStanding(ctx, sub.ID, entry.Position, entry.Score, now); err != nil {
				return nil, fmt.Errorf("failed to update standing: %w", err)
			}
		}
	}

	if err := e.store.StampChecked(ctx, examined, now); err != nil {
		return nil, fmt.Errorf("failed to stamp subscriptions: %w", err)
	}

	return notices, nil
}

// fetchBoards retrieves each distinct subscribed map's board exactly once.
// These are single ad hoc fetches with no retry budget; a failure fails the
// whole run.
func (e *Engine) fetchBoards(
	ctx context.Context, subs []*types.DriverNotification,
) (map[string][]types.LeaderboardRow, error) {
	boards := make(map[string][]types.LeaderboardRow)

	for _, sub := range subs {
		if _, done := boards[sub.MapUID]; done {
			continue
		}

		rows, err := e.leaderboards.GetTop(ctx, sub.MapUID, e.topN)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch leaderboard for map %s: %w", sub.MapUID, err)
		}

		boards[sub.MapUID] = rows
	}

	return boards, nil
}

// improved reports whether the live entry beats the stored standing: a lower
// rank, or the same rank with a faster time.
func improved(sub *types.DriverNotification, entry types.LeaderboardRow) bool {
	if entry.Position < sub.CurrentPosition {
		return true
	}

	return entry.Position == sub.CurrentPosition && entry.Score < sub.CurrentScore
}

// locate finds a user's entry by account id, falling back to login name.
func locate(rows []types.LeaderboardRow, userID, login string) (types.LeaderboardRow, bool) {
	for _, row := range rows {
		if row.AccountID == userID {
			return row, true
		}
	}

	for _, row := range rows {
		if row.Login == login {
			return row, true
		}
	}

	return types.LeaderboardRow{}, false
}
