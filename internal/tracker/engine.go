package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/trackwatch/trackwatch/internal/api/exchange"
	"github.com/trackwatch/trackwatch/internal/api/live"
	"github.com/trackwatch/trackwatch/internal/database/types"
	"github.com/trackwatch/trackwatch/internal/setup/config"
	"go.uber.org/zap"
)

// AlertStore is the subscription persistence surface the engine needs.
// Implemented by the database alert model.
type AlertStore interface {
	SetType(ctx context.Context, alertID int64, alertType types.AlertType, mapCount int) error
	GetAlertMaps(ctx context.Context, alertID int64) ([]string, error)
	ReplaceAlertMaps(ctx context.Context, alertID int64, mapUIDs []string) error
}

// BaselineStore is the sentinel-baseline persistence surface. Implemented by
// the database baseline model.
type BaselineStore interface {
	GetByUIDs(ctx context.Context, mapUIDs []string) (map[string]*types.MapPositionBaseline, error)
	Upsert(ctx context.Context, baseline *types.MapPositionBaseline) error
	BulkUpsert(ctx context.Context, baselines []*types.MapPositionBaseline) error
	Touch(ctx context.Context, mapUID string, checkedAt time.Time) error
	PruneUnreferenced(ctx context.Context) (int64, error)
}

// Catalog walks an author's map catalog. Implemented by the exchange client.
type Catalog interface {
	GetAuthorMaps(ctx context.Context, author string) ([]exchange.CatalogMap, error)
}

// Leaderboards fetches leaderboards and sentinel probes. Implemented by the
// live client.
type Leaderboards interface {
	GetTop(ctx context.Context, mapUID string, length int) ([]types.LeaderboardRow, error)
	ProbePositions(ctx context.Context, mapUIDs []string) (map[string]live.Probe, error)
}

// Result is the outcome of one mapper-alert run.
type Result struct {
	Mode        types.AlertType
	Records     []string
	ChangedMaps int
	Overflow    bool
	Promoted    bool
}

// Engine runs the position-diff phase for mapper subscriptions. Accurate mode
// diffs full leaderboard contents; inaccurate mode probes only the rank of
// the sentinel score per map, trading identity and time detail for one
// request per run.
type Engine struct {
	alerts       AlertStore
	baselines    BaselineStore
	catalog      Catalog
	leaderboards Leaderboards
	snapshots    *SnapshotCache
	cfg          *config.Tracker
	logger       *zap.Logger
}

// NewEngine creates a position-diff engine.
func NewEngine(
	alerts AlertStore,
	baselines BaselineStore,
	catalog Catalog,
	leaderboards Leaderboards,
	snapshots *SnapshotCache,
	cfg *config.Tracker,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		alerts:       alerts,
		baselines:    baselines,
		catalog:      catalog,
		leaderboards: leaderboards,
		snapshots:    snapshots,
		cfg:          cfg,
		logger:       logger.Named("tracker"),
	}
}

// Run executes one diff run for the subscription. A subscription whose map
// count has outgrown the accurate-mode threshold is promoted to inaccurate
// mode first; the promoting run seeds every baseline and reports no changes.
func (e *Engine) Run(ctx context.Context, alert *types.AlertSubscription) (*Result, error) {
	catalogMaps, err := e.catalog.GetAuthorMaps(ctx, alert.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch author maps: %w", err)
	}

	if alert.AlertType == types.AlertTypeAccurate && len(catalogMaps) > e.cfg.MapThreshold {
		return e.promote(ctx, alert, catalogMaps)
	}

	if alert.AlertType == types.AlertTypeInaccurate {
		return e.runInaccurate(ctx, alert, catalogMaps)
	}

	return e.runAccurate(ctx, alert, catalogMaps)
}

// promote flips the subscription to inaccurate mode, replaces its tracked map
// set and seeds a baseline per resolvable map. The promotion itself never
// reports changes, so crossing the threshold cannot flood the user with
// false positives.
func (e *Engine) promote(
	ctx context.Context, alert *types.AlertSubscription, catalogMaps []exchange.CatalogMap,
) (*Result, error) {
	uids := mapUIDs(catalogMaps)

	if err := e.alerts.SetType(ctx, alert.AlertID, types.AlertTypeInaccurate, len(catalogMaps)); err != nil {
		return nil, fmt.Errorf("failed to promote subscription: %w", err)
	}

	alert.AlertType = types.AlertTypeInaccurate
	alert.MapCount = len(catalogMaps)

	if err := e.alerts.ReplaceAlertMaps(ctx, alert.AlertID, uids); err != nil {
		return nil, fmt.Errorf("failed to replace tracked maps: %w", err)
	}

	seeded, err := e.SeedMissingBaselines(ctx, uids)
	if err != nil {
		return nil, err
	}

	// Replacing the tracked set can leave baselines no alert references
	pruned, err := e.baselines.PruneUnreferenced(ctx)
	if err != nil {
		e.logger.Warn("Failed to prune orphan baselines", zap.Error(err))
	}

	e.logger.Info("Promoted subscription to inaccurate mode",
		zap.String("username", alert.Username),
		zap.Int("mapCount", len(catalogMaps)),
		zap.Int("baselinesSeeded", seeded),
		zap.Int64("baselinesPruned", pruned))

	return &Result{Mode: types.AlertTypeInaccurate, Promoted: true}, nil
}

// runAccurate fetches the full leaderboard per map, keeps entries inside the
// trailing window, applies the subscription filter and caches each board as
// the day's snapshot.
func (e *Engine) runAccurate(
	ctx context.Context, alert *types.AlertSubscription, catalogMaps []exchange.CatalogMap,
) (*Result, error) {
	now := time.Now()
	cutoff := now.Add(-time.Duration(e.cfg.WindowHours) * time.Hour)
	day := now.Format(time.DateOnly)

	result := &Result{Mode: types.AlertTypeAccurate}

	for i, m := range catalogMaps {
		rows, err := e.leaderboards.GetTop(ctx, m.MapUID, e.cfg.TopN)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch leaderboard for map %s: %w", m.MapUID, err)
		}

		if err := e.snapshots.Store(ctx, m.MapUID, day, rows); err != nil {
			// Snapshot reuse is an optimization for the driver phase, not a
			// correctness requirement
			e.logger.Warn("Failed to cache leaderboard snapshot",
				zap.String("mapUID", m.MapUID),
				zap.Error(err))
		}

		mapChanged := false

		for _, row := range rows {
			if row.Timestamp.Before(cutoff) {
				continue
			}

			if !alert.RecordFilter.Matches(row.Position) {
				continue
			}

			result.Records = append(result.Records, formatRecord(m.Name, row))
			mapChanged = true
		}

		if mapChanged {
			result.ChangedMaps++
		}

		e.delayBetweenFetches(ctx, i, len(catalogMaps))
	}

	return result, nil
}

// runInaccurate probes the sentinel rank of every tracked map in one call and
// treats rank movement as a proxy for new activity. Maps without a baseline
// are initialized silently. The changed-or-new count is capped; past the cap
// the run degrades to a count-only summary with zero leaderboard fetches.
func (e *Engine) runInaccurate(
	ctx context.Context, alert *types.AlertSubscription, catalogMaps []exchange.CatalogMap,
) (*Result, error) {
	uids, err := e.alerts.GetAlertMaps(ctx, alert.AlertID)
	if err != nil {
		return nil, fmt.Errorf("failed to get tracked maps: %w", err)
	}

	// A forced-inaccurate subscription may not have a tracked set yet
	if len(uids) == 0 {
		uids = mapUIDs(catalogMaps)
		if err := e.alerts.ReplaceAlertMaps(ctx, alert.AlertID, uids); err != nil {
			return nil, fmt.Errorf("failed to replace tracked maps: %w", err)
		}
	}

	probes, err := e.leaderboards.ProbePositions(ctx, uids)
	if err != nil {
		return nil, fmt.Errorf("failed to probe sentinel positions: %w", err)
	}

	baselines, err := e.baselines.GetByUIDs(ctx, uids)
	if err != nil {
		return nil, fmt.Errorf("failed to get baselines: %w", err)
	}

	now := time.Now()

	var (
		changed   []string
		fresh     []*types.MapPositionBaseline
		unchanged []string
	)

	for _, uid := range uids {
		probe, ok := probes[uid]
		if !ok {
			// Absent from the probe response carries no signal
			continue
		}

		baseline, exists := baselines[uid]
		if !exists {
			fresh = append(fresh, &types.MapPositionBaseline{
				MapUID:        uid,
				Position:      probe.Position,
				Score:         probe.Score,
				LastCheckedAt: now,
			})

			continue
		}

		if baseline.Differs(probe.Position, probe.Score) {
			changed = append(changed, uid)
		} else {
			unchanged = append(unchanged, uid)
		}
	}

	result := &Result{Mode: types.AlertTypeInaccurate, ChangedMaps: len(changed)}

	if len(changed)+len(fresh) > e.cfg.OverflowCap {
		return e.overflow(ctx, alert, probes, changed, fresh, now, result)
	}

	// New baselines are initialized silently, never reported as changes
	if err := e.baselines.BulkUpsert(ctx, fresh); err != nil {
		return nil, fmt.Errorf("failed to seed new baselines: %w", err)
	}

	mapNames := catalogNames(catalogMaps)

	for i, uid := range changed {
		probe := probes[uid]
		baseline := baselines[uid]

		rows, err := e.leaderboards.GetTop(ctx, uid, e.cfg.TopN)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch leaderboard for map %s: %w", uid, err)
		}

		result.Records = append(result.Records, formatChangedMap(mapNames[uid], uid, baseline, probe, rows))

		err = e.baselines.Upsert(ctx, &types.MapPositionBaseline{
			MapUID:        uid,
			Position:      probe.Position,
			Score:         probe.Score,
			LastCheckedAt: now,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update baseline: %w", err)
		}

		e.delayBetweenFetches(ctx, i, len(changed))
	}

	for _, uid := range unchanged {
		if err := e.baselines.Touch(ctx, uid, now); err != nil {
			return nil, fmt.Errorf("failed to touch baseline: %w", err)
		}
	}

	return result, nil
}

// overflow records the count-only summary for runs whose changed-map fan-out
// would exceed the cap. Baselines still advance so the next run starts from
// the current state instead of overflowing again.
func (e *Engine) overflow(
	ctx context.Context,
	alert *types.AlertSubscription,
	probes map[string]live.Probe,
	changed []string,
	fresh []*types.MapPositionBaseline,
	now time.Time,
	result *Result,
) (*Result, error) {
	updates := make([]*types.MapPositionBaseline, 0, len(changed)+len(fresh))
	updates = append(updates, fresh...)

	for _, uid := range changed {
		probe := probes[uid]
		updates = append(updates, &types.MapPositionBaseline{
			MapUID:        uid,
			Position:      probe.Position,
			Score:         probe.Score,
			LastCheckedAt: now,
		})
	}

	if err := e.baselines.BulkUpsert(ctx, updates); err != nil {
		return nil, fmt.Errorf("failed to update baselines on overflow: %w", err)
	}

	result.Overflow = true
	result.Records = []string{formatOverflow(len(changed))}

	e.logger.Info("Inaccurate run overflowed the change cap",
		zap.String("username", alert.Username),
		zap.Int("changed", len(changed)),
		zap.Int("new", len(fresh)),
		zap.Int("cap", e.cfg.OverflowCap))

	return result, nil
}

// SeedMissingBaselines probes the given maps and creates baselines for those
// that have none, leaving existing baselines untouched. Returns the number of
// baselines created.
func (e *Engine) SeedMissingBaselines(ctx context.Context, mapUIDs []string) (int, error) {
	probes, err := e.leaderboards.ProbePositions(ctx, mapUIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to probe sentinel positions: %w", err)
	}

	baselines, err := e.baselines.GetByUIDs(ctx, mapUIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to get baselines: %w", err)
	}

	now := time.Now()
	fresh := make([]*types.MapPositionBaseline, 0, len(mapUIDs))

	for _, uid := range mapUIDs {
		probe, ok := probes[uid]
		if !ok {
			continue
		}

		if _, exists := baselines[uid]; exists {
			continue
		}

		fresh = append(fresh, &types.MapPositionBaseline{
			MapUID:        uid,
			Position:      probe.Position,
			Score:         probe.Score,
			LastCheckedAt: now,
		})
	}

	if err := e.baselines.BulkUpsert(ctx, fresh); err != nil {
		return 0, fmt.Errorf("failed to seed baselines: %w", err)
	}

	return len(fresh), nil
}

func (e *Engine) delayBetweenFetches(ctx context.Context, index, total int) {
	if index >= total-1 || e.cfg.FetchDelay <= 0 {
		return
	}

	delayBetween(ctx, time.Duration(e.cfg.FetchDelay)*time.Millisecond)
}

func mapUIDs(catalogMaps []exchange.CatalogMap) []string {
	uids := make([]string, 0, len(catalogMaps))
	for _, m := range catalogMaps {
		uids = append(uids, m.MapUID)
	}

	return uids
}

func catalogNames(catalogMaps []exchange.CatalogMap) map[string]string {
	names := make(map[string]string, len(catalogMaps))
	for _, m := range catalogMaps {
		names[m.MapUID] = m.Name
	}

	return names
}
