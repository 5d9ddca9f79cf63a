package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/trackwatch/trackwatch/internal/api/exchange"
	"github.com/trackwatch/trackwatch/internal/database/models"
	"github.com/trackwatch/trackwatch/internal/database/types"
	"github.com/trackwatch/trackwatch/internal/setup/config"
	"github.com/trackwatch/trackwatch/pkg/utils"
	"go.uber.org/zap"
)

// JobStore is the persistence surface the runner and service need.
// Implemented by the database job model.
type JobStore interface {
	Create(ctx context.Context, job *types.CrawlJob, retention time.Duration) error
	Get(ctx context.Context, jobID string) (*types.CrawlJob, error)
	GetPending(ctx context.Context, limit int) ([]*types.CrawlJob, error)
	SetStatus(
		ctx context.Context, jobID string, status types.JobStatus, result *types.CrawlResult, errorMessage string,
	) error
}

// AlertReader looks up the crawled user's subscription to decide whether
// baseline seeding applies. Implemented by the database alert model.
type AlertReader interface {
	GetByUsername(ctx context.Context, username string) (*types.AlertSubscription, error)
}

// Catalog walks an author's map catalog. Implemented by the exchange client.
type Catalog interface {
	GetAuthorMaps(ctx context.Context, author string) ([]exchange.CatalogMap, error)
}

// Leaderboards fetches ranked entries per map. Implemented by the live client.
type Leaderboards interface {
	GetTop(ctx context.Context, mapUID string, length int) ([]types.LeaderboardRow, error)
}

// NameResolver translates account ids to display names.
type NameResolver interface {
	ResolveNames(ctx context.Context, accountIDs []string) (map[string]string, error)
}

// BaselineSeeder initializes sentinel baselines for maps that have none.
// Implemented by the inaccurate-mode tracker engine.
type BaselineSeeder interface {
	SeedMissingBaselines(ctx context.Context, mapUIDs []string) (int, error)
}

// Runner drains crawl jobs: it is the only component that mutates a job after
// creation. One invocation may process several queued jobs; each job's
// failure stays contained to that job.
type Runner struct {
	jobs         JobStore
	alerts       AlertReader
	catalog      Catalog
	leaderboards Leaderboards
	names        NameResolver
	seeder       BaselineSeeder
	cfg          *config.Tracker
	logger       *zap.Logger
}

// NewRunner creates a crawl runner.
func NewRunner(
	jobs JobStore,
	alerts AlertReader,
	catalog Catalog,
	leaderboards Leaderboards,
	names NameResolver,
	seeder BaselineSeeder,
	cfg *config.Tracker,
	logger *zap.Logger,
) *Runner {
	return &Runner{
		jobs:         jobs,
		alerts:       alerts,
		catalog:      catalog,
		leaderboards: leaderboards,
		names:        names,
		seeder:       seeder,
		cfg:          cfg,
		logger:       logger.Named("crawl_runner"),
	}
}

// Process runs one job to a terminal state. Errors are captured on the job
// record rather than returned; the returned error only reports failures to
// record the outcome itself.
func (r *Runner) Process(ctx context.Context, job *types.CrawlJob) error {
	if err := r.jobs.SetStatus(ctx, job.JobID, types.JobStatusProcessing, nil, ""); err != nil {
		return fmt.Errorf("failed to mark job processing: %w", err)
	}

	result, err := r.crawl(ctx, job)
	if err != nil {
		r.logger.Warn("Crawl job failed",
			zap.String("jobID", job.JobID),
			zap.String("username", job.Username),
			zap.Error(err))

		if setErr := r.jobs.SetStatus(ctx, job.JobID, types.JobStatusFailed, nil, err.Error()); setErr != nil {
			return fmt.Errorf("failed to mark job failed: %w", setErr)
		}

		return nil
	}

	if err := r.jobs.SetStatus(ctx, job.JobID, types.JobStatusCompleted, result, ""); err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}

	r.logger.Info("Crawl job completed",
		zap.String("jobID", job.JobID),
		zap.String("username", job.Username),
		zap.Int("maps", len(result.Maps)))

	return nil
}

// Drain processes up to limit pending jobs in creation order. One failing job
// never aborts the batch.
func (r *Runner) Drain(ctx context.Context, limit int) (int, error) {
	pending, err := r.jobs.GetPending(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending jobs: %w", err)
	}

	processed := 0

	for _, job := range pending {
		if err := r.Process(ctx, job); err != nil {
			r.logger.Error("Failed to record job outcome",
				zap.String("jobID", job.JobID),
				zap.Error(err))

			continue
		}

		processed++
	}

	return processed, nil
}

// crawl fetches the author's maps and their windowed leaderboards and
// resolves every involved display name in one pass.
func (r *Runner) crawl(ctx context.Context, job *types.CrawlJob) (*types.CrawlResult, error) {
	window, err := ParsePeriod(job.Period)
	if err != nil {
		return nil, err
	}

	catalogMaps, err := r.catalog.GetAuthorMaps(ctx, job.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch author maps: %w", err)
	}

	if err := r.seedIfInaccurate(ctx, job.Username, catalogMaps); err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-window)
	fetchDelay := time.Duration(r.cfg.FetchDelay) * time.Millisecond

	crawled := make([]types.CrawledMap, 0, len(catalogMaps))
	accountIDs := make(map[string]struct{})

	for i, m := range catalogMaps {
		rows, err := r.leaderboards.GetTop(ctx, m.MapUID, r.cfg.TopN)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch leaderboard for map %s: %w", m.MapUID, err)
		}

		windowed := make([]types.LeaderboardRow, 0, len(rows))

		for _, row := range rows {
			if row.Timestamp.Before(cutoff) {
				continue
			}

			windowed = append(windowed, row)
			accountIDs[row.AccountID] = struct{}{}
		}

		crawled = append(crawled, types.CrawledMap{
			MapID:   m.MapID,
			MapUID:  m.MapUID,
			Name:    m.Name,
			Records: windowed,
		})

		// Courtesy delay between successive fetches
		if i < len(catalogMaps)-1 && fetchDelay > 0 {
			utils.ContextSleep(ctx, fetchDelay)
		}
	}

	ids := make([]string, 0, len(accountIDs))
	for id := range accountIDs {
		ids = append(ids, id)
	}

	names, err := r.names.ResolveNames(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve display names: %w", err)
	}

	return &types.CrawlResult{
		Username: job.Username,
		Period:   job.Period,
		Maps:     crawled,
		Names:    names,
	}, nil
}

// seedIfInaccurate initializes missing sentinel baselines ahead of the crawl
// when the user runs in inaccurate mode or has outgrown the accurate-mode
// threshold. No subscription means no seeding.
func (r *Runner) seedIfInaccurate(ctx context.Context, username string, catalogMaps []exchange.CatalogMap) error {
	alert, err := r.alerts.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrAlertNotFound) {
			return nil
		}

		return fmt.Errorf("failed to look up subscription: %w", err)
	}

	if alert.AlertType != types.AlertTypeInaccurate && len(catalogMaps) <= r.cfg.MapThreshold {
		return nil
	}

	uids := make([]string, 0, len(catalogMaps))
	for _, m := range catalogMaps {
		uids = append(uids, m.MapUID)
	}

	seeded, err := r.seeder.SeedMissingBaselines(ctx, uids)
	if err != nil {
		return fmt.Errorf("failed to seed baselines: %w", err)
	}

	if seeded > 0 {
		r.logger.Info("Seeded sentinel baselines before crawl",
			zap.String("username", username),
			zap.Int("seeded", seeded))
	}

	return nil
}
