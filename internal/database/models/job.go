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

var (
	ErrJobNotFound          = errors.New("job not found")
	ErrInvalidJobTransition = errors.New("invalid job status transition")
)

// JobModel handles database operations for crawl jobs. SetStatus is the sole
// mutator after creation; statuses only move forward.
type JobModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewJob creates a new JobModel instance.
func NewJob(db *bun.DB, logger *zap.Logger) *JobModel {
	return &JobModel{
		db:     db,
		logger: logger.Named("db_job"),
	}
}

// Create inserts a pending job and lazily sweeps terminal jobs past their
// retention, avoiding a background timer.
func (m *JobModel) Create(ctx context.Context, job *types.CrawlJob, retention time.Duration) error {
	if retention > 0 {
		if err := m.sweepTerminal(ctx, retention); err != nil {
			// Sweep failures must not block job creation
			m.logger.Warn("Failed to sweep terminal jobs", zap.Error(err))
		}
	}

	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewInsert().
			Model(job).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create job: %w", err)
		}

		return nil
	})
}

// Get returns a snapshot of the job or ErrJobNotFound.
func (m *JobModel) Get(ctx context.Context, jobID string) (*types.CrawlJob, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.CrawlJob, error) {
		var job types.CrawlJob

		err := m.db.NewSelect().
			Model(&job).
			Where("job_id = ?", jobID).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, ErrJobNotFound
			}

			return nil, fmt.Errorf("failed to get job: %w", err)
		}

		return &job, nil
	})
}

// GetPending returns up to limit pending jobs in creation order.
func (m *JobModel) GetPending(ctx context.Context, limit int) ([]*types.CrawlJob, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.CrawlJob, error) {
		var jobs []*types.CrawlJob

		err := m.db.NewSelect().
			Model(&jobs).
			Where("status = ?", types.JobStatusPending).
			Order("created_at ASC").
			Limit(limit).
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get pending jobs: %w", err)
		}

		return jobs, nil
	})
}

// SetStatus advances a job's status. The guard clause on the previous status
// keeps the lifecycle forward-only even if two runners race on the same job.
func (m *JobModel) SetStatus(
	ctx context.Context, jobID string, status types.JobStatus, result *types.CrawlResult, errorMessage string,
) error {
	var from types.JobStatus

	switch status {
	case types.JobStatusProcessing:
		from = types.JobStatusPending
	case types.JobStatusCompleted, types.JobStatusFailed:
		from = types.JobStatusProcessing
	default:
		return fmt.Errorf("%w: cannot set status %q", ErrInvalidJobTransition, status)
	}

	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		res, err := m.db.NewUpdate().
			Model((*types.CrawlJob)(nil)).
			Set("status = ?", status).
			Set("result = ?", result).
			Set("error_message = ?", errorMessage).
			Set("updated_at = ?", time.Now()).
			Where("job_id = ?", jobID).
			Where("status = ?", from).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to set job status: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check affected rows: %w", err)
		}

		if affected == 0 {
			return fmt.Errorf("%w: %s -> %s for job %s", ErrInvalidJobTransition, from, status, jobID)
		}

		return nil
	})
}

// sweepTerminal deletes completed and failed jobs older than the retention.
func (m *JobModel) sweepTerminal(ctx context.Context, retention time.Duration) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := m.db.NewDelete().
			Model((*types.CrawlJob)(nil)).
			Where("status IN (?)", bun.In([]types.JobStatus{types.JobStatusCompleted, types.JobStatusFailed})).
			Where("updated_at < ?", time.Now().Add(-retention)).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to sweep terminal jobs: %w", err)
		}

		return nil
	})
}
