package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"
	"github.com/trackwatch/trackwatch/internal/database/types"
	"github.com/trackwatch/trackwatch/internal/setup/config"
	"go.uber.org/zap"
)

var (
	// ErrUsernameRequired is returned for crawl requests without a username.
	ErrUsernameRequired = errors.New("username is required")
	// ErrRateLimited is returned when the per-username crawl window is full.
	ErrRateLimited = errors.New("crawl rate limit exceeded")
)

// RateLimitError carries the retry-after hint for a rejected crawl start.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("crawl rate limit exceeded, retry after %d seconds", e.RetryAfterSeconds)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// Service is the crawl entrypoint the route layer talks to. Starting a crawl
// returns immediately with the job id; the crawl itself runs out of band under
// panic supervision so a crashed crawl still ends as a failed job.
type Service struct {
	jobs    JobStore
	limiter *Limiter
	runner  *Runner
	cfg     *config.Crawl
	logger  *zap.Logger
}

// NewService creates a crawl service.
func NewService(
	jobs JobStore, limiter *Limiter, runner *Runner, cfg *config.Crawl, logger *zap.Logger,
) *Service {
	return &Service{
		jobs:    jobs,
		limiter: limiter,
		runner:  runner,
		cfg:     cfg,
		logger:  logger.Named("crawl_service"),
	}
}

// StartCrawl validates the request, inserts a pending job and schedules the
// crawl. Validation happens before any I/O.
func (s *Service) StartCrawl(ctx context.Context, username, period string) (string, error) {
	if username == "" {
		return "", ErrUsernameRequired
	}

	if _, err := ParsePeriod(period); err != nil {
		return "", err
	}

	allowed, retryAfter, err := s.limiter.Allow(ctx, username)
	if err != nil {
		return "", fmt.Errorf("failed to check crawl limit: %w", err)
	}

	if !allowed {
		return "", &RateLimitError{RetryAfterSeconds: retryAfter}
	}

	now := time.Now()
	job := &types.CrawlJob{
		JobID:     uuid.NewString(),
		Username:  username,
		Period:    period,
		Status:    types.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	retention := time.Duration(s.cfg.JobRetentionDays) * 24 * time.Hour
	if err := s.jobs.Create(ctx, job, retention); err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}

	s.submit(ctx, job)

	s.logger.Info("Crawl job accepted",
		zap.String("jobID", job.JobID),
		zap.String("username", username),
		zap.String("period", period))

	return job.JobID, nil
}

// GetJob returns a snapshot of the job.
func (s *Service) GetJob(ctx context.Context, jobID string) (*types.CrawlJob, error) {
	return s.jobs.Get(ctx, jobID)
}

// submit schedules the crawl out of band. The job outlives the triggering
// request, so its context is detached from the request's cancellation; a
// panic inside the crawl is captured and recorded as a job failure.
func (s *Service) submit(ctx context.Context, job *types.CrawlJob) {
	runCtx := context.WithoutCancel(ctx)

	go func() {
		recovered := panics.Try(func() {
			if err := s.runner.Process(runCtx, job); err != nil {
				s.logger.Error("Failed to record crawl outcome",
					zap.String("jobID", job.JobID),
					zap.Error(err))
			}
		})
		if recovered == nil {
			return
		}

		s.logger.Error("Crawl panicked",
			zap.String("jobID", job.JobID),
			zap.String("panic", recovered.String()))

		err := s.jobs.SetStatus(
			runCtx, job.JobID, types.JobStatusFailed, nil, "crawl panicked: "+recovered.String(),
		)
		if err != nil {
			s.logger.Error("Failed to mark panicked job failed",
				zap.String("jobID", job.JobID),
				zap.Error(err))
		}
	}()
}
