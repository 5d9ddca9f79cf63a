package jobs

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/rueidis"
	"go.uber.org/zap"
)

// Limiter bounds crawl starts per username with a sliding window backed by a
// Redis sorted set of start timestamps. Old entries are swept lazily on each
// check instead of by a background timer.
type Limiter struct {
	client rueidis.Client
	window time.Duration
	max    int
	logger *zap.Logger
}

// NewLimiter creates a crawl-start limiter.
func NewLimiter(client rueidis.Client, window time.Duration, maxStarts int, logger *zap.Logger) *Limiter {
	return &Limiter{
		client: client,
		window: window,
		max:    maxStarts,
		logger: logger.Named("crawl_limiter"),
	}
}

// Allow records a crawl start for the username if the window has room.
// When the window is full it returns false plus the seconds until the oldest
// start slides out.
func (l *Limiter) Allow(ctx context.Context, username string) (bool, int, error) {
	key := "crawl_limit:" + username
	now := time.Now()
	cutoff := now.Add(-l.window)

	// Sweep entries that have slid out of the window
	sweep := l.client.B().Zremrangebyscore().
		Key(key).
		Min("-inf").
		Max(strconv.FormatInt(cutoff.UnixMilli(), 10)).
		Build()
	if err := l.client.Do(ctx, sweep).Error(); err != nil {
		return false, 0, fmt.Errorf("failed to sweep limiter window: %w", err)
	}

	entries, err := l.client.Do(ctx, l.client.B().Zrange().
		Key(key).
		Min("0").
		Max("-1").
		Build()).AsStrSlice()
	if err != nil {
		return false, 0, fmt.Errorf("failed to read limiter window: %w", err)
	}

	if len(entries) >= l.max {
		retryAfter, err := l.retryAfter(ctx, key, now)
		if err != nil {
			return false, 0, err
		}

		l.logger.Debug("Crawl start rejected by limiter",
			zap.String("username", username),
			zap.Int("inWindow", len(entries)),
			zap.Int("retryAfterSeconds", retryAfter))

		return false, retryAfter, nil
	}

	member := strconv.FormatInt(now.UnixNano(), 10)

	add := l.client.B().Zadd().
		Key(key).
		ScoreMember().
		ScoreMember(float64(now.UnixMilli()), member).
		Build()
	if err := l.client.Do(ctx, add).Error(); err != nil {
		return false, 0, fmt.Errorf("failed to record crawl start: %w", err)
	}

	expire := l.client.B().Expire().Key(key).Seconds(int64(l.window.Seconds()) + 1).Build()
	if err := l.client.Do(ctx, expire).Error(); err != nil {
		return false, 0, fmt.Errorf("failed to expire limiter key: %w", err)
	}

	return true, 0, nil
}

// retryAfter computes the seconds until the oldest start leaves the window.
func (l *Limiter) retryAfter(ctx context.Context, key string, now time.Time) (int, error) {
	oldest, err := l.client.Do(ctx, l.client.B().Zrange().
		Key(key).
		Min("0").
		Max("0").
		Withscores().
		Build()).AsZScores()
	if err != nil {
		return 0, fmt.Errorf("failed to read oldest limiter entry: %w", err)
	}

	if len(oldest) == 0 {
		return 1, nil
	}

	expiresAt := time.UnixMilli(int64(oldest[0].Score)).Add(l.window)

	seconds := int(expiresAt.Sub(now).Seconds()) + 1
	if seconds < 1 {
		seconds = 1
	}

	return seconds, nil
}
