package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/rueidis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trackwatch/trackwatch/internal/jobs"
	"go.uber.org/zap"
)

func newTestRedis(t *testing.T) rueidis.Client {
	t.Helper()

	mr := miniredis.RunT(t)

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{mr.Addr()},
		DisableCache: true,
	})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return client
}

func TestLimiterAllow(t *testing.T) {
	t.Parallel()

	t.Run("allows up to the window maximum", func(t *testing.T) {
		t.Parallel()

		limiter := jobs.NewLimiter(newTestRedis(t), time.Minute, 2, zap.NewNop())

		for i := range 2 {
			allowed, retryAfter, err := limiter.Allow(context.Background(), "user1")
			require.NoError(t, err, "attempt %d", i)
			assert.True(t, allowed)
			assert.Zero(t, retryAfter)
		}
	})

	t.Run("rejects the excess start with a retry-after hint", func(t *testing.T) {
		t.Parallel()

		limiter := jobs.NewLimiter(newTestRedis(t), time.Minute, 2, zap.NewNop())

		for range 2 {
			allowed, _, err := limiter.Allow(context.Background(), "user1")
			require.NoError(t, err)
			require.True(t, allowed)
		}

		allowed, retryAfter, err := limiter.Allow(context.Background(), "user1")
		require.NoError(t, err)
		assert.False(t, allowed)
		assert.Positive(t, retryAfter)
		assert.LessOrEqual(t, retryAfter, 61)
	})

	t.Run("usernames have independent windows", func(t *testing.T) {
		t.Parallel()

		limiter := jobs.NewLimiter(newTestRedis(t), time.Minute, 1, zap.NewNop())

		allowed, _, err := limiter.Allow(context.Background(), "user1")
		require.NoError(t, err)
		require.True(t, allowed)

		allowed, _, err = limiter.Allow(context.Background(), "user1")
		require.NoError(t, err)
		assert.False(t, allowed)

		allowed, _, err = limiter.Allow(context.Background(), "user2")
		require.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("expired starts slide out of the window", func(t *testing.T) {
		t.Parallel()

		limiter := jobs.NewLimiter(newTestRedis(t), 50*time.Millisecond, 1, zap.NewNop())

		allowed, _, err := limiter.Allow(context.Background(), "user1")
		require.NoError(t, err)
		require.True(t, allowed)

		time.Sleep(60 * time.Millisecond)

		allowed, _, err = limiter.Allow(context.Background(), "user1")
		require.NoError(t, err)
		assert.True(t, allowed)
	})
}
