package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	redisURL := os.Getenv("TEST_REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379/15"
	}
	opts, err := redis.ParseURL(redisURL)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skip("Redis not available for testing")
	}
	client.FlushDB(context.Background())
	return client
}

func TestRunLock(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	ctx := context.Background()
	lock := NewRunLock(client, time.Minute)
	key := RunLockKey(1)

	t.Run("second holder is refused", func(t *testing.T) {
		release, err := lock.Acquire(ctx, key)
		require.NoError(t, err)

		_, err = lock.Acquire(ctx, key)
		assert.ErrorIs(t, err, ErrLockHeld)

		require.NoError(t, release(ctx))

		release2, err := lock.Acquire(ctx, key)
		require.NoError(t, err)
		require.NoError(t, release2(ctx))
	})

	t.Run("stale release keeps new holder", func(t *testing.T) {
		short := NewRunLock(client, 50*time.Millisecond)
		staleRelease, err := short.Acquire(ctx, key)
		require.NoError(t, err)

		time.Sleep(100 * time.Millisecond)

		release, err := lock.Acquire(ctx, key)
		require.NoError(t, err)

		require.NoError(t, staleRelease(ctx))
		exists, err := client.Exists(ctx, key).Result()
		require.NoError(t, err)
		assert.Equal(t, int64(1), exists)

		require.NoError(t, release(ctx))
	})

	t.Run("ttl is set", func(t *testing.T) {
		release, err := lock.Acquire(ctx, key)
		require.NoError(t, err)
		defer release(ctx)

		ttl, err := client.PTTL(ctx, key).Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, time.Duration(0))
		assert.LessOrEqual(t, ttl, time.Minute)
	})
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "autologin:run:12", RunLockKey(12))
	assert.Equal(t, "autologin:manual:12", ManualRunKey(12))
}
