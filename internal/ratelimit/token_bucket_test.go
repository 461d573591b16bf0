package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestTokenBucketRedis(t *testing.T) {
	client := redisClient(t)
	bucket := NewTokenBucket(client)
	policy := Policy{Name: "test", Rate: 0.5, Burst: 2}
	key := uuid.NewString()
	ctx := context.Background()

	for range 2 {
		decision, err := bucket.Admit(ctx, key, policy)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	}

	decision, err := bucket.Admit(ctx, key, policy)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Greater(t, decision.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, decision.RetryAfter, 2*time.Second)
}

func TestRedisLocker(t *testing.T) {
	client := redisClient(t)
	locker := NewRedisLocker(client)
	key := uuid.NewString()
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, locker.Release(ctx, key, token))
	_, ok, err = locker.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRefillDelay(t *testing.T) {
	assert.Equal(t, time.Duration(0), refillDelay(1.5, 1))
	assert.Equal(t, 500*time.Millisecond, refillDelay(0.5, 1))
	assert.Equal(t, 2*time.Second, refillDelay(0, 0.5))
}
