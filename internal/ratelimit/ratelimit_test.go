package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisLimiterFixedWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	l := NewRedisLimiter(client, 3, time.Minute)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i+1)
	}
	ok, err := l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, _ = l.Allow(ctx, "10.0.0.2")
	assert.True(t, ok, "other clients have their own counter")

	now = now.Add(time.Minute)
	ok, _ = l.Allow(ctx, "10.0.0.1")
	assert.True(t, ok, "new window")

	keys := mr.Keys()
	require.NotEmpty(t, keys)
	assert.True(t, mr.TTL(keys[0]) > 0)
}

func TestRedisLimiterReportsOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	_, err := NewRedisLimiter(client, 3, time.Minute).Allow(context.Background(), "k")
	assert.Error(t, err)
}

func TestMemoryLimiter(t *testing.T) {
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(2, time.Second)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	a, _ := l.Allow(ctx, "k")
	b, _ := l.Allow(ctx, "k")
	c, _ := l.Allow(ctx, "k")
	assert.Equal(t, []bool{true, true, false}, []bool{a, b, c})

	_, _ = l.Allow(ctx, "idle")
	now = now.Add(time.Second)
	ok, _ := l.Allow(ctx, "k")
	assert.True(t, ok)
	assert.NotContains(t, l.buckets, "idle")
}
