package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client), mr
}

func TestMarkSeenThenExists(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	assert.False(t, cache.Exists(ctx, "reddit", "abc123"))

	cache.MarkSeen(ctx, "reddit", "abc123")
	assert.True(t, cache.Exists(ctx, "reddit", "abc123"))

	// Key carries the configured TTL.
	ttl := mr.TTL("processed:seen:reddit:abc123")
	assert.Equal(t, 3600*time.Second, ttl)
}

func TestExistsKeyedPerSource(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	cache.MarkSeen(ctx, "reddit", "abc123")
	assert.False(t, cache.Exists(ctx, "rss", "abc123"))
}

func TestMarkSeenRefreshesTTL(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	cache.MarkSeen(ctx, "rss", "x1")
	mr.FastForward(30 * time.Minute)
	cache.MarkSeen(ctx, "rss", "x1")

	assert.Equal(t, 3600*time.Second, mr.TTL("processed:seen:rss:x1"))
}

func TestExistsExpiresWithTTL(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	cache.MarkSeen(ctx, "rss", "x2")
	mr.FastForward(2 * time.Hour)
	assert.False(t, cache.Exists(ctx, "rss", "x2"))
}

func TestSoftFailureWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := New(client)
	ctx := context.Background()

	mr.Close()

	// Exists degrades to false; MarkSeen must not panic or error out.
	assert.False(t, cache.Exists(ctx, "reddit", "down"))
	assert.NotPanics(t, func() { cache.MarkSeen(ctx, "reddit", "down") })
	require.Error(t, cache.Healthy(ctx))
}
