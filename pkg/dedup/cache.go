// Package dedup provides the hot TTL-bounded existence set that
// short-circuits authoritative store lookups during ingestion.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sportswire/sportswire/pkg/config"
)

const (
	// DefaultKeyPrefix namespaces dedup markers in Redis.
	DefaultKeyPrefix = "processed:seen"

	// DefaultTTL is how long a seen-marker suppresses re-ingestion.
	DefaultTTL = 3600 * time.Second
)

// Cache is a best-effort existence set keyed by (source, source_id). Every
// failure is soft: an unavailable cache reports "not seen" and defers to the
// authoritative article store, so it can add duplicate checking cost but
// never lose records.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a dedup cache on an existing Redis client.
// Panics if client is nil.
func New(client *redis.Client) *Cache {
	if client == nil {
		panic("dedup.New: client must not be nil")
	}
	return &Cache{
		client: client,
		prefix: config.GetEnv("DEDUP_KEY_PREFIX", DefaultKeyPrefix),
		ttl:    config.GetEnvSeconds("DEDUP_TTL_SECONDS", DefaultTTL),
		logger: slog.With("component", "dedup"),
	}
}

// Connect dials Redis with cfg and verifies the connection.
func Connect(ctx context.Context, cfg config.RedisConfig) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return New(client), nil
}

func (c *Cache) key(source, sourceID string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, source, sourceID)
}

// Exists reports whether (source, sourceID) was marked recently. Backend
// errors report false so the caller falls through to the article store.
func (c *Cache) Exists(ctx context.Context, source, sourceID string) bool {
	n, err := c.client.Exists(ctx, c.key(source, sourceID)).Result()
	if err != nil {
		c.logger.Warn("Dedup cache check failed, deferring to article store",
			"source", source, "source_id", sourceID, "error", err)
		return false
	}
	return n > 0
}

// MarkSeen records (source, sourceID) with the configured TTL, refreshing it
// on repeat calls. Errors are logged and swallowed.
func (c *Cache) MarkSeen(ctx context.Context, source, sourceID string) {
	if err := c.client.Set(ctx, c.key(source, sourceID), "1", c.ttl).Err(); err != nil {
		c.logger.Warn("Failed to mark article seen",
			"source", source, "source_id", sourceID, "error", err)
	}
}

// Healthy pings the backing Redis.
func (c *Cache) Healthy(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}
