// Package state provides the TTL-bounded request state store backing the
// gateway's status reads and the query engine's stage transitions.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sportswire/sportswire/pkg/config"
)

// DefaultKeyPrefix namespaces request state documents in Redis.
const DefaultKeyPrefix = "query:"

// maxUpdateRetries bounds the optimistic-lock retry loop in Update.
const maxUpdateRetries = 5

// ErrStaleTransition marks a stage patch that would move a request backward
// or out of a terminal stage. The patch is discarded.
var ErrStaleTransition = errors.New("stale stage transition")

// ErrConflict is returned when an update keeps losing the optimistic lock.
var ErrConflict = errors.New("concurrent update conflict")

var errKeyMissing = errors.New("state key missing")

// Store is a TTL-bounded key→document store over Redis. Document writes are
// JSON; updates are atomic via WATCH/MULTI so concurrent merges to the same
// key cannot interleave.
type Store struct {
	client     *redis.Client
	prefix     string
	defaultTTL time.Duration
}

// New creates a store on an existing Redis client.
// Panics if client is nil.
func New(client *redis.Client, defaultTTL time.Duration) *Store {
	if client == nil {
		panic("state.New: client must not be nil")
	}
	if defaultTTL <= 0 {
		defaultTTL = config.DefaultRedisConfig().DefaultTTL
	}
	return &Store{
		client:     client,
		prefix:     DefaultKeyPrefix,
		defaultTTL: defaultTTL,
	}
}

// Connect dials Redis with cfg and verifies the connection.
func Connect(ctx context.Context, cfg config.RedisConfig) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return New(client, cfg.DefaultTTL), nil
}

func (s *Store) key(id string) string {
	return s.prefix + id
}

// Create stores doc at id with the default TTL. An existing document is
// overwritten.
func (s *Store) Create(ctx context.Context, id string, doc map[string]any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal state document: %w", err)
	}
	if err := s.client.Set(ctx, s.key(id), data, s.defaultTTL).Err(); err != nil {
		return fmt.Errorf("store state document: %w", err)
	}
	return nil
}

// Get returns the document at id, or nil when the key is absent.
func (s *Store) Get(ctx context.Context, id string) (map[string]any, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state document: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode state document: %w", err)
	}
	return doc, nil
}

// Update shallow-merges patch into the document at id, stamping updated_at.
// Returns nil when the key is absent.
func (s *Store) Update(ctx context.Context, id string, patch map[string]any) (map[string]any, error) {
	return s.UpdateFunc(ctx, id, func(doc map[string]any) (map[string]any, error) {
		for k, v := range patch {
			doc[k] = v
		}
		return doc, nil
	})
}

// UpdateFunc applies fn to the current document under an optimistic lock,
// stamps updated_at, and writes the result back preserving the remaining TTL
// when the key still has one (else the default TTL). The whole
// read-modify-write retries when a concurrent writer touches the key.
// Returns nil when the key is absent.
func (s *Store) UpdateFunc(ctx context.Context, id string, fn func(doc map[string]any) (map[string]any, error)) (map[string]any, error) {
	key := s.key(id)
	var merged map[string]any

	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return errKeyMissing
		}
		if err != nil {
			return fmt.Errorf("read state document: %w", err)
		}

		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("decode state document: %w", err)
		}

		doc, err = fn(doc)
		if err != nil {
			return err
		}
		doc["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

		ttl, err := tx.PTTL(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("read state ttl: %w", err)
		}
		if ttl <= 0 {
			ttl = s.defaultTTL
		}

		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal state document: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			return nil
		})
		if err != nil {
			return err
		}
		merged = doc
		return nil
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		switch {
		case err == nil:
			return merged, nil
		case errors.Is(err, errKeyMissing):
			return nil, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrConflict, id)
}

// Delete removes the document at id, reporting whether a key was removed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("delete state document: %w", err)
	}
	return n > 0, nil
}

// Healthy pings the backing Redis.
func (s *Store) Healthy(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
