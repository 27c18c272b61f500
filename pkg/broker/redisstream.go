package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sportswire/sportswire/pkg/config"
)

// payloadField is the single stream-entry field carrying the message body.
const payloadField = "payload"

// redisStreamBroker realizes topics as Redis Streams with consumer groups.
// Unacked entries sit in the group's pending list; Fetch reclaims entries
// idle past the visibility timeout before reading new ones, which gives the
// queue-with-lease semantics the consumer's extender relies on.
type redisStreamBroker struct {
	client            *redis.Client
	visibilityTimeout time.Duration
	logger            *slog.Logger
}

// NewRedisStream connects to Redis and verifies the connection.
func NewRedisStream(cfg config.RedisConfig, visibilityTimeout time.Duration) (Broker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("broker: redis ping: %w", err)
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = 30 * time.Second
	}
	return &redisStreamBroker{
		client:            client,
		visibilityTimeout: visibilityTimeout,
		logger:            slog.Default().With("component", "broker", "backend", "redis"),
	}, nil
}

func (b *redisStreamBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]any{payloadField: payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("broker: redis publish to %s: %w", topic, err)
	}
	return nil
}

func (b *redisStreamBroker) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	group := groupFor(topic)

	// Creating the group is idempotent apart from the BUSYGROUP reply.
	err := b.client.XGroupCreateMkStream(ctx, topic, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("broker: redis create group %s on %s: %w", group, topic, err)
	}

	return &redisStreamSubscription{
		client:            b.client,
		topic:             topic,
		group:             group,
		consumer:          "consumer-" + uuid.NewString(),
		visibilityTimeout: b.visibilityTimeout,
		logger:            b.logger.With("topic", topic),
	}, nil
}

func (b *redisStreamBroker) Healthy(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("broker: redis ping: %w", err)
	}
	return nil
}

func (b *redisStreamBroker) Close() error {
	return b.client.Close()
}

type redisStreamSubscription struct {
	client            *redis.Client
	topic             string
	group             string
	consumer          string
	visibilityTimeout time.Duration
	logger            *slog.Logger
}

func (s *redisStreamSubscription) Fetch(ctx context.Context) ([]Message, error) {
	// Reclaim entries another consumer fetched but never acked within the
	// visibility timeout. This is the redelivery path.
	claimed, _, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   s.topic,
		Group:    s.group,
		Consumer: s.consumer,
		MinIdle:  s.visibilityTimeout,
		Start:    "0-0",
		Count:    fetchBatch,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("broker: redis reclaim on %s: %w", s.topic, err)
	}
	if len(claimed) > 0 {
		return s.toMessages(claimed), nil
	}

	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.topic, ">"},
		Count:    fetchBatch,
		Block:    fetchBlock,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("broker: redis read on %s: %w", s.topic, err)
	}

	var messages []Message
	for _, stream := range streams {
		messages = append(messages, s.toMessages(stream.Messages)...)
	}
	return messages, nil
}

func (s *redisStreamSubscription) toMessages(entries []redis.XMessage) []Message {
	messages := make([]Message, 0, len(entries))
	for _, entry := range entries {
		raw, ok := entry.Values[payloadField]
		if !ok {
			// Foreign entry in our stream: ack it away so it does not cycle
			// through the pending list forever.
			s.logger.Warn("Dropping stream entry without payload field", "entry_id", entry.ID)
			_ = s.client.XAck(context.Background(), s.topic, s.group, entry.ID).Err()
			continue
		}
		payload, ok := raw.(string)
		if !ok {
			s.logger.Warn("Dropping stream entry with non-string payload", "entry_id", entry.ID)
			_ = s.client.XAck(context.Background(), s.topic, s.group, entry.ID).Err()
			continue
		}
		messages = append(messages, Message{
			ID:             entry.ID,
			Payload:        []byte(payload),
			Receipt:        entry.ID,
			LeaseRenewable: true,
		})
	}
	return messages
}

func (s *redisStreamSubscription) Ack(ctx context.Context, msg Message) error {
	if err := s.client.XAck(ctx, s.topic, s.group, msg.ID).Err(); err != nil {
		return fmt.Errorf("broker: redis ack %s: %w", msg.ID, err)
	}
	return nil
}

// ExtendVisibility re-claims the entry for this consumer with zero minimum
// idle, which resets the pending-entry idle clock and defers reclaim by
// other consumers for another visibility window.
func (s *redisStreamSubscription) ExtendVisibility(ctx context.Context, msg Message, d time.Duration) error {
	err := s.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   s.topic,
		Group:    s.group,
		Consumer: s.consumer,
		MinIdle:  0,
		Messages: []string{msg.ID},
	}).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("broker: redis extend %s: %w", msg.ID, err)
	}
	return nil
}

// Close is a no-op; the connection belongs to the broker.
func (s *redisStreamSubscription) Close() error {
	return nil
}
