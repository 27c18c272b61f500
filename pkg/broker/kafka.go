package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// kafkaBroker produces through one shared client; each subscription owns its
// own consumer-group client so topic assignments stay independent.
type kafkaBroker struct {
	cfg      KafkaConfig
	producer *kgo.Client
	logger   *slog.Logger

	mu   sync.Mutex
	subs []*kafkaSubscription
}

// NewKafka connects a producer to the configured brokers.
func NewKafka(cfg KafkaConfig) (Broker, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("broker: at least one kafka broker is required")
	}

	producer, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
	)
	if err != nil {
		return nil, fmt.Errorf("broker: create kafka producer: %w", err)
	}

	return &kafkaBroker{
		cfg:      cfg,
		producer: producer,
		logger:   slog.Default().With("component", "broker", "backend", "kafka"),
	}, nil
}

func (b *kafkaBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	record := &kgo.Record{Topic: topic, Value: payload}
	if err := b.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("broker: kafka publish to %s: %w", topic, err)
	}
	return nil
}

func (b *kafkaBroker) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	offset := kgo.NewOffset().AtEnd()
	if b.cfg.ConsumeFromStart {
		offset = kgo.NewOffset().AtStart()
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(b.cfg.Brokers...),
		kgo.ConsumerGroup(groupFor(topic)),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(offset),
		kgo.SessionTimeout(10*time.Second),
		kgo.RebalanceTimeout(30*time.Second),
		// Offsets are committed per record on Ack, after the handler reports
		// the message durably processed.
		kgo.DisableAutoCommit(),
		kgo.FetchMaxWait(fetchBlock),
	)
	if err != nil {
		return nil, fmt.Errorf("broker: create kafka consumer for %s: %w", topic, err)
	}

	sub := &kafkaSubscription{
		client: client,
		topic:  topic,
		logger: b.logger.With("topic", topic),
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return sub, nil
}

func (b *kafkaBroker) Healthy(ctx context.Context) error {
	if err := b.producer.Ping(ctx); err != nil {
		return fmt.Errorf("broker: kafka ping: %w", err)
	}
	return nil
}

func (b *kafkaBroker) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	b.producer.Close()
	return nil
}

type kafkaSubscription struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger

	closeOnce sync.Once
}

func (s *kafkaSubscription) Fetch(ctx context.Context) ([]Message, error) {
	pollCtx, cancel := context.WithTimeout(ctx, fetchBlock)
	defer cancel()

	fetches := s.client.PollRecords(pollCtx, fetchBatch)
	if fetches.IsClientClosed() {
		return nil, ctx.Err()
	}
	for _, fetchErr := range fetches.Errors() {
		// Poll timeouts surface as context errors; an empty batch is normal.
		if errors.Is(fetchErr.Err, context.DeadlineExceeded) || errors.Is(fetchErr.Err, context.Canceled) {
			continue
		}
		return nil, fmt.Errorf("broker: kafka fetch %s[%d]: %w", fetchErr.Topic, fetchErr.Partition, fetchErr.Err)
	}

	var messages []Message
	fetches.EachRecord(func(record *kgo.Record) {
		messages = append(messages, Message{
			ID:      fmt.Sprintf("%s-%d-%d", record.Topic, record.Partition, record.Offset),
			Payload: record.Value,
			Receipt: record,
			// The group session keeps assignments alive; there is no
			// per-message lease to renew.
			LeaseRenewable: false,
		})
	})
	return messages, nil
}

func (s *kafkaSubscription) Ack(ctx context.Context, msg Message) error {
	record, ok := msg.Receipt.(*kgo.Record)
	if !ok {
		return fmt.Errorf("broker: kafka ack: message %s has no record receipt", msg.ID)
	}
	if err := s.client.CommitRecords(ctx, record); err != nil {
		return fmt.Errorf("broker: kafka commit %s: %w", msg.ID, err)
	}
	return nil
}

func (s *kafkaSubscription) ExtendVisibility(ctx context.Context, msg Message, d time.Duration) error {
	return ErrVisibilityUnsupported
}

func (s *kafkaSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.client.Close()
	})
	return nil
}
