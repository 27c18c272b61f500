package broker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// rabbitBroker realizes topics as durable queues on the default exchange.
// Messages are published Persistent and removed only on manual ack; an
// unacked delivery is requeued when its channel closes.
type rabbitBroker struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger

	mu       sync.Mutex
	declared map[string]bool
	subs     []*rabbitSubscription
}

// NewRabbit dials RabbitMQ and opens the publishing channel.
func NewRabbit(cfg RabbitConfig) (Broker, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("broker: rabbitmq dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("broker: rabbitmq open channel: %w", err)
	}

	return &rabbitBroker{
		conn:     conn,
		channel:  ch,
		declared: make(map[string]bool),
		logger:   slog.Default().With("component", "broker", "backend", "rabbitmq"),
	}, nil
}

func declareQueue(ch *amqp.Channel, topic string) error {
	_, err := ch.QueueDeclare(
		topic,
		true,  // durable - survives broker restarts
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("broker: rabbitmq declare %s: %w", topic, err)
	}
	return nil
}

func (b *rabbitBroker) ensureQueue(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.declared[topic] {
		return nil
	}
	if err := declareQueue(b.channel, topic); err != nil {
		return err
	}
	b.declared[topic] = true
	return nil
}

func (b *rabbitBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.ensureQueue(topic); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	err := b.channel.PublishWithContext(ctx,
		"",    // default exchange routes directly to the named queue
		topic, // routing key == queue name
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Body:         payload,
		},
	)
	if err != nil {
		return fmt.Errorf("broker: rabbitmq publish to %s: %w", topic, err)
	}
	return nil
}

func (b *rabbitBroker) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("broker: rabbitmq open consumer channel: %w", err)
	}

	// Prefetch bounds deliveries buffered on this channel; the consumer's
	// semaphore is the real backpressure.
	if err := ch.Qos(fetchBatch, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("broker: rabbitmq set qos: %w", err)
	}

	if err := declareQueue(ch, topic); err != nil {
		_ = ch.Close()
		return nil, err
	}

	deliveries, err := ch.Consume(
		topic,
		"",    // consumer tag auto-generated
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("broker: rabbitmq consume %s: %w", topic, err)
	}

	sub := &rabbitSubscription{
		channel:    ch,
		deliveries: deliveries,
		topic:      topic,
		logger:     b.logger.With("topic", topic),
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return sub, nil
}

func (b *rabbitBroker) Healthy(ctx context.Context) error {
	if b.conn.IsClosed() {
		return fmt.Errorf("broker: rabbitmq connection closed")
	}
	return nil
}

func (b *rabbitBroker) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	_ = b.channel.Close()
	return b.conn.Close()
}

type rabbitSubscription struct {
	channel    *amqp.Channel
	deliveries <-chan amqp.Delivery
	topic      string
	logger     *slog.Logger

	closeOnce sync.Once
}

func (s *rabbitSubscription) Fetch(ctx context.Context) ([]Message, error) {
	timer := time.NewTimer(fetchBlock)
	defer timer.Stop()

	var messages []Message

	// Wait for the first delivery up to the poll bound, then drain whatever
	// else is already buffered without blocking again.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case delivery, ok := <-s.deliveries:
		if !ok {
			return nil, fmt.Errorf("broker: rabbitmq delivery channel closed for %s", s.topic)
		}
		messages = append(messages, toRabbitMessage(delivery))
	}

	for len(messages) < fetchBatch {
		select {
		case delivery, ok := <-s.deliveries:
			if !ok {
				return messages, nil
			}
			messages = append(messages, toRabbitMessage(delivery))
		default:
			return messages, nil
		}
	}
	return messages, nil
}

func toRabbitMessage(delivery amqp.Delivery) Message {
	id := delivery.MessageId
	if id == "" {
		// Foreign publisher without a message ID; the delivery tag is unique
		// per channel, which is the lifetime of this subscription.
		id = "tag-" + strconv.FormatUint(delivery.DeliveryTag, 10)
	}
	return Message{
		ID:             id,
		Payload:        delivery.Body,
		Receipt:        delivery,
		LeaseRenewable: false,
	}
}

func (s *rabbitSubscription) Ack(ctx context.Context, msg Message) error {
	delivery, ok := msg.Receipt.(amqp.Delivery)
	if !ok {
		return fmt.Errorf("broker: rabbitmq ack: message %s has no delivery receipt", msg.ID)
	}
	if err := delivery.Ack(false); err != nil {
		return fmt.Errorf("broker: rabbitmq ack %s: %w", msg.ID, err)
	}
	return nil
}

func (s *rabbitSubscription) ExtendVisibility(ctx context.Context, msg Message, d time.Duration) error {
	return ErrVisibilityUnsupported
}

func (s *rabbitSubscription) Close() error {
	s.closeOnce.Do(func() {
		_ = s.channel.Close()
	})
	return nil
}
