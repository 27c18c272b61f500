// Package consumer runs the broker-to-dispatcher delivery loop: fetch under
// slot backpressure, drop malformed payloads, skip redeliveries of in-flight
// messages, extend leases while handlers run, and ack every terminal outcome.
package consumer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sportswire/sportswire/pkg/broker"
	"github.com/sportswire/sportswire/pkg/models"
	"github.com/sportswire/sportswire/pkg/telemetry"
)

// DefaultVisibilityTimeout is assumed when the caller passes none.
const DefaultVisibilityTimeout = 30 * time.Second

// fetchRetryDelay spaces retries after a failed fetch.
const fetchRetryDelay = time.Second

// Dispatcher is the slice of dispatch.Dispatcher the consumer needs.
type Dispatcher interface {
	Submit(ctx context.Context, raw []byte) <-chan bool
	MaxWorkers() int
}

type completion struct {
	msg     broker.Message
	ok      bool
	elapsed time.Duration
}

// Consumer drives one topic's subscription until closed.
type Consumer struct {
	broker            broker.Broker
	topic             string
	dispatcher        Dispatcher
	visibilityTimeout time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once

	logger *slog.Logger
}

// New wires a consumer for topic. The visibility timeout must match the
// broker's redelivery window; non-positive falls back to the default.
func New(b broker.Broker, topic string, d Dispatcher, visibilityTimeout time.Duration) *Consumer {
	if b == nil {
		panic("consumer: broker is required")
	}
	if d == nil {
		panic("consumer: dispatcher is required")
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = DefaultVisibilityTimeout
	}

	return &Consumer{
		broker:            b,
		topic:             topic,
		dispatcher:        d,
		visibilityTimeout: visibilityTimeout,
		stopCh:            make(chan struct{}),
		logger:            slog.Default().With("component", "consumer", "topic", topic),
	}
}

// Run subscribes and loops until Close is called or ctx is cancelled. Only a
// failed subscription returns an error; fetch failures are retried.
//
// The loop goroutine owns the slot count and the in-flight registry. Workers
// report back through a buffered completions channel, never by touching
// either directly, so the count always equals max workers minus in-flight.
func (c *Consumer) Run(ctx context.Context) error {
	sub, err := c.broker.Subscribe(ctx, c.topic)
	if err != nil {
		return err
	}
	defer sub.Close()

	maxWorkers := c.dispatcher.MaxWorkers()
	slots := maxWorkers
	completions := make(chan completion, maxWorkers)
	inflight := make(map[string]context.CancelFunc)

	// Leases on work still running at shutdown stop renewing; the messages
	// redeliver to the next consumer.
	defer func() {
		for _, cancelExtender := range inflight {
			cancelExtender()
		}
	}()

	c.logger.Info("Consumer started", "max_workers", maxWorkers)

	for {
		// Collect whatever finished since the last pass.
		for drained := false; !drained; {
			select {
			case done := <-completions:
				c.finish(ctx, sub, inflight, done)
				slots++
			default:
				drained = true
			}
		}

		// All workers busy: block until one finishes instead of fetching
		// messages nothing can run.
		if slots == 0 {
			select {
			case done := <-completions:
				c.finish(ctx, sub, inflight, done)
				slots++
			case <-c.stopCh:
				return nil
			case <-ctx.Done():
				return nil
			}
			continue
		}

		select {
		case <-c.stopCh:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := sub.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Fetch failed", "error", err)
			select {
			case <-time.After(fetchRetryDelay):
			case <-c.stopCh:
				return nil
			case <-ctx.Done():
				return nil
			}
			continue
		}

		for _, msg := range msgs {
			// A batch can outsize the free slots.
			for slots == 0 {
				select {
				case done := <-completions:
					c.finish(ctx, sub, inflight, done)
					slots++
				case <-ctx.Done():
					return nil
				}
			}

			env, err := models.ParseEnvelope(msg.Payload)
			if err != nil {
				c.logger.Warn("Dropping malformed message", "message_id", msg.ID, "error", err)
				c.ack(ctx, sub, msg)
				telemetry.MessagesConsumed.WithLabelValues(c.topic, "malformed").Inc()
				continue
			}

			if _, busy := inflight[msg.ID]; busy {
				// Redelivery raced a running attempt; that attempt's ack
				// settles the message.
				c.logger.Warn("Message already in flight, skipping redelivery", "message_id", msg.ID)
				continue
			}

			cancelExtender := func() {}
			if msg.LeaseRenewable {
				extCtx, cancel := context.WithCancel(context.Background())
				cancelExtender = cancel
				go c.extendLease(extCtx, sub, msg)
			}
			inflight[msg.ID] = cancelExtender

			msgCtx := telemetry.Extract(ctx, env.TelemetryHeaders)
			msgCtx, span := telemetry.Tracer("consumer").Start(msgCtx, c.topic+" consume",
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(
					attribute.String("messaging.message.id", msg.ID),
					attribute.String("messaging.destination.name", c.topic),
				))
			result := c.dispatcher.Submit(msgCtx, msg.Payload)
			span.End()

			slots--
			go awaitResult(msg, result, completions)
		}
	}
}

// awaitResult bridges one dispatcher future back to the loop. The completions
// buffer holds max workers entries, so the send never blocks.
func awaitResult(msg broker.Message, result <-chan bool, completions chan<- completion) {
	start := time.Now()
	ok := <-result
	completions <- completion{msg: msg, ok: ok, elapsed: time.Since(start)}
}

// finish settles one completed message: extender off, registry out, metrics,
// ack. Handler failures ack too; they are recorded in request state, and
// redelivering work that failed durably would just fail it again.
func (c *Consumer) finish(ctx context.Context, sub broker.Subscription, inflight map[string]context.CancelFunc, done completion) {
	if cancelExtender, ok := inflight[done.msg.ID]; ok {
		cancelExtender()
		delete(inflight, done.msg.ID)
	}

	outcome := "success"
	if !done.ok {
		outcome = "failure"
	}
	telemetry.HandlerDuration.WithLabelValues(c.topic, outcome).Observe(done.elapsed.Seconds())
	telemetry.MessagesConsumed.WithLabelValues(c.topic, outcome).Inc()

	c.ack(ctx, sub, done.msg)
}

func (c *Consumer) ack(ctx context.Context, sub broker.Subscription, msg broker.Message) {
	if err := sub.Ack(ctx, msg); err != nil {
		c.logger.Error("Failed to ack message", "message_id", msg.ID, "error", err)
	}
}

// extendLease renews msg's visibility at two thirds of the timeout until
// cancelled. Renewal failures log and continue; a lapsed lease redelivers the
// message, which the in-flight check then skips.
func (c *Consumer) extendLease(ctx context.Context, sub broker.Subscription, msg broker.Message) {
	interval := c.visibilityTimeout * 2 / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sub.ExtendVisibility(ctx, msg, c.visibilityTimeout); err != nil {
				if errors.Is(err, broker.ErrVisibilityUnsupported) {
					return
				}
				c.logger.Warn("Failed to extend message visibility", "message_id", msg.ID, "error", err)
			}
		}
	}
}

// Close stops the loop. Running handlers are not awaited; their completions
// go unread and their messages redeliver if the lease lapses first.
func (c *Consumer) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}
