package consumer

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportswire/sportswire/pkg/broker"
	"github.com/sportswire/sportswire/pkg/dispatch"
	"github.com/sportswire/sportswire/pkg/models"
)

type fakeSubscription struct {
	mu      sync.Mutex
	pending []broker.Message
	acks    map[string]int
	extends map[string]int
	closed  bool
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{
		acks:    make(map[string]int),
		extends: make(map[string]int),
	}
}

func (s *fakeSubscription) enqueue(msgs ...broker.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, msgs...)
}

func (s *fakeSubscription) Fetch(ctx context.Context) ([]broker.Message, error) {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
	return batch, nil
}

func (s *fakeSubscription) Ack(_ context.Context, msg broker.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acks[msg.ID]++
	return nil
}

func (s *fakeSubscription) ExtendVisibility(_ context.Context, msg broker.Message, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extends[msg.ID]++
	return nil
}

func (s *fakeSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSubscription) ackCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acks[id]
}

func (s *fakeSubscription) extendCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extends[id]
}

type fakeBroker struct {
	sub *fakeSubscription
}

func (b *fakeBroker) Publish(context.Context, string, []byte) error { return nil }
func (b *fakeBroker) Subscribe(context.Context, string) (broker.Subscription, error) {
	return b.sub, nil
}
func (b *fakeBroker) Healthy(context.Context) error { return nil }
func (b *fakeBroker) Close() error                  { return nil }

func contentPayload(t *testing.T, requestID string) []byte {
	t.Helper()
	msg := models.NewContentMessage(requestID, models.RawArticle{
		Source:   "espn",
		SourceID: requestID,
		Title:    "headline",
	}, nil)
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	return data
}

// startConsumer runs c until the test ends, returning a stop func that waits
// for the loop to exit.
func startConsumer(t *testing.T, c *Consumer) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	stop := func() {
		c.Close()
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("consumer did not stop")
		}
	}
	t.Cleanup(stop)
	return stop
}

func TestRun_DeliversAndAcks(t *testing.T) {
	sub := newFakeSubscription()
	sub.enqueue(
		broker.Message{ID: "m1", Payload: contentPayload(t, "r1")},
		broker.Message{ID: "m2", Payload: contentPayload(t, "r2")},
	)

	var handled atomic.Int32
	d := dispatch.New(2, dispatch.HandlerFunc(func(context.Context, []byte) bool {
		handled.Add(1)
		return true
	}))
	defer d.Close(false)

	c := New(&fakeBroker{sub: sub}, models.TopicContentRaw, d, time.Minute)
	stop := startConsumer(t, c)

	require.Eventually(t, func() bool {
		return sub.ackCount("m1") == 1 && sub.ackCount("m2") == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), handled.Load())
	assert.Zero(t, sub.extendCount("m1"), "non-renewable messages must not be extended")

	stop()
	assert.True(t, sub.closed)
}

func TestRun_MalformedIsAckedAndDropped(t *testing.T) {
	sub := newFakeSubscription()
	sub.enqueue(
		broker.Message{ID: "bad-json", Payload: []byte(`{"topic_name":`)},
		broker.Message{ID: "bad-topic", Payload: []byte(`{"topic_name":"weather"}`)},
	)

	var handled atomic.Int32
	d := dispatch.New(2, dispatch.HandlerFunc(func(context.Context, []byte) bool {
		handled.Add(1)
		return true
	}))
	defer d.Close(false)

	c := New(&fakeBroker{sub: sub}, models.TopicContentRaw, d, time.Minute)
	startConsumer(t, c)

	require.Eventually(t, func() bool {
		return sub.ackCount("bad-json") == 1 && sub.ackCount("bad-topic") == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, handled.Load(), "malformed payloads must not reach the handler")
}

func TestRun_HandlerFailureStillAcks(t *testing.T) {
	sub := newFakeSubscription()
	sub.enqueue(broker.Message{ID: "m1", Payload: contentPayload(t, "r1")})

	d := dispatch.New(1, dispatch.HandlerFunc(func(context.Context, []byte) bool {
		return false
	}))
	defer d.Close(false)

	c := New(&fakeBroker{sub: sub}, models.TopicContentRaw, d, time.Minute)
	startConsumer(t, c)

	require.Eventually(t, func() bool {
		return sub.ackCount("m1") == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRun_SkipsRedeliveryWhileInFlight(t *testing.T) {
	sub := newFakeSubscription()
	gate := make(chan struct{})
	started := make(chan struct{}, 4)
	var handled atomic.Int32

	d := dispatch.New(2, dispatch.HandlerFunc(func(context.Context, []byte) bool {
		handled.Add(1)
		started <- struct{}{}
		<-gate
		return true
	}))
	defer d.Close(false)

	payload := contentPayload(t, "r1")
	sub.enqueue(broker.Message{ID: "m1", Payload: payload})

	c := New(&fakeBroker{sub: sub}, models.TopicContentRaw, d, time.Minute)
	startConsumer(t, c)

	<-started
	// Redeliver the same message while the first attempt is still running.
	sub.enqueue(broker.Message{ID: "m1", Payload: payload})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), handled.Load(), "in-flight redelivery must be skipped")

	close(gate)
	require.Eventually(t, func() bool {
		return sub.ackCount("m1") == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), handled.Load())
}

func TestRun_BackpressureBoundsInFlight(t *testing.T) {
	const workers = 2
	sub := newFakeSubscription()
	for i := 0; i < 6; i++ {
		id := string(rune('a' + i))
		sub.enqueue(broker.Message{ID: id, Payload: contentPayload(t, id)})
	}

	gate := make(chan struct{})
	var running, peak atomic.Int32
	d := dispatch.New(workers, dispatch.HandlerFunc(func(context.Context, []byte) bool {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		<-gate
		running.Add(-1)
		return true
	}))
	defer d.Close(false)

	c := New(&fakeBroker{sub: sub}, models.TopicContentRaw, d, time.Minute)
	startConsumer(t, c)

	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, peak.Load(), int32(workers))

	close(gate)
	require.Eventually(t, func() bool {
		for i := 0; i < 6; i++ {
			if sub.ackCount(string(rune('a'+i))) != 1 {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
	assert.LessOrEqual(t, peak.Load(), int32(workers))
}

func TestRun_ExtendsLeaseUntilCompletion(t *testing.T) {
	sub := newFakeSubscription()
	gate := make(chan struct{})

	d := dispatch.New(1, dispatch.HandlerFunc(func(context.Context, []byte) bool {
		<-gate
		return true
	}))
	defer d.Close(false)

	sub.enqueue(broker.Message{ID: "m1", Payload: contentPayload(t, "r1"), LeaseRenewable: true})

	// 90ms timeout renews every 60ms.
	c := New(&fakeBroker{sub: sub}, models.TopicContentRaw, d, 90*time.Millisecond)
	startConsumer(t, c)

	require.Eventually(t, func() bool {
		return sub.extendCount("m1") >= 2
	}, 2*time.Second, 10*time.Millisecond)

	close(gate)
	require.Eventually(t, func() bool {
		return sub.ackCount("m1") == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Let a renewal already past the cancel check land before sampling.
	time.Sleep(50 * time.Millisecond)
	renewals := sub.extendCount("m1")
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, renewals, sub.extendCount("m1"), "extender must stop after ack")
}
