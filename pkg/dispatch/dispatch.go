// Package dispatch runs message handlers on a bounded worker pool. The pool
// never provides backpressure itself; the consumer's slot accounting keeps
// submissions at or below the worker count.
package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/sportswire/sportswire/pkg/telemetry"
)

// DefaultMaxWorkers sizes the pool when the caller does not.
const DefaultMaxWorkers = 10

// Handler processes one raw broker payload. The returned bool reports whether
// processing succeeded; the message is acked upstream either way, with
// failures surfacing in request state rather than through redelivery.
type Handler interface {
	Handle(ctx context.Context, raw []byte) bool
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, raw []byte) bool

func (f HandlerFunc) Handle(ctx context.Context, raw []byte) bool {
	return f(ctx, raw)
}

type task struct {
	raw    []byte
	span   trace.SpanContext
	result chan<- bool
}

// Dispatcher owns a fixed set of worker goroutines draining a task queue.
type Dispatcher struct {
	handler    Handler
	maxWorkers int
	tasks      chan task

	poolCtx    context.Context
	cancelPool context.CancelFunc

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
	wg        sync.WaitGroup

	logger *slog.Logger
}

// New starts maxWorkers workers running handler. A non-positive maxWorkers
// falls back to DefaultMaxWorkers.
func New(maxWorkers int, handler Handler) *Dispatcher {
	if handler == nil {
		panic("dispatch: handler is required")
	}
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		handler:    handler,
		maxWorkers: maxWorkers,
		tasks:      make(chan task, maxWorkers),
		poolCtx:    ctx,
		cancelPool: cancel,
		logger:     slog.Default().With("component", "dispatcher"),
	}

	for i := 0; i < maxWorkers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// MaxWorkers reports the pool size; the consumer sizes its slot count to it.
func (d *Dispatcher) MaxWorkers() int {
	return d.maxWorkers
}

// Submit queues raw for handling and returns a channel that yields the
// handler's result exactly once. The calling context's span is captured here
// and re-established inside the worker, so handler spans parent correctly.
//
// Submit never blocks: a closed dispatcher or a full queue yields false
// immediately.
func (d *Dispatcher) Submit(ctx context.Context, raw []byte) <-chan bool {
	result := make(chan bool, 1)
	t := task{raw: raw, span: telemetry.CaptureSpan(ctx), result: result}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		result <- false
		return result
	}

	select {
	case d.tasks <- t:
	default:
		// Only reachable when callers exceed the slot contract.
		d.logger.Warn("Task queue full, rejecting message")
		result <- false
	}
	return result
}

// Close stops accepting work and waits for running handlers to return. With
// cancelPending the pool context is cancelled first, so queued tasks are
// failed without running and in-flight handlers see cancellation.
func (d *Dispatcher) Close(cancelPending bool) {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()

		if cancelPending {
			d.cancelPool()
		}
		close(d.tasks)
	})
	d.wg.Wait()
	d.cancelPool()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for t := range d.tasks {
		if d.poolCtx.Err() != nil {
			t.result <- false
			continue
		}
		ctx := telemetry.RestoreSpan(d.poolCtx, t.span)
		t.result <- d.handler.Handle(ctx, t.raw)
	}
}
