// Package batcher groups events into batches and hands them to a single sink
// on a size or time trigger.
package batcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okian/tablewatch/internal/domain/dedupe"
	"github.com/okian/tablewatch/internal/domain/model"
	"github.com/okian/tablewatch/pkg/logger"
	"github.com/okian/tablewatch/pkg/metrics"
)

// Default batcher configuration.
const (
	DefaultInterval  = 100 * time.Millisecond
	DefaultMaxBatch  = 50
	DefaultBufferCap = 1000
	DefaultBlockFor  = 10 * time.Millisecond
	DefaultRetries   = 3
	DefaultBackoff   = 50 * time.Millisecond
)

// Batch is one delivery unit. Events keep arrival order.
type Batch struct {
	ID        string        `json:"id"`
	Seq       uint64        `json:"seq"`
	Events    []model.Event `json:"events"`
	CreatedAt time.Time     `json:"created_at"`
}

// Sink receives finished batches.
type Sink interface {
	Deliver(ctx context.Context, b Batch) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, b Batch) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, b Batch) error { return f(ctx, b) }

// Stats is a point-in-time view of the batcher counters.
type Stats struct {
	Added         int64 `json:"added"`
	Suppressed    int64 `json:"suppressed"`
	Dropped       int64 `json:"dropped"`
	Delivered     int64 `json:"delivered"`
	Batches       int64 `json:"batches"`
	FailedBatches int64 `json:"failed_batches"`
	Pending       int   `json:"pending"`
}

// Batcher is safe for concurrent use by any number of producers.
type Batcher struct {
	sink      Sink
	interval  time.Duration
	maxBatch  int
	bufferCap int
	blockFor  time.Duration
	retries   int
	backoff   time.Duration
	dedup     dedupe.Deduper
	log       logger.Logger

	mu      sync.Mutex
	pending []model.Event
	space   chan struct{} // closed and replaced whenever events leave pending
	closed  bool

	// deliverMu serialises take-and-deliver so batches reach the sink in order.
	deliverMu sync.Mutex

	full    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	started atomic.Bool
	seq     atomic.Uint64

	added, suppressed, dropped, delivered, batches, failed atomic.Int64
}

// New creates a Batcher delivering to sink. Call Start to run the flush loop.
func New(sink Sink, opts ...Option) *Batcher {
	b := &Batcher{
		sink:      sink,
		interval:  DefaultInterval,
		maxBatch:  DefaultMaxBatch,
		bufferCap: DefaultBufferCap,
		blockFor:  DefaultBlockFor,
		retries:   DefaultRetries,
		backoff:   DefaultBackoff,
		space:     make(chan struct{}),
		full:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.sink == nil {
		b.sink = SinkFunc(func(context.Context, Batch) error { return nil })
	}
	if b.bufferCap < b.maxBatch {
		b.bufferCap = b.maxBatch
	}
	if b.log == nil {
		b.log = logger.Get().Named("batcher")
	}
	return b
}

// Start runs the flush loop until Close.
func (b *Batcher) Start(ctx context.Context) {
	if !b.started.CompareAndSwap(false, true) {
		return
	}
	go b.run(ctx)
}

func (b *Batcher) run(ctx context.Context) {
	defer close(b.done)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ctx.Done():
			return
		case <-b.full:
			b.flush(ctx, true)
		case <-ticker.C:
			b.flush(ctx, false)
		}
	}
}

// Add queues e for delivery. It returns false when e was suppressed as a
// duplicate or the batcher is closed. When the buffer is full Add waits up to
// the block timeout for room, then drops the oldest pending event.
func (b *Batcher) Add(ctx context.Context, e model.Event) bool { //nolint:gocritic // hugeParam: events are values
	var key string
	if b.dedup != nil {
		key = e.DedupKey()
		if b.dedup.SeenAndRecord(ctx, key) {
			b.suppressed.Add(1)
			metrics.RecordEventSuppressed()
			return false
		}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.forget(ctx, key)
		return false
	}

	if len(b.pending) >= b.bufferCap {
		b.waitForSpaceLocked(ctx)
		if b.closed {
			b.mu.Unlock()
			b.forget(ctx, key)
			return false
		}
	}
	var evicted *model.Event
	if len(b.pending) >= b.bufferCap {
		oldest := b.pending[0]
		evicted = &oldest
		b.pending = b.pending[1:]
	}

	b.pending = append(b.pending, e)
	n := len(b.pending)
	b.mu.Unlock()

	if evicted != nil {
		b.dropped.Add(1)
		metrics.RecordEventDropped("buffer_full", 1)
		b.forget(ctx, evicted.DedupKey())
		b.log.Warn(ctx, "dropped oldest pending event",
			logger.String("event_id", evicted.ID),
			logger.String("field", string(evicted.Field)),
			logger.Int("buffer_cap", b.bufferCap),
		)
	}

	b.added.Add(1)
	metrics.RecordEventEmitted(string(e.Kind), string(e.Level))
	metrics.UpdateBatchPending(n)
	if n >= b.maxBatch {
		select {
		case b.full <- struct{}{}:
		default:
		}
	}
	return true
}

// waitForSpaceLocked releases b.mu while waiting and reacquires it.
func (b *Batcher) waitForSpaceLocked(ctx context.Context) {
	if b.blockFor <= 0 {
		return
	}
	timer := time.NewTimer(b.blockFor)
	defer timer.Stop()
	for len(b.pending) >= b.bufferCap && !b.closed {
		space := b.space
		b.mu.Unlock()
		select {
		case <-space:
			b.mu.Lock()
		case <-timer.C:
			b.mu.Lock()
			return
		case <-ctx.Done():
			b.mu.Lock()
			return
		}
	}
}

func (b *Batcher) forget(ctx context.Context, key string) {
	if b.dedup != nil && key != "" {
		b.dedup.Unrecord(ctx, key)
	}
}

// take removes up to maxBatch events. With fullOnly it takes nothing unless a
// whole batch is pending.
func (b *Batcher) take(fullOnly bool) []model.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.pending)
	if n == 0 || (fullOnly && n < b.maxBatch) {
		return nil
	}
	n = min(n, b.maxBatch)
	out := make([]model.Event, n)
	copy(out, b.pending[:n])
	b.pending = b.pending[n:]
	if len(b.pending) == 0 {
		b.pending = nil
	}

	close(b.space)
	b.space = make(chan struct{})
	metrics.UpdateBatchPending(len(b.pending))
	return out
}

// flush delivers pending events. With fullOnly only complete batches leave.
func (b *Batcher) flush(ctx context.Context, fullOnly bool) {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()
	for {
		events := b.take(fullOnly)
		if events == nil {
			return
		}
		_ = b.deliver(ctx, events)
	}
}

// Flush synchronously delivers everything pending.
func (b *Batcher) Flush(ctx context.Context) {
	b.flush(ctx, false)
}

func (b *Batcher) deliver(ctx context.Context, events []model.Event) error {
	batch := Batch{
		ID:        uuid.NewString(),
		Seq:       b.seq.Add(1),
		Events:    events,
		CreatedAt: time.Now(),
	}

	var err error
	wait := b.backoff
	for attempt := 0; attempt <= b.retries; attempt++ {
		if attempt > 0 {
			metrics.RecordBatchRetry()
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				attempt = b.retries
			}
			wait *= 2
		}
		if err = b.sink.Deliver(ctx, batch); err == nil {
			b.batches.Add(1)
			b.delivered.Add(int64(len(events)))
			metrics.RecordBatchDelivered(len(events))
			return nil
		}
	}

	b.failed.Add(1)
	b.dropped.Add(int64(len(events)))
	metrics.RecordBatchDeliveryError()
	metrics.RecordEventDropped("delivery_failed", len(events))
	b.log.Error(ctx, "dropping batch after retries",
		logger.String("batch_id", batch.ID),
		logger.Uint64("seq", batch.Seq),
		logger.Int("events", len(events)),
		logger.Int("retries", b.retries),
		logger.Error(err),
	)
	return fmt.Errorf("%w: batch %s: %w", ErrDelivery, batch.ID, err)
}

// Pending returns the number of events waiting for delivery.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Stats returns the batcher counters.
func (b *Batcher) Stats() Stats {
	return Stats{
		Added:         b.added.Load(),
		Suppressed:    b.suppressed.Load(),
		Dropped:       b.dropped.Load(),
		Delivered:     b.delivered.Load(),
		Batches:       b.batches.Load(),
		FailedBatches: b.failed.Load(),
		Pending:       b.Pending(),
	}
}

// Close stops accepting events, stops the flush loop and delivers whatever
// is still pending. It is safe to call more than once.
func (b *Batcher) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.space)
	b.space = make(chan struct{})
	b.mu.Unlock()

	close(b.stop)
	if b.started.Load() {
		select {
		case <-b.done:
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrClosed, ctx.Err())
		}
	}
	b.Flush(ctx)
	return nil
}
