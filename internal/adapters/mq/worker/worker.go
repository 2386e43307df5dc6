// Package worker runs the per-field ingestion workers that hand queued
// measurements to the dispatcher.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/tablewatch/internal/adapters/mq/queue"
	"github.com/okian/tablewatch/internal/domain/model"
	"github.com/okian/tablewatch/pkg/logger"
	"github.com/okian/tablewatch/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultQueueCapacity = 1024
	poolShutdownTimeout  = 30 * time.Second
)

// Applier consumes one measurement.
type Applier interface {
	Apply(ctx context.Context, m model.Measurement) error
}

// ApplierFunc adapts a function to Applier.
type ApplierFunc func(ctx context.Context, m model.Measurement) error

// Apply calls f.
func (f ApplierFunc) Apply(ctx context.Context, m model.Measurement) error { return f(ctx, m) }

// Queue defines how workers receive measurements.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Item
}

// Worker processes measurements from one queue.
type Worker interface {
	// Run starts the worker loop until the queue drains after Close or ctx is canceled.
	Run(ctx context.Context)

	// Shutdown waits for the worker to finish the items already queued.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker for processing measurements.
type InMemoryWorker struct {
	queue   Queue
	applier Applier
	name    string

	done     chan struct{}
	finished sync.Once

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, applier Applier, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:   q,
		applier: applier,
		name:    "worker",
		done:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Get().Named(w.name)
	}

	return w
}

// Run starts the worker loop. Items are applied strictly in queue order.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer w.finished.Do(func() { close(w.done) })

	for m := range w.queue.Dequeue(ctx) {
		if err := w.process(ctx, m); err != nil {
			w.logger.Error(ctx, "error applying measurement",
				logger.String("field", string(m.Field())),
				logger.Uint64("frame_id", m.FrameID),
				logger.Error(err),
			)
		}
	}
}

// Shutdown waits for Run to return.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) process(ctx context.Context, m model.Measurement) (err error) { //nolint:gocritic // hugeParam: measurements are values
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("apply panicked: %v", r)
		}
		if err != nil {
			metrics.RecordWorkerError()
			metrics.RecordErrorByComponent("worker", "apply_error")
		}
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()
	return w.applier.Apply(ctx, m)
}

// Pool owns one queue and one worker per field type so each field keeps its
// arrival order while unrelated fields run in parallel.
type Pool struct {
	queues  map[model.FieldType]*queue.InMemoryQueue
	workers map[model.FieldType]*InMemoryWorker

	mu      sync.RWMutex
	closed  bool
	started bool

	logger logger.Logger
}

// NewPool creates a pool with a queue of capacity per field type.
func NewPool(applier Applier, capacity int, opts ...PoolOption) *Pool {
	if capacity < 1 {
		capacity = defaultQueueCapacity
	}
	p := &Pool{
		queues:  make(map[model.FieldType]*queue.InMemoryQueue),
		workers: make(map[model.FieldType]*InMemoryWorker),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Get().Named("worker-pool")
	}

	for _, t := range model.FieldTypes() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(capacity), queue.WithName(string(t)))
		p.queues[t] = q
		p.workers[t] = NewInMemoryWorker(q, applier,
			WithName("worker-"+string(t)),
			WithLogger(p.logger.Named(string(t))),
		)
	}
	return p
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Submit routes m to the queue of its field. It returns false when the
// field is unknown, the queue is full or the pool is shut down.
func (p *Pool) Submit(ctx context.Context, m model.Measurement) bool { //nolint:gocritic // hugeParam: measurements are values
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	q, ok := p.queues[m.Field()]
	if !ok {
		metrics.RecordQueueEnqueueError(string(m.Field()), "unknown_field")
		return false
	}
	return q.Enqueue(ctx, m)
}

// Pending returns the number of queued measurements per field.
func (p *Pool) Pending(ctx context.Context) map[model.FieldType]int {
	out := make(map[model.FieldType]int, len(p.queues))
	for t, q := range p.queues {
		out[t] = q.Len(ctx)
	}
	return out
}

// Shutdown stops accepting measurements and waits for every queued one to
// be applied.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	started := p.started
	p.mu.Unlock()

	for t, q := range p.queues {
		if err := q.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.String("field", string(t)), logger.Error(err))
		}
	}

	if !started {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var firstErr error
	for t, w := range p.workers {
		if err := w.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.String("field", string(t)))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
