// Package service wires the detection pipeline: ingestion queues, the state
// dispatcher, the event batcher and snapshot persistence.
package service

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/tablewatch/internal/adapters/cache"
	"github.com/okian/tablewatch/internal/adapters/mq/batcher"
	"github.com/okian/tablewatch/internal/adapters/mq/worker"
	"github.com/okian/tablewatch/internal/adapters/repository"
	"github.com/okian/tablewatch/internal/config"
	"github.com/okian/tablewatch/internal/domain/confidence"
	"github.com/okian/tablewatch/internal/domain/dedupe"
	"github.com/okian/tablewatch/internal/domain/fallback"
	"github.com/okian/tablewatch/internal/domain/fps"
	"github.com/okian/tablewatch/internal/domain/model"
	"github.com/okian/tablewatch/internal/domain/sanity"
	"github.com/okian/tablewatch/internal/domain/tracker"
	"github.com/okian/tablewatch/internal/domain/types"
	"github.com/okian/tablewatch/pkg/logger"
	"github.com/okian/tablewatch/pkg/metrics"
)

const systemMetricsInterval = 10 * time.Second

// Service owns one pipeline context. Nothing in it is process-wide, so
// several services can run side by side.
type Service struct {
	mu sync.RWMutex

	cfg   *config.Config
	sink  batcher.Sink
	store repository.Store
	now   func() time.Time

	dispatcher *Dispatcher
	batcher    *batcher.Batcher
	pool       *worker.Pool
	cache      *cache.Cache[model.Measurement]

	sessionID string
	startedAt time.Time
	started   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	saved     uint64

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig sets the pipeline configuration.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithSink sets where event batches are delivered.
func WithSink(sink batcher.Sink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithStore overrides the snapshot store chosen from the configuration.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock injects a time source into every time-dependent component.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a Service. Nothing runs until Start.
func New(opts ...Option) *Service {
	s := &Service{
		cfg: config.New(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sink == nil {
		s.sink = batcher.SinkFunc(func(context.Context, batcher.Batch) error { return nil })
	}
	return s
}

// Start builds the components, restores the last snapshot and starts the
// background loops.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	cfg := s.cfg

	policy, err := confidence.New(cfg.PolicyOptions()...)
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}

	s.cache = cache.New[model.Measurement](
		cache.WithTTL(cfg.CacheTTL()),
		cache.WithMaxSize(cfg.CacheMaxSize),
		cache.WithClock(s.now),
		cache.WithName("detection"),
	)

	batchOpts := []batcher.Option{
		batcher.WithInterval(cfg.BatchInterval()),
		batcher.WithMaxBatch(cfg.BatchMaxSize),
		batcher.WithBufferCap(cfg.BatchBufferCap),
		batcher.WithBlockTimeout(cfg.BatchBlock()),
		batcher.WithRetries(cfg.SinkRetries, cfg.SinkBackoff()),
		batcher.WithLogger(s.logger.Named("batcher")),
	}
	if cfg.DedupEnabled {
		batchOpts = append(batchOpts, batcher.WithDeduper(dedupe.NewWindowDeduper(
			dedupe.WithWindow(cfg.DedupWindow()),
			dedupe.WithMaxSize(cfg.DedupMaxKeys),
			dedupe.WithClock(s.now),
		)))
	}
	s.batcher = batcher.New(s.sink, batchOpts...)

	s.dispatcher = NewDispatcher(
		WithPolicy(policy),
		WithChecker(sanity.New(
			sanity.WithTableCapacity(cfg.TableCapacity),
			sanity.WithStackTolerance(cfg.StackTolerance),
		)),
		WithFallback(fallback.New(
			fallback.WithThreshold(cfg.FallbackThreshold),
			fallback.WithLogger(s.logger.Named("fallback")),
		)),
		WithTracker(tracker.New()),
		WithFPS(fps.New(fps.WithWindow(cfg.FPSWindow), fps.WithClock(s.now))),
		WithCache(s.cache),
		WithEvents(s.batcher),
		WithRejectOnError(cfg.RejectOnError),
		WithPersistInterval(cfg.PersistInterval()),
		WithDispatcherClock(s.now),
		WithDispatcherLogger(s.logger.Named("dispatcher")),
	)

	if s.store == nil {
		if cfg.PersistPath != "" {
			s.store = repository.NewFileStore(cfg.PersistPath,
				repository.WithLogger(s.logger.Named("repository")),
				repository.WithClock(s.now),
			)
		} else {
			s.store = repository.NewMemoryStore()
		}
	}
	restored, err := s.store.Load(ctx)
	switch {
	case err != nil:
		s.logger.Warn(ctx, "could not restore snapshot, starting empty", logger.Error(err))
	case restored != nil:
		s.dispatcher.Restore(*restored)
		s.logger.Info(ctx, "snapshot restored",
			logger.Int("hand_number", restored.HandNumber),
			logger.Int("players", len(restored.Players)),
		)
	}

	s.pool = worker.NewPool(worker.ApplierFunc(func(ctx context.Context, m model.Measurement) error {
		_, err := s.dispatcher.Apply(ctx, m)
		return err
	}), cfg.QueueSize, worker.WithPoolLogger(s.logger.Named("worker")))

	// Background loops outlive the Start context; Stop cancels them.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.batcher.Start(runCtx)
	s.pool.Start(runCtx)

	s.wg.Add(2)
	go s.persistLoop(runCtx)
	go s.monitorSystem(runCtx)

	s.sessionID = uuid.NewString()
	s.startedAt = s.now()
	s.saved = s.dispatcher.Version()
	s.started = true

	s.logger.Info(ctx, "pipeline started",
		logger.String("session_id", s.sessionID),
		logger.Int("queue_size", cfg.QueueSize),
		logger.Int("batch_max_size", cfg.BatchMaxSize),
		logger.Bool("dedup", cfg.DedupEnabled),
		logger.Bool("persistent", cfg.PersistPath != ""),
	)
	return nil
}

// persistLoop saves the snapshot when the dispatcher asks for it, and on
// its own interval in case no frames arrive.
func (s *Service) persistLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PersistInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.dispatcher.PersistRequests():
			s.persist(ctx)
		case <-ticker.C:
			s.persist(ctx)
		}
	}
}

// persist saves the snapshot if it changed since the last save. Failures are
// logged by the store and retried on the next request.
func (s *Service) persist(ctx context.Context) {
	v := s.dispatcher.Version()
	if v == s.savedVersion() {
		return
	}
	if err := s.store.Save(ctx, s.dispatcher.Snapshot()); err != nil {
		s.logger.Warn(ctx, "snapshot not persisted", logger.Error(err))
		return
	}
	s.mu.Lock()
	s.saved = v
	s.mu.Unlock()
}

func (s *Service) savedVersion() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saved
}

func (s *Service) monitorSystem(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	var lastNumGC uint32
	for {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		metrics.UpdateSystemMemoryUsage(ms.Alloc)
		metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
		if ms.NumGC != lastNumGC {
			pause := ms.PauseNs[(ms.NumGC+255)%256]
			metrics.RecordSystemGCPauseTime(float64(pause) / float64(time.Millisecond))
			lastNumGC = ms.NumGC
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop shuts the pipeline down: drain the queues, flush the batcher, persist
// the final snapshot, then clear the in-memory state.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	s.logger.Info(ctx, "stopping pipeline...")

	var firstErr error
	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "queues not fully drained", logger.Error(err))
		firstErr = err
	}
	if err := s.batcher.Close(ctx); err != nil {
		s.logger.Warn(ctx, "batcher close", logger.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}

	s.cancel()
	s.wg.Wait()

	if err := s.store.Save(ctx, s.dispatcher.Snapshot()); err != nil {
		s.logger.Error(ctx, "final snapshot not persisted", logger.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}

	s.cache.Clear()
	s.dispatcher.FPS().Reset()
	s.dispatcher.Tracker().Reset()
	s.dispatcher.Fallback().Reset()

	s.logger.Info(ctx, "pipeline stopped", logger.String("session_id", s.sessionID))
	return firstErr
}

// Submit queues m for asynchronous application. It returns false when the
// service is stopped, the field is unknown or its queue is full.
func (s *Service) Submit(ctx context.Context, m model.Measurement) bool { //nolint:gocritic // hugeParam: measurements are values
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return false
	}
	return s.pool.Submit(ctx, m)
}

// Apply applies m synchronously, bypassing the queues.
func (s *Service) Apply(ctx context.Context, m model.Measurement) (Outcome, error) { //nolint:gocritic // hugeParam: measurements are values
	d := s.Dispatcher()
	if d == nil {
		return Outcome{Status: StatusFailed}, ErrNotStarted
	}
	return d.Apply(ctx, m)
}

// Flush delivers pending events now.
func (s *Service) Flush(ctx context.Context) {
	s.mu.RLock()
	b := s.batcher
	s.mu.RUnlock()
	if b != nil {
		b.Flush(ctx)
	}
}

// Dispatcher returns the state dispatcher, or nil before Start.
func (s *Service) Dispatcher() *Dispatcher {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dispatcher
}

// Config returns the configuration the service was built with.
func (s *Service) Config() *config.Config { return s.cfg }

// SessionID identifies the current run; empty before Start.
func (s *Service) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// Started reports whether the service is running.
func (s *Service) Started() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// Stats returns a point-in-time status report.
func (s *Service) Stats(ctx context.Context) types.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := types.Stats{
		Started:   s.started,
		SessionID: s.sessionID,
		StartedAt: s.startedAt,
	}
	if s.dispatcher == nil {
		return st
	}

	snap := s.dispatcher.Snapshot()
	st.Frames = s.dispatcher.CurrentFrame()
	st.HandNumber = snap.HandNumber
	st.Version = s.dispatcher.Version()
	st.Events = s.batcher.Stats()
	st.Cache = s.cache.Stats()
	if s.started {
		st.Pending = s.pool.Pending(ctx)
	}

	fb := s.dispatcher.Fallback()
	for _, t := range model.FieldTypes() {
		n := fb.Streak(t)
		if n == 0 {
			continue
		}
		if st.Streaks == nil {
			st.Streaks = make(map[model.FieldType]int)
		}
		st.Streaks[t] = n
		if fb.Stale(t) {
			st.Stale = append(st.Stale, t)
		}
	}
	return st
}

// Snapshot returns the current table state. Before Start it is empty.
func (s *Service) Snapshot() model.Snapshot {
	d := s.Dispatcher()
	if d == nil {
		return model.Snapshot{}
	}
	return d.Snapshot()
}

// Detections returns the per-field detection statistics.
func (s *Service) Detections() []tracker.Record {
	d := s.Dispatcher()
	if d == nil {
		return nil
	}
	return d.Tracker().All()
}

// FrameRates returns the frame and per-field update rates.
func (s *Service) FrameRates() []fps.Stream {
	d := s.Dispatcher()
	if d == nil {
		return nil
	}
	return d.FPS().Snapshot()
}
