package replay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/tablewatch/internal/adapters/mq/batcher"
	"github.com/okian/tablewatch/internal/adapters/repository"
	service "github.com/okian/tablewatch/internal/app"
	"github.com/okian/tablewatch/internal/config"
	"github.com/okian/tablewatch/internal/domain/model"
	"github.com/okian/tablewatch/pkg/logger"
)

// Option configures a Runner.
type Option func(*Runner)

// WithConfig sets the pipeline configuration. Persistence settings are
// ignored; a replay always starts from an empty table.
func WithConfig(cfg *config.Config) Option {
	return func(r *Runner) {
		if cfg != nil {
			r.cfg = cfg
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// Runner feeds recorded measurements through an in-process pipeline.
type Runner struct {
	cfg *config.Config
	log logger.Logger
}

// NewRunner creates a Runner with the default configuration.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{cfg: config.New()}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Get().Named("replay")
	}
	return r
}

// clock follows the measurement timestamps so rates, cache expiry and the
// dedup window behave as they did when the stream was recorded.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) advance(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t
	}
}

// collector is the batch sink of a replay.
type collector struct {
	mu      sync.Mutex
	batches []batcher.Batch
}

func (c *collector) Deliver(_ context.Context, b batcher.Batch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, b)
	return nil
}

func (c *collector) events() (int, []model.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []model.Event
	for _, b := range c.batches {
		out = append(out, b.Events...)
	}
	return len(c.batches), out
}

// Run applies ms in order, one frame per run of equal frame ids, and
// returns the session summary.
func (r *Runner) Run(ctx context.Context, ms []model.Measurement) (*Summary, error) {
	if len(ms) == 0 {
		return nil, ErrNoMeasurements
	}
	began := time.Now()

	cfg := *r.cfg
	cfg.PersistPath = ""

	clk := &clock{now: ms[0].Timestamp}
	if clk.now.IsZero() {
		clk.now = DefaultGenerateConfig().Start
	}
	sink := &collector{}
	svc := service.New(
		service.WithConfig(&cfg),
		service.WithSink(sink),
		service.WithStore(repository.NewMemoryStore()),
		service.WithClock(clk.Now),
		service.WithLogger(r.log.Named("pipeline")),
	)
	if err := svc.Start(ctx); err != nil {
		return nil, fmt.Errorf("start pipeline: %w", err)
	}
	d := svc.Dispatcher()

	sum := &Summary{
		SessionID:     svc.SessionID(),
		Measurements:  len(ms),
		Outcomes:      make(map[string]int),
		EventsByKind:  make(map[model.EventKind]int),
		EventsByLevel: make(map[model.ConfidenceLevel]int),
	}

	var (
		frame   uint64
		open    bool
		current uint64
	)
	for i := range ms {
		if err := ctx.Err(); err != nil {
			_ = svc.Stop(context.WithoutCancel(ctx))
			return nil, err
		}
		m := ms[i]
		if !open || m.FrameID != current {
			if open {
				d.EndFrame(ctx, frame)
			}
			clk.advance(m.Timestamp)
			frame = d.BeginFrame()
			current = m.FrameID
			open = true
			sum.Frames++
		}
		clk.advance(m.Timestamp)
		m.FrameID = frame

		out, err := svc.Apply(ctx, m)
		if err != nil {
			sum.Errors++
			r.log.Warn(ctx, "measurement not applied", logger.Int("index", i), logger.Error(err))
			continue
		}
		sum.Outcomes[string(out.Status)]++
	}
	if open {
		d.EndFrame(ctx, frame)
	}

	svc.Flush(ctx)
	st := svc.Stats(ctx)
	sum.Suppressed = st.Events.Suppressed
	sum.Dropped = st.Events.Dropped
	sum.Hands = st.HandNumber
	sum.Detections = svc.Detections()
	sum.FrameRates = svc.FrameRates()
	sum.Snapshot = svc.Snapshot()

	if err := svc.Stop(ctx); err != nil {
		r.log.Warn(ctx, "pipeline stop", logger.Error(err))
	}

	batches, events := sink.events()
	sum.Batches = batches
	sum.Events = len(events)
	for i := range events {
		sum.EventsByKind[events[i].Kind]++
		sum.EventsByLevel[events[i].Level]++
	}
	sum.Elapsed = time.Since(began)

	r.log.Info(ctx, "replay finished",
		logger.String("session_id", sum.SessionID),
		logger.Int("measurements", sum.Measurements),
		logger.Int("frames", sum.Frames),
		logger.Int("events", sum.Events),
		logger.Duration("elapsed", sum.Elapsed),
	)
	return sum, nil
}
