package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okian/tablewatch/internal/adapters/cache"
	"github.com/okian/tablewatch/internal/domain/confidence"
	"github.com/okian/tablewatch/internal/domain/fallback"
	"github.com/okian/tablewatch/internal/domain/fps"
	"github.com/okian/tablewatch/internal/domain/model"
	"github.com/okian/tablewatch/internal/domain/sanity"
	"github.com/okian/tablewatch/internal/domain/tracker"
	"github.com/okian/tablewatch/pkg/logger"
	"github.com/okian/tablewatch/pkg/metrics"
)

// Status is the result of applying one measurement.
type Status string

// Statuses.
const (
	StatusAccepted       Status = "accepted"
	StatusBelowThreshold Status = "below_threshold"
	StatusRejected       Status = "rejected"
	StatusFailed         Status = "failed"
)

// Outcome describes what Apply did with a measurement.
type Outcome struct {
	Status     Status                `json:"status"`
	Field      model.FieldType       `json:"type"`
	Level      model.ConfidenceLevel `json:"confidence_level,omitempty"`
	Violations []model.Violation     `json:"violations,omitempty"`
	// Value is the applied payload, or the last known good one when the
	// measurement was not applied.
	Value   model.Payload `json:"-"`
	Stale   bool          `json:"stale,omitempty"`
	Streak  int           `json:"streak,omitempty"`
	EventID string        `json:"event_id,omitempty"`
	FrameID uint64        `json:"frame_id"`
}

// EventSink receives classified events. The batcher implements it.
type EventSink interface {
	Add(ctx context.Context, e model.Event) bool
}

type discardEvents struct{}

func (discardEvents) Add(context.Context, model.Event) bool { return true }

// Recognizer turns a raw region into a measurement.
type Recognizer interface {
	Recognize(ctx context.Context, t model.FieldType, region []byte) (model.Measurement, error)
}

// RecognizerFunc adapts a function to Recognizer.
type RecognizerFunc func(ctx context.Context, t model.FieldType, region []byte) (model.Measurement, error)

// Recognize calls f.
func (f RecognizerFunc) Recognize(ctx context.Context, t model.FieldType, region []byte) (model.Measurement, error) {
	return f(ctx, t, region)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithPolicy sets the initial confidence policy.
func WithPolicy(p *confidence.Policy) DispatcherOption {
	return func(d *Dispatcher) {
		if p != nil {
			d.policy.Store(p)
		}
	}
}

// WithChecker sets the sanity checker.
func WithChecker(c *sanity.Checker) DispatcherOption {
	return func(d *Dispatcher) {
		if c != nil {
			d.checker = c
		}
	}
}

// WithFallback sets the fallback manager.
func WithFallback(f *fallback.Manager) DispatcherOption {
	return func(d *Dispatcher) {
		if f != nil {
			d.fallback = f
		}
	}
}

// WithTracker sets the metrics tracker.
func WithTracker(t *tracker.Tracker) DispatcherOption {
	return func(d *Dispatcher) {
		if t != nil {
			d.tracker = t
		}
	}
}

// WithFPS sets the FPS counter.
func WithFPS(c *fps.Counter) DispatcherOption {
	return func(d *Dispatcher) {
		if c != nil {
			d.fps = c
		}
	}
}

// WithCache sets the detection cache used by Recognize.
func WithCache(c *cache.Cache[model.Measurement]) DispatcherOption {
	return func(d *Dispatcher) {
		if c != nil {
			d.cache = c
		}
	}
}

// WithEvents sets where classified events go.
func WithEvents(s EventSink) DispatcherOption {
	return func(d *Dispatcher) {
		if s != nil {
			d.events = s
		}
	}
}

// WithRejectOnError decides whether ERROR violations reject an update.
// CRITICAL violations always do.
func WithRejectOnError(v bool) DispatcherOption {
	return func(d *Dispatcher) {
		d.rejectOnError = v
	}
}

// WithPersistInterval sets the minimum time between persistence requests.
func WithPersistInterval(iv time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if iv > 0 {
			d.persistInterval = iv
		}
	}
}

// WithDispatcherClock injects a time source.
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(l logger.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// Dispatcher owns the table snapshot. Fields update independently: each
// field has its own lock, and the snapshot pointer is swapped with
// compare-and-swap so updates to different fields never block each other.
type Dispatcher struct {
	policy atomic.Pointer[confidence.Policy]
	snap   atomic.Pointer[model.Snapshot]

	fieldMu map[model.FieldType]*sync.Mutex

	checker  *sanity.Checker
	fallback *fallback.Manager
	tracker  *tracker.Tracker
	fps      *fps.Counter
	cache    *cache.Cache[model.Measurement]
	events   EventSink

	rejectOnError   bool
	persistInterval time.Duration
	now             func() time.Time
	log             logger.Logger

	frame       atomic.Uint64
	frameStart  atomic.Int64
	lastPersist atomic.Int64
	version     atomic.Uint64
	persistReq  chan struct{}
}

// NewDispatcher creates a Dispatcher with an empty snapshot.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		fieldMu:         make(map[model.FieldType]*sync.Mutex),
		rejectOnError:   true,
		persistInterval: 5 * time.Second,
		now:             time.Now,
		events:          discardEvents{},
		persistReq:      make(chan struct{}, 1),
	}
	for _, t := range model.FieldTypes() {
		d.fieldMu[t] = &sync.Mutex{}
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.policy.Load() == nil {
		p, _ := confidence.New()
		d.policy.Store(p)
	}
	if d.log == nil {
		d.log = logger.Get().Named("dispatcher")
	}
	if d.checker == nil {
		d.checker = sanity.New()
	}
	if d.fallback == nil {
		d.fallback = fallback.New(fallback.WithLogger(d.log))
	}
	if d.tracker == nil {
		d.tracker = tracker.New()
	}
	if d.fps == nil {
		d.fps = fps.New()
	}
	if d.cache == nil {
		d.cache = cache.New[model.Measurement]()
	}
	d.snap.Store(&model.Snapshot{})
	d.lastPersist.Store(d.now().UnixNano())
	return d
}

// Restore replaces the snapshot, typically with one loaded at start-up.
func (d *Dispatcher) Restore(s model.Snapshot) { //nolint:gocritic // hugeParam: snapshots are values
	c := s.Clone()
	d.snap.Store(&c)
}

// Snapshot returns a copy of the current snapshot.
func (d *Dispatcher) Snapshot() model.Snapshot {
	return d.snap.Load().Clone()
}

// Version increases with every accepted update.
func (d *Dispatcher) Version() uint64 { return d.version.Load() }

// Policy returns the active confidence policy.
func (d *Dispatcher) Policy() *confidence.Policy { return d.policy.Load() }

// ReloadPolicy atomically swaps the confidence policy.
func (d *Dispatcher) ReloadPolicy(p *confidence.Policy) error {
	if p == nil {
		return fmt.Errorf("%w: nil policy", confidence.ErrInvalidThreshold)
	}
	d.policy.Store(p)
	d.log.Info(context.Background(), "confidence policy reloaded")
	return nil
}

// Tracker returns the metrics tracker.
func (d *Dispatcher) Tracker() *tracker.Tracker { return d.tracker }

// FPS returns the FPS counter.
func (d *Dispatcher) FPS() *fps.Counter { return d.fps }

// Cache returns the detection cache.
func (d *Dispatcher) Cache() *cache.Cache[model.Measurement] { return d.cache }

// Fallback returns the fallback manager.
func (d *Dispatcher) Fallback() *fallback.Manager { return d.fallback }

// PersistRequests signals when EndFrame found the persistence interval
// elapsed.
func (d *Dispatcher) PersistRequests() <-chan struct{} { return d.persistReq }

// BeginFrame opens a correlation scope and returns its id.
func (d *Dispatcher) BeginFrame() uint64 {
	id := d.frame.Add(1)
	d.frameStart.Store(d.now().UnixNano())
	return id
}

// CurrentFrame returns the id of the most recent frame.
func (d *Dispatcher) CurrentFrame() uint64 { return d.frame.Load() }

// EndFrame closes frame id, ticks the frame rate and requests persistence
// when the interval elapsed.
func (d *Dispatcher) EndFrame(ctx context.Context, id uint64) {
	now := d.now()
	if start := d.frameStart.Load(); start > 0 && id == d.frame.Load() {
		metrics.RecordFrame(float64(now.UnixNano()-start) / float64(time.Millisecond))
	}
	d.fps.Tick(fps.DefaultStream)
	metrics.UpdateFPS(fps.DefaultStream, d.fps.Average(fps.DefaultStream))

	last := d.lastPersist.Load()
	if now.UnixNano()-last < int64(d.persistInterval) {
		return
	}
	if !d.lastPersist.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	select {
	case d.persistReq <- struct{}{}:
		d.log.Debug(ctx, "persistence requested", logger.Uint64("frame_id", id))
	default:
	}
}

// NewHand clears per-hand state: board, hero cards and recent bets.
func (d *Dispatcher) NewHand(ctx context.Context) int {
	for {
		cur := d.snap.Load()
		next := cur.StartHand()
		next.LastUpdated = d.now()
		if d.snap.CompareAndSwap(cur, &next) {
			d.version.Add(1)
			d.log.Info(ctx, "new hand", logger.Int("hand_number", next.HandNumber))
			return next.HandNumber
		}
	}
}

// Apply runs m through the confidence gate and the sanity checker and, if
// accepted, updates the snapshot and emits a classified event. Rejected and
// sub-threshold measurements go to the fallback manager instead.
func (d *Dispatcher) Apply(ctx context.Context, m model.Measurement) (Outcome, error) { //nolint:gocritic // hugeParam: measurements are values
	t := m.Field()
	if m.Payload == nil {
		return Outcome{Status: StatusFailed}, model.ErrInvalidPayload
	}
	mu, ok := d.fieldMu[t]
	if !ok {
		return Outcome{Status: StatusFailed, Field: t}, fmt.Errorf("%w: %q", model.ErrUnknownFieldType, t)
	}
	if m.FrameID == 0 {
		m.FrameID = d.frame.Load()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = d.now()
	}
	m.Confidence = confidence.Clamp(m.Confidence)

	metrics.ObserveConfidence(string(t), m.Confidence)
	if !m.Cached {
		metrics.ObserveDetectionDuration(string(t), m.DurationMS())
	}

	policy := d.policy.Load()
	if !policy.ShouldEmit(m.Confidence, t) {
		metrics.RecordMeasurement(string(t), string(StatusBelowThreshold))
		d.record(m, false)
		err := fallback.Failure(t, fmt.Errorf("%w: %.3f < %.3f", fallback.ErrLowConfidence, m.Confidence, policy.For(t).Min))
		out := d.fail(ctx, m, err, StatusBelowThreshold)
		out.Level = model.LevelLow
		return out, nil
	}

	mu.Lock()
	var (
		prior      *model.Snapshot
		violations []model.Violation
		rejected   bool
	)
	for {
		prior = d.snap.Load()
		violations = d.checker.Validate(m, *prior)
		worst := model.MaxSeverity(violations)
		rejected = worst == model.SeverityCritical || (worst == model.SeverityError && d.rejectOnError)
		if rejected {
			break
		}
		next := prior.With(m)
		if d.snap.CompareAndSwap(prior, &next) {
			d.version.Add(1)
			break
		}
	}
	mu.Unlock()

	for _, v := range violations {
		metrics.RecordSanityViolation(string(t), string(v.Severity))
	}
	if rejected {
		return d.reject(ctx, m, prior, violations), nil
	}
	return d.accept(ctx, m, policy, violations), nil
}

func (d *Dispatcher) accept(ctx context.Context, m model.Measurement, policy *confidence.Policy, violations []model.Violation) Outcome { //nolint:gocritic // hugeParam: measurements are values
	t := m.Field()
	for _, v := range violations {
		d.log.Warn(ctx, "applying update with violation",
			logger.String("field", string(t)),
			logger.String("rule", v.Rule),
			logger.String("severity", string(v.Severity)),
			logger.String("message", v.Message),
		)
	}

	d.record(m, true)
	d.fps.Tick(string(t))
	d.fallback.RecordSuccessOf(fallback.KeyOf(t, m.Payload))
	metrics.RecordMeasurement(string(t), string(StatusAccepted))

	level := policy.Classify(m.Confidence, t)
	e := model.Event{
		ID:         uuid.NewString(),
		Kind:       model.KindUpdate,
		Field:      t,
		Data:       m.Payload,
		Level:      level,
		Confidence: m.Confidence,
		FrameID:    m.FrameID,
		Timestamp:  m.Timestamp,
		Violations: violations,
	}
	d.emit(ctx, e)

	return Outcome{
		Status:     StatusAccepted,
		Field:      t,
		Level:      level,
		Violations: violations,
		Value:      m.Payload,
		EventID:    e.ID,
		FrameID:    m.FrameID,
	}
}

func (d *Dispatcher) reject(ctx context.Context, m model.Measurement, prior *model.Snapshot, violations []model.Violation) Outcome { //nolint:gocritic // hugeParam: measurements are values
	t := m.Field()
	d.log.Warn(ctx, "update rejected",
		logger.String("field", string(t)),
		logger.String("identity", m.Payload.Identity()),
		logger.String("severity", string(model.MaxSeverity(violations))),
		logger.Int("violations", len(violations)),
		logger.Uint64("frame_id", m.FrameID),
	)
	metrics.RecordMeasurement(string(t), string(StatusRejected))
	d.record(m, false)

	e := model.Event{
		ID:         uuid.NewString(),
		Kind:       model.KindRejected,
		Field:      t,
		Data:       m.Payload,
		Level:      model.LevelLow,
		Confidence: m.Confidence,
		FrameID:    m.FrameID,
		Timestamp:  m.Timestamp,
		Violations: violations,
	}
	d.emit(ctx, e)

	out := d.fallbackFrom(ctx, m, *prior, fallback.Failure(t, fallback.ErrSanityRejected), StatusRejected)
	out.Violations = violations
	out.Level = model.LevelLow
	out.EventID = e.ID
	return out
}

// ReportFailure records a recognition failure of t. hint identifies the
// entity for per-seat fields and may be nil.
func (d *Dispatcher) ReportFailure(ctx context.Context, t model.FieldType, err error, hint model.Payload) Outcome {
	if !errors.Is(err, fallback.ErrDetectionFailed) {
		err = fallback.Failure(t, errors.Join(fallback.ErrDetectionFailed, err))
	}
	metrics.RecordMeasurement(string(t), string(StatusFailed))
	d.tracker.Record(tracker.Sample{Type: t, NoReading: true})
	return d.fail(ctx, model.Measurement{Payload: hint, FrameID: d.frame.Load()}, err, StatusFailed)
}

func (d *Dispatcher) fail(ctx context.Context, m model.Measurement, err error, status Status) Outcome { //nolint:gocritic // hugeParam: measurements are values
	return d.fallbackFrom(ctx, m, *d.snap.Load(), err, status)
}

func (d *Dispatcher) fallbackFrom(ctx context.Context, m model.Measurement, prior model.Snapshot, err error, status Status) Outcome { //nolint:gocritic // hugeParam: values
	t := m.Field()
	if fe := (*fallback.DetectionFailure)(nil); errors.As(err, &fe) {
		t = fe.Field
	}
	last := prior.LastKnown(t, m.Payload)
	res := d.fallback.HandleFailureOf(ctx, err, fallback.KeyOf(t, m.Payload), last)

	out := Outcome{
		Status:  status,
		Field:   t,
		Value:   res.Value,
		Stale:   res.Stale,
		Streak:  res.Streak,
		FrameID: m.FrameID,
	}
	if res.Escalated {
		d.emit(ctx, model.Event{
			ID:         uuid.NewString(),
			Kind:       model.KindStale,
			Field:      t,
			Data:       res.Value,
			Level:      model.LevelLow,
			FrameID:    m.FrameID,
			Timestamp:  d.now(),
			Violations: []model.Violation{{Field: t, Rule: "stale", Severity: res.Severity, Message: err.Error()}},
		})
	}
	return out
}

func (d *Dispatcher) record(m model.Measurement, success bool) { //nolint:gocritic // hugeParam: measurements are values
	d.tracker.Record(tracker.Sample{
		Type:       m.Field(),
		Success:    success,
		Confidence: m.Confidence,
		DurationMS: m.DurationMS(),
		Cached:     m.Cached,
	})
}

func (d *Dispatcher) emit(ctx context.Context, e model.Event) { //nolint:gocritic // hugeParam: events are values
	if !d.events.Add(ctx, e) {
		d.log.Debug(ctx, "event not queued",
			logger.String("event_id", e.ID),
			logger.String("kind", string(e.Kind)),
			logger.String("field", string(e.Field)),
		)
	}
}

// Recognize looks region up in the detection cache and runs r only on a
// miss. Cached results are applied like fresh ones but flagged as cached.
func (d *Dispatcher) Recognize(ctx context.Context, t model.FieldType, region []byte, r Recognizer) (Outcome, error) {
	key := cache.Hash(t, region)
	if m, ok := d.cache.Get(key); ok {
		m.Cached = true
		// The hand marker belongs to the read that saw the hand start.
		m.NewHand = false
		m.FrameID = d.frame.Load()
		m.Timestamp = d.now()
		return d.Apply(ctx, m)
	}

	m, err := r.Recognize(ctx, t, region)
	if err != nil {
		return d.ReportFailure(ctx, t, err, nil), nil
	}
	if m.Field() != t {
		return d.ReportFailure(ctx, t, fmt.Errorf("%w: recognizer returned %q", model.ErrUnknownFieldType, m.Field()), nil), nil
	}
	d.cache.Set(key, m)
	return d.Apply(ctx, m)
}

func (d *Dispatcher) update(ctx context.Context, p model.Payload, conf float64, method string, dur time.Duration) Outcome {
	out, _ := d.Apply(ctx, model.Measurement{
		Payload:    p,
		Confidence: conf,
		Method:     method,
		Duration:   dur,
		FrameID:    d.frame.Load(),
		Timestamp:  d.now(),
	})
	return out
}

// UpdatePot applies a pot reading.
func (d *Dispatcher) UpdatePot(ctx context.Context, amount, conf float64, method string, dur time.Duration) Outcome {
	return d.update(ctx, model.Pot{Amount: amount}, conf, method, dur)
}

// UpdateBoard applies a board reading.
func (d *Dispatcher) UpdateBoard(ctx context.Context, cards []string, conf float64, method string, dur time.Duration) Outcome {
	return d.update(ctx, model.Board{Cards: cards}, conf, method, dur)
}

// UpdateHeroCards applies a hero hand reading.
func (d *Dispatcher) UpdateHeroCards(ctx context.Context, cards []string, conf float64, method string, dur time.Duration) Outcome {
	return d.update(ctx, model.HeroCards{Cards: cards}, conf, method, dur)
}

// UpdatePlayer applies a player reading.
func (d *Dispatcher) UpdatePlayer(ctx context.Context, p model.Player, conf float64, method string, dur time.Duration) Outcome {
	return d.update(ctx, p, conf, method, dur)
}

// UpdateButton applies a dealer button reading.
func (d *Dispatcher) UpdateButton(ctx context.Context, seat int, conf float64, method string, dur time.Duration) Outcome {
	return d.update(ctx, model.Button{Seat: seat}, conf, method, dur)
}

// UpdateAction applies an observed player action.
func (d *Dispatcher) UpdateAction(ctx context.Context, a model.Action, conf float64, method string, dur time.Duration) Outcome {
	return d.update(ctx, a, conf, method, dur)
}
