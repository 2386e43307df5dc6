// Package fallback substitutes the last accepted value when detection of a
// field fails and escalates once failures keep coming.
package fallback

import (
	"context"
	"sync"

	"github.com/okian/tablewatch/internal/domain/model"
	"github.com/okian/tablewatch/pkg/logger"
	"github.com/okian/tablewatch/pkg/metrics"
)

// DefaultThreshold is the streak length at which a field turns stale.
const DefaultThreshold = 3

// Option configures a Manager.
type Option func(*Manager)

// WithThreshold sets the escalation streak K.
func WithThreshold(k int) Option {
	return func(m *Manager) {
		if k > 0 {
			m.threshold = k
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// Result is the outcome of one handled failure.
type Result struct {
	// Value is the last known good payload, nil when none exists.
	Value model.Payload
	// Severity is WARNING below the threshold and ERROR from it on.
	Severity model.Severity
	Streak   int
	// Stale is set once the streak reached the threshold.
	Stale bool
	// Escalated is set only on the failure that reached the threshold.
	Escalated bool
}

// Key identifies a streak: a field type and, for per-seat fields, the seat.
// Seat 0 tracks the field as a whole.
type Key struct {
	Field model.FieldType
	Seat  int
}

// KeyOf returns the streak key of a reading of t. Player payloads are
// tracked per seat; every other field has a single streak.
func KeyOf(t model.FieldType, p model.Payload) Key {
	if pl, ok := p.(model.Player); ok && t == model.FieldPlayer {
		return Key{Field: t, Seat: pl.Seat}
	}
	return Key{Field: t}
}

// Manager tracks consecutive failures per key. Safe for concurrent use.
type Manager struct {
	threshold int
	log       logger.Logger

	mu      sync.Mutex
	streaks map[Key]int
}

// New creates a Manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		threshold: DefaultThreshold,
		streaks:   make(map[Key]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logger.Get().Named("fallback")
	}
	return m
}

// Threshold returns K.
func (m *Manager) Threshold() int { return m.threshold }

// HandleFailure records a failure of t and returns lastKnownGood in place
// of the missing value.
func (m *Manager) HandleFailure(ctx context.Context, err error, t model.FieldType, lastKnownGood model.Payload) Result {
	return m.HandleFailureOf(ctx, err, Key{Field: t}, lastKnownGood)
}

// HandleFailureOf is HandleFailure for a single seat of a per-seat field.
func (m *Manager) HandleFailureOf(ctx context.Context, err error, k Key, lastKnownGood model.Payload) Result {
	m.mu.Lock()
	m.streaks[k]++
	streak := m.streaks[k]
	fieldStreak := m.fieldStreakLocked(k.Field)
	m.mu.Unlock()

	res := Result{Value: lastKnownGood, Severity: model.SeverityWarning, Streak: streak}
	if streak >= m.threshold {
		res.Severity = model.SeverityError
		res.Stale = true
		res.Escalated = streak == m.threshold
	}

	metrics.RecordFallback(string(k.Field), string(res.Severity))
	metrics.UpdateFallbackStreak(string(k.Field), fieldStreak)

	fields := []logger.Field{
		logger.String("field", string(k.Field)),
		logger.Int("streak", streak),
		logger.Bool("has_last_known", lastKnownGood != nil),
		logger.Error(err),
	}
	if k.Seat != 0 {
		fields = append(fields, logger.Int("seat", k.Seat))
	}
	switch {
	case res.Escalated:
		m.log.Error(ctx, "field is stale", fields...)
	case res.Stale:
		m.log.Debug(ctx, "field still stale", fields...)
	default:
		m.log.Warn(ctx, "using last known value", fields...)
	}
	return res
}

// RecordSuccess resets the field-wide streak of t. Per-seat streaks are
// reset by RecordSuccessOf.
func (m *Manager) RecordSuccess(t model.FieldType) {
	m.RecordSuccessOf(Key{Field: t})
}

// RecordSuccessOf resets the streak of k.
func (m *Manager) RecordSuccessOf(k Key) {
	m.mu.Lock()
	prev := m.streaks[k]
	delete(m.streaks, k)
	fieldStreak := m.fieldStreakLocked(k.Field)
	m.mu.Unlock()

	if prev > 0 {
		metrics.UpdateFallbackStreak(string(k.Field), fieldStreak)
	}
}

// Streak returns the longest current failure streak of any key of t.
func (m *Manager) Streak(t model.FieldType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fieldStreakLocked(t)
}

// StreakOf returns the current failure streak of k.
func (m *Manager) StreakOf(k Key) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streaks[k]
}

// Stale reports whether any key of t has reached the threshold.
func (m *Manager) Stale(t model.FieldType) bool {
	return m.Streak(t) >= m.threshold
}

// Reset clears every streak.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.streaks = make(map[Key]int)
	m.mu.Unlock()
}

func (m *Manager) fieldStreakLocked(t model.FieldType) int {
	n := 0
	for k, v := range m.streaks {
		if k.Field == t && v > n {
			n = v
		}
	}
	return n
}
