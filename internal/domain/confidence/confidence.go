// Package confidence decides whether a measurement is admitted and how
// confident the pipeline is in it.
package confidence

import (
	"fmt"
	"math"

	"github.com/okian/tablewatch/internal/domain/model"
)

// Default thresholds.
const (
	DefaultMinEmit = 0.5
	DefaultHigh    = 0.85
)

// Thresholds holds the admission and high-confidence cut-offs of one type.
type Thresholds struct {
	Min  float64
	High float64
}

// Validate checks both values lie in [0,1] and Min <= High.
func (t Thresholds) Validate() error {
	if !inUnit(t.Min) || !inUnit(t.High) {
		return fmt.Errorf("%w: thresholds must be within [0,1], got min=%v high=%v", ErrInvalidThreshold, t.Min, t.High)
	}
	if t.Min > t.High {
		return fmt.Errorf("%w: min %v exceeds high %v", ErrInvalidThreshold, t.Min, t.High)
	}
	return nil
}

// Option applies a configuration option to the Policy.
type Option func(*Policy)

// WithThresholds sets the thresholds for one field type.
func WithThresholds(t model.FieldType, th Thresholds) Option {
	return func(p *Policy) {
		p.perType[t] = th
	}
}

// WithThresholdMap sets thresholds for several field types at once.
func WithThresholdMap(m map[model.FieldType]Thresholds) Option {
	return func(p *Policy) {
		for t, th := range m {
			p.perType[t] = th
		}
	}
}

// WithMinEmit sets the global admission threshold used for unknown types.
func WithMinEmit(v float64) Option {
	return func(p *Policy) {
		p.fallback.Min = v
	}
}

// WithDefaultHigh sets the high-confidence threshold used for unknown types.
func WithDefaultHigh(v float64) Option {
	return func(p *Policy) {
		p.fallback.High = v
	}
}

// Policy is an immutable snapshot of the admission thresholds. Replace the
// whole Policy to reload configuration.
type Policy struct {
	perType  map[model.FieldType]Thresholds
	fallback Thresholds
}

// New builds a Policy and validates every threshold.
func New(opts ...Option) (*Policy, error) {
	p := &Policy{
		perType:  make(map[model.FieldType]Thresholds),
		fallback: Thresholds{Min: DefaultMinEmit, High: DefaultHigh},
	}
	for _, opt := range opts {
		opt(p)
	}

	if err := p.fallback.Validate(); err != nil {
		return nil, fmt.Errorf("global: %w", err)
	}
	for t, th := range p.perType {
		if !t.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
		}
		if err := th.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", t, err)
		}
	}
	return p, nil
}

// For returns the thresholds applied to t.
func (p *Policy) For(t model.FieldType) Thresholds {
	if th, ok := p.perType[t]; ok {
		return th
	}
	return p.fallback
}

// ShouldEmit reports whether c meets the admission threshold of t.
func (p *Policy) ShouldEmit(c float64, t model.FieldType) bool {
	return Clamp(c) >= p.For(t).Min
}

// Classify maps c to LOW, MEDIUM or HIGH relative to the thresholds of t.
func (p *Policy) Classify(c float64, t model.FieldType) model.ConfidenceLevel {
	c = Clamp(c)
	th := p.For(t)
	switch {
	case c >= th.High:
		return model.LevelHigh
	case c >= th.Min:
		return model.LevelMedium
	default:
		return model.LevelLow
	}
}

// Clamp forces c into [0,1]. NaN is treated as no confidence.
func Clamp(c float64) float64 {
	switch {
	case math.IsNaN(c), c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

func inUnit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
