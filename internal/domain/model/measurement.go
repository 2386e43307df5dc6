package model

import "time"

// Measurement is one typed, confidence-scored observation of a single field.
// It is created once per sensing call and never mutated afterwards.
type Measurement struct {
	Payload    Payload
	Confidence float64
	Method     string
	Duration   time.Duration
	FrameID    uint64
	Timestamp  time.Time

	// NewHand marks the first observation of a new hand. It allows the pot
	// to shrink and the board to be cleared.
	NewHand bool

	// Cached is set when the payload was reused from the detection cache
	// instead of a fresh recognition.
	Cached bool
}

// NewMeasurement builds a Measurement stamped with the current time.
func NewMeasurement(p Payload, confidence float64, method string, d time.Duration) Measurement {
	return Measurement{
		Payload:    p,
		Confidence: confidence,
		Method:     method,
		Duration:   d,
		Timestamp:  time.Now(),
	}
}

// Field returns the field type of the payload, or "" for an empty measurement.
func (m Measurement) Field() FieldType {
	if m.Payload == nil {
		return ""
	}
	return m.Payload.Field()
}

// DurationMS returns the recognition duration in milliseconds.
func (m Measurement) DurationMS() float64 {
	return float64(m.Duration) / float64(time.Millisecond)
}
