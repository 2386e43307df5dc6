package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// DecodePayload decodes raw JSON into the payload type registered for t.
func DecodePayload(t FieldType, raw json.RawMessage) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch t {
	case FieldPot:
		var v Pot
		err = json.Unmarshal(raw, &v)
		p = v
	case FieldBoard:
		var v Board
		err = json.Unmarshal(raw, &v)
		p = v
	case FieldCard:
		var v HeroCards
		err = json.Unmarshal(raw, &v)
		p = v
	case FieldPlayer:
		var v Player
		err = json.Unmarshal(raw, &v)
		p = v
	case FieldButton:
		var v Button
		err = json.Unmarshal(raw, &v)
		p = v
	case FieldAction:
		var v Action
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFieldType, t)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidPayload, t, err)
	}
	return p, nil
}

// measurementJSON is the wire shape of a Measurement.
type measurementJSON struct {
	Type       FieldType       `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Confidence float64         `json:"confidence"`
	Method     string          `json:"method,omitempty"`
	DurationMS float64         `json:"duration_ms"`
	FrameID    uint64          `json:"frame_id,omitempty"`
	Timestamp  *time.Time      `json:"timestamp,omitempty"`
	NewHand    bool            `json:"new_hand,omitempty"`
	Cached     bool            `json:"cached,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (m Measurement) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(m.Payload)
	if err != nil {
		return nil, err
	}
	w := measurementJSON{
		Type:       m.Field(),
		Payload:    raw,
		Confidence: m.Confidence,
		Method:     m.Method,
		DurationMS: m.DurationMS(),
		FrameID:    m.FrameID,
		NewHand:    m.NewHand,
		Cached:     m.Cached,
	}
	if !m.Timestamp.IsZero() {
		ts := m.Timestamp
		w.Timestamp = &ts
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Measurement) UnmarshalJSON(data []byte) error {
	var w measurementJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p, err := DecodePayload(w.Type, w.Payload)
	if err != nil {
		return err
	}
	*m = Measurement{
		Payload:    p,
		Confidence: w.Confidence,
		Method:     w.Method,
		Duration:   time.Duration(w.DurationMS * float64(time.Millisecond)),
		FrameID:    w.FrameID,
		NewHand:    w.NewHand,
		Cached:     w.Cached,
	}
	if w.Timestamp != nil {
		m.Timestamp = *w.Timestamp
	}
	return nil
}

// eventJSON is the wire shape of an Event.
type eventJSON struct {
	ID         string          `json:"id"`
	Kind       EventKind       `json:"kind"`
	Type       FieldType       `json:"type"`
	Data       json.RawMessage `json:"data,omitempty"`
	Level      ConfidenceLevel `json:"confidence_level"`
	Confidence float64         `json:"confidence"`
	FrameID    uint64          `json:"frame_id"`
	Timestamp  time.Time       `json:"timestamp"`
	Violations []Violation     `json:"violations,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (e Event) MarshalJSON() ([]byte, error) {
	w := eventJSON{
		ID:         e.ID,
		Kind:       e.Kind,
		Type:       e.Field,
		Level:      e.Level,
		Confidence: e.Confidence,
		FrameID:    e.FrameID,
		Timestamp:  e.Timestamp,
		Violations: e.Violations,
	}
	if e.Data != nil {
		raw, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		w.Data = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w eventJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = Event{
		ID:         w.ID,
		Kind:       w.Kind,
		Field:      w.Type,
		Level:      w.Level,
		Confidence: w.Confidence,
		FrameID:    w.FrameID,
		Timestamp:  w.Timestamp,
		Violations: w.Violations,
	}
	if len(w.Data) > 0 && string(w.Data) != "null" {
		p, err := DecodePayload(w.Type, w.Data)
		if err != nil {
			return err
		}
		e.Data = p
	}
	return nil
}
