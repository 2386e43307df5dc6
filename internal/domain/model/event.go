package model

import "time"

// ConfidenceLevel classifies a confidence relative to per-type thresholds.
type ConfidenceLevel string

// Confidence levels in increasing order.
const (
	LevelLow    ConfidenceLevel = "LOW"
	LevelMedium ConfidenceLevel = "MEDIUM"
	LevelHigh   ConfidenceLevel = "HIGH"
)

// Rank orders levels so LOW < MEDIUM < HIGH.
func (l ConfidenceLevel) Rank() int {
	switch l {
	case LevelLow:
		return 1
	case LevelMedium:
		return 2
	case LevelHigh:
		return 3
	}
	return 0
}

// EventKind tells consumers what an event reports.
type EventKind string

// Event kinds.
const (
	// KindUpdate reports an accepted field update.
	KindUpdate EventKind = "update"
	// KindRejected reports an update rejected by the sanity checker.
	KindRejected EventKind = "rejected"
	// KindStale reports a field whose failure streak marked it stale.
	KindStale EventKind = "stale"
)

// Event is an immutable, classified notification for downstream consumers.
type Event struct {
	ID         string
	Kind       EventKind
	Field      FieldType
	Data       Payload
	Level      ConfidenceLevel
	Confidence float64
	FrameID    uint64
	Timestamp  time.Time
	Violations []Violation
}

// DedupKey is the discriminating key (kind, type and identity) used to
// suppress repeated events inside the dedup window.
func (e Event) DedupKey() string {
	id := ""
	if e.Data != nil {
		id = e.Data.Identity()
	}
	return string(e.Kind) + "|" + string(e.Field) + "|" + id
}
