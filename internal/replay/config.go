package replay

import (
	"time"

	"github.com/okian/tablewatch/internal/domain/fps"
	"github.com/okian/tablewatch/internal/domain/model"
	"github.com/okian/tablewatch/internal/domain/tracker"
)

// Generator defaults.
const (
	DefaultHands         = 10
	DefaultSeats         = 6
	DefaultStack         = 2000.0
	DefaultBigBlind      = 20.0
	DefaultFrameInterval = 33 * time.Millisecond
)

// GenerateConfig parameterises a synthetic session.
type GenerateConfig struct {
	Hands    int
	Seats    int
	Seed     uint64
	Stack    float64
	BigBlind float64

	// NoiseRate is the probability that a read is followed by a misread:
	// a low-confidence copy, or for boards a duplicated card.
	NoiseRate float64

	Start         time.Time
	FrameInterval time.Duration
}

// DefaultGenerateConfig returns the generator defaults.
func DefaultGenerateConfig() GenerateConfig {
	return GenerateConfig{
		Hands:         DefaultHands,
		Seats:         DefaultSeats,
		Seed:          1,
		Stack:         DefaultStack,
		BigBlind:      DefaultBigBlind,
		Start:         time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		FrameInterval: DefaultFrameInterval,
	}
}

// Summary describes one replayed session.
type Summary struct {
	SessionID    string `json:"session_id"`
	Measurements int    `json:"measurements"`
	Frames       int    `json:"frames"`
	Hands        int    `json:"hands"`

	Outcomes      map[string]int                `json:"outcomes"`
	Events        int                           `json:"events"`
	EventsByKind  map[model.EventKind]int       `json:"events_by_kind"`
	EventsByLevel map[model.ConfidenceLevel]int `json:"events_by_level"`
	Batches       int                           `json:"batches"`
	Suppressed    int64                         `json:"suppressed"`
	Dropped       int64                         `json:"dropped"`
	Errors        int                           `json:"errors"`

	Detections []tracker.Record `json:"detections"`
	FrameRates []fps.Stream     `json:"frame_rates"`
	Snapshot   model.Snapshot   `json:"snapshot"`

	Elapsed time.Duration `json:"elapsed_ns"`
}

// SubmitStats counts what a remote service did with a submitted stream.
type SubmitStats struct {
	Requests int `json:"requests"`
	Sent     int `json:"sent"`
	Accepted int `json:"accepted"`
	Dropped  int `json:"dropped"`
	Invalid  int `json:"invalid"`
	Failed   int `json:"failed"`
}
