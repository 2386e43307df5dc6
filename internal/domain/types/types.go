// Package types contains the API shapes shared by the service and the HTTP layer.
package types

import (
	"time"

	"github.com/okian/tablewatch/internal/adapters/cache"
	"github.com/okian/tablewatch/internal/adapters/mq/batcher"
	"github.com/okian/tablewatch/internal/domain/model"
)

// Stats is the service status report served at /stats.
type Stats struct {
	Started    bool      `json:"started"`
	SessionID  string    `json:"session_id,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	Frames     uint64    `json:"frames"`
	HandNumber int       `json:"hand_number"`
	Version    uint64    `json:"version"`

	Events batcher.Stats `json:"events"`
	Cache  cache.Stats   `json:"cache"`

	// Pending is the queued measurement count per field type.
	Pending map[model.FieldType]int `json:"pending,omitempty"`
	// Streaks is the current failure streak per field type; zero streaks are omitted.
	Streaks map[model.FieldType]int `json:"streaks,omitempty"`
	// Stale lists field types whose streak reached the fallback threshold.
	Stale []model.FieldType `json:"stale,omitempty"`
}

// TextureRequest is the body of POST /texture.
type TextureRequest struct {
	Cards []string `json:"cards"`
}

// MeasurementResponse acknowledges POST /measurements.
type MeasurementResponse struct {
	Accepted int      `json:"accepted"`
	Dropped  int      `json:"dropped"`
	Errors   []string `json:"errors,omitempty"`
}

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
