// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/tablewatch/internal/domain/fps"
	"github.com/okian/tablewatch/internal/domain/model"
	"github.com/okian/tablewatch/internal/domain/tracker"
	"github.com/okian/tablewatch/internal/domain/types"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// Submit queues a measurement. Returns false on backpressure.
	Submit(ctx context.Context, m model.Measurement) bool

	// Read operations expose pipeline state.
	Snapshot() model.Snapshot
	Detections() []tracker.Record
	FrameRates() []fps.Stream

	StatsProvider
}

// Option configures a Server.
type Option func(*Server)

// WithStream mounts the websocket event stream at /stream.
func WithStream(h http.Handler) Option {
	return func(s *Server) {
		s.stream = h
	}
}

// Server wires HTTP routes for the pipeline API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	measurementHandler *MeasurementsHandler
	stateHandler       *StateHandler
	textureHandler     *TextureHandler
	stream             http.Handler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(deps),
		measurementHandler: NewMeasurementsHandler(deps),
		stateHandler:       NewStateHandler(deps),
		textureHandler:     NewTextureHandler(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/measurements", MetricsMiddleware(s.measurementHandler.HandlePostMeasurements, "measurements"))
	mux.HandleFunc("/snapshot", MetricsMiddleware(s.stateHandler.HandleSnapshot, "snapshot"))
	mux.HandleFunc("/metrics/detections", MetricsMiddleware(s.stateHandler.HandleDetections, "detections"))
	mux.HandleFunc("/fps", MetricsMiddleware(s.stateHandler.HandleFPS, "fps"))
	mux.HandleFunc("/texture", MetricsMiddleware(s.textureHandler.HandleTexture, "texture"))
	if s.stream != nil {
		// Not wrapped: the middleware's writer cannot be hijacked.
		mux.Handle("/stream", s.stream)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, types.ErrorResponse{Error: code, Message: msg})
}
