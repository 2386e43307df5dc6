package api

import (
	"net/http"

	"github.com/okian/tablewatch/internal/domain/fps"
	"github.com/okian/tablewatch/internal/domain/model"
	"github.com/okian/tablewatch/internal/domain/tracker"
)

// StateDependencies exposes the read side of the pipeline.
type StateDependencies interface {
	Snapshot() model.Snapshot
	Detections() []tracker.Record
	FrameRates() []fps.Stream
}

// StateHandler serves snapshot, detection statistics and frame rates.
type StateHandler struct {
	deps StateDependencies
}

// NewStateHandler creates a new state handler.
func NewStateHandler(deps StateDependencies) *StateHandler {
	return &StateHandler{deps: deps}
}

type detectionView struct {
	tracker.Record
	SuccessRate float64 `json:"success_rate"`
}

// HandleSnapshot handles GET /snapshot.
func (h *StateHandler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Snapshot())
}

// HandleDetections handles GET /metrics/detections.
func (h *StateHandler) HandleDetections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	records := h.deps.Detections()
	out := make([]detectionView, 0, len(records))
	for _, rec := range records {
		out = append(out, detectionView{Record: rec, SuccessRate: rec.SuccessRate()})
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleFPS handles GET /fps.
func (h *StateHandler) HandleFPS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	streams := h.deps.FrameRates()
	if streams == nil {
		streams = []fps.Stream{}
	}
	writeJSON(w, http.StatusOK, streams)
}
