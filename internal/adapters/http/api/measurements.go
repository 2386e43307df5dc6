package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/okian/tablewatch/internal/domain/model"
	"github.com/okian/tablewatch/internal/domain/types"
)

const maxBodyBytes = 1 << 20

// MeasurementDependencies defines the interface for measurement ingestion.
type MeasurementDependencies interface {
	Submit(ctx context.Context, m model.Measurement) bool
}

// MeasurementsHandler handles measurement ingestion.
type MeasurementsHandler struct {
	deps MeasurementDependencies
}

// NewMeasurementsHandler creates a new measurements handler.
func NewMeasurementsHandler(deps MeasurementDependencies) *MeasurementsHandler {
	return &MeasurementsHandler{deps: deps}
}

// HandlePostMeasurements handles POST /measurements. The body is one
// measurement or an array of them; each is queued on its field's worker.
func (h *MeasurementsHandler) HandlePostMeasurements(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_measurements"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	items, err := splitItems(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	var resp types.MeasurementResponse
	for i, raw := range items {
		var m model.Measurement
		if err := json.Unmarshal(raw, &m); err != nil {
			resp.Errors = append(resp.Errors, fmt.Sprintf("item %d: %v", i, err))
			continue
		}
		if h.deps.Submit(r.Context(), m) {
			resp.Accepted++
		} else {
			resp.Dropped++
		}
	}

	switch {
	case resp.Accepted == 0 && resp.Dropped == 0:
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, errors.New(resp.Errors[0])))
	case resp.Accepted == 0:
		writeError(w, http.StatusTooManyRequests, "backpressure", NewKind(op, ErrBackpressure))
	default:
		writeJSON(w, http.StatusAccepted, resp)
	}
}

// splitItems returns the raw measurements of a single object or an array.
func splitItems(body []byte) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}
	if body[0] != '[' {
		return []json.RawMessage{body}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, errors.New("no measurements")
	}
	return items, nil
}
