package api

import (
	"encoding/json"
	"net/http"

	"github.com/okian/tablewatch/internal/domain/texture"
	"github.com/okian/tablewatch/internal/domain/types"
)

// TextureHandler describes community boards.
type TextureHandler struct{}

// NewTextureHandler creates a new texture handler.
func NewTextureHandler() *TextureHandler {
	return &TextureHandler{}
}

// HandleTexture handles POST /texture.
func (h *TextureHandler) HandleTexture(w http.ResponseWriter, r *http.Request) {
	const op = "api.texture"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req types.TextureRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	d, err := texture.Analyze(req.Cards)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_board", WrapKind(op, ErrBadRequest, err))
		return
	}
	writeJSON(w, http.StatusOK, d)
}
