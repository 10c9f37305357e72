// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"errors"
	"net/http"

	"github.com/okian/trellis/internal/batch"
)

// GenerateHandler handles profile generation requests.
type GenerateHandler struct {
	deps Dependencies
}

// NewGenerateHandler creates a new generation handler.
func NewGenerateHandler(deps Dependencies) *GenerateHandler {
	return &GenerateHandler{deps: deps}
}

// HandleGenerate handles POST /generate (start a generation run) and
// DELETE /generate (cancel the running one).
func (h *GenerateHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		st, err := h.deps.StartGeneration(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err)
			return
		}
		writeJSON(w, http.StatusAccepted, statusResponse(st))
	case http.MethodDelete:
		if err := h.deps.CancelGeneration(r.Context()); err != nil {
			if errors.Is(err, batch.ErrNoJob) {
				writeError(w, http.StatusNotFound, "no_job", err)
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

// HandleStatus handles GET /generate/status requests.
func (h *GenerateHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	st, err := h.deps.GenerationStatus(r.Context())
	if err != nil {
		if errors.Is(err, batch.ErrNoJob) {
			writeError(w, http.StatusNotFound, "no_job", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse(st))
}
