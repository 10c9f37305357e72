// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/okian/trellis/internal/batch"
	"github.com/okian/trellis/internal/importer"
)

// maxUploadBytes caps an uploaded CSV file.
const maxUploadBytes = 512 << 20

// ImportHandler handles CSV import requests.
type ImportHandler struct {
	deps Dependencies
}

// NewImportHandler creates a new import handler.
func NewImportHandler(deps Dependencies) *ImportHandler {
	return &ImportHandler{deps: deps}
}

// HandleImports handles POST /imports (upload a CSV and start importing
// it) and DELETE /imports (cancel the running import).
func (h *ImportHandler) HandleImports(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.startImport(w, r)
	case http.MethodDelete:
		h.cancelImport(w, r)
	default:
		http.NotFound(w, r)
	}
}

// HandleStatus handles GET /imports/status requests.
func (h *ImportHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	st, err := h.deps.ImportStatus(r.Context())
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

func (h *ImportHandler) startImport(w http.ResponseWriter, r *http.Request) {
	body, err := importBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	defer body.Close()

	path, err := h.deps.SaveUpload(r.Context(), io.LimitReader(body, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}

	st, err := h.deps.StartImport(r.Context(), path)
	if err != nil {
		if errors.Is(err, importer.ErrEmptyFile) {
			writeError(w, http.StatusBadRequest, "empty_file", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusAccepted, statusResponse(st))
}

func (h *ImportHandler) cancelImport(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.CancelImport(r.Context()); err != nil {
		if errors.Is(err, batch.ErrNoJob) {
			writeError(w, http.StatusNotFound, "no_job", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// importBody extracts the CSV stream from the request: the "file" part of
// a multipart form, or the raw body for direct uploads.
func importBody(r *http.Request) (io.ReadCloser, error) {
	ct := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		if r.Body == nil || r.ContentLength == 0 {
			return nil, ErrMissingFile
		}
		return r.Body, nil
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	f, _, err := r.FormFile("file")
	if err != nil {
		return nil, ErrMissingFile
	}
	return f, nil
}
