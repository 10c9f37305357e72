// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/okian/trellis/internal/batch"
	"github.com/okian/trellis/internal/domain/model"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the service implementation.
type Dependencies interface {
	// Upload and import lifecycle.
	SaveUpload(ctx context.Context, r io.Reader) (string, error)
	StartImport(ctx context.Context, path string) (batch.State, error)
	CancelImport(ctx context.Context) error
	ImportStatus(ctx context.Context) (batch.State, error)

	// Profile generation lifecycle.
	StartGeneration(ctx context.Context) (batch.State, error)
	CancelGeneration(ctx context.Context) error
	GenerationStatus(ctx context.Context) (batch.State, error)

	// Read operations.
	Profile(ctx context.Context, contributorID string) (model.Profile, error)
	Stats(ctx context.Context) (model.ProfileStats, error)
	EventTypes(ctx context.Context) (map[string]string, error)

	// ClearEvents empties the event store, keeping profiles.
	ClearEvents(ctx context.Context) (int64, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler  *HealthHandler
	importHandler  *ImportHandler
	genHandler     *GenerateHandler
	profileHandler *ProfileHandler
	statsHandler   *StatsHandler
	eventsHandler  *EventsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	return &Server{
		healthHandler:  NewHealthHandler(),
		importHandler:  NewImportHandler(deps),
		genHandler:     NewGenerateHandler(deps),
		profileHandler: NewProfileHandler(deps),
		statsHandler:   NewStatsHandler(deps),
		eventsHandler:  NewEventsHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("/imports", MetricsMiddleware(s.importHandler.HandleImports, "imports"))
	mux.HandleFunc("/imports/status", MetricsMiddleware(s.importHandler.HandleStatus, "imports_status"))
	mux.HandleFunc("/generate", MetricsMiddleware(s.genHandler.HandleGenerate, "generate"))
	mux.HandleFunc("/generate/status", MetricsMiddleware(s.genHandler.HandleStatus, "generate_status"))
	mux.HandleFunc("/profiles/", MetricsMiddleware(s.profileHandler.HandleGetProfile, "profiles"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/events", MetricsMiddleware(s.eventsHandler.HandleEvents, "events"))
	mux.HandleFunc("/event-types", MetricsMiddleware(s.eventsHandler.HandleEventTypes, "event_types"))
}

// jobStatusResponse is the progress shape served for both job kinds. The
// durable cursor and metadata stay internal.
type jobStatusResponse struct {
	Status          batch.Status `json:"status"`
	Total           int          `json:"total_to_process"`
	Processed       int          `json:"processed"`
	Written         int          `json:"written"`
	PercentComplete float64      `json:"percent_complete"`
	StartedAt       time.Time    `json:"started_at"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
}

func statusResponse(st batch.State) jobStatusResponse {
	return jobStatusResponse{
		Status:          st.Status,
		Total:           st.Total,
		Processed:       st.Processed,
		Written:         st.Written,
		PercentComplete: st.PercentComplete(),
		StartedAt:       st.StartedAt,
		CompletedAt:     st.CompletedAt,
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
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
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
