// Package api declares HTTP contracts and route registration helpers.
package api

import "net/http"

// EventsHandler handles event store maintenance requests.
type EventsHandler struct {
	deps Dependencies
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps Dependencies) *EventsHandler {
	return &EventsHandler{deps: deps}
}

type clearEventsResponse struct {
	Removed int64 `json:"removed"`
}

// HandleEvents handles DELETE /events requests: empty the event store so
// a full re-import starts clean. Profiles are untouched.
func (h *EventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.NotFound(w, r)
		return
	}
	removed, err := h.deps.ClearEvents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusOK, clearEventsResponse{Removed: removed})
}

type eventTypesResponse struct {
	EventTypes map[string]string `json:"event_types"`
}

// HandleEventTypes handles GET /event-types requests: list the event
// type catalogue built up by imports, keyed by name with display labels.
func (h *EventsHandler) HandleEventTypes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	types, err := h.deps.EventTypes(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	if types == nil {
		types = map[string]string{}
	}
	writeJSON(w, http.StatusOK, eventTypesResponse{EventTypes: types})
}
