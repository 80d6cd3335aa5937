/*
handlers.go - HTTP API handlers for the allotment dashboard

PURPOSE:
  Exposes the allotment service via REST. Handles HTTP request/response
  and JSON serialization, and delegates everything else to the service.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: invalid input, malformed payloads
  - 404: unknown item type
  - 409: business-rule violations (quota exhausted, nothing to undo)
  - 500: internal errors

SEE ALSO:
  - dto.go: request/response structures
  - server.go: router setup and middleware
*/
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/warp/allotment-engine/allot"
	"github.com/warp/allotment-engine/engine"
)

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *allot.Service
	Log     *slog.Logger

	// SeedStore enables the demo-seed endpoint when non-nil.
	SeedStore allot.Store
}

// NewHandler creates a handler around the service.
func NewHandler(svc *allot.Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{Service: svc, Log: log}
}

// =============================================================================
// STATE
// =============================================================================

// GetState returns the full derived allocation state.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	state, err := h.Service.LoadState(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load state", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// =============================================================================
// ACTIONS
// =============================================================================

// Redeem records one use of an item.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	itemType := chi.URLParam(r, "type")
	state, err := h.Service.Redeem(r.Context(), itemType)
	if err != nil {
		writeDomainError(w, "Failed to redeem", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// AdmitDefeat records a failed event for an item.
func (h *Handler) AdmitDefeat(w http.ResponseWriter, r *http.Request) {
	itemType := chi.URLParam(r, "type")
	state, err := h.Service.AdmitDefeat(r.Context(), itemType)
	if err != nil {
		writeDomainError(w, "Failed to admit defeat", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// UndoAdmitDefeat deletes the most recent failed event for an item.
func (h *Handler) UndoAdmitDefeat(w http.ResponseWriter, r *http.Request) {
	itemType := chi.URLParam(r, "type")
	state, err := h.Service.UndoAdmitDefeat(r.Context(), itemType)
	if err != nil {
		writeDomainError(w, "Failed to undo", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// SaveItems replaces the configured item list.
func (h *Handler) SaveItems(w http.ResponseWriter, r *http.Request) {
	var req SaveItemsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	items := make([]engine.AllotmentItem, len(req.Items))
	for i, p := range req.Items {
		items[i] = engine.AllotmentItem{
			Type:       p.Type,
			Quota:      p.Quota,
			Cadence:    engine.Cadence(p.Cadence),
			Multiplier: p.Multiplier,
		}
	}

	state, err := h.Service.SaveItems(r.Context(), req.Year, items)
	if err != nil {
		writeDomainError(w, "Failed to save items", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// =============================================================================
// STAGING
// =============================================================================

// GetStaged returns the pending staged changes.
func (h *Handler) GetStaged(w http.ResponseWriter, r *http.Request) {
	st := h.Service.Staging()
	if st == nil {
		writeError(w, http.StatusNotFound, "Staging not configured", nil)
		return
	}
	writeJSON(w, http.StatusOK, st.Changes())
}

// StageEdit stages a partial edit for one item index.
func (h *Handler) StageEdit(w http.ResponseWriter, r *http.Request) {
	st := h.Service.Staging()
	if st == nil {
		writeError(w, http.StatusNotFound, "Staging not configured", nil)
		return
	}

	var req StageEditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	state, err := h.Service.LoadState(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load state", err)
		return
	}
	if err := st.StageEdit(r.Context(), req.Index, req.Patch, state.Items); err != nil {
		writeError(w, http.StatusBadRequest, "Failed to stage edit", err)
		return
	}
	writeJSON(w, http.StatusOK, st.Changes())
}

// StageRemove stages the removal of one item index.
func (h *Handler) StageRemove(w http.ResponseWriter, r *http.Request) {
	st := h.Service.Staging()
	if st == nil {
		writeError(w, http.StatusNotFound, "Staging not configured", nil)
		return
	}

	var req StageRemoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := st.StageRemove(r.Context(), req.Index); err != nil {
		writeError(w, http.StatusBadRequest, "Failed to stage removal", err)
		return
	}
	writeJSON(w, http.StatusOK, st.Changes())
}

// CommitStaged applies staged changes and saves the resulting list.
func (h *Handler) CommitStaged(w http.ResponseWriter, r *http.Request) {
	state, err := h.Service.CommitStaged(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to commit staged changes", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// DiscardStaged clears all staged changes without applying them.
func (h *Handler) DiscardStaged(w http.ResponseWriter, r *http.Request) {
	st := h.Service.Staging()
	if st == nil {
		writeError(w, http.StatusNotFound, "Staging not configured", nil)
		return
	}
	if err := st.Clear(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to discard staged changes", err)
		return
	}
	writeJSON(w, http.StatusOK, st.Changes())
}

// =============================================================================
// HELPERS
// =============================================================================

func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case engine.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case engine.IsClientError(err):
		writeError(w, http.StatusConflict, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
