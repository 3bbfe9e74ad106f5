// Package handlers provides HTTP handlers for drift monitoring.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/arclab/arcq/internal/modules/drift"
)

// Handler provides HTTP handlers for drift endpoints.
type Handler struct {
	monitor *drift.Monitor
	log     zerolog.Logger
}

// NewHandler creates a new drift handler.
func NewHandler(monitor *drift.Monitor, log zerolog.Logger) *Handler {
	return &Handler{
		monitor: monitor,
		log:     log.With().Str("handler", "drift").Logger(),
	}
}

// RegisterRoutes registers drift routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/drift/{backend}", h.HandleGetDrift)
}

// HandleGetDrift handles GET /api/drift/{backend}
func (h *Handler) HandleGetDrift(w http.ResponseWriter, r *http.Request) {
	backend := chi.URLParam(r, "backend")

	status, err := h.monitor.Evaluate(backend)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}
