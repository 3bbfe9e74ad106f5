package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all experiment routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/experiments/{type}/run", h.HandleStartRun)
	r.Post("/estimate", h.HandleEstimate)

	r.Route("/runs", func(r chi.Router) {
		r.Get("/", h.HandleListRuns)
		r.Get("/{id}", h.HandleGetRun)
		r.Get("/{id}/measurements", h.HandleGetMeasurements)
		r.Get("/{id}/export", h.HandleExport)
	})
}
