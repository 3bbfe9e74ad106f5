// Package handlers provides HTTP handlers for experiment runs.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/arclab/arcq/internal/modules/experiments"
	"github.com/arclab/arcq/internal/version"
)

// Handler provides HTTP handlers for experiment endpoints.
type Handler struct {
	service *experiments.Service
	log     zerolog.Logger
}

// NewHandler creates a new experiments handler.
func NewHandler(service *experiments.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "experiments").Logger(),
	}
}

// HandleStartRun handles POST /api/experiments/{type}/run
func (h *Handler) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	experiment := chi.URLParam(r, "type")

	var req experiments.RunRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	run, err := h.service.StartRun(experiment, req)
	if err != nil {
		h.log.Warn().Err(err).Str("experiment", experiment).Msg("Run rejected")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(run)
}

// HandleEstimate handles POST /api/estimate
func (h *Handler) HandleEstimate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Experiment string `json:"experiment"`
		experiments.RunRequest
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	estimate, err := h.service.Estimate(req.Experiment, req.RunRequest)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(estimate)
}

// HandleListRuns handles GET /api/runs
func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	experiment := r.URL.Query().Get("experiment")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	runs, err := h.service.Repo().ListRuns(experiment, limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list runs")
		http.Error(w, "Failed to list runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []experiments.Run{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(runs)
}

// HandleGetRun handles GET /api/runs/{id}
func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}

	// Inline the summary for completed runs.
	response := map[string]interface{}{"run": run}
	if run.SummaryJSON != "" {
		response["summary"] = json.RawMessage(run.SummaryJSON)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// HandleGetMeasurements handles GET /api/runs/{id}/measurements
func (h *Handler) HandleGetMeasurements(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}

	measurements, err := h.service.Repo().GetMeasurements(run.ID)
	if err != nil {
		h.log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to get measurements")
		http.Error(w, "Failed to get measurements", http.StatusInternalServerError)
		return
	}
	if measurements == nil {
		measurements = []experiments.Measurement{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(measurements)
}

// Export is the self-contained results document for a finished run.
type Export struct {
	GeneratedAt  time.Time                 `json:"generated_at" msgpack:"generated_at"`
	Version      string                    `json:"version" msgpack:"version"`
	Run          *experiments.Run          `json:"run" msgpack:"run"`
	Summary      json.RawMessage           `json:"summary,omitempty" msgpack:"summary,omitempty"`
	Measurements []experiments.Measurement `json:"measurements" msgpack:"measurements"`
}

// HandleExport handles GET /api/runs/{id}/export (?format=msgpack)
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}

	measurements, err := h.service.Repo().GetMeasurements(run.ID)
	if err != nil {
		h.log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to get measurements")
		http.Error(w, "Failed to export run", http.StatusInternalServerError)
		return
	}

	export := Export{
		GeneratedAt:  time.Now().UTC(),
		Version:      version.Version,
		Run:          run,
		Measurements: measurements,
	}
	if run.SummaryJSON != "" {
		export.Summary = json.RawMessage(run.SummaryJSON)
	}

	if r.URL.Query().Get("format") == "msgpack" {
		data, err := msgpack.Marshal(export)
		if err != nil {
			h.log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to encode msgpack export")
			http.Error(w, "Failed to encode export", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/x-msgpack")
		w.Header().Set("Content-Disposition", "attachment; filename="+run.ID+".msgpack")
		_, _ = w.Write(data)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", "attachment; filename="+run.ID+".json")
	_ = json.NewEncoder(w).Encode(export)
}

// loadRun resolves the {id} URL param to a run, writing the error response
// on failure.
func (h *Handler) loadRun(w http.ResponseWriter, r *http.Request) (*experiments.Run, bool) {
	id := chi.URLParam(r, "id")

	run, err := h.service.Repo().GetRun(id)
	if err != nil {
		h.log.Error().Err(err).Str("run_id", id).Msg("Failed to get run")
		http.Error(w, "Failed to get run", http.StatusInternalServerError)
		return nil, false
	}
	if run == nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return nil, false
	}
	return run, true
}
