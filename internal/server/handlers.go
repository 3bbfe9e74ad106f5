package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/arclab/arcq/internal/version"
)

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

// handleListBackends handles GET /api/backends
func (s *Server) handleListBackends(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	statuses := s.cfg.Registry.Statuses(ctx)
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Backend < statuses[j].Backend
	})

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(statuses)
}

// handleBackendStatus handles GET /api/backends/{name}/status
func (s *Server) handleBackendStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	backend, err := s.cfg.Registry.Get(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	status, err := backend.Status(ctx)
	if err != nil {
		s.log.Warn().Err(err).Str("backend", name).Msg("Backend status check failed")

		// Serve the last known snapshot when the gateway is unreachable.
		if s.cfg.StatusCache != nil {
			cached, cachedAt, cacheErr := s.cfg.StatusCache.Get(name)
			if cacheErr == nil && cached != nil {
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"status":    cached,
					"stale":     true,
					"cached_at": cachedAt.UTC().Format(time.RFC3339),
				})
				return
			}
		}
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	if s.cfg.StatusCache != nil {
		if err := s.cfg.StatusCache.Put(status); err != nil {
			s.log.Warn().Err(err).Str("backend", name).Msg("Failed to cache backend status")
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

// handleListJobs handles GET /api/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	names := s.cfg.Scheduler.JobNames()
	sort.Strings(names)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"jobs": names})
}

// handleJobHistory handles GET /api/jobs/{name}/history
func (s *Server) handleJobHistory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := s.cfg.History.Recent(name, limit)
	if err != nil {
		s.log.Error().Err(err).Str("job", name).Msg("Failed to load job history")
		http.Error(w, "Failed to load job history", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(entries)
}

// handleRunJob handles POST /api/jobs/{name}/run
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := s.cfg.Scheduler.RunNow(name); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"job":    name,
		"status": "completed",
	})
}
