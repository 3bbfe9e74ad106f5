// Package handlers provides HTTP handlers for runtime settings management.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/arclab/arcq/internal/events"
	"github.com/arclab/arcq/internal/modules/settings"
)

// CredentialRefresher rebuilds the hardware gateway client after the API key
// or target changes.
type CredentialRefresher interface {
	RefreshCredentials() error
}

// Handler provides HTTP handlers for settings endpoints.
type Handler struct {
	service             *settings.Service
	credentialRefresher CredentialRefresher
	bus                 *events.Bus
	log                 zerolog.Logger
}

// NewHandler creates a new settings handler.
func NewHandler(service *settings.Service, bus *events.Bus, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		bus:     bus,
		log:     log.With().Str("handler", "settings").Logger(),
	}
}

// SetCredentialRefresher wires the gateway client refresh hook.
func (h *Handler) SetCredentialRefresher(refresher CredentialRefresher) {
	h.credentialRefresher = refresher
}

// HandleGetAll handles GET /api/settings
func (h *Handler) HandleGetAll(w http.ResponseWriter, r *http.Request) {
	all, err := h.service.GetAll()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get all settings")
		http.Error(w, "Failed to get settings", http.StatusInternalServerError)
		return
	}

	// API keys are write-only through the API.
	if _, ok := all[settings.KeyIonQAPIKey]; ok {
		all[settings.KeyIonQAPIKey] = "********"
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(all); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode settings response")
	}
}

// HandleUpdate handles PUT /api/settings/{key}
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		http.Error(w, "Key is required", http.StatusBadRequest)
		return
	}

	var update settings.SettingUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	isFirstCredential, err := h.service.Set(key, update.Value)
	if err != nil {
		h.log.Error().
			Err(err).
			Str("key", key).
			Msg("Failed to update setting")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Rebuild the gateway client when credentials or target change.
	if (key == settings.KeyIonQAPIKey || key == settings.KeyIonQTarget) && h.credentialRefresher != nil {
		if err := h.credentialRefresher.RefreshCredentials(); err != nil {
			h.log.Warn().Err(err).Msg("Failed to refresh gateway credentials after update")
		} else {
			h.log.Info().Msg("Gateway credentials refreshed after settings update")
		}
	}

	if isFirstCredential {
		h.log.Info().Msg("Gateway credentials configured for the first time")
	}

	if h.bus != nil {
		h.bus.EmitTyped("settings", &events.SettingsChangedData{Key: key})
	}

	result := map[string]interface{}{key: update.Value}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

// HandleGetTarget handles GET /api/settings/target
func (h *Handler) HandleGetTarget(w http.ResponseWriter, r *http.Request) {
	target, err := h.service.Target()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get target")
		http.Error(w, "Failed to get target", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(settings.TargetResponse{Target: target})
}

// HandleSetTarget handles POST /api/settings/target
func (h *Handler) HandleSetTarget(w http.ResponseWriter, r *http.Request) {
	var req settings.TargetResponse
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	previous, err := h.service.SetTarget(req.Target)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if h.credentialRefresher != nil {
		if err := h.credentialRefresher.RefreshCredentials(); err != nil {
			h.log.Warn().Err(err).Msg("Failed to refresh gateway client after target switch")
		}
	}

	if h.bus != nil {
		h.bus.EmitTyped("settings", &events.SettingsChangedData{Key: settings.KeyIonQTarget})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(settings.TargetUpdateResponse{
		Target:         req.Target,
		PreviousTarget: previous,
	})
}
