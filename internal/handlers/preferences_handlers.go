package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/Dusre/radar/internal/models"
	"github.com/Dusre/radar/internal/services"
	"github.com/Dusre/radar/pkg/logging"
	"github.com/Dusre/radar/pkg/metrics"
)

// ClientCookie identifies a browser across visits
const ClientCookie = "wx_client"

// PreferencesStore reads and writes per-client preferences
type PreferencesStore interface {
	Get(ctx context.Context, clientID string) (*models.Preferences, error)
	Update(ctx context.Context, clientID string, update services.PreferencesUpdate) (*models.Preferences, error)
	SetLayer(ctx context.Context, clientID string, layer models.Layer, enabled bool) (*models.Preferences, error)
	Reset(ctx context.Context, clientID string) error
}

// PreferencesHandler handles the preference endpoints
type PreferencesHandler struct {
	prefs   PreferencesStore
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// PreferencesResponse is the stored preferences plus one flag per layer
type PreferencesResponse struct {
	*models.Preferences
	Toggles map[models.Layer]bool `json:"toggles"`
}

// LayerToggleRequest turns a layer on or off
type LayerToggleRequest struct {
	Enabled *bool `json:"enabled"`
}

// NewPreferencesHandler creates a new preferences handler
func NewPreferencesHandler(prefs PreferencesStore, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *PreferencesHandler {
	return &PreferencesHandler{
		prefs:   prefs,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// clientID returns the id from the client cookie, issuing a new one if it is missing or malformed
func (h *PreferencesHandler) clientID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(ClientCookie); err == nil {
		if id, err := uuid.Parse(c.Value); err == nil {
			return id.String()
		}
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     ClientCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   365 * 24 * 60 * 60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	h.logger.Debug(r.Context(), "[PREFERENCES_NEW_CLIENT] Issued client id", logging.Fields{
		"client_id": id,
	})
	return id
}

// GetPreferences handles GET /api/preferences
func (h *PreferencesHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	id := h.clientID(w, r)
	prefs, err := h.prefs.Get(r.Context(), id)
	if err != nil {
		sendServiceError(w, r, h.logger, h.metrics, err)
		return
	}
	sendJSON(w, PreferencesResponse{Preferences: prefs, Toggles: prefs.Toggles()}, http.StatusOK)
}

// UpdatePreferences handles PUT /api/preferences
func (h *PreferencesHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	id := h.clientID(w, r)

	var update services.PreferencesUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		sendError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	prefs, err := h.prefs.Update(r.Context(), id, update)
	if err != nil {
		sendServiceError(w, r, h.logger, h.metrics, err)
		return
	}
	sendJSON(w, PreferencesResponse{Preferences: prefs, Toggles: prefs.Toggles()}, http.StatusOK)
}

// SetLayer handles PUT /api/preferences/layers/{layer}
func (h *PreferencesHandler) SetLayer(w http.ResponseWriter, r *http.Request) {
	id := h.clientID(w, r)

	layer, err := models.ParseLayer(mux.Vars(r)["layer"])
	if err != nil {
		sendServiceError(w, r, h.logger, h.metrics, err)
		return
	}

	var req LayerToggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		sendError(w, `body must be {"enabled": true|false}`, http.StatusBadRequest)
		return
	}

	prefs, err := h.prefs.SetLayer(r.Context(), id, layer, *req.Enabled)
	if err != nil {
		sendServiceError(w, r, h.logger, h.metrics, err)
		return
	}
	sendJSON(w, PreferencesResponse{Preferences: prefs, Toggles: prefs.Toggles()}, http.StatusOK)
}

// ResetPreferences handles DELETE /api/preferences
func (h *PreferencesHandler) ResetPreferences(w http.ResponseWriter, r *http.Request) {
	id := h.clientID(w, r)
	if err := h.prefs.Reset(r.Context(), id); err != nil {
		sendServiceError(w, r, h.logger, h.metrics, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RegisterRoutes registers the preference routes
func (h *PreferencesHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/preferences", h.GetPreferences).Methods("GET")
	router.HandleFunc("/api/preferences", h.UpdatePreferences).Methods("PUT")
	router.HandleFunc("/api/preferences", h.ResetPreferences).Methods("DELETE")
	router.HandleFunc("/api/preferences/layers/{layer}", h.SetLayer).Methods("PUT")
}
