package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	geojson "github.com/paulmach/go.geojson"

	"github.com/Dusre/radar/internal/geo"
	"github.com/Dusre/radar/internal/models"
	"github.com/Dusre/radar/internal/radar"
	"github.com/Dusre/radar/internal/repository"
	"github.com/Dusre/radar/internal/services"
	"github.com/Dusre/radar/pkg/logging"
	"github.com/Dusre/radar/pkg/metrics"
)

// Viewer renders the shared viewer state
type Viewer interface {
	State() *services.StateView
	RadarTimes() []time.Time
	Lightning() *geojson.FeatureCollection
	Markers(layer models.Layer) (*services.LayerView, error)
	Frame(ctx context.Context, step int, vp radar.Viewport) (*radar.CachedFrame, error)
}

// Controller drives history playback and refreshes
type Controller interface {
	StartAnimation(ctx context.Context, vp radar.Viewport) error
	StopAnimation(ctx context.Context) error
	ToggleAnimation(ctx context.Context, vp radar.Viewport) (bool, error)
	SetHistoryStep(ctx context.Context, step int) (int, error)
	RefreshNow(ctx context.Context) (*services.RefreshResult, error)
	MaxHistorySteps() int
}

// RunLister lists recorded refresh runs
type RunLister interface {
	ListRuns(ctx context.Context, filter repository.RefreshRunFilter) ([]*models.RefreshRun, int, error)
}

// WeatherHandler handles the viewer API endpoints
type WeatherHandler struct {
	viewer     Viewer
	controller Controller
	runs       RunLister
	health     []repository.HealthChecker
	logger     *logging.StructuredLogger
	metrics    *metrics.Collector
	now        func() time.Time
}

// NewWeatherHandler creates a new weather handler
func NewWeatherHandler(
	viewer Viewer,
	controller Controller,
	runs RunLister,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
	health ...repository.HealthChecker,
) *WeatherHandler {
	return &WeatherHandler{
		viewer:     viewer,
		controller: controller,
		runs:       runs,
		health:     health,
		logger:     logger,
		metrics:    metricsCollector,
		now:        time.Now,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

// RadarTimesResponse lists the radar frame times, newest first
type RadarTimesResponse struct {
	Times []string `json:"times"`
	Count int      `json:"count"`
}

// HistoryRequest selects a radar frame either by step or by slider position
type HistoryRequest struct {
	Step   *int `json:"step,omitempty"`
	Slider *int `json:"slider,omitempty"`
}

// RefreshResponse summarises a manual refresh
type RefreshResponse struct {
	RunID       string               `json:"run_id,omitempty"`
	Trigger     string               `json:"trigger"`
	StartedAt   time.Time            `json:"started_at"`
	DurationMS  int64                `json:"duration_ms"`
	StrikeCount int                  `json:"strike_count"`
	Stations    map[models.Layer]int `json:"stations"`
	Errors      []string             `json:"errors,omitempty"`
	Skipped     bool                 `json:"skipped"`
	State       *services.StateView  `json:"state"`
}

// GetState handles GET /api/state
func (h *WeatherHandler) GetState(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, h.viewer.State(), http.StatusOK)
}

// GetLightning handles GET /api/lightning
func (h *WeatherHandler) GetLightning(w http.ResponseWriter, r *http.Request) {
	data, err := h.viewer.Lightning().MarshalJSON()
	if err != nil {
		h.logger.Error(r.Context(), "[API_LIGHTNING_ERROR] Failed to encode lightning", nil, err)
		h.sendError(w, r, "failed to encode lightning", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// GetLayer handles GET /api/layers/{layer}
func (h *WeatherHandler) GetLayer(w http.ResponseWriter, r *http.Request) {
	layer, err := models.ParseLayer(mux.Vars(r)["layer"])
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}

	view, err := h.viewer.Markers(layer)
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}
	h.sendJSON(w, view, http.StatusOK)
}

// GetRadarTimes handles GET /api/radar/times
func (h *WeatherHandler) GetRadarTimes(w http.ResponseWriter, r *http.Request) {
	times := h.viewer.RadarTimes()
	response := RadarTimesResponse{
		Times: make([]string, 0, len(times)),
		Count: len(times),
	}
	for _, t := range times {
		response.Times = append(response.Times, radar.FormatISO(t))
	}
	h.sendJSON(w, response, http.StatusOK)
}

// GetRadarFrame handles GET /api/radar/frames/{step}?bbox=w,s,e,n&width=&height=
func (h *WeatherHandler) GetRadarFrame(w http.ResponseWriter, r *http.Request) {
	step, err := strconv.Atoi(mux.Vars(r)["step"])
	if err != nil {
		h.sendError(w, r, "step must be an integer", http.StatusBadRequest)
		return
	}

	vp, err := viewportParam(r.URL.Query())
	if err != nil {
		h.sendError(w, r, err.Error(), http.StatusBadRequest)
		return
	}

	frame, err := h.viewer.Frame(r.Context(), step, vp)
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", frame.ContentType)
	if frame.Key.TimeKey == "live" {
		w.Header().Set("Cache-Control", "no-cache")
	} else {
		w.Header().Set("Cache-Control", "public, max-age=3600")
	}
	w.WriteHeader(http.StatusOK)
	w.Write(frame.Data)
}

// SetHistory handles POST /api/history
func (h *WeatherHandler) SetHistory(w http.ResponseWriter, r *http.Request) {
	var req HistoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, r, "invalid JSON body", http.StatusBadRequest)
		return
	}

	var step int
	switch {
	case req.Step != nil:
		step = *req.Step
	case req.Slider != nil:
		step = radar.StepFromSlider(*req.Slider, h.controller.MaxHistorySteps())
	default:
		h.sendError(w, r, "step or slider is required", http.StatusBadRequest)
		return
	}

	if _, err := h.controller.SetHistoryStep(r.Context(), step); err != nil {
		h.sendServiceError(w, r, err)
		return
	}
	h.sendJSON(w, h.viewer.State(), http.StatusOK)
}

// Animation handles POST /api/animation/{action}
func (h *WeatherHandler) Animation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	action := mux.Vars(r)["action"]
	if action != "start" && action != "stop" && action != "toggle" {
		h.sendError(w, r, "action must be start, stop or toggle", http.StatusNotFound)
		return
	}

	// the client viewport is optional; without it the configured one is preloaded
	var vp radar.Viewport
	if query := r.URL.Query(); query.Get("bbox") != "" {
		parsed, err := viewportParam(query)
		if err != nil {
			h.sendError(w, r, err.Error(), http.StatusBadRequest)
			return
		}
		vp = parsed
	}

	var err error
	switch action {
	case "start":
		err = h.controller.StartAnimation(ctx, vp)
	case "stop":
		err = h.controller.StopAnimation(ctx)
	case "toggle":
		_, err = h.controller.ToggleAnimation(ctx, vp)
	}
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}

	h.logger.Info(ctx, "[API_ANIMATION] Animation control", logging.Fields{
		"action":   action,
		"viewport": vp.String(),
	})
	h.sendJSON(w, h.viewer.State(), http.StatusOK)
}

// Refresh handles POST /api/refresh
func (h *WeatherHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	res, err := h.controller.RefreshNow(r.Context())
	if err != nil {
		h.sendServiceError(w, r, err)
		return
	}

	response := RefreshResponse{
		RunID:       res.RunID,
		Trigger:     res.Trigger,
		StartedAt:   res.StartedAt,
		DurationMS:  res.Duration.Milliseconds(),
		StrikeCount: res.StrikeCount,
		Stations:    res.Stations,
		Errors:      res.Errors,
		Skipped:     res.Skipped,
		State:       h.viewer.State(),
	}
	h.sendJSON(w, response, http.StatusOK)
}

// Measure handles GET /api/measure?from=lat,lng&to=lat,lng&zoom=z
func (h *WeatherHandler) Measure(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	from, err := parseLatLng(query.Get("from"))
	if err != nil {
		h.sendError(w, r, "from: "+err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseLatLng(query.Get("to"))
	if err != nil {
		h.sendError(w, r, "to: "+err.Error(), http.StatusBadRequest)
		return
	}

	zoom := 0.0
	if z := query.Get("zoom"); z != "" {
		zoom, err = strconv.ParseFloat(z, 64)
		if err != nil {
			h.sendError(w, r, "zoom must be a number", http.StatusBadRequest)
			return
		}
	}

	m, err := geo.Measure(from, to, zoom)
	if err != nil {
		h.sendError(w, r, err.Error(), http.StatusBadRequest)
		return
	}
	h.sendJSON(w, m, http.StatusOK)
}

// ListRefreshes handles GET /api/refreshes
func (h *WeatherHandler) ListRefreshes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	// Default pagination
	page := 1
	limit := 50

	if p, err := strconv.Atoi(query.Get("page")); err == nil && p > 0 {
		page = p
	}
	if l, err := strconv.Atoi(query.Get("limit")); err == nil && l > 0 && l <= 500 {
		limit = l
	}

	filter := repository.RefreshRunFilter{
		Limit:  limit,
		Offset: (page - 1) * limit,
	}

	if trigger := query.Get("trigger"); trigger != "" {
		filter.Trigger = &trigger
	}
	if sinceStr := query.Get("since"); sinceStr != "" {
		since, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			h.sendError(w, r, "invalid since format, expected RFC 3339", http.StatusBadRequest)
			return
		}
		filter.Since = &since
	}

	runs, total, err := h.runs.ListRuns(ctx, filter)
	if err != nil {
		h.logger.Error(ctx, "[API_LIST_REFRESHES_ERROR] Failed to list refresh runs", logging.Fields{
			"page":  page,
			"limit": limit,
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/refreshes")
		h.sendError(w, r, "failed to retrieve refresh runs", http.StatusInternalServerError)
		return
	}

	h.sendJSON(w, PaginatedResponse{
		Data:       runs,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}, http.StatusOK)
}

// HealthCheck handles GET /health
func (h *WeatherHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{
		"status":    "healthy",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK

	for _, hc := range h.health {
		if err := hc.HealthCheck(ctx); err != nil {
			h.logger.Warn(ctx, "[HEALTH_CHECK_FAILED] Dependency unhealthy", logging.Fields{
				"error": err.Error(),
			})
			status["status"] = "unhealthy"
			status["database"] = err.Error()
			code = http.StatusServiceUnavailable
			break
		}
	}

	h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", nil)
	h.sendJSON(w, status, code)
}

// sendJSON sends a JSON response
func (h *WeatherHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	sendJSON(w, data, statusCode)
}

// sendError sends an error response
func (h *WeatherHandler) sendError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	sendError(w, message, statusCode)
}

// sendServiceError maps a service error onto a status code
func (h *WeatherHandler) sendServiceError(w http.ResponseWriter, r *http.Request, err error) {
	sendServiceError(w, r, h.logger, h.metrics, err)
}

// RegisterRoutes registers the viewer API routes
func (h *WeatherHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/state", h.GetState).Methods("GET")
	router.HandleFunc("/api/lightning", h.GetLightning).Methods("GET")
	router.HandleFunc("/api/layers/{layer}", h.GetLayer).Methods("GET")
	router.HandleFunc("/api/radar/times", h.GetRadarTimes).Methods("GET")
	router.HandleFunc("/api/radar/frames/{step}", h.GetRadarFrame).Methods("GET")
	router.HandleFunc("/api/history", h.SetHistory).Methods("POST")
	router.HandleFunc("/api/animation/{action}", h.Animation).Methods("POST")
	router.HandleFunc("/api/refresh", h.Refresh).Methods("POST")
	router.HandleFunc("/api/measure", h.Measure).Methods("GET")
	router.HandleFunc("/api/refreshes", h.ListRefreshes).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
}

func sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func sendError(w http.ResponseWriter, message string, statusCode int) {
	sendJSON(w, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}, statusCode)
}

func sendServiceError(w http.ResponseWriter, r *http.Request, logger *logging.StructuredLogger, collector *metrics.Collector, err error) {
	var verr *models.ValidationError
	var nf *repository.NotFoundError

	switch {
	case errors.As(err, &verr):
		sendError(w, verr.Error(), http.StatusBadRequest)
	case errors.As(err, &nf):
		sendError(w, nf.Error(), http.StatusNotFound)
	case errors.Is(err, services.ErrPlaybackStopped), errors.Is(err, context.Canceled):
		sendError(w, "playback controller is not running", http.StatusServiceUnavailable)
	default:
		logger.Error(r.Context(), "[API_ERROR] Request failed", logging.Fields{
			"path":   r.URL.Path,
			"method": r.Method,
		}, err)
		collector.RecordAPIError("internal_error", routeTemplate(r))
		sendError(w, "internal server error", http.StatusInternalServerError)
	}
}

// viewportParam reads bbox, width and height; the size defaults to 1024x1024
func viewportParam(query url.Values) (radar.Viewport, error) {
	width, err := intParam(query.Get("width"), 1024)
	if err != nil {
		return radar.Viewport{}, errors.New("width must be an integer")
	}
	height, err := intParam(query.Get("height"), 1024)
	if err != nil {
		return radar.Viewport{}, errors.New("height must be an integer")
	}
	return radar.ParseViewport(query.Get("bbox"), width, height)
}

func intParam(s string, fallback int) (int, error) {
	if s == "" {
		return fallback, nil
	}
	return strconv.Atoi(s)
}

func parseLatLng(s string) (geo.LatLng, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return geo.LatLng{}, errors.New("expected lat,lng")
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return geo.LatLng{}, errors.New("latitude is not a number")
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return geo.LatLng{}, errors.New("longitude is not a number")
	}
	return geo.LatLng{Lat: lat, Lng: lng}, nil
}
