package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Dusre/radar/internal/models"
	"github.com/Dusre/radar/internal/radar"
	"github.com/Dusre/radar/internal/repository"
	"github.com/Dusre/radar/internal/services"
	"github.com/Dusre/radar/internal/state"
	"github.com/Dusre/radar/migrations"
	"github.com/Dusre/radar/pkg/database"
	"github.com/Dusre/radar/pkg/logging"
	"github.com/Dusre/radar/pkg/metrics"
)

const testBBox = "-548576,6291456,1548576,8388608"

func testDeps() (*logging.StructuredLogger, *metrics.Collector) {
	logger := logging.NewStructuredLogger("handlers-test", "test", logging.ErrorLevel)
	logger.SetOutput(io.Discard)
	return logger, metrics.NewCollectorWithRegistry("test", prometheus.NewRegistry())
}

type fakeFrames struct{}

func (fakeFrames) FetchMap(_ context.Context, frame radar.Frame) ([]byte, string, error) {
	return []byte("png:" + radar.TimeKey(frame.Time)), "image/png", nil
}

type fakeController struct {
	mu        sync.Mutex
	store     *state.Store
	animating bool
	viewport  radar.Viewport
	refreshes int
	err       error
}

func (f *fakeController) StartAnimation(_ context.Context, vp radar.Viewport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.viewport = vp
	f.animating = true
	f.store.SetAnimating(true)
	return nil
}

func (f *fakeController) StopAnimation(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.animating = false
	f.store.SetAnimating(false)
	return nil
}

func (f *fakeController) ToggleAnimation(ctx context.Context, vp radar.Viewport) (bool, error) {
	f.mu.Lock()
	on := !f.animating
	f.mu.Unlock()
	if on {
		return true, f.StartAnimation(ctx, vp)
	}
	return false, f.StopAnimation(ctx)
}

func (f *fakeController) SetHistoryStep(_ context.Context, step int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	step = radar.ClampStep(step, 12)
	f.store.SetHistoryStep(step)
	return step, nil
}

func (f *fakeController) RefreshNow(context.Context) (*services.RefreshResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.refreshes++
	f.store.SetHistoryStep(0)
	return &services.RefreshResult{
		RunID:       "run-1",
		Trigger:     models.TriggerManual,
		StartedAt:   time.Now(),
		Duration:    1500 * time.Millisecond,
		StrikeCount: 2,
		Stations:    map[models.Layer]int{models.LayerTemperature: 10},
	}, nil
}

func (f *fakeController) MaxHistorySteps() int { return 12 }

type fakeRuns struct {
	runs   []*models.RefreshRun
	filter repository.RefreshRunFilter
	err    error
}

func (f *fakeRuns) ListRuns(_ context.Context, filter repository.RefreshRunFilter) ([]*models.RefreshRun, int, error) {
	f.filter = filter
	if f.err != nil {
		return nil, 0, f.err
	}
	end := filter.Offset + filter.Limit
	if end > len(f.runs) {
		end = len(f.runs)
	}
	if filter.Offset >= len(f.runs) {
		return []*models.RefreshRun{}, len(f.runs), nil
	}
	return f.runs[filter.Offset:end], len(f.runs), nil
}

type fakeHealth struct{ err error }

func (f fakeHealth) HealthCheck(context.Context) error { return f.err }

type testServer struct {
	router     *mux.Router
	store      *state.Store
	controller *fakeController
	runs       *fakeRuns
	health     *fakeHealth
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger, collector := testDeps()

	db, err := database.Open(&database.Config{
		Driver:       database.DriverSQLite,
		Path:         ":memory:",
		MaxOpenConns: 4,
		MaxIdleConns: 4,
	}, logger, collector)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background(), migrations.FS, database.DirectionUp); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := state.NewStore()
	view := services.NewViewService(services.ViewConfig{
		MaxHistorySteps: 12,
		WMSURL:          "https://openwms.fmi.fi/geoserver/Radar/wms",
		RadarLayer:      "Radar:suomi_dbz_eureffin",
	}, store, radar.NewFrameCache(8), fakeFrames{}, logger, collector)

	ts := &testServer{
		router:     mux.NewRouter(),
		store:      store,
		controller: &fakeController{store: store},
		runs:       &fakeRuns{},
		health:     &fakeHealth{},
	}

	prefs := services.NewPreferencesService(repository.NewPreferencesRepository(db, logger, collector), logger, collector)
	assets := fstest.MapFS{
		"index.html":       {Data: []byte("<html>radar</html>")},
		"static/app.js":    {Data: []byte("// app")},
		"static/style.css": {Data: []byte("body{}")},
	}

	ts.router.Use(Instrument(logger, collector))
	NewWeatherHandler(view, ts.controller, ts.runs, logger, collector, ts.health).RegisterRoutes(ts.router)
	NewPreferencesHandler(prefs, logger, collector).RegisterRoutes(ts.router)
	NewStateHub(view, store, 50*time.Millisecond, logger, collector).RegisterRoutes(ts.router)
	NewPageHandler(assets, "").RegisterRoutes(ts.router)
	RegisterDocsRoutes(ts.router)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestWeatherHandlerReads(t *testing.T) {
	ts := newTestServer(t)
	now := time.Now()
	ts.store.SetLightning([]models.LightningStrike{
		{Lat: 61, Lng: 25, Time: now.Add(-time.Minute), Intensity: 20},
		{Lat: 62, Lng: 26, Time: now.Add(-time.Hour), Intensity: 20},
	})
	ts.store.SetObservations(models.LayerTemperature, []models.StationObservation{
		{Lat: 60.2, Lng: 24.9, Value: -3.4, Time: now, Station: "Helsinki"},
	})
	ts.store.SetRadarTimes(radar.BuildTimes(radar.Floor(now, 5*time.Minute), 12, 5*time.Minute))
	ts.runs.runs = []*models.RefreshRun{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	tests := []struct {
		name        string
		path        string
		wantStatus  int
		checkValues func(t *testing.T, rec *httptest.ResponseRecorder)
	}{
		{
			name:       "state",
			path:       "/api/state",
			wantStatus: http.StatusOK,
			checkValues: func(t *testing.T, rec *httptest.ResponseRecorder) {
				v := decode[services.StateView](t, rec)
				if !v.Live || v.TimeLabel != "Nyt (Live)" || v.RecentStrikes != 1 {
					t.Errorf("unexpected state: %+v", v)
				}
			},
		},
		{
			name:       "lightning",
			path:       "/api/lightning",
			wantStatus: http.StatusOK,
			checkValues: func(t *testing.T, rec *httptest.ResponseRecorder) {
				if ct := rec.Header().Get("Content-Type"); ct != "application/geo+json" {
					t.Errorf("content type = %s", ct)
				}
				fc := decode[struct {
					Type     string `json:"type"`
					Features []struct {
						Geometry struct {
							Coordinates []float64 `json:"coordinates"`
						} `json:"geometry"`
					} `json:"features"`
				}](t, rec)
				if fc.Type != "FeatureCollection" || len(fc.Features) != 1 {
					t.Fatalf("unexpected collection: %+v", fc)
				}
				if c := fc.Features[0].Geometry.Coordinates; c[0] != 25 || c[1] != 61 {
					t.Errorf("coordinates = %v, want [25 61]", c)
				}
			},
		},
		{
			name:       "temperature layer",
			path:       "/api/layers/temperature",
			wantStatus: http.StatusOK,
			checkValues: func(t *testing.T, rec *httptest.ResponseRecorder) {
				v := decode[services.LayerView](t, rec)
				if v.Count != 1 || v.Markers[0].Label != "-3°C" {
					t.Errorf("unexpected layer view: %+v", v)
				}
			},
		},
		{
			name:       "unknown layer",
			path:       "/api/layers/snow",
			wantStatus: http.StatusBadRequest,
			checkValues: func(t *testing.T, rec *httptest.ResponseRecorder) {
				e := decode[ErrorResponse](t, rec)
				if e.Code != http.StatusBadRequest || e.Error != "Bad Request" || !strings.Contains(e.Message, "snow") {
					t.Errorf("unexpected envelope: %+v", e)
				}
			},
		},
		{
			name:       "radar times",
			path:       "/api/radar/times",
			wantStatus: http.StatusOK,
			checkValues: func(t *testing.T, rec *httptest.ResponseRecorder) {
				v := decode[RadarTimesResponse](t, rec)
				if v.Count != 13 || len(v.Times) != 13 || !strings.HasSuffix(v.Times[0], ".000Z") {
					t.Errorf("unexpected times: %+v", v)
				}
			},
		},
		{
			name:       "live frame",
			path:       "/api/radar/frames/0?bbox=" + testBBox + "&width=256&height=256",
			wantStatus: http.StatusOK,
			checkValues: func(t *testing.T, rec *httptest.ResponseRecorder) {
				if rec.Body.String() != "png:live" || rec.Header().Get("Content-Type") != "image/png" {
					t.Errorf("unexpected frame %q", rec.Body.String())
				}
				if rec.Header().Get("Cache-Control") != "no-cache" {
					t.Errorf("live frames must not be cached by the browser")
				}
			},
		},
		{
			name:       "historical frame",
			path:       "/api/radar/frames/2?bbox=" + testBBox,
			wantStatus: http.StatusOK,
			checkValues: func(t *testing.T, rec *httptest.ResponseRecorder) {
				if !strings.HasPrefix(rec.Body.String(), "png:20") {
					t.Errorf("unexpected frame %q", rec.Body.String())
				}
			},
		},
		{name: "frame step not a number", path: "/api/radar/frames/x?bbox=" + testBBox, wantStatus: http.StatusBadRequest},
		{name: "frame step out of range", path: "/api/radar/frames/13?bbox=" + testBBox, wantStatus: http.StatusBadRequest},
		{name: "frame without bbox", path: "/api/radar/frames/1", wantStatus: http.StatusBadRequest},
		{name: "frame with bad width", path: "/api/radar/frames/1?bbox=" + testBBox + "&width=wide", wantStatus: http.StatusBadRequest},
		{
			name:       "measure",
			path:       "/api/measure?from=60.17,24.94&to=61.50,23.76&zoom=4",
			wantStatus: http.StatusOK,
			checkValues: func(t *testing.T, rec *httptest.ResponseRecorder) {
				v := decode[struct {
					Meters    float64 `json:"meters"`
					Formatted string  `json:"formatted"`
				}](t, rec)
				if v.Meters < 155000 || v.Meters > 165000 || !strings.HasSuffix(v.Formatted, " km") {
					t.Errorf("unexpected measurement: %+v", v)
				}
			},
		},
		{name: "measure missing point", path: "/api/measure?from=60,25", wantStatus: http.StatusBadRequest},
		{name: "measure latitude out of range", path: "/api/measure?from=95,25&to=60,25", wantStatus: http.StatusBadRequest},
		{
			name:       "refresh history page",
			path:       "/api/refreshes?page=2&limit=2&trigger=timer",
			wantStatus: http.StatusOK,
			checkValues: func(t *testing.T, rec *httptest.ResponseRecorder) {
				v := decode[struct {
					Data       []models.RefreshRun `json:"data"`
					Total      int                 `json:"total"`
					Page       int                 `json:"page"`
					TotalPages int                 `json:"total_pages"`
				}](t, rec)
				if len(v.Data) != 1 || v.Data[0].ID != "c" || v.Total != 3 || v.Page != 2 || v.TotalPages != 2 {
					t.Errorf("unexpected page: %+v", v)
				}
				if ts.runs.filter.Trigger == nil || *ts.runs.filter.Trigger != "timer" || ts.runs.filter.Offset != 2 {
					t.Errorf("unexpected filter: %+v", ts.runs.filter)
				}
			},
		},
		{name: "refresh history bad since", path: "/api/refreshes?since=yesterday", wantStatus: http.StatusBadRequest},
		{
			name:       "health",
			path:       "/health",
			wantStatus: http.StatusOK,
			checkValues: func(t *testing.T, rec *httptest.ResponseRecorder) {
				if v := decode[map[string]string](t, rec); v["status"] != "healthy" {
					t.Errorf("unexpected health: %v", v)
				}
			},
		},
		{
			name:       "page",
			path:       "/",
			wantStatus: http.StatusOK,
			checkValues: func(t *testing.T, rec *httptest.ResponseRecorder) {
				if !strings.Contains(rec.Body.String(), "radar") {
					t.Errorf("unexpected page %q", rec.Body.String())
				}
			},
		},
		{name: "static asset", path: "/static/app.js", wantStatus: http.StatusOK},
		{
			name:       "openapi",
			path:       "/api/docs/openapi.json",
			wantStatus: http.StatusOK,
			checkValues: func(t *testing.T, rec *httptest.ResponseRecorder) {
				v := decode[map[string]interface{}](t, rec)
				paths, _ := v["paths"].(map[string]interface{})
				if v["openapi"] != "3.0.0" || paths["/api/radar/frames/{step}"] == nil {
					t.Errorf("unexpected document: %v", v)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, tt.path, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if rec.Header().Get(RequestIDHeader) == "" {
				t.Error("missing request id header")
			}
			if tt.checkValues != nil {
				tt.checkValues(t, rec)
			}
		})
	}
}

func TestWeatherHandlerControls(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		path        string
		body        interface{}
		ctrlErr     error
		wantStatus  int
		checkValues func(t *testing.T, ts *testServer, rec *httptest.ResponseRecorder)
	}{
		{
			name:       "history step",
			method:     http.MethodPost,
			path:       "/api/history",
			body:       map[string]int{"step": 3},
			wantStatus: http.StatusOK,
			checkValues: func(t *testing.T, ts *testServer, rec *httptest.ResponseRecorder) {
				v := decode[services.StateView](t, rec)
				if v.HistoryStep != 3 || v.SliderValue != 9 || v.Live {
					t.Errorf("unexpected state: %+v", v)
				}
			},
		},
		{
			name:       "history slider at the right end is live",
			method:     http.MethodPost,
			path:       "/api/history",
			body:       map[string]int{"slider": 12},
			wantStatus: http.StatusOK,
			checkValues: func(t *testing.T, ts *testServer, rec *httptest.ResponseRecorder) {
				if v := decode[services.StateView](t, rec); v.HistoryStep != 0 || !v.Live {
					t.Errorf("unexpected state: %+v", v)
				}
			},
		},
		{name: "history without step", method: http.MethodPost, path: "/api/history", body: map[string]int{}, wantStatus: http.StatusBadRequest},
		{name: "history with broken JSON", method: http.MethodPost, path: "/api/history", body: "{", wantStatus: http.StatusBadRequest},
		{
			name:       "animation start",
			method:     http.MethodPost,
			path:       "/api/animation/start",
			wantStatus: http.StatusOK,
			checkValues: func(t *testing.T, ts *testServer, rec *httptest.ResponseRecorder) {
				if v := decode[services.StateView](t, rec); !v.Animating || v.Countdown != "Animaatio" {
					t.Errorf("unexpected state: %+v", v)
				}
			},
		},
		{
			name:       "animation toggle",
			method:     http.MethodPost,
			path:       "/api/animation/toggle",
			wantStatus: http.StatusOK,
			checkValues: func(t *testing.T, ts *testServer, rec *httptest.ResponseRecorder) {
				if v := decode[services.StateView](t, rec); !v.Animating {
					t.Errorf("toggle from idle should animate: %+v", v)
				}
			},
		},
		{
			name:       "animation start with the client viewport",
			method:     http.MethodPost,
			path:       "/api/animation/start?bbox=" + testBBox + "&width=800&height=600",
			wantStatus: http.StatusOK,
			checkValues: func(t *testing.T, ts *testServer, rec *httptest.ResponseRecorder) {
				vp := ts.controller.viewport
				if vp.BBox() != testBBox || vp.Width != 800 || vp.Height != 600 {
					t.Errorf("viewport = %+v", vp)
				}
			},
		},
		{
			name:       "animation toggle without a viewport",
			method:     http.MethodPost,
			path:       "/api/animation/toggle",
			wantStatus: http.StatusOK,
			checkValues: func(t *testing.T, ts *testServer, rec *httptest.ResponseRecorder) {
				if ts.controller.viewport != (radar.Viewport{}) {
					t.Errorf("expected the configured viewport, got %+v", ts.controller.viewport)
				}
			},
		},
		{name: "animation with an empty bbox", method: http.MethodPost, path: "/api/animation/start?bbox=5,5,1,1", wantStatus: http.StatusBadRequest},
		{name: "animation with a NaN bbox", method: http.MethodPost, path: "/api/animation/start?bbox=NaN,1,2,3", wantStatus: http.StatusBadRequest},
		{name: "animation with a bad height", method: http.MethodPost, path: "/api/animation/start?bbox=" + testBBox + "&height=tall", wantStatus: http.StatusBadRequest},
		{name: "animation unknown action", method: http.MethodPost, path: "/api/animation/rewind", wantStatus: http.StatusNotFound},
		{name: "animation wrong method", method: http.MethodGet, path: "/api/animation/start", wantStatus: http.StatusMethodNotAllowed},
		{
			name:       "manual refresh",
			method:     http.MethodPost,
			path:       "/api/refresh",
			wantStatus: http.StatusOK,
			checkValues: func(t *testing.T, ts *testServer, rec *httptest.ResponseRecorder) {
				v := decode[RefreshResponse](t, rec)
				if v.RunID != "run-1" || v.DurationMS != 1500 || v.Stations[models.LayerTemperature] != 10 || v.State == nil {
					t.Errorf("unexpected response: %+v", v)
				}
				if ts.controller.refreshes != 1 {
					t.Errorf("refreshes = %d", ts.controller.refreshes)
				}
			},
		},
		{
			name:       "controller stopped",
			method:     http.MethodPost,
			path:       "/api/refresh",
			ctrlErr:    services.ErrPlaybackStopped,
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "controller failure",
			method:     http.MethodPost,
			path:       "/api/animation/stop",
			ctrlErr:    errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			checkValues: func(t *testing.T, ts *testServer, rec *httptest.ResponseRecorder) {
				if e := decode[ErrorResponse](t, rec); e.Message != "internal server error" {
					t.Errorf("internal errors must not leak: %+v", e)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.controller.err = tt.ctrlErr

			rec := ts.do(t, tt.method, tt.path, tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.checkValues != nil {
				tt.checkValues(t, ts, rec)
			}
		})
	}
}

func TestHealthCheckUnhealthy(t *testing.T) {
	ts := newTestServer(t)
	ts.health.err = errors.New("database is locked")

	rec := ts.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if v := decode[map[string]string](t, rec); v["status"] != "unhealthy" {
		t.Errorf("unexpected health: %v", v)
	}
}

func TestRequestIDIsPropagated(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Errorf("request id = %q, want abc-123", got)
	}
}
