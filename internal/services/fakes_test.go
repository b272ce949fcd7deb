package services

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Dusre/radar/internal/events"
	"github.com/Dusre/radar/internal/models"
	"github.com/Dusre/radar/internal/radar"
	"github.com/Dusre/radar/internal/repository"
	"github.com/Dusre/radar/pkg/logging"
	"github.com/Dusre/radar/pkg/metrics"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testDeps() (*logging.StructuredLogger, *metrics.Collector) {
	logger := logging.NewStructuredLogger("services-test", "test", logging.ErrorLevel)
	logger.SetOutput(io.Discard)
	return logger, metrics.NewCollectorWithRegistry("test", prometheus.NewRegistry())
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type fakeWeather struct {
	mu           sync.Mutex
	strikes      []models.LightningStrike
	lightningErr error
	layers       map[models.Layer][]models.StationObservation
	layerErr     map[models.Layer]error
	wind         []models.WindObservation
	windErr      error
}

func (f *fakeWeather) FetchLightning(context.Context) ([]models.LightningStrike, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.strikes, f.lightningErr
}

func (f *fakeWeather) FetchLayer(_ context.Context, layer models.Layer) ([]models.StationObservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.layerErr[layer]; err != nil {
		return nil, err
	}
	return f.layers[layer], nil
}

func (f *fakeWeather) FetchWind(context.Context) ([]models.WindObservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wind, f.windErr
}

type fakeRadar struct {
	mu        sync.Mutex
	times     []time.Time
	timesErr  error
	mapErr    error
	mapCalls  int
	viewports map[string]int
}

func (f *fakeRadar) FetchRadarTimes(context.Context, int, time.Duration) ([]time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.times, f.timesErr
}

func (f *fakeRadar) FetchMap(_ context.Context, frame radar.Frame) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mapCalls++
	if f.viewports == nil {
		f.viewports = make(map[string]int)
	}
	f.viewports[frame.Viewport.String()]++
	if f.mapErr != nil {
		return nil, "", f.mapErr
	}
	return []byte("png:" + radar.TimeKey(frame.Time)), "image/png", nil
}

func (f *fakeRadar) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mapCalls
}

func (f *fakeRadar) viewportCalls(vp radar.Viewport) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.viewports[vp.String()]
}

// fakeRefresher records triggers. With release set, every refresh blocks until
// the test sends on it.
type fakeRefresher struct {
	mu       sync.Mutex
	triggers []string
	release  chan struct{}
}

func (f *fakeRefresher) RefreshAll(ctx context.Context, trigger string) *RefreshResult {
	f.mu.Lock()
	f.triggers = append(f.triggers, trigger)
	f.mu.Unlock()
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
		}
	}
	return &RefreshResult{Trigger: trigger, StartedAt: time.Now()}
}

func (f *fakeRefresher) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.triggers...)
}

type fakeRuns struct {
	mu      sync.Mutex
	created []*models.RefreshRun
	err     error
}

func (f *fakeRuns) Create(_ context.Context, run *models.RefreshRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, run)
	return nil
}

func (f *fakeRuns) List(context.Context, repository.RefreshRunFilter) ([]*models.RefreshRun, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created, len(f.created), nil
}

func (f *fakeRuns) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }
func (f *fakeRuns) HealthCheck(context.Context) error                      { return nil }

type fakePublisher struct {
	mu     sync.Mutex
	events []events.RefreshEvent
}

func (f *fakePublisher) Publish(_ context.Context, e events.RefreshEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakePublisher) Close() {}

type fakePrefsRepo struct {
	mu    sync.Mutex
	prefs map[string]models.Preferences
}

func newFakePrefsRepo() *fakePrefsRepo {
	return &fakePrefsRepo{prefs: make(map[string]models.Preferences)}
}

func (f *fakePrefsRepo) Get(_ context.Context, id string) (*models.Preferences, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prefs[id]
	if !ok {
		return nil, &repository.NotFoundError{Resource: "preferences", ID: id}
	}
	return &p, nil
}

func (f *fakePrefsRepo) Upsert(_ context.Context, p *models.Preferences) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefs[p.ClientID] = *p
	return nil
}

func (f *fakePrefsRepo) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.prefs[id]; !ok {
		return &repository.NotFoundError{Resource: "preferences", ID: id}
	}
	delete(f.prefs, id)
	return nil
}

func (f *fakePrefsRepo) HealthCheck(context.Context) error { return nil }
