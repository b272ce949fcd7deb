package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Dusre/radar/internal/events"
	"github.com/Dusre/radar/internal/models"
	"github.com/Dusre/radar/internal/radar"
	"github.com/Dusre/radar/internal/repository"
	"github.com/Dusre/radar/internal/state"
)

func newTestRefreshService(source WeatherSource, store *state.Store, cache *radar.FrameCache, runs *fakeRuns, pub *fakePublisher) *RefreshService {
	logger, collector := testDeps()

	var runRepo repository.RefreshRunRepository
	if runs != nil {
		runRepo = runs
	}
	var publisher events.Publisher
	if pub != nil {
		publisher = pub
	}

	s := NewRefreshService(source, store, cache, runRepo, publisher, []models.Layer{
		models.LayerTemperature,
		models.LayerWind,
		models.LayerClouds,
		models.LayerLightning,
		models.LayerTemperature,
	}, logger, collector)
	s.now = func() time.Time { return fixedNow }
	return s
}

func TestNewRefreshServiceLayers(t *testing.T) {
	s := newTestRefreshService(&fakeWeather{}, state.NewStore(), nil, nil, nil)
	got := s.Layers()
	want := []models.Layer{models.LayerTemperature, models.LayerWind, models.LayerClouds}
	if len(got) != len(want) {
		t.Fatalf("layers = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("layers[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRefreshAll(t *testing.T) {
	strikeTime := fixedNow.Add(-3 * time.Minute)
	obsTime := fixedNow.Add(-10 * time.Minute)

	tests := []struct {
		name        string
		source      *fakeWeather
		checkValues func(t *testing.T, store *state.Store, res *RefreshResult, runs *fakeRuns, pub *fakePublisher)
	}{
		{
			name: "all layers succeed",
			source: &fakeWeather{
				strikes: []models.LightningStrike{
					{Lat: 61, Lng: 25, Time: strikeTime, Intensity: 12},
					{Lat: 62, Lng: 26, Time: strikeTime.Add(-time.Minute), Intensity: 50},
				},
				layers: map[models.Layer][]models.StationObservation{
					models.LayerTemperature: {
						{Lat: 60.2, Lng: 24.9, Value: 15.3, Time: obsTime, Station: "Helsinki"},
						{Lat: 65.0, Lng: 25.5, Value: 60, Time: obsTime, Station: "Broken"},
					},
					models.LayerClouds: {
						{Lat: 60.2, Lng: 24.9, Value: 6.6, Time: obsTime, Station: "Helsinki"},
						{Lat: 65.0, Lng: 25.5, Value: 9, Time: obsTime, Station: "Broken"},
					},
				},
				wind: []models.WindObservation{
					{Lat: 60.2, Lng: 24.9, Speed: 75, Direction: -90, Time: obsTime, Station: "Helsinki"},
				},
			},
			checkValues: func(t *testing.T, store *state.Store, res *RefreshResult, runs *fakeRuns, pub *fakePublisher) {
				snap := store.Snapshot()
				if snap.Status.Text != "Ladattu 2 salamaa" || snap.Status.Kind != models.StatusSuccess {
					t.Errorf("status = %+v", snap.Status)
				}
				if !snap.NewestStrike.Equal(strikeTime) {
					t.Errorf("newest strike = %v, want %v", snap.NewestStrike, strikeTime)
				}
				if !snap.RadarLastUpdate.Equal(fixedNow) {
					t.Errorf("radar last update = %v", snap.RadarLastUpdate)
				}
				temps := snap.Observations[models.LayerTemperature]
				if len(temps) != 1 || temps[0].Station != "Helsinki" {
					t.Errorf("temperature not filtered: %+v", temps)
				}
				clouds := snap.Observations[models.LayerClouds]
				if len(clouds) != 1 || clouds[0].Value != 7 {
					t.Errorf("clouds not rounded and filtered: %+v", clouds)
				}
				if len(snap.Wind) != 1 || snap.Wind[0].Speed != 60 || snap.Wind[0].Direction != 270 {
					t.Errorf("wind not normalised: %+v", snap.Wind)
				}
				if res.StrikeCount != 2 || res.StationCount() != 3 || len(res.Errors) != 0 {
					t.Errorf("unexpected result: %+v", res)
				}
				if len(runs.created) != 1 || runs.created[0].StationCount != 3 || runs.created[0].Trigger != models.TriggerTimer {
					t.Errorf("run not recorded: %+v", runs.created)
				}
				if len(pub.events) != 1 || pub.events[0].Stations["wind"] != 1 || pub.events[0].NewestStrike == nil {
					t.Errorf("event not published: %+v", pub.events)
				}
			},
		},
		{
			name: "failures degrade to empty layers",
			source: &fakeWeather{
				lightningErr: errors.New("HTTP 503"),
				layerErr: map[models.Layer]error{
					models.LayerTemperature: errors.New("XML parsing error"),
				},
				windErr: errors.New("timeout"),
			},
			checkValues: func(t *testing.T, store *state.Store, res *RefreshResult, runs *fakeRuns, pub *fakePublisher) {
				snap := store.Snapshot()
				if snap.Status.Text != "Virhe: HTTP 503" || snap.Status.Kind != models.StatusError {
					t.Errorf("status = %+v", snap.Status)
				}
				if len(snap.Lightning) != 0 || len(snap.Wind) != 0 || len(snap.Observations[models.LayerTemperature]) != 0 {
					t.Errorf("failed layers must be empty: %+v", snap)
				}
				if !snap.NewestStrike.Equal(fixedNow.Add(-time.Hour)) {
					t.Errorf("newest strike must not move back, got %v", snap.NewestStrike)
				}
				if len(res.Errors) != 3 {
					t.Errorf("errors = %v, want 3", res.Errors)
				}
				if len(runs.created) != 1 || runs.created[0].ErrorCount != 3 {
					t.Errorf("run not recorded: %+v", runs.created)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := state.NewStore()
			store.SetLightning([]models.LightningStrike{{Lat: 60, Lng: 25, Time: fixedNow.Add(-time.Hour)}})
			store.SetObservations(models.LayerTemperature, []models.StationObservation{{Station: "stale"}})

			runs := &fakeRuns{}
			pub := &fakePublisher{}
			s := newTestRefreshService(tt.source, store, nil, runs, pub)

			res := s.RefreshAll(context.Background(), models.TriggerTimer)
			tt.checkValues(t, store, res, runs, pub)
		})
	}
}

func TestRefreshAllDropsLiveFrames(t *testing.T) {
	vp := radar.Viewport{West: 0, South: 0, East: 10, North: 10, Width: 256, Height: 256}
	cache := radar.NewFrameCache(8)
	past := fixedNow.Add(-5 * time.Minute)
	cache.Put(radar.Frame{Viewport: vp}.Key(), []byte("live"), "image/png")
	cache.Put(radar.Frame{Time: past, Viewport: vp}.Key(), []byte("past"), "image/png")

	s := newTestRefreshService(&fakeWeather{}, state.NewStore(), cache, nil, nil)
	s.RefreshAll(context.Background(), models.TriggerManual)

	if cache.Has(radar.Frame{Viewport: vp}.Key()) {
		t.Error("live frame should be dropped on refresh")
	}
	if !cache.Has(radar.Frame{Time: past, Viewport: vp}.Key()) {
		t.Error("historical frame should survive a refresh")
	}
}

func TestRefreshAllPersistFailureIsNotFatal(t *testing.T) {
	runs := &fakeRuns{err: errors.New("disk full")}
	s := newTestRefreshService(&fakeWeather{}, state.NewStore(), nil, runs, &fakePublisher{})

	res := s.RefreshAll(context.Background(), models.TriggerStartup)
	if res == nil || res.Trigger != models.TriggerStartup {
		t.Fatalf("unexpected result: %+v", res)
	}
}
