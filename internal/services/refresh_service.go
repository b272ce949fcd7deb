package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Dusre/radar/internal/events"
	"github.com/Dusre/radar/internal/models"
	"github.com/Dusre/radar/internal/radar"
	"github.com/Dusre/radar/internal/repository"
	"github.com/Dusre/radar/internal/state"
	"github.com/Dusre/radar/pkg/logging"
	"github.com/Dusre/radar/pkg/metrics"
)

// Lightning status lines shown to the user
const (
	StatusLightningLoading = "Ladataan salamoita..."
	statusLightningLoaded  = "Ladattu %d salamaa"
	statusLightningError   = "Virhe: %s"
)

// WeatherSource fetches lightning and station observations
type WeatherSource interface {
	FetchLightning(ctx context.Context) ([]models.LightningStrike, error)
	FetchLayer(ctx context.Context, layer models.Layer) ([]models.StationObservation, error)
	FetchWind(ctx context.Context) ([]models.WindObservation, error)
}

// RefreshService fetches every data layer and replaces it in the store
type RefreshService struct {
	source    WeatherSource
	store     *state.Store
	cache     *radar.FrameCache
	runs      repository.RefreshRunRepository
	publisher events.Publisher
	layers    []models.Layer
	retention time.Duration
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector
	now       func() time.Time
}

// RefreshResult contains refresh statistics
type RefreshResult struct {
	RunID       string
	Trigger     string
	StartedAt   time.Time
	Duration    time.Duration
	StrikeCount int
	Stations    map[models.Layer]int
	Errors      []string
	Skipped     bool
}

// StationCount sums the stations of all layers
func (r *RefreshResult) StationCount() int {
	n := 0
	for _, c := range r.Stations {
		n += c
	}
	return n
}

// NewRefreshService creates a refresh service. runs and publisher may be nil.
// Only station layers in layers are fetched; lightning is always fetched.
func NewRefreshService(
	source WeatherSource,
	store *state.Store,
	cache *radar.FrameCache,
	runs repository.RefreshRunRepository,
	publisher events.Publisher,
	layers []models.Layer,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *RefreshService {
	if publisher == nil {
		publisher = events.Nop{}
	}

	stationLayers := make([]models.Layer, 0, len(layers))
	seen := make(map[models.Layer]bool)
	for _, l := range layers {
		if l.IsStation() && !seen[l] {
			seen[l] = true
			stationLayers = append(stationLayers, l)
		}
	}

	return &RefreshService{
		source:    source,
		store:     store,
		cache:     cache,
		runs:      runs,
		publisher: publisher,
		layers:    stationLayers,
		logger:    logger,
		metrics:   metricsCollector,
		now:       time.Now,
	}
}

// SetRetention makes every refresh delete recorded runs older than d. Zero keeps everything.
func (s *RefreshService) SetRetention(d time.Duration) {
	s.retention = d
}

// ListRuns returns recorded refresh runs, newest first, and the total count
func (s *RefreshService) ListRuns(ctx context.Context, filter repository.RefreshRunFilter) ([]*models.RefreshRun, int, error) {
	if s.runs == nil {
		return []*models.RefreshRun{}, 0, nil
	}
	return s.runs.List(ctx, filter)
}

// Layers returns the station layers fetched on every refresh
func (s *RefreshService) Layers() []models.Layer {
	return append([]models.Layer(nil), s.layers...)
}

// RefreshAll fetches lightning and every station layer in parallel and waits
// for all of them. A failed fetch empties its layer; nothing is fatal.
func (s *RefreshService) RefreshAll(ctx context.Context, trigger string) *RefreshResult {
	startTime := s.now()
	timer := s.metrics.NewTimer(nil)

	result := &RefreshResult{
		RunID:     uuid.NewString(),
		Trigger:   trigger,
		StartedAt: startTime,
		Stations:  make(map[models.Layer]int, len(s.layers)),
	}

	s.logger.Info(ctx, "[REFRESH_START] Refreshing all layers", logging.Fields{
		"run_id":  result.RunID,
		"trigger": trigger,
		"layers":  len(s.layers),
	})

	s.store.MarkRadarUpdated(startTime)

	var mu sync.Mutex
	recordError := func(source string, err error) {
		mu.Lock()
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", source, err))
		mu.Unlock()
	}

	var g errgroup.Group

	g.Go(func() error {
		s.store.SetStatus(StatusLightningLoading, models.StatusLoading)

		strikes, err := s.source.FetchLightning(ctx)
		if err != nil {
			s.logger.Error(ctx, "[REFRESH_LIGHTNING_ERROR] Lightning fetch failed", logging.Fields{
				"run_id": result.RunID,
			}, err)
			recordError(string(models.LayerLightning), err)
			s.store.SetLightning(nil)
			s.store.SetStatus(fmt.Sprintf(statusLightningError, err.Error()), models.StatusError)
			s.metrics.LightningStrikes.Set(0)
			return nil
		}

		s.store.SetLightning(strikes)
		s.store.SetStatus(fmt.Sprintf(statusLightningLoaded, len(strikes)), models.StatusSuccess)
		s.metrics.LightningStrikes.Set(float64(len(strikes)))

		mu.Lock()
		result.StrikeCount = len(strikes)
		mu.Unlock()
		return nil
	})

	for _, layer := range s.layers {
		g.Go(func() error {
			n, err := s.refreshLayer(ctx, layer)
			if err != nil {
				s.logger.Error(ctx, "[REFRESH_LAYER_ERROR] Layer fetch failed", logging.Fields{
					"run_id": result.RunID,
					"layer":  layer,
				}, err)
				recordError(string(layer), err)
			}
			s.metrics.SetStations(string(layer), n)

			mu.Lock()
			result.Stations[layer] = n
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()

	if s.cache != nil {
		if dropped := s.cache.DropLive(); dropped > 0 {
			s.logger.Debug(ctx, "[REFRESH_DROP_LIVE] Live radar frames invalidated", logging.Fields{
				"frames": dropped,
			})
		}
	}

	result.Duration = timer.ObserveDuration()
	s.metrics.RecordRefresh(trigger, result.Duration)

	s.logger.Info(ctx, "[REFRESH_COMPLETE] Refresh completed", logging.Fields{
		"run_id":      result.RunID,
		"trigger":     trigger,
		"strikes":     result.StrikeCount,
		"stations":    result.StationCount(),
		"error_count": len(result.Errors),
		"duration_ms": result.Duration.Milliseconds(),
	})

	s.record(ctx, result)
	return result
}

// refreshLayer fetches, filters and stores one station layer and returns the station count.
// On error the layer is emptied.
func (s *RefreshService) refreshLayer(ctx context.Context, layer models.Layer) (int, error) {
	if layer == models.LayerWind {
		wind, err := s.source.FetchWind(ctx)
		if err != nil {
			s.store.SetWind(nil)
			return 0, err
		}
		wind = models.NormalizeWind(wind)
		s.store.SetWind(wind)
		return len(wind), nil
	}

	obs, err := s.source.FetchLayer(ctx, layer)
	if err != nil {
		s.store.SetObservations(layer, nil)
		return 0, err
	}

	switch layer {
	case models.LayerTemperature:
		obs = models.FilterTemperature(obs)
	case models.LayerClouds:
		obs = models.FilterClouds(obs)
	}

	s.store.SetObservations(layer, obs)
	return len(obs), nil
}

// record persists the run and publishes it. Failures are logged only.
func (s *RefreshService) record(ctx context.Context, result *RefreshResult) {
	if s.runs != nil {
		run := &models.RefreshRun{
			ID:           result.RunID,
			Trigger:      result.Trigger,
			StartedAt:    result.StartedAt,
			DurationMS:   result.Duration.Milliseconds(),
			StrikeCount:  result.StrikeCount,
			StationCount: result.StationCount(),
			ErrorCount:   len(result.Errors),
		}
		if err := s.runs.Create(ctx, run); err != nil {
			s.logger.Error(ctx, "[REFRESH_PERSIST_ERROR] Failed to record refresh run", logging.Fields{
				"run_id": result.RunID,
			}, err)
		}
		if s.retention > 0 {
			if _, err := s.runs.DeleteBefore(ctx, result.StartedAt.Add(-s.retention)); err != nil {
				s.logger.Error(ctx, "[REFRESH_PRUNE_ERROR] Failed to prune refresh runs", nil, err)
			}
		}
	}

	event := events.RefreshEvent{
		RunID:       result.RunID,
		Trigger:     result.Trigger,
		StartedAt:   result.StartedAt.UTC(),
		DurationMS:  result.Duration.Milliseconds(),
		StrikeCount: result.StrikeCount,
		Stations:    make(map[string]int, len(result.Stations)),
		Errors:      result.Errors,
	}
	for layer, n := range result.Stations {
		event.Stations[string(layer)] = n
	}
	if newest := s.store.NewestStrike(); !newest.IsZero() {
		newest = newest.UTC()
		event.NewestStrike = &newest
	}

	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn(ctx, "[REFRESH_PUBLISH_ERROR] Failed to publish refresh event", logging.Fields{
			"run_id": result.RunID,
			"error":  err.Error(),
		})
	}
}
