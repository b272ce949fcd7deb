package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dusre/radar/internal/models"
	"github.com/Dusre/radar/internal/repository"
	"github.com/Dusre/radar/pkg/logging"
	"github.com/Dusre/radar/pkg/metrics"
)

// PreferencesService reads and updates per-client viewer preferences
type PreferencesService struct {
	repo    repository.PreferencesRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// PreferencesUpdate is a partial update; nil fields are left unchanged.
// Toggles, when present, replaces the active layer with the first enabled
// layer in display order.
type PreferencesUpdate struct {
	ActiveLayer  *string             `json:"active_layer,omitempty"`
	Toggles      map[string]bool     `json:"toggles,omitempty"`
	RadarOpacity *float64            `json:"radar_opacity,omitempty"`
	Map          *models.MapPosition `json:"map,omitempty"`
}

// NewPreferencesService creates a new preferences service
func NewPreferencesService(repo repository.PreferencesRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *PreferencesService {
	return &PreferencesService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Get returns the stored preferences, or the defaults for a new client
func (s *PreferencesService) Get(ctx context.Context, clientID string) (*models.Preferences, error) {
	prefs, err := s.repo.Get(ctx, clientID)
	var nf *repository.NotFoundError
	if errors.As(err, &nf) {
		return models.DefaultPreferences(clientID), nil
	}
	if err != nil {
		return nil, err
	}
	return prefs, nil
}

// Update applies a partial update and stores the result
func (s *PreferencesService) Update(ctx context.Context, clientID string, update PreferencesUpdate) (*models.Preferences, error) {
	prefs, err := s.Get(ctx, clientID)
	if err != nil {
		return nil, err
	}

	if update.Toggles != nil {
		toggles := make(map[models.Layer]bool, len(update.Toggles))
		for name, on := range update.Toggles {
			layer, err := models.ParseLayer(name)
			if err != nil {
				return nil, err
			}
			toggles[layer] = on
		}
		prefs.ActiveLayer = models.ExclusiveLayer(toggles)
	}

	if update.ActiveLayer != nil {
		if *update.ActiveLayer == "" {
			prefs.ActiveLayer = ""
		} else {
			layer, err := models.ParseLayer(*update.ActiveLayer)
			if err != nil {
				return nil, err
			}
			prefs.SetLayer(layer, true)
		}
	}

	if update.RadarOpacity != nil {
		prefs.RadarOpacity = *update.RadarOpacity
	}
	if update.Map != nil {
		prefs.MapPosition = *update.Map
	}

	if err := prefs.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.Upsert(ctx, prefs); err != nil {
		return nil, fmt.Errorf("failed to save preferences: %w", err)
	}

	s.logger.Info(ctx, "[PREFERENCES_UPDATED] Preferences saved", logging.Fields{
		"client_id":     clientID,
		"active_layer":  prefs.ActiveLayer,
		"radar_opacity": prefs.RadarOpacity,
	})

	return prefs, nil
}

// SetLayer turns one layer on (exclusively) or off
func (s *PreferencesService) SetLayer(ctx context.Context, clientID string, layer models.Layer, enabled bool) (*models.Preferences, error) {
	if _, err := models.ParseLayer(string(layer)); err != nil {
		return nil, err
	}

	prefs, err := s.Get(ctx, clientID)
	if err != nil {
		return nil, err
	}

	prefs.SetLayer(layer, enabled)
	if err := s.repo.Upsert(ctx, prefs); err != nil {
		return nil, fmt.Errorf("failed to save preferences: %w", err)
	}

	return prefs, nil
}

// Reset forgets the preferences of a client
func (s *PreferencesService) Reset(ctx context.Context, clientID string) error {
	err := s.repo.Delete(ctx, clientID)
	var nf *repository.NotFoundError
	if err != nil && !errors.As(err, &nf) {
		return err
	}
	return nil
}
