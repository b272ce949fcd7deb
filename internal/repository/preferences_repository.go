package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dusre/radar/internal/models"
	"github.com/Dusre/radar/pkg/database"
	"github.com/Dusre/radar/pkg/logging"
	"github.com/Dusre/radar/pkg/metrics"
)

// PreferencesRepository provides data access for per-client viewer preferences
type PreferencesRepository interface {
	Get(ctx context.Context, clientID string) (*models.Preferences, error)
	Upsert(ctx context.Context, prefs *models.Preferences) error
	Delete(ctx context.Context, clientID string) error
	HealthCheck(ctx context.Context) error
}

type preferencesRepository struct {
	db      *database.DB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
	now     func() time.Time
}

// NewPreferencesRepository creates a new preferences repository
func NewPreferencesRepository(db *database.DB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) PreferencesRepository {
	return &preferencesRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
		now:     time.Now,
	}
}

// Get retrieves the preferences of one client
func (r *preferencesRepository) Get(ctx context.Context, clientID string) (*models.Preferences, error) {
	query := `
		SELECT client_id, active_layer, radar_opacity,
		       map_lat, map_lng, map_zoom,
		       created_at, updated_at
		FROM viewer_preferences
		WHERE client_id = ?
	`

	var prefs models.Preferences
	err := r.db.GetContext(ctx, "get_preferences", &prefs, query, clientID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{
			Resource: "preferences",
			ID:       clientID,
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get preferences: %w", err)
	}

	return &prefs, nil
}

// Upsert inserts or replaces the preferences of a client, keeping created_at
func (r *preferencesRepository) Upsert(ctx context.Context, prefs *models.Preferences) error {
	query := `
		INSERT INTO viewer_preferences (
			client_id, active_layer, radar_opacity,
			map_lat, map_lng, map_zoom,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (client_id) DO UPDATE SET
			active_layer = excluded.active_layer,
			radar_opacity = excluded.radar_opacity,
			map_lat = excluded.map_lat,
			map_lng = excluded.map_lng,
			map_zoom = excluded.map_zoom,
			updated_at = excluded.updated_at
	`

	now := r.now().UTC()
	if prefs.CreatedAt.IsZero() {
		prefs.CreatedAt = now
	}
	prefs.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, "upsert_preferences", query,
		prefs.ClientID,
		string(prefs.ActiveLayer),
		prefs.RadarOpacity,
		prefs.Lat,
		prefs.Lng,
		prefs.Zoom,
		prefs.CreatedAt,
		prefs.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert preferences: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_UPSERT_PREFERENCES] Preferences saved", logging.Fields{
		"client_id":    prefs.ClientID,
		"active_layer": prefs.ActiveLayer,
	})

	return nil
}

// Delete removes the preferences of a client
func (r *preferencesRepository) Delete(ctx context.Context, clientID string) error {
	result, err := r.db.ExecContext(ctx, "delete_preferences",
		`DELETE FROM viewer_preferences WHERE client_id = ?`, clientID)
	if err != nil {
		return fmt.Errorf("failed to delete preferences: %w", err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return &NotFoundError{
			Resource: "preferences",
			ID:       clientID,
		}
	}

	return nil
}

// HealthCheck performs a repository health check
func (r *preferencesRepository) HealthCheck(ctx context.Context) error {
	return healthCheck(ctx, r.db)
}
