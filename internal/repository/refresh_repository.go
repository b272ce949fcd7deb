package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Dusre/radar/internal/models"
	"github.com/Dusre/radar/pkg/database"
	"github.com/Dusre/radar/pkg/logging"
	"github.com/Dusre/radar/pkg/metrics"
)

// RefreshRunRepository stores the history of data refreshes
type RefreshRunRepository interface {
	Create(ctx context.Context, run *models.RefreshRun) error
	List(ctx context.Context, filter RefreshRunFilter) ([]*models.RefreshRun, int, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	HealthCheck(ctx context.Context) error
}

// RefreshRunFilter defines filters for listing refresh runs
type RefreshRunFilter struct {
	Trigger *string
	Since   *time.Time
	Limit   int
	Offset  int
}

type refreshRunRepository struct {
	db      *database.DB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewRefreshRunRepository creates a new refresh run repository
func NewRefreshRunRepository(db *database.DB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) RefreshRunRepository {
	return &refreshRunRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// Create appends a refresh run
func (r *refreshRunRepository) Create(ctx context.Context, run *models.RefreshRun) error {
	query := `
		INSERT INTO refresh_runs (
			id, run_trigger, started_at, duration_ms,
			strike_count, station_count, error_count
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, "insert_refresh_run", query,
		run.ID,
		run.Trigger,
		run.StartedAt.UTC(),
		run.DurationMS,
		run.StrikeCount,
		run.StationCount,
		run.ErrorCount,
	)
	if err != nil {
		return fmt.Errorf("failed to create refresh run: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_CREATE_REFRESH_RUN] Refresh run recorded", logging.Fields{
		"id":      run.ID,
		"trigger": run.Trigger,
	})

	return nil
}

// List retrieves refresh runs, newest first, with the total count before pagination
func (r *refreshRunRepository) List(ctx context.Context, filter RefreshRunFilter) ([]*models.RefreshRun, int, error) {
	query := `
		SELECT id, run_trigger, started_at, duration_ms,
		       strike_count, station_count, error_count
		FROM refresh_runs
		WHERE 1=1
	`
	args := []interface{}{}

	if filter.Trigger != nil {
		query += " AND run_trigger = ?"
		args = append(args, *filter.Trigger)
	}

	if filter.Since != nil {
		query += " AND started_at >= ?"
		args = append(args, filter.Since.UTC())
	}

	// Get total count
	countQuery := "SELECT COUNT(*) FROM (" + query + ") AS count_query"
	var totalCount int
	err := r.db.GetContext(ctx, "count_refresh_runs", &totalCount, countQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count refresh runs: %w", err)
	}

	// Add ordering and pagination
	query += " ORDER BY started_at DESC, id"
	query += " LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	var runs []*models.RefreshRun
	err = r.db.SelectContext(ctx, "list_refresh_runs", &runs, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list refresh runs: %w", err)
	}

	return runs, totalCount, nil
}

// DeleteBefore removes runs older than before and returns how many were removed
func (r *refreshRunRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "delete_refresh_runs",
		`DELETE FROM refresh_runs WHERE started_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete refresh runs: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted refresh runs: %w", err)
	}

	if n > 0 {
		r.logger.Info(ctx, "[REPO_PRUNE_REFRESH_RUNS] Old refresh runs removed", logging.Fields{
			"deleted": n,
			"before":  before.UTC().Format(time.RFC3339),
		})
	}

	return n, nil
}

// HealthCheck performs a repository health check
func (r *refreshRunRepository) HealthCheck(ctx context.Context) error {
	return healthCheck(ctx, r.db)
}
