package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Dusre/radar/internal/models"
	"github.com/Dusre/radar/migrations"
	"github.com/Dusre/radar/pkg/database"
	"github.com/Dusre/radar/pkg/logging"
	"github.com/Dusre/radar/pkg/metrics"
)

func testDeps() (*logging.StructuredLogger, *metrics.Collector) {
	logger := logging.NewStructuredLogger("repository-test", "test", logging.ErrorLevel)
	logger.SetOutput(io.Discard)
	return logger, metrics.NewCollectorWithRegistry("test", prometheus.NewRegistry())
}

func openTestDB(t *testing.T) *database.DB {
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
	return db
}

func TestPreferencesRepository(t *testing.T) {
	db := openTestDB(t)
	logger, collector := testDeps()
	repo := NewPreferencesRepository(db, logger, collector)
	ctx := context.Background()

	t.Run("missing client", func(t *testing.T) {
		_, err := repo.Get(ctx, "nobody")
		var nf *NotFoundError
		if !errors.As(err, &nf) {
			t.Fatalf("expected NotFoundError, got %v", err)
		}
		if nf.Resource != "preferences" || nf.ID != "nobody" {
			t.Errorf("unexpected error fields: %+v", nf)
		}
	})

	t.Run("insert then update keeps created_at", func(t *testing.T) {
		prefs := models.DefaultPreferences("client-1")
		prefs.SetLayer(models.LayerWind, true)
		if err := repo.Upsert(ctx, prefs); err != nil {
			t.Fatalf("insert: %v", err)
		}

		got, err := repo.Get(ctx, "client-1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.ActiveLayer != models.LayerWind {
			t.Errorf("active layer = %q, want wind", got.ActiveLayer)
		}
		if got.RadarOpacity != models.DefaultRadarOpacity || got.Zoom != models.DefaultMapZoom {
			t.Errorf("defaults not stored: %+v", got)
		}
		created := got.CreatedAt

		got.SetLayer(models.LayerWind, false)
		got.RadarOpacity = 0.25
		got.MapPosition = models.MapPosition{Lat: 60.17, Lng: 24.94, Zoom: 7}
		if err := repo.Upsert(ctx, got); err != nil {
			t.Fatalf("update: %v", err)
		}

		updated, err := repo.Get(ctx, "client-1")
		if err != nil {
			t.Fatalf("get after update: %v", err)
		}
		if updated.ActiveLayer != "" {
			t.Errorf("active layer = %q, want none", updated.ActiveLayer)
		}
		if updated.RadarOpacity != 0.25 || updated.Lat != 60.17 || updated.Lng != 24.94 || updated.Zoom != 7 {
			t.Errorf("update not stored: %+v", updated)
		}
		if !updated.CreatedAt.Equal(created) {
			t.Errorf("created_at changed from %v to %v", created, updated.CreatedAt)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := repo.Delete(ctx, "client-1"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		var nf *NotFoundError
		if err := repo.Delete(ctx, "client-1"); !errors.As(err, &nf) {
			t.Fatalf("second delete: expected NotFoundError, got %v", err)
		}
	})

	if err := repo.HealthCheck(ctx); err != nil {
		t.Errorf("health check: %v", err)
	}
}

func TestRefreshRunRepository(t *testing.T) {
	db := openTestDB(t)
	logger, collector := testDeps()
	repo := NewRefreshRunRepository(db, logger, collector)
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	runs := []*models.RefreshRun{
		{ID: "a", Trigger: models.TriggerStartup, StartedAt: base, DurationMS: 800, StrikeCount: 3, StationCount: 150},
		{ID: "b", Trigger: models.TriggerTimer, StartedAt: base.Add(2 * time.Minute), DurationMS: 600, StationCount: 149, ErrorCount: 1},
		{ID: "c", Trigger: models.TriggerTimer, StartedAt: base.Add(4 * time.Minute), DurationMS: 700, StrikeCount: 5, StationCount: 151},
		{ID: "d", Trigger: models.TriggerManual, StartedAt: base.Add(5 * time.Minute), DurationMS: 500, StationCount: 151},
	}
	for _, run := range runs {
		if err := repo.Create(ctx, run); err != nil {
			t.Fatalf("create %s: %v", run.ID, err)
		}
	}

	timer := models.TriggerTimer
	since := base.Add(3 * time.Minute)

	tests := []struct {
		name      string
		filter    RefreshRunFilter
		wantIDs   []string
		wantTotal int
	}{
		{
			name:      "all newest first",
			filter:    RefreshRunFilter{Limit: 10},
			wantIDs:   []string{"d", "c", "b", "a"},
			wantTotal: 4,
		},
		{
			name:      "paginated",
			filter:    RefreshRunFilter{Limit: 2, Offset: 1},
			wantIDs:   []string{"c", "b"},
			wantTotal: 4,
		},
		{
			name:      "by trigger",
			filter:    RefreshRunFilter{Trigger: &timer, Limit: 10},
			wantIDs:   []string{"c", "b"},
			wantTotal: 2,
		},
		{
			name:      "since",
			filter:    RefreshRunFilter{Since: &since, Limit: 1},
			wantIDs:   []string{"d"},
			wantTotal: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, total, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if total != tt.wantTotal {
				t.Errorf("total = %d, want %d", total, tt.wantTotal)
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("got %d runs, want %d", len(got), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if got[i].ID != id {
					t.Errorf("run[%d] = %s, want %s", i, got[i].ID, id)
				}
			}
		})
	}

	t.Run("fields round trip", func(t *testing.T) {
		got, _, err := repo.List(ctx, RefreshRunFilter{Limit: 1, Offset: 3})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		run := got[0]
		if run.Trigger != models.TriggerStartup || run.DurationMS != 800 || run.StrikeCount != 3 || run.StationCount != 150 {
			t.Errorf("unexpected run: %+v", run)
		}
		if !run.StartedAt.Equal(base) {
			t.Errorf("started_at = %v, want %v", run.StartedAt, base)
		}
	})

	t.Run("delete before", func(t *testing.T) {
		n, err := repo.DeleteBefore(ctx, base.Add(3*time.Minute))
		if err != nil {
			t.Fatalf("delete: %v", err)
		}
		if n != 2 {
			t.Errorf("deleted %d, want 2", n)
		}
		_, total, err := repo.List(ctx, RefreshRunFilter{Limit: 10})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if total != 2 {
			t.Errorf("total after prune = %d, want 2", total)
		}
	})
}
