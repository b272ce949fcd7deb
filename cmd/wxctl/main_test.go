package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Dusre/radar/internal/config"
	"github.com/Dusre/radar/internal/geo"
	"github.com/Dusre/radar/internal/models"
	"github.com/Dusre/radar/internal/repository"
	"github.com/Dusre/radar/migrations"
	"github.com/Dusre/radar/pkg/database"
	"github.com/Dusre/radar/pkg/metrics"
)

const capabilities = `<?xml version="1.0" encoding="UTF-8"?>
<WMT_MS_Capabilities version="1.1.1">
  <Capability>
    <Layer>
      <Layer>
        <Name>Radar:suomi_dbz_eureffin</Name>
        <Dimension name="time" units="ISO8601">2024-06-01T10:00:00Z/2024-06-01T11:55:00Z/PT5M</Dimension>
      </Layer>
    </Layer>
  </Capability>
</WMT_MS_Capabilities>`

func testEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "radar.db"))
	for k, v := range vars {
		t.Setenv(k, v)
	}
}

// execute runs the root command with args; flags keep their values between
// runs, so callers pass every flag they depend on.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestParsePoint(t *testing.T) {
	tests := []struct {
		in      string
		want    geo.LatLng
		wantErr bool
	}{
		{in: "60.1699,24.9384", want: geo.LatLng{Lat: 60.1699, Lng: 24.9384}},
		{in: " 61.5 , 23.76 ", want: geo.LatLng{Lat: 61.5, Lng: 23.76}},
		{in: "60.1699", wantErr: true},
		{in: "north,24.9", wantErr: true},
		{in: "60.1,east", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parsePoint(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parsePoint(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parsePoint(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestMeasureCommand(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		wantErr     bool
		checkValues func(t *testing.T, out string)
	}{
		{
			name: "table output",
			args: []string{"measure", "60.1699,24.9384", "61.4978,23.7610", "--zoom", "4", "--json=false"},
			checkValues: func(t *testing.T, out string) {
				if !strings.Contains(out, "km") || !strings.Contains(out, "at zoom 4") {
					t.Errorf("unexpected output: %q", out)
				}
			},
		},
		{
			name: "json output",
			args: []string{"measure", "60.1699,24.9384", "61.4978,23.7610", "--zoom", "4", "--json"},
			checkValues: func(t *testing.T, out string) {
				var m geo.Measurement
				if err := json.Unmarshal([]byte(out), &m); err != nil {
					t.Fatalf("output is not JSON: %v", err)
				}
				if m.Meters < 155000 || m.Meters > 165000 {
					t.Errorf("Helsinki-Tampere = %.0f m", m.Meters)
				}
			},
		},
		{name: "bad point", args: []string{"measure", "60.1,abc", "61.4978,23.7610", "--json=false"}, wantErr: true},
		{name: "one point", args: []string{"measure", "60.1,24.9"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.checkValues != nil {
				tt.checkValues(t, out)
			}
		})
	}
}

func TestRadarTimesCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(capabilities))
	}))
	defer server.Close()

	testEnv(t, map[string]string{
		"FMI_WMS_URL":                server.URL,
		"PLAYBACK_MAX_HISTORY_STEPS": "2",
	})

	out, err := execute(t, "radar-times", "--json")
	if err != nil {
		t.Fatalf("radar-times: %v", err)
	}
	var times []string
	if err := json.Unmarshal([]byte(out), &times); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, out)
	}
	want := []string{"2024-06-01T11:55:00.000Z", "2024-06-01T11:50:00.000Z", "2024-06-01T11:45:00.000Z"}
	if strings.Join(times, " ") != strings.Join(want, " ") {
		t.Errorf("times = %v, want %v", times, want)
	}
}

func TestObservationsCommandRejectsNonStationLayer(t *testing.T) {
	testEnv(t, nil)

	for _, layer := range []string{"lightning", "snow"} {
		if _, err := execute(t, "observations", layer, "--json=false"); err == nil {
			t.Errorf("observations %s: expected error", layer)
		}
	}
}

func TestRefreshesCommands(t *testing.T) {
	testEnv(t, nil)
	seedRuns(t)

	out, err := execute(t, "refreshes", "list", "--trigger", models.TriggerManual, "--limit", "10", "--since", "0s", "--json")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var runs []models.RefreshRun
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, out)
	}
	if len(runs) != 1 || runs[0].ID != "run-manual" {
		t.Fatalf("manual runs = %+v", runs)
	}

	out, err = execute(t, "refreshes", "prune", "--older-than", "1h")
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if !strings.Contains(out, "Deleted 2 refresh runs") {
		t.Errorf("prune output = %q", out)
	}

	out, err = execute(t, "refreshes", "list", "--trigger=", "--limit", "10", "--since", "0s", "--json=false")
	if err != nil {
		t.Fatalf("list after prune: %v", err)
	}
	if !strings.Contains(out, "1 of 1 runs") || !strings.Contains(out, models.TriggerManual) {
		t.Errorf("list output = %q", out)
	}
}

func seedRuns(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	logger := cfg.NewLogger("wxctl-test", "test")
	logger.SetOutput(io.Discard)
	collector := metrics.NewCollectorWithRegistry("seed", prometheus.NewRegistry())

	db, err := database.Open(cfg.DBConfig(), logger, collector)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx, migrations.FS, database.DirectionUp); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	repo := repository.NewRefreshRunRepository(db, logger, collector)
	now := time.Now()
	for _, run := range []*models.RefreshRun{
		{ID: "run-old-1", Trigger: models.TriggerTimer, StartedAt: now.Add(-3 * time.Hour), DurationMS: 900},
		{ID: "run-old-2", Trigger: models.TriggerTimer, StartedAt: now.Add(-2 * time.Hour), DurationMS: 800},
		{ID: "run-manual", Trigger: models.TriggerManual, StartedAt: now.Add(-time.Minute), DurationMS: 700, StationCount: 180},
	} {
		if err := repo.Create(ctx, run); err != nil {
			t.Fatalf("create %s: %v", run.ID, err)
		}
	}
}
