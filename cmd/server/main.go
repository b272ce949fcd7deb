package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Dusre/radar/internal/config"
	"github.com/Dusre/radar/internal/events"
	"github.com/Dusre/radar/internal/fmi"
	"github.com/Dusre/radar/internal/handlers"
	"github.com/Dusre/radar/internal/models"
	"github.com/Dusre/radar/internal/radar"
	"github.com/Dusre/radar/internal/repository"
	"github.com/Dusre/radar/internal/services"
	"github.com/Dusre/radar/internal/state"
	"github.com/Dusre/radar/migrations"
	"github.com/Dusre/radar/pkg/database"
	"github.com/Dusre/radar/pkg/logging"
	"github.com/Dusre/radar/pkg/metrics"
	"github.com/Dusre/radar/web"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := cfg.NewLogger("radar-viewer", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "[STARTUP] Starting radar viewer", logging.Fields{
		"version":     version,
		"server_host": cfg.Server.Host,
		"server_port": cfg.Server.Port,
		"db_driver":   cfg.Database.Driver,
		"layers":      cfg.Display.Layers,
	})

	metricsCollector := metrics.NewCollector("radar")

	// Initialize database
	db, err := database.Open(cfg.DBConfig(), logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to connect to database", nil, err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx, migrations.FS, database.DirectionUp); err != nil {
			logger.Fatal(ctx, "[STARTUP_ERROR] Failed to migrate database", nil, err)
		}
	}

	prefsRepo := repository.NewPreferencesRepository(db, logger, metricsCollector)
	runRepo := repository.NewRefreshRunRepository(db, logger, metricsCollector)

	// Refresh events are optional; a broker outage never blocks startup
	publisher, err := events.New(ctx, events.Config{
		Broker:   cfg.MQTT.Broker,
		ClientID: cfg.MQTT.ClientID,
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
		Topic:    cfg.MQTT.Topic,
		QoS:      cfg.MQTT.QoS,
		Timeout:  cfg.MQTT.Timeout,
	}, logger, metricsCollector)
	if err != nil {
		logger.Error(ctx, "[STARTUP_EVENTS_ERROR] MQTT unavailable, refresh events disabled", logging.Fields{
			"broker": cfg.MQTT.Broker,
		}, err)
		publisher = events.Nop{}
	}
	defer publisher.Close()

	client := fmi.NewClient(fmi.Config{
		WFSURL:     cfg.FMI.WFSURL,
		WMSURL:     cfg.FMI.WMSURL,
		RadarLayer: cfg.FMI.RadarLayer,
		BBox:       cfg.FMI.BBox,
		Timeout:    cfg.FMI.Timeout,
		Window:     cfg.FMI.WindowLength,
		UserAgent:  cfg.FMI.UserAgent,
	}, logger, metricsCollector)

	layers := make([]models.Layer, 0, len(cfg.Display.Layers))
	for _, name := range cfg.Display.Layers {
		layer, err := models.ParseLayer(name)
		if err != nil {
			logger.Fatal(ctx, "[STARTUP_ERROR] Invalid display layer", nil, err)
		}
		layers = append(layers, layer)
	}

	preload, err := radar.ParseViewport(cfg.Playback.PreloadBBox, cfg.Playback.PreloadWidth, cfg.Playback.PreloadHeight)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Invalid preload viewport", nil, err)
	}

	var cache *radar.FrameCache
	if cfg.Radar.CacheEnabled {
		cache = radar.NewFrameCache(cfg.Radar.MaxFrames)
	}

	store := state.NewStore()

	// Initialize services
	refreshService := services.NewRefreshService(client, store, cache, runRepo, publisher, layers, logger, metricsCollector)
	refreshService.SetRetention(cfg.Database.RunRetention)

	playbackService := services.NewPlaybackService(services.PlaybackConfig{
		RefreshInterval:    cfg.Playback.RefreshInterval,
		AnimationInterval:  cfg.Playback.AnimationInterval,
		RadarTimesInterval: cfg.Playback.RadarTimesInterval,
		HistoryStep:        cfg.Playback.HistoryStep,
		MaxHistorySteps:    cfg.Playback.MaxHistorySteps,
		Preload:            preload,
		PreloadConcurrency: cfg.Playback.PreloadConcurrency,
	}, client, refreshService, store, cache, logger, metricsCollector)

	viewService := services.NewViewService(services.ViewConfig{
		MaxHistorySteps: cfg.Playback.MaxHistorySteps,
		HistoryStep:     cfg.Playback.HistoryStep,
		MaxStrikeAge:    cfg.Playback.MaxStrikeAge,
		WMSURL:          client.WMSURL(),
		RadarLayer:      client.RadarLayer(),
		Location:        cfg.Location(),
	}, store, cache, client, logger, metricsCollector)

	prefsService := services.NewPreferencesService(prefsRepo, logger, metricsCollector)

	// Setup router
	router := mux.NewRouter()
	router.Use(handlers.Instrument(logger, metricsCollector))

	handlers.NewWeatherHandler(viewService, playbackService, refreshService, logger, metricsCollector, prefsRepo).RegisterRoutes(router)
	handlers.NewPreferencesHandler(prefsService, logger, metricsCollector).RegisterRoutes(router)
	handlers.NewStateHub(viewService, store, time.Second, logger, metricsCollector).RegisterRoutes(router)
	handlers.RegisterDocsRoutes(router)
	router.Handle("/metrics", promhttp.Handler())
	handlers.NewPageHandler(web.FS, cfg.Server.TilesDir).RegisterRoutes(router)

	playbackDone := make(chan error, 1)
	go func() {
		playbackDone <- playbackService.Run(ctx)
	}()

	// No WriteTimeout: it would cut the WebSocket streams
	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info(ctx, "[SERVER_START] HTTP server listening", logging.Fields{
			"address": server.Addr,
		})

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		logger.Error(ctx, "[SERVER_ERROR] Server failed", nil, err)
		stop()
	}

	logger.Info(context.Background(), "[SHUTDOWN] Shutting down server...", nil)

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "[SHUTDOWN_ERROR] Server forced to shutdown", nil, err)
	}

	select {
	case err := <-playbackDone:
		if err != nil {
			logger.Error(shutdownCtx, "[SHUTDOWN_ERROR] Playback controller failed", nil, err)
		}
	case <-shutdownCtx.Done():
		logger.Warn(shutdownCtx, "[SHUTDOWN_TIMEOUT] Playback controller did not stop in time", nil)
	}

	logger.Info(context.Background(), "[SHUTDOWN_COMPLETE] Server stopped", nil)
}
