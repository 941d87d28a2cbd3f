package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexiqai/playback-sync/internal/api"
	"github.com/lexiqai/playback-sync/internal/config"
	"github.com/lexiqai/playback-sync/internal/drift"
	"github.com/lexiqai/playback-sync/internal/observability"
	"github.com/lexiqai/playback-sync/internal/playback"
	"github.com/lexiqai/playback-sync/internal/resilience"
	"github.com/lexiqai/playback-sync/internal/store"
	"github.com/lexiqai/playback-sync/internal/stream"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("database_path", cfg.DatabasePath).
		Str("audio_dir", cfg.AudioDir).
		Int64("drift_threshold_ms", cfg.DriftThresholdMs).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Playback Sync Service starting")

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open transcript store")
	}
	defer db.Close()

	retry := &resilience.RetryConfig{
		MaxAttempts:       cfg.RetryMaxAttempts,
		InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
	}

	persister := store.NewPersister(db, &store.PersisterConfig{
		Timeout: time.Duration(cfg.PersistTimeout) * time.Second,
		Retry:   retry,
		Breaker: resilience.NewCircuitBreaker(
			"store",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
	})

	mediaConfig := playback.DefaultMediaConfig()
	mediaConfig.TimeUpdateInterval = cfg.MediaTimeUpdate()
	mediaConfig.Retry = retry

	sessions := stream.NewManager(&stream.ManagerConfig{
		Loader:  db,
		Locator: playback.DirResolver{Dir: cfg.AudioDir},
		SourceFactory: playback.NewSourceFactory(&playback.SimulatedConfig{
			TickInterval: cfg.SimulatedTick(),
			StepMs:       cfg.SimulatedTickMs,
		}, mediaConfig),
		Detector: drift.NewDetector(&drift.DetectorConfig{
			ThresholdMs:    cfg.DriftThresholdMs,
			RatioTolerance: cfg.DriftRatioTolerance,
		}),
		GracePeriod:      cfg.GracePeriod(),
		OnDriftCorrected: persister.OnDriftCorrected,
		WatchAudio:       cfg.WatchAudio,
		OffsetLimitMs:    cfg.SyncOffsetLimitMs,
	})

	// Create HTTP router
	router := mux.NewRouter()

	// Playback sessions
	router.HandleFunc("/sessions/{id}/ws", stream.Handler(sessions))

	// Transcript import and revisions
	api.NewHandlers(db, logger).Register(router)

	// Health check endpoint
	router.HandleFunc("/health", observability.HealthCheckHandler())

	storeCheck := func(ctx context.Context) (bool, error) {
		if err := db.Ping(ctx); err != nil {
			return false, err
		}
		return true, nil
	}
	router.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"store": storeCheck,
	}))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		router.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/sessions/{id}/ws", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Sessions first so no new corrections are queued, then drain persistence
	sessions.Close()
	persister.Close()

	logger.Info().Msg("Server exited gracefully")
}
