package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dubsync/internal/core/ports"
	"dubsync/internal/core/services"
	httphandlers "dubsync/internal/handlers/http"
	"dubsync/internal/infrastructure/media/virtual"
	"dubsync/internal/infrastructure/monitoring"
	"dubsync/internal/infrastructure/persistence"
	"dubsync/internal/infrastructure/repositories"
	"dubsync/internal/infrastructure/scheduler"
	events "dubsync/internal/infrastructure/signal"
	"dubsync/pkg/config"
	"dubsync/pkg/logger"
	"dubsync/pkg/retry"
	"dubsync/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/gopxl/beep/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const maxLiveHandles = 4096

func main() {
	configPaths := []string{
		os.Getenv("DUBSYNC_CONFIG"),
		"configs/config.yaml",
		"./configs/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		if path == "" {
			continue
		}
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	zapLogger, logErr := logger.New(cfg.Logging.Level)
	if logErr != nil {
		zapLogger = zap.Must(zap.NewProduction())
	}
	defer zapLogger.Sync()

	log := zapLogger.Sugar()
	if err != nil {
		log.Warnw("falling back to default configuration", "error", err)
	}

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.Endpoint,
		Environment: "production",
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	storeFactory, err := repositories.NewStoreFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create store factory", "error", err)
	}
	kv := storeFactory.CreateKeyValueStore()

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.Persistence.MaxRetries
	persister := persistence.NewPersister(kv, retryCfg, log)

	stats := services.NewMetricsService()
	var metrics ports.MetricsService = stats
	var gatherer prometheus.Gatherer
	if cfg.Monitoring.PrometheusEnabled {
		collector := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
		metrics = services.MultiMetrics{stats, collector}
		gatherer = prometheus.DefaultGatherer
		log.Info("Prometheus metrics enabled")
	}

	sched := scheduler.NewReal()
	host := virtual.NewHost(sched, virtual.Options{
		SupportedTypes:     cfg.Host.SupportedTypes,
		TimeUpdateInterval: cfg.Host.TimeUpdateInterval,
		MixSampleRate:      beep.SampleRate(cfg.Host.MixSampleRate),
	})

	probe := services.NewMediaProbe(host, log)
	store := services.NewGameSessionStore(host, probe, persister, sched, services.StoreOptionsFromConfig(cfg), metrics, log)

	restoreCtx, restoreCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := store.Restore(restoreCtx); err != nil {
		log.Warnw("starting with an empty library", "error", err)
	}
	restoreCancel()

	captures := services.NewCaptureFactory(host, sched, services.CaptureOptionsFromConfig(cfg), metrics, log)
	machine := services.NewRoundStateMachine(store, host, sched, captures, services.RoundOptionsFromConfig(cfg), metrics, log)
	exporter := services.NewExportEngine(host, sched, services.ExportOptionsFromConfig(cfg), metrics, log)
	importer := services.NewImporter(store, log)

	hub := events.NewWebSocketServer(cfg, log)
	game := httphandlers.NewGameHandler(store, machine, importer, exporter, host, hub, metrics, cfg, log)
	hub.SetSnapshotProvider(game.SnapshotEvents)

	health := monitoring.NewHealthChecker(log)
	health.AddStoreCheck(storeFactory.HealthCheck, 30*time.Second, 2*time.Second)
	health.AddHandleCheck(host.Handles(), maxLiveHandles, time.Minute, time.Second)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	health.StartBackgroundChecks(bgCtx)

	system := httphandlers.NewSystemHandler(health, stats, hub, gatherer)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httphandlers.NewRouter(cfg, zapLogger, game, system, hub.HandleWebSocket)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting dubsync server", "address", cfg.Server.Address, "persistence", storeFactory.Backend())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	log.Info("shutting down dubsync server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	} else {
		log.Info("server shutdown gracefully")
	}

	game.Close()
	machine.Close()

	// The factory owns the Redis client behind kv.
	if err := storeFactory.Close(); err != nil {
		log.Errorw("error closing store factory", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error shutting down tracer", "error", err)
	}

	log.Info("dubsync server stopped")
}
