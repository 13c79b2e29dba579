// recorder-service records live streams and videos by running one
// downloader job per video on the configured compute backend.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"recorder/internal/api"
	"recorder/internal/backend"
	"recorder/internal/config"
	"recorder/internal/controller"
	"recorder/internal/dispatcher"
	"recorder/internal/downloader"
	"recorder/internal/health"
	"recorder/internal/job"
	"recorder/internal/notify"
	"recorder/internal/observability"
	"syscall"
	"time"
)

func main() {
	level := new(slog.LevelVar)
	if err := level.UnmarshalText([]byte(os.Getenv("LOG_LEVEL"))); err != nil {
		level.Set(slog.LevelInfo)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	if err := run(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadFiles(config.GetEnv("ENV_FILE", ".env"), config.GetEnv("CONFIG_FILE", "")); err != nil {
		return err
	}

	svcCfg := config.LoadServiceConfig()
	recCfg := config.LoadRecorderConfig()
	if err := recCfg.Validate(); err != nil {
		return err
	}
	selection, err := backend.Resolve(recCfg.Backends)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	backends, err := backend.Build(ctx, selection, factories())
	if err != nil {
		return err
	}
	defer func() {
		if err := backends.Close(); err != nil {
			slog.Warn("Backend close error", "error", err)
		}
	}()

	retry := job.RetryConfig{Attempts: recCfg.SubmitAttempts}
	downloaders, err := downloader.New(downloader.Deps{
		Compute: backends.Compute(),
		Volume:  backends.SharedVolume(),
		Storage: backends.Storage(),
		Videos:  backends.Database(),
		Metrics: metrics,
		Retry:   retry,
	}, downloader.LoadConfigFromEnv(recCfg), recCfg.DefaultDownloader)
	if err != nil {
		return err
	}

	orchestrator, err := job.NewOrchestrator(job.OrchestratorConfig{
		Compute:   backends.Compute(),
		Videos:    backends.Database(),
		Adapters:  downloaders,
		Metrics:   metrics,
		Retry:     retry,
		Ambiguous: recCfg.AmbiguousPhaseBudget,
	})
	if err != nil {
		return err
	}

	dispatcherCfg := dispatcher.LoadConfigFromEnv()
	eventDispatcher := dispatcher.NewMemory(dispatcherCfg, metrics)
	notifier := notify.New(notify.ConfigFromRecorder(recCfg), eventDispatcher)

	ctrlDeps := controller.Deps{
		Videos:       backends.Database(),
		Downloaders:  downloaders,
		Orchestrator: orchestrator,
		Metrics:      metrics,
	}
	if lister, ok := backends.Compute().(job.Lister); ok {
		ctrlDeps.Lister = lister
	}
	if notifier.Enabled() {
		ctrlDeps.Notifier = notifier
		slog.Info("Notifications enabled", "events", recCfg.NotifyEvents)
	}
	ctrl, err := controller.New(controller.ConfigFromRecorder(recCfg), ctrlDeps)
	if err != nil {
		return err
	}

	healthChecker := health.NewChecker(
		health.Compute(backends.Compute()),
		health.Database(backends.Database()),
		health.Check{Name: "notifications", Probe: func(context.Context) error {
			if stats := eventDispatcher.Stats(); stats.BreakersOpen > 0 {
				return errors.New("webhook circuit open")
			}
			return nil
		}},
	)

	router := api.NewRouter(api.RouterConfig{
		Videos:        backends.Database(),
		Jobs:          orchestrator,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		APIKey:        svcCfg.APIKey,
		RateLimit:     svcCfg.RateLimit,
	})
	if svcCfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY_FILE configured")
	}

	apiServer := &http.Server{
		Addr:         ":" + svcCfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + svcCfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 2)
	go func() {
		slog.Info("Starting API server", "port", svcCfg.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	go func() {
		slog.Info("Starting metrics server", "port", svcCfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	ctrlCtx, stopCtrl := context.WithCancel(ctx)
	defer stopCtrl()
	ctrlDone := make(chan error, 1)
	go func() { ctrlDone <- ctrl.Run(ctrlCtx) }()

	shutdownServers := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	case runErr = <-serverErr:
		slog.Error("Server failed", "error", runErr)
	case runErr = <-ctrlDone:
		slog.Error("Controller exited", "error", runErr)
		ctrlDone = nil
	}

	// Phase 1: fail readiness so load balancers stop routing.
	healthChecker.SetShuttingDown()
	if runErr == nil && svcCfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", svcCfg.ShutdownDrainWait)
		time.Sleep(svcCfg.ShutdownDrainWait)
	}

	// Phase 2: stop the loops. In-flight status writes complete; jobs keep
	// running on the backend and are resumed on the next start.
	stopCtrl()
	if ctrlDone != nil {
		if err := <-ctrlDone; err != nil {
			slog.Warn("Controller stop error", "error", err)
		}
	}

	// Phase 3: finish in-flight requests.
	shutdownServers(25 * time.Second)

	// Phase 4: deliver queued notifications.
	dispatcherCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := eventDispatcher.Close(dispatcherCtx); err != nil {
		slog.Warn("Dispatcher shutdown error", "error", err)
	}
	stats := eventDispatcher.Stats()
	slog.Info("Dispatcher stats", "delivered", stats.Delivered, "failed", stats.Failed, "dropped", stats.Dropped)

	slog.Info("Shutdown complete")
	return runErr
}
