package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/m1deveci/itoolbox-randevu-sub000/internal/api"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/app"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/config"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/logging"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/metrics"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/seed"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/slotlock"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New(os.Stderr, "dev", "info").Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.Env, cfg.LogLevel)
	logger.Info("api-server starting up", "env", cfg.Env, "http_port", cfg.HTTPPort, "store", cfg.StoreDriver)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := app.OpenStores(rootCtx, cfg, logger)
	if err != nil {
		logger.Error("store setup failed", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	if stores.Memory != nil {
		experts, err := seed.Experts(rootCtx, stores.Memory, gofakeit.New(0), seed.Options{Experts: 5})
		if err != nil {
			logger.Error("seeding in-memory store failed", "error", err)
			os.Exit(1)
		}
		for _, e := range experts {
			logger.Info("seeded expert", "expert_id", e.ID, "name", e.Name)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := metrics.NewPrometheus(registry, "booking")
	if err != nil {
		logger.Error("metrics setup failed", "error", err)
		os.Exit(1)
	}

	locks := slotlock.NewManager(stores.Locks,
		slotlock.WithMetrics(collector),
		slotlock.WithLogger(logger),
	)

	notifications := app.NewNotifications(cfg, logger, collector)
	svc := app.NewService(cfg, stores, notifications, locks, logger, collector)

	handler := api.NewRouter(api.RouterConfig{
		Service: svc,
		Locks:   locks,
		PgPool:  stores.PgPool,
		Redis:   stores.Redis,
		Metrics: registry,
		Logger:  logger,
		Env:     cfg.Env,
		Version: version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("http server error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	if err := notifications.Close(shutdownCtx); err != nil {
		logger.Warn("notification drain incomplete", "error", err)
	}

	logger.Info("api-server stopped")
}
