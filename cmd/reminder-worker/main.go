package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m1deveci/itoolbox-randevu-sub000/internal/app"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/appointment"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/config"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/logging"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/slotlock"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New(os.Stderr, "dev", "info").Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.Env, cfg.LogLevel).With("component", "reminder-worker")
	logger.Info("reminder worker starting up", "interval", cfg.WorkerInterval, "window", cfg.ReminderWindow)

	if cfg.StoreDriver == config.StoreMemory {
		logger.Error("reminder worker needs a shared store, set STORE_DRIVER=postgres")
		os.Exit(1)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := app.OpenStores(rootCtx, cfg, logger)
	if err != nil {
		logger.Error("store setup failed", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	locks := slotlock.NewManager(stores.Locks, slotlock.WithLogger(logger))
	notifications := app.NewNotifications(cfg, logger, nil)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := notifications.Close(ctx); err != nil {
			logger.Warn("notification drain incomplete", "error", err)
		}
	}()

	svc := app.NewService(cfg, stores, notifications, locks, logger, nil)

	runOnce(rootCtx, logger, svc, locks, cfg.ReminderWindow)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping reminder worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, logger, svc, locks, cfg.ReminderWindow)
		}
	}
}

func runOnce(ctx context.Context, logger *slog.Logger, svc *appointment.Service, locks *slotlock.Manager, window time.Duration) {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()
	sent, err := svc.DispatchReminders(runCtx, window)
	if err != nil {
		logger.Error("reminder run failed", "error", err, "sent", sent)
	}

	swept, err := locks.Sweep(runCtx)
	if err != nil {
		logger.Error("lock sweep failed", "error", err)
	}

	logger.Info("worker run complete", "reminders_sent", sent, "locks_swept", swept, "duration", time.Since(start))
}
