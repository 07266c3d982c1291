package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/m1deveci/itoolbox-randevu-sub000/internal/app"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/config"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/logging"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/notify"
)

// notifier consumes appointment events from RabbitMQ, renders them and hands
// them to the mailer.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New(os.Stderr, "dev", "info").Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.Env, cfg.LogLevel).With("component", "notifier")
	if cfg.AMQPURL == "" {
		logger.Error("RABBITMQ_URL is required")
		os.Exit(1)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sender := &notify.Sender{
		Renderer: app.Renderer(cfg),
		Mailer:   notify.LogMailer{Logger: logger},
	}

	logger.Info("notifier consuming", "queue", cfg.NotifyQueue)
	err = notify.Consume(rootCtx, cfg.AMQPURL, cfg.NotifyQueue, sender.Handle, logger)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("notifier stopped")
}
