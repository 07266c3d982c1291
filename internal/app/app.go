// Package app wires configuration into the stores, lock manager and
// notification pipeline shared by the api-server and reminder-worker.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/m1deveci/itoolbox-randevu-sub000/internal/appointment"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/config"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/db"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/metrics"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/notify"
	redisclient "github.com/m1deveci/itoolbox-randevu-sub000/internal/redis"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/slotlock"
)

// Stores holds the open backends. PgPool and Redis are nil when the matching
// backend is not configured.
type Stores struct {
	PgPool   *pgxpool.Pool
	Redis    *redis.Client
	Repo     appointment.Repository
	Settings appointment.Settings
	Memory   *appointment.MemoryRepository
	Locks    slotlock.Store
}

func (s *Stores) Close() {
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	if s.PgPool != nil {
		s.PgPool.Close()
	}
}

// OpenStores connects the configured appointment store and slot lock store.
// Postgres is migrated before use.
func OpenStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Stores, error) {
	s := &Stores{}

	switch cfg.StoreDriver {
	case config.StoreMemory:
		s.Memory = appointment.NewMemoryRepository()
		s.Repo = s.Memory
		logger.Warn("using in-memory appointment store, data is lost on restart")
	case config.StorePostgres:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{})
		cancel()
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		s.PgPool = pool
		if err := db.Migrate(ctx, pool, logger); err != nil {
			s.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		s.Repo = appointment.NewPgRepository(pool)
		s.Settings = appointment.NewPgSettings(pool)
		logger.Info("connected to postgres")
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	if cfg.RedisAddr == "" {
		s.Locks = slotlock.NewMemoryStore()
		logger.Info("redis not configured, slot locks are process local")
		return s, nil
	}

	rdb, err := redisclient.NewRedisClient(ctx, redisclient.ClientOptions{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	s.Redis = rdb
	s.Locks = redisclient.NewSlotLockStore(rdb)
	logger.Info("connected to redis", "addr", cfg.RedisAddr)
	return s, nil
}

// Renderer builds the message renderer from cfg.
func Renderer(cfg config.Config) notify.Renderer {
	return notify.Renderer{
		Location:     cfg.Location(),
		SlotDuration: cfg.SlotDuration,
		Organizer:    notify.Recipient{Name: cfg.MailFromName, Email: cfg.MailFromEmail},
	}
}

// Notifications is the asynchronous notification pipeline. Events go to
// RabbitMQ when it is configured and are rendered in process otherwise.
type Notifications struct {
	*notify.Dispatcher
	amqp *notify.AMQPPublisher
}

func NewNotifications(cfg config.Config, logger *slog.Logger, collector metrics.Collector) *Notifications {
	n := &Notifications{}

	var pub notify.Publisher
	if cfg.AMQPURL != "" {
		n.amqp = notify.NewAMQPPublisher(cfg.AMQPURL, cfg.NotifyQueue)
		pub = n.amqp
		logger.Info("publishing notifications to rabbitmq", "queue", cfg.NotifyQueue)
	} else {
		pub = &notify.Sender{Renderer: Renderer(cfg), Mailer: notify.LogMailer{Logger: logger}}
		logger.Info("rabbitmq not configured, notifications are logged in process")
	}

	n.Dispatcher = notify.NewDispatcher(pub, notify.DispatcherOptions{
		Workers: cfg.NotifyWorkers,
		Buffer:  cfg.NotifyBuffer,
		Logger:  logger,
		Metrics: collector,
	})
	n.Start()
	return n
}

// Close drains queued events and closes the broker connection.
func (n *Notifications) Close(ctx context.Context) error {
	err := n.Dispatcher.Close(ctx)
	if n.amqp != nil {
		err = errors.Join(err, n.amqp.Close())
	}
	return err
}

// NewService assembles the appointment service over stores.
func NewService(cfg config.Config, stores *Stores, notifier appointment.Notifier, locks *slotlock.Manager,
	logger *slog.Logger, collector metrics.Collector) *appointment.Service {
	return appointment.NewService(stores.Repo, stores.Settings, notifier, appointment.Config{
		Location:        cfg.Location(),
		MinBookingHours: cfg.MinBookingHours,
		PublicBaseURL:   cfg.PublicBaseURL,
	},
		appointment.WithLogger(logger),
		appointment.WithMetrics(collector),
		appointment.WithSlotLocks(locks),
	)
}
