package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/m1deveci/itoolbox-randevu-sub000/internal/appointment"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/slotlock"
)

type RouterConfig struct {
	Service *appointment.Service
	Locks   *slotlock.Manager
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Metrics prometheus.Gatherer // /metrics is not mounted when nil
	Logger  *slog.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Metrics, promhttp.HandlerOpts{}))
	}

	svc := cfg.Service
	r.Route("/appointments", func(r chi.Router) {
		r.Get("/", listAppointmentsHandler(svc))
		r.Post("/", createAppointmentHandler(svc))
		r.Delete("/cancelled", purgeCancelledHandler(svc))

		r.Get("/lock/check", checkLockHandler(cfg.Locks))
		r.Post("/lock/create", createLockHandler(cfg.Locks))
		r.Delete("/lock/release/{sessionId}", releaseLockHandler(cfg.Locks))

		r.Get("/reschedule/{token}/approve", resolveRescheduleHandler(svc, true))
		r.Get("/reschedule/{token}/reject", resolveRescheduleHandler(svc, false))

		r.Get("/{id}", getAppointmentHandler(svc))
		r.Delete("/{id}", deleteAppointmentHandler(svc))
		r.Put("/{id}/approve", approveAppointmentHandler(svc))
		r.Put("/{id}/cancel", cancelAppointmentHandler(svc))
		r.Put("/{id}/complete", completeAppointmentHandler(svc))
		r.Put("/{id}/remind", remindAppointmentHandler(svc))
		r.Put("/{id}/reassign", reassignAppointmentHandler(svc))
		r.Post("/{id}/reschedule", proposeRescheduleHandler(svc))
	})

	r.Get("/experts", listExpertsHandler(svc))
	r.Get("/experts/{id}/availability", expertAvailabilityHandler(svc))

	return r
}
