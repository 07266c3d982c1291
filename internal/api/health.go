package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// dependency is one readiness probe. A failing critical dependency takes the
// instance out of rotation; any other failure only marks it degraded.
type dependency struct {
	name     string
	critical bool
	ping     func(ctx context.Context) error
}

type HealthHandler struct {
	deps    []dependency
	skipped []string
	env     string
	version string
}

// NewHealthHandler probes Postgres and Redis when they are configured. Redis
// only holds advisory slot locks, so it is never critical.
func NewHealthHandler(pgPool *pgxpool.Pool, rdb *redis.Client, env, version string) *HealthHandler {
	h := &HealthHandler{env: env, version: version}

	if pgPool != nil {
		h.deps = append(h.deps, dependency{name: "postgres", critical: true, ping: pgPool.Ping})
	} else {
		h.skipped = append(h.skipped, "postgres")
	}
	if rdb != nil {
		h.deps = append(h.deps, dependency{name: "redis", ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	} else {
		h.skipped = append(h.skipped, "redis")
	}
	return h
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Env     string `json:"env,omitempty"`
}

type ReadinessResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version,omitempty"`
	Env          string            `json:"env,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{Status: "ok", Version: h.version, Env: h.env})
}

func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	resp := ReadinessResponse{
		Status:       "ok",
		Version:      h.version,
		Env:          h.env,
		Dependencies: make(map[string]string, len(h.deps)+len(h.skipped)),
	}
	for _, name := range h.skipped {
		resp.Dependencies[name] = "disabled"
	}

	for _, d := range h.deps {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		err := d.ping(ctx)
		cancel()

		if err == nil {
			resp.Dependencies[d.name] = "ok"
			continue
		}
		resp.Dependencies[d.name] = "down"
		switch {
		case d.critical:
			resp.Status = "error"
		case resp.Status == "ok":
			resp.Status = "degraded"
		}
	}

	status := http.StatusOK
	if resp.Status == "error" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
