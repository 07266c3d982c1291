package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/m1deveci/itoolbox-randevu-sub000/internal/appointment"
	"github.com/m1deveci/itoolbox-randevu-sub000/internal/logging"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// Actor headers set by the admin frontend.
const (
	headerActorID   = "actor-id"
	headerActorName = "actor-name"
)

// RequestIDMiddleware adds a unique request ID to each request context
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware attaches a request scoped logger to the context and logs
// method, path, status and duration once the request completes.
func LoggingMiddleware(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			logger := logging.FromContext(r.Context(), base).With("request_id", GetRequestID(r.Context()))
			ctx := logging.ContextWithLogger(r.Context(), logger)

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r.WithContext(ctx))

			level := slog.LevelInfo
			if wrapped.statusCode >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(ctx, level, "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration", time.Since(start),
			)
		})
	}
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// actorFromRequest reads the audit actor headers. Names may arrive URL
// encoded since they often contain non-ASCII characters.
func actorFromRequest(r *http.Request) appointment.Actor {
	id := strings.TrimSpace(r.Header.Get(headerActorID))
	name := strings.TrimSpace(r.Header.Get(headerActorName))
	if decoded, err := url.QueryUnescape(name); err == nil {
		name = decoded
	}
	return appointment.Actor{ID: id, Name: name}.OrSystem()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
