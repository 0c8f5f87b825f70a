package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// readyTimeout bounds the dependency checks of one readiness probe.
const readyTimeout = 3 * time.Second

// HealthChecker defines an interface for checking service health.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthHandler manages health check endpoints.
type HealthHandler struct {
	deps   map[string]HealthChecker
	logger *slog.Logger
}

// NewHealthHandler creates a new HealthHandler.
// A nil db or cache is reported as "not configured".
func NewHealthHandler(db, cache HealthChecker, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		deps:   map[string]HealthChecker{"postgres": db, "redis": cache},
		logger: logger,
	}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Healthz is the liveness probe. It never touches dependencies.
//
// GET /healthz
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Readyz pings Postgres and Redis in parallel and returns 503 if either
// fails. Error details go to the log, not the response.
//
// GET /readyz
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		checks  = make(map[string]string, len(h.deps))
		healthy = true
	)

	var g errgroup.Group
	for name, dep := range h.deps {
		name, dep := name, dep
		if dep == nil {
			mu.Lock()
			checks[name] = "not configured"
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			err := dep.Ping(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				h.logger.Warn("readiness check failed", "dependency", name, "error", err)
				checks[name] = "unavailable"
				healthy = false
				return nil
			}
			checks[name] = "ok"
			return nil
		})
	}
	_ = g.Wait()

	resp := HealthResponse{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
