package api

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/phrazzld/paygate/internal/api/shared"
	"github.com/phrazzld/paygate/internal/platform/logger"
	"github.com/phrazzld/paygate/internal/redact"
)

// readyTimeout bounds the whole readiness probe.
const readyTimeout = 3 * time.Second

// Check probes one dependency.
type Check func(ctx context.Context) error

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	checks map[string]Check
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. checks are keyed by dependency
// name, e.g. "redis".
func NewHealthHandler(checks map[string]Check, log *slog.Logger) *HealthHandler {
	if log == nil {
		log = slog.Default()
	}
	return &HealthHandler{checks: checks, logger: log.With("component", "health_handler")}
}

// Live handles GET /health.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /health/ready. It answers 503 when any check fails.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status, code := "ok", http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			logger.FromContextOrDefault(r.Context(), h.logger).Warn("readiness check failed",
				"check", name,
				"error", redact.Error(err))
			results[name] = "down"
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		results[name] = "up"
	}

	shared.RespondWithJSON(w, r, code, map[string]any{
		"status": status,
		"checks": results,
	})
}
