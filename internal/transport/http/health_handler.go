package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/xroachx-ghost/void-sub000/internal/license"
)

// HealthChecker reports component health
type HealthChecker interface {
	Check(ctx context.Context) *license.HealthCheckResult
}

var _ HealthChecker = (*license.LicenseHealthCheck)(nil)

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	checker HealthChecker
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(checker HealthChecker, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		checker: checker,
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// HealthCheck handles GET /healthz. A degraded result still answers 200
// because an unlicensed install is a normal state for the service.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	result := h.checker.Check(r.Context())

	if result.Status == license.HealthStatusUnhealthy {
		h.logger.WarnContext(r.Context(), "health check failed",
			slog.String("status", string(result.Status)),
			slog.String("trace_id", result.TraceID),
		)
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, result)
}
