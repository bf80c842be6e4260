package http

import (
	"net/http"

	apierrors "github.com/xroachx-ghost/void-sub000/internal/errors"
)

// MetricsHandler serves the Prometheus scrape endpoint
type MetricsHandler struct {
	exporter http.Handler
	errors   *apierrors.ErrorHandler
}

// NewMetricsHandler creates a metrics handler. exporter is nil when metrics
// are not exported through Prometheus.
func NewMetricsHandler(exporter http.Handler, errorHandler *apierrors.ErrorHandler) *MetricsHandler {
	return &MetricsHandler{
		exporter: exporter,
		errors:   errorHandler,
	}
}

// ServeHTTP handles GET /metrics
func (h *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.exporter == nil {
		h.errors.NotFound(w, r)
		return
	}
	h.exporter.ServeHTTP(w, r)
}
