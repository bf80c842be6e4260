package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/render"

	apierrors "github.com/xroachx-ghost/void-sub000/internal/errors"
	"github.com/xroachx-ghost/void-sub000/internal/license"
)

type statusContextKey struct{}

// LicenseGate admits requests only while the license on this machine is
// valid. Results are cached briefly so polling clients do not fingerprint
// the machine on every call.
type LicenseGate struct {
	checker  StatusChecker
	logger   *slog.Logger
	cacheTTL time.Duration
	now      func() time.Time

	mu       sync.Mutex
	cached   license.Status
	cachedAt time.Time
}

// NewLicenseGate creates a gate backed by checker
func NewLicenseGate(checker StatusChecker, logger *slog.Logger, cacheTTL time.Duration) *LicenseGate {
	return &LicenseGate{
		checker:  checker,
		logger:   logger.With(slog.String("component", "license_gate")),
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// Handler implements the gate middleware
func (g *LicenseGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := g.status(r.Context())
		if !status.IsValid() {
			g.logger.InfoContext(r.Context(), "request blocked by license state",
				slog.String("state", string(status.State)),
				slog.String("path", r.URL.Path),
			)
			problem := apierrors.NewProblemDetails(http.StatusForbidden, "/errors/license/required",
				"License Required", stateMessage(status), r.URL.Path).
				WithExtension("state", string(status.State)).
				WithExtension("trace_id", GetRequestID(r.Context()))
			render.Render(w, r, problem)
			return
		}

		ctx := context.WithValue(r.Context(), statusContextKey{}, status)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// InvalidateCache forces the next request to re-validate
func (g *LicenseGate) InvalidateCache() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cachedAt = time.Time{}
}

func (g *LicenseGate) status(ctx context.Context) license.Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.cachedAt.IsZero() && g.now().Sub(g.cachedAt) < g.cacheTTL {
		return g.cached
	}
	g.cached = g.checker.Validate(ctx)
	g.cachedAt = g.now()
	return g.cached
}

// StatusFromContext returns the status admitted by LicenseGate
func StatusFromContext(ctx context.Context) (license.Status, bool) {
	status, ok := ctx.Value(statusContextKey{}).(license.Status)
	return status, ok
}

func stateMessage(status license.Status) string {
	switch status.State {
	case license.StateExpired:
		return "The license has expired."
	case license.StateInvalidSignature:
		return "The stored license failed signature verification."
	case license.StateDeviceMismatch:
		return "The license is bound to a different machine."
	case license.StateDeactivated:
		return "The license was deactivated on this machine."
	default:
		return "No license is installed on this machine."
	}
}
