package app

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"golang.org/x/sync/errgroup"

	"github.com/xroachx-ghost/void-sub000/internal/config"
	apierrors "github.com/xroachx-ghost/void-sub000/internal/errors"
	"github.com/xroachx-ghost/void-sub000/internal/infrastructure"
	"github.com/xroachx-ghost/void-sub000/internal/license"
	customMiddleware "github.com/xroachx-ghost/void-sub000/internal/middleware"
	handlers "github.com/xroachx-ghost/void-sub000/internal/transport/http"
)

// gateCacheTTL bounds how stale the entitlement gate's view of the license can be
const gateCacheTTL = 30 * time.Second

var (
	// BuildTime is set at compile time with -ldflags "-X .../internal/app.BuildTime=..."
	BuildTime = "unknown"
	// BuildID is a unique identifier for this build
	BuildID = generateBuildID()
)

func generateBuildID() string {
	h := sha256.New()
	h.Write([]byte(config.AppVersion))
	h.Write([]byte(BuildTime))
	return fmt.Sprintf("%x", h.Sum(nil))[:12]
}

// Application serves the local license API
type Application struct {
	Config         *config.Config
	Router         *chi.Mux
	Server         *http.Server
	LicenseManager *license.Manager
	LicenseGate    *customMiddleware.LicenseGate
	ErrorHandler   *apierrors.ErrorHandler
	Logger         *slog.Logger
	OTelProviders  *infrastructure.OTelProviders
}

// NewApplication loads configuration and builds a fully wired application
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return NewApplicationFromConfig(cfg, logger)
}

// NewApplicationFromConfig builds the application from an already loaded
// configuration, initializing OpenTelemetry and the file-backed manager
func NewApplicationFromConfig(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	otelProviders, err := infrastructure.InitializeOTel(infrastructure.NewOTelConfig(cfg.Telemetry), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	manager, err := newLicenseManager(cfg.License, otelProviders, logger)
	if err != nil {
		return nil, err
	}

	return New(cfg, manager, otelProviders, logger)
}

// newLicenseManager builds the file-backed manager with telemetry attached
func newLicenseManager(cfg config.LicenseConfig, providers *infrastructure.OTelProviders, logger *slog.Logger) (*license.Manager, error) {
	metrics, err := license.InitializeLicenseMetrics(providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize license metrics: %w", err)
	}

	manager, err := license.NewManagerFromConfig(cfg,
		license.WithLogger(logger),
		license.WithMetrics(metrics),
		license.WithTracer(providers.Tracer),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize license manager: %w", err)
	}
	return manager, nil
}

// New assembles an application around an existing manager. providers may
// be nil, in which case tracing and metrics are disabled.
func New(cfg *config.Config, manager *license.Manager, providers *infrastructure.OTelProviders, logger *slog.Logger) (*Application, error) {
	if manager == nil {
		return nil, errors.New("license manager is required")
	}

	a := &Application{
		Config:         cfg,
		LicenseManager: manager,
		ErrorHandler:   apierrors.NewErrorHandler(logger, false),
		Logger:         logger,
		OTelProviders:  providers,
	}
	a.LicenseGate = customMiddleware.NewLicenseGate(manager, logger, gateCacheTTL)

	a.setupRouter()
	a.createServer()

	return a, nil
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	// Ordering: RequestID → Loopback → OTel → ErrorMiddleware → SecurityHeaders
	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.LoopbackOnly(a.Logger))

	if a.OTelProviders != nil {
		otelMiddleware, err := customMiddleware.NewOTelMiddleware(a.OTelProviders)
		if err != nil {
			a.Logger.Error("Failed to create OpenTelemetry middleware", slog.String("error", err.Error()))
		} else {
			r.Use(otelMiddleware.Handler)
		}
	}

	r.Use(apierrors.NewErrorMiddleware(a.ErrorHandler, a.Logger).Handler)
	r.Use(customMiddleware.SecurityHeaders)

	r.NotFound(a.ErrorHandler.NotFound)
	r.MethodNotAllowed(a.ErrorHandler.MethodNotAllowed)

	healthHandler := handlers.NewHealthHandler(license.NewLicenseHealthCheck(a.LicenseManager), a.Logger)
	r.With(render.SetContentType(render.ContentTypeJSON)).Get(config.HealthEndpoint, healthHandler.HealthCheck)

	var exporter http.Handler
	if a.OTelProviders != nil {
		exporter = a.OTelProviders.PrometheusHTTP
	}
	r.Handle(config.MetricsEndpoint, handlers.NewMetricsHandler(exporter, a.ErrorHandler))

	a.setupAPIRoutes(r)

	a.Router = r
}

// setupAPIRoutes configures the license API
func (a *Application) setupAPIRoutes(r chi.Router) {
	licenseHandler := handlers.NewLicenseHandler(a.LicenseManager, a.ErrorHandler, a.Logger,
		handlers.WithChangeHook(a.LicenseGate.InvalidateCache))

	activationLimiter := customMiddleware.NewRateLimiter(
		a.Config.Server.ActivationRPS,
		a.Config.Server.ActivationBurst,
		a.Logger,
		a.ErrorHandler,
	)

	r.With(render.SetContentType(render.ContentTypeJSON)).
		Mount(config.LicenseEndpoint, licenseHandler.Routes(activationLimiter, a.LicenseGate))
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:              a.Config.Server.Addr,
		Handler:           a.Router,
		ReadTimeout:       a.Config.Server.ReadTimeout,
		ReadHeaderTimeout: a.Config.Server.ReadTimeout,
		WriteTimeout:      a.Config.Server.WriteTimeout,
	}
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	a.Logger.InfoContext(ctx, "Starting license API",
		slog.String("name", config.AppName),
		slog.String("version", config.AppVersion),
		slog.String("build_id", BuildID),
		slog.String("build_time", BuildTime),
		slog.String("address", ln.Addr().String()))

	if err := a.performStartupHealthCheck(ctx); err != nil {
		a.Logger.WarnContext(ctx, "Startup health check warnings", slog.String("warnings", err.Error()))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.Stop(context.Background())
	})

	return g.Wait()
}

// Stop gracefully stops the application
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down license API")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}

	a.Logger.InfoContext(ctx, "License API shutdown complete")
	return nil
}

// Run listens on the configured address until interrupted
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.Server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// performStartupHealthCheck verifies the license directory is writable and
// reports the current license state
func (a *Application) performStartupHealthCheck(ctx context.Context) error {
	dir := filepath.Dir(a.Config.License.LicenseFile)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("license directory not writable: %s: %w", dir, err)
	}
	testFile := filepath.Join(dir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0600); err != nil {
		return fmt.Errorf("license directory not writable: %s: %w", dir, err)
	}
	os.Remove(testFile)

	status := a.LicenseManager.Validate(ctx)
	a.Logger.InfoContext(ctx, "Startup health check passed",
		slog.String("license_state", string(status.State)),
		slog.Bool("degraded", status.Degraded))
	return nil
}
