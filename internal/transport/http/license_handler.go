package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apierrors "github.com/xroachx-ghost/void-sub000/internal/errors"
	"github.com/xroachx-ghost/void-sub000/internal/infrastructure"
	"github.com/xroachx-ghost/void-sub000/internal/license"
	"github.com/xroachx-ghost/void-sub000/internal/middleware"
	"github.com/xroachx-ghost/void-sub000/internal/security"
	"github.com/xroachx-ghost/void-sub000/internal/validation"
)

// MaxLicenseFileSize bounds the activation request body
const MaxLicenseFileSize = validation.MaxLicenseFileSize

// LicenseHandler handles license-related HTTP requests
type LicenseHandler struct {
	service  LicenseService
	errors   *apierrors.ErrorHandler
	logger   *slog.Logger
	tracer   trace.Tracer
	validate *validator.Validate
	onChange func()
}

// LicenseHandlerOption configures a LicenseHandler
type LicenseHandlerOption func(*LicenseHandler)

// WithChangeHook registers fn to run after any operation that changes the
// stored license, for example to drop cached status
func WithChangeHook(fn func()) LicenseHandlerOption {
	return func(h *LicenseHandler) { h.onChange = fn }
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(service LicenseService, errorHandler *apierrors.ErrorHandler, logger *slog.Logger, opts ...LicenseHandlerOption) *LicenseHandler {
	h := &LicenseHandler{
		service:  service,
		errors:   errorHandler,
		logger:   logger.With(slog.String("handler", "license")),
		tracer:   otel.Tracer("license-handler"),
		validate: validator.New(),
		onChange: func() {},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// LicenseSummary is the public view of a license record
type LicenseSummary struct {
	LicenseID     string     `json:"license_id"`
	CustomerEmail string     `json:"customer_email"`
	Tier          string     `json:"tier"`
	IssuedAt      time.Time  `json:"issued_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	DaysRemaining *int       `json:"days_remaining,omitempty"`
	DeviceLimit   int        `json:"device_limit"`
	CommercialUse bool       `json:"commercial_use"`
}

// LicenseActionResponse is returned by activate, deactivate and trial
type LicenseActionResponse struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	License   *LicenseSummary `json:"license,omitempty"`
	Status    *license.Status `json:"status,omitempty"`
	TraceID   string          `json:"trace_id"`
	Timestamp time.Time       `json:"timestamp"`
}

// FingerprintResponse describes this machine's identity
type FingerprintResponse struct {
	Fingerprint string `json:"fingerprint"`
	Method      string `json:"method"`
	Degraded    bool   `json:"degraded"`
	OS          string `json:"os"`
	Platform    string `json:"platform"`
}

// EntitlementsResponse lists what the current license permits
type EntitlementsResponse struct {
	Tier             string `json:"tier"`
	CommercialUse    bool   `json:"commercial_use"`
	DeviceLimit      int    `json:"device_limit"`
	UnlimitedDevices bool   `json:"unlimited_devices"`
	DaysRemaining    *int   `json:"days_remaining,omitempty"`
}

// fingerprintQuery holds the optional query parameters of GET /fingerprint
type fingerprintQuery struct {
	Format string `validate:"omitempty,oneof=short full"`
}

// Routes returns a chi router for license endpoints. activationLimiter wraps
// POST /activate and may be nil. gate protects the entitlement endpoint and
// may be nil.
func (h *LicenseHandler) Routes(activationLimiter *middleware.RateLimiter, gate *middleware.LicenseGate) chi.Router {
	r := chi.NewRouter()

	r.Get("/status", h.GetStatus)
	r.Get("/info", h.GetInfo)
	r.Get("/fingerprint", h.GetFingerprint)
	r.Post("/deactivate", h.Deactivate)
	r.Post("/trial", h.StartTrial)

	r.Group(func(r chi.Router) {
		if activationLimiter != nil {
			r.Use(activationLimiter.Handler)
		}
		r.Use(middleware.MaxBodySize(MaxLicenseFileSize))
		r.Post("/activate", h.Activate)
	})

	r.Group(func(r chi.Router) {
		if gate != nil {
			r.Use(gate.Handler)
		}
		r.Get("/entitlements", h.GetEntitlements)
	})

	return r
}

// GetStatus handles GET /api/license/status
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "license_handler.get_status")
	defer span.End()

	status := h.service.Validate(ctx)
	span.SetAttributes(attribute.String("license.state", string(status.State)))

	render.JSON(w, r, status)
}

// GetInfo handles GET /api/license/info
func (h *LicenseHandler) GetInfo(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "license_handler.get_info")
	defer span.End()

	info, err := h.service.Info(ctx)
	if err != nil {
		span.RecordError(err)
		h.errors.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, info)
}

// GetFingerprint handles GET /api/license/fingerprint[?format=short|full]
func (h *LicenseHandler) GetFingerprint(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "license_handler.get_fingerprint")
	defer span.End()

	query := fingerprintQuery{Format: r.URL.Query().Get("format")}
	if err := h.validate.Struct(query); err != nil {
		h.errors.HandleError(w, r, apierrors.FromValidation(err))
		return
	}

	fp, err := h.service.Fingerprint(ctx)
	if err != nil {
		span.RecordError(err)
		h.errors.HandleError(w, r, err)
		return
	}

	value := fp.Fingerprint
	if query.Format == "short" {
		value = security.ShortFingerprint(value)
	}

	render.JSON(w, r, FingerprintResponse{
		Fingerprint: value,
		Method:      fp.Method,
		Degraded:    fp.Degraded,
		OS:          fp.OS,
		Platform:    fp.Platform,
	})
}

// GetEntitlements handles GET /api/license/entitlements. LicenseGate has
// already established that the license is valid.
func (h *LicenseHandler) GetEntitlements(w http.ResponseWriter, r *http.Request) {
	status, ok := middleware.StatusFromContext(r.Context())
	if !ok {
		status = h.service.Validate(r.Context())
	}

	render.JSON(w, r, EntitlementsResponse{
		Tier:             string(status.Tier),
		CommercialUse:    status.Tier.CommercialUse(),
		DeviceLimit:      status.Tier.DeviceLimit(),
		UnlimitedDevices: status.Tier.Unlimited(),
		DaysRemaining:    status.DaysRemaining,
	})
}

// Activate handles POST /api/license/activate. The body is the license file.
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "license_handler.activate")
	defer span.End()

	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.errors.HandleError(w, r, apierrors.ErrPayloadTooLarge)
			return
		}
		h.errors.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if len(data) == 0 {
		h.errors.HandleError(w, r, apierrors.New(http.StatusBadRequest, "INVALID_REQUEST", "Request body must contain the license file"))
		return
	}

	rec, err := h.service.Activate(ctx, data)
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("license.error_kind", string(license.KindOf(err))))
		h.errors.HandleError(w, r, err)
		return
	}
	h.onChange()

	span.SetAttributes(attribute.String("license.tier", string(rec.Tier)))
	infrastructure.LoggerWithContext(ctx, h.logger).InfoContext(ctx, "license activated via api",
		slog.String("tier", string(rec.Tier)),
	)

	render.JSON(w, r, h.actionResponse(r, "License activated", rec, nil))
}

// Deactivate handles POST /api/license/deactivate
func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "license_handler.deactivate")
	defer span.End()

	if err := h.service.Deactivate(ctx); err != nil {
		span.RecordError(err)
		h.errors.HandleError(w, r, err)
		return
	}
	h.onChange()

	status := h.service.Validate(ctx)
	render.JSON(w, r, h.actionResponse(r, "License deactivated on this machine", nil, &status))
}

// StartTrial handles POST /api/license/trial
func (h *LicenseHandler) StartTrial(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "license_handler.start_trial")
	defer span.End()

	rec, err := h.service.StartTrial(ctx)
	if err != nil {
		span.RecordError(err)
		h.errors.HandleError(w, r, err)
		return
	}
	h.onChange()

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, h.actionResponse(r, "Trial started", rec, nil))
}

func (h *LicenseHandler) actionResponse(r *http.Request, message string, rec *license.Record, status *license.Status) LicenseActionResponse {
	resp := LicenseActionResponse{
		Success:   true,
		Message:   message,
		Status:    status,
		TraceID:   middleware.GetRequestID(r.Context()),
		Timestamp: time.Now().UTC(),
	}
	if rec != nil {
		resp.License = summarize(rec)
	}
	return resp
}

// summarize builds the public view of rec with the email masked
func summarize(rec *license.Record) *LicenseSummary {
	return &LicenseSummary{
		LicenseID:     rec.LicenseID,
		CustomerEmail: license.MaskEmail(rec.CustomerEmail),
		Tier:          string(rec.Tier),
		IssuedAt:      rec.IssuedAt,
		ExpiresAt:     rec.ExpiresAt,
		DaysRemaining: rec.DaysRemaining(time.Now()),
		DeviceLimit:   rec.Tier.DeviceLimit(),
		CommercialUse: rec.Tier.CommercialUse(),
	}
}
