package license

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/xroachx-ghost/void-sub000/internal/infrastructure"
	"github.com/xroachx-ghost/void-sub000/internal/security"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentHealth represents health of a specific component
type ComponentHealth struct {
	Status   HealthStatus           `json:"status"`
	Message  string                 `json:"message"`
	Error    string                 `json:"error,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// HealthCheckResult contains the health of every license component
type HealthCheckResult struct {
	Status     HealthStatus                `json:"status"`
	Message    string                      `json:"message"`
	Timestamp  time.Time                   `json:"timestamp"`
	Duration   string                      `json:"duration"`
	TraceID    string                      `json:"trace_id,omitempty"`
	Components map[string]*ComponentHealth `json:"components"`
}

// LicenseHealthCheck reports whether the license engine can do its job
type LicenseHealthCheck struct {
	manager *Manager
}

// NewLicenseHealthCheck creates a health check for manager
func NewLicenseHealthCheck(manager *Manager) *LicenseHealthCheck {
	return &LicenseHealthCheck{manager: manager}
}

// Check inspects store readability, fingerprint quality and license status
func (hc *LicenseHealthCheck) Check(ctx context.Context) *HealthCheckResult {
	ctx, span := hc.manager.tracer.Start(ctx, "license.health_check",
		trace.WithAttributes(attribute.String("component", "license_health")))
	defer span.End()

	start := time.Now()
	result := &HealthCheckResult{
		Timestamp: start,
		TraceID:   infrastructure.GetTraceID(ctx),
		Components: map[string]*ComponentHealth{
			"store":       hc.checkStore(ctx),
			"fingerprint": hc.checkFingerprint(ctx),
			"license":     hc.checkLicense(ctx),
		},
	}

	result.Status = overallStatus(result.Components)
	switch result.Status {
	case HealthStatusHealthy:
		result.Message = "License engine operational"
	case HealthStatusDegraded:
		result.Message = "License engine operational with warnings"
	default:
		result.Message = "License engine unavailable"
	}
	result.Duration = time.Since(start).String()

	span.SetAttributes(attribute.String("health.status", string(result.Status)))
	return result
}

func (hc *LicenseHealthCheck) checkStore(ctx context.Context) *ComponentHealth {
	_, err := hc.manager.store.Load(ctx)
	switch {
	case err == nil:
		return &ComponentHealth{Status: HealthStatusHealthy, Message: "License store readable"}
	case errors.Is(err, ErrNoState):
		return &ComponentHealth{Status: HealthStatusHealthy, Message: "License store empty"}
	default:
		return &ComponentHealth{Status: HealthStatusUnhealthy, Message: "License store unreadable", Error: err.Error()}
	}
}

func (hc *LicenseHealthCheck) checkFingerprint(ctx context.Context) *ComponentHealth {
	fp, err := hc.manager.Fingerprint(ctx)
	if err != nil {
		return &ComponentHealth{Status: HealthStatusUnhealthy, Message: "Fingerprint unavailable", Error: err.Error()}
	}

	health := &ComponentHealth{
		Status:   HealthStatusHealthy,
		Message:  "Fingerprint derived from network adapter and CPU",
		Metadata: map[string]interface{}{"method": fp.Method},
	}
	if fp.Method == security.MethodFallback {
		health.Status = HealthStatusDegraded
		health.Message = "No physical network adapter; using hostname fallback fingerprint"
	}
	return health
}

func (hc *LicenseHealthCheck) checkLicense(ctx context.Context) *ComponentHealth {
	status := hc.manager.Validate(ctx)
	health := &ComponentHealth{
		Status:   HealthStatusHealthy,
		Message:  "License valid",
		Metadata: map[string]interface{}{"state": string(status.State)},
	}
	if status.Tier != "" {
		health.Metadata["tier"] = string(status.Tier)
	}
	if status.DaysRemaining != nil {
		health.Metadata["days_remaining"] = *status.DaysRemaining
	}

	// An unlicensed machine still runs; entitlement problems only degrade
	if !status.IsValid() {
		health.Status = HealthStatusDegraded
		health.Message = "License state: " + string(status.State)
	}
	return health
}

func overallStatus(components map[string]*ComponentHealth) HealthStatus {
	overall := HealthStatusHealthy
	for _, c := range components {
		switch c.Status {
		case HealthStatusUnhealthy:
			return HealthStatusUnhealthy
		case HealthStatusDegraded:
			overall = HealthStatusDegraded
		}
	}
	return overall
}
