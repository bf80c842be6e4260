package license

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	TracerName = "license-manager"
	MeterName  = "license-manager"
)

// LicenseMetrics holds all license-specific OpenTelemetry metrics
type LicenseMetrics struct {
	ActivationAttempts    metric.Int64Counter
	ActivationSuccess     metric.Int64Counter
	ActivationFailures    metric.Int64Counter
	ActivationDuration    metric.Float64Histogram
	ValidationAttempts    metric.Int64Counter
	ValidationDuration    metric.Float64Histogram
	Deactivations         metric.Int64Counter
	TrialStarts           metric.Int64Counter
	DeviceLimitRejections metric.Int64Counter
	FingerprintFallbacks  metric.Int64Counter
}

// InitializeLicenseMetrics creates all license-specific metrics
func InitializeLicenseMetrics(meter metric.Meter) (*LicenseMetrics, error) {
	metrics := &LicenseMetrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&metrics.ActivationAttempts, "license_activation_attempts_total", "Total number of license activation attempts"},
		{&metrics.ActivationSuccess, "license_activation_success_total", "Total number of successful license activations"},
		{&metrics.ActivationFailures, "license_activation_failures_total", "Total number of failed license activations"},
		{&metrics.ValidationAttempts, "license_validation_attempts_total", "Total number of license validations by resulting state"},
		{&metrics.Deactivations, "license_deactivations_total", "Total number of device deactivations"},
		{&metrics.TrialStarts, "license_trial_starts_total", "Total number of trial start attempts by result"},
		{&metrics.DeviceLimitRejections, "license_device_limit_rejections_total", "Activations rejected because all device slots were used"},
		{&metrics.FingerprintFallbacks, "license_fingerprint_fallbacks_total", "Fingerprints computed with the degraded fallback method"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.dst = counter
	}

	var err error
	metrics.ActivationDuration, err = meter.Float64Histogram(
		"license_activation_duration_seconds",
		metric.WithDescription("License activation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation duration histogram: %w", err)
	}

	metrics.ValidationDuration, err = meter.Float64Histogram(
		"license_validation_duration_seconds",
		metric.WithDescription("License validation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation duration histogram: %w", err)
	}

	return metrics, nil
}

// startSpan starts a manager span with the standard attributes
func (m *Manager) startSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "license."+operation,
		trace.WithAttributes(
			attribute.String("license.operation", operation),
			attribute.String("component", "license_manager"),
		),
	)
}

// endSpan records the outcome of an operation on span
func endSpan(span trace.Span, start time.Time, err error) {
	span.SetAttributes(
		attribute.Float64("license.duration_ms", float64(time.Since(start).Milliseconds())),
		attribute.Bool("license.success", err == nil),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("license.error_kind", classifyLicenseError(err)))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (m *Manager) recordActivationMetrics(ctx context.Context, duration time.Duration, err error) {
	if m.metrics == nil {
		return
	}

	labels := metric.WithAttributes(attribute.String("component", "license_manager"))
	m.metrics.ActivationAttempts.Add(ctx, 1, labels)
	m.metrics.ActivationDuration.Record(ctx, duration.Seconds(), labels)

	if err == nil {
		m.metrics.ActivationSuccess.Add(ctx, 1, labels)
		return
	}
	m.metrics.ActivationFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("error_kind", classifyLicenseError(err))))
	if KindOf(err) == KindDeviceLimitExceeded {
		m.metrics.DeviceLimitRejections.Add(ctx, 1, labels)
	}
}

func (m *Manager) recordValidationMetrics(ctx context.Context, duration time.Duration, status Status) {
	if m.metrics == nil {
		return
	}
	labels := metric.WithAttributes(
		attribute.String("state", string(status.State)),
		attribute.Bool("degraded", status.Degraded),
	)
	m.metrics.ValidationAttempts.Add(ctx, 1, labels)
	m.metrics.ValidationDuration.Record(ctx, duration.Seconds(), labels)
}

func (m *Manager) recordDeactivationMetrics(ctx context.Context, err error) {
	if m.metrics == nil {
		return
	}
	m.metrics.Deactivations.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", resultLabel(err))))
}

func (m *Manager) recordTrialMetrics(ctx context.Context, err error) {
	if m.metrics == nil {
		return
	}
	m.metrics.TrialStarts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", resultLabel(err))))
}

func (m *Manager) recordFingerprintFallback(ctx context.Context) {
	if m.metrics == nil {
		return
	}
	m.metrics.FingerprintFallbacks.Add(ctx, 1)
}

// classifyLicenseError returns a low-cardinality label for err
func classifyLicenseError(err error) string {
	if err == nil {
		return ""
	}
	if kind := KindOf(err); kind != "" {
		return string(kind)
	}
	return "internal"
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	return classifyLicenseError(err)
}
