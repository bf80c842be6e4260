package license

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// counterTotal sums every data point of the named int64 counter
func counterTotal(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestLicenseMetricsAndSpans(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := InitializeLicenseMetrics(provider.Meter(MeterName))
	require.NoError(t, err)

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	issuer := testIssuer(t, testNow)
	fp := newFakeFingerprinter("A")
	m, err := NewManager(
		WithStore(NewMemoryStore()),
		WithTrialStore(NewMemoryTrialStore()),
		WithFingerprinter(fp),
		WithVerifier(NewVerifier(issuer.PublicKey())),
		WithClock(func() time.Time { return testNow }),
		WithLogger(slog.New(slog.NewJSONHandler(io.Discard, nil))),
		WithMetrics(metrics),
		WithTracer(tp.Tracer(TracerName)),
	)
	require.NoError(t, err)

	data := issueFile(t, issuer, TierPersonal, intPtr(30))
	_, err = m.Activate(ctx, data)
	require.NoError(t, err)
	fp.Set("B")
	_, err = m.Activate(ctx, data)
	require.True(t, errors.Is(err, ErrDeviceLimitExceeded))
	m.Validate(ctx)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	assert.Equal(t, int64(2), counterTotal(t, rm, "license_activation_attempts_total"))
	assert.Equal(t, int64(1), counterTotal(t, rm, "license_activation_success_total"))
	assert.Equal(t, int64(1), counterTotal(t, rm, "license_activation_failures_total"))
	assert.Equal(t, int64(1), counterTotal(t, rm, "license_device_limit_rejections_total"))
	assert.Equal(t, int64(1), counterTotal(t, rm, "license_validation_attempts_total"))

	names := map[string]int{}
	for _, span := range recorder.Ended() {
		names[span.Name()]++
	}
	assert.Equal(t, 2, names["license.activate"])
	assert.Equal(t, 1, names["license.validate"])
}

func TestClassifyLicenseError(t *testing.T) {
	assert.Equal(t, "", classifyLicenseError(nil))
	assert.Equal(t, "success", resultLabel(nil))
	assert.Equal(t, string(KindExpired), classifyLicenseError(ErrExpired))
	assert.Equal(t, "internal", classifyLicenseError(errors.New("boom")))
}
