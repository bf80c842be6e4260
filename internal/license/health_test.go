package license

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newHealthManager(t *testing.T, store Store, fp *fakeFingerprinter) (*Manager, *Issuer) {
	t.Helper()
	issuer := testIssuer(t, testNow)
	m, err := NewManager(
		WithStore(store),
		WithTrialStore(NewMemoryTrialStore()),
		WithFingerprinter(fp),
		WithVerifier(NewVerifier(issuer.PublicKey())),
		WithClock(func() time.Time { return testNow }),
		WithLogger(slog.New(slog.NewJSONHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	return m, issuer
}

func TestHealthCheckHealthy(t *testing.T) {
	ctx := context.Background()
	m, issuer := newHealthManager(t, NewMemoryStore(), newFakeFingerprinter("machine-a"))
	_, err := m.Activate(ctx, issueFile(t, issuer, TierProfessional, intPtr(365)))
	require.NoError(t, err)

	result := NewLicenseHealthCheck(m).Check(ctx)

	assert.Equal(t, HealthStatusHealthy, result.Status)
	assert.Len(t, result.Components, 3)
	assert.Equal(t, "valid", result.Components["license"].Metadata["state"])
	assert.Equal(t, "professional", result.Components["license"].Metadata["tier"])
	assert.Equal(t, 365, result.Components["license"].Metadata["days_remaining"])
}

func TestHealthCheckUnlicensedIsDegraded(t *testing.T) {
	m, _ := newHealthManager(t, NewMemoryStore(), newFakeFingerprinter("machine-a"))

	result := NewLicenseHealthCheck(m).Check(context.Background())

	assert.Equal(t, HealthStatusDegraded, result.Status)
	assert.Equal(t, HealthStatusHealthy, result.Components["store"].Status)
	assert.Equal(t, HealthStatusDegraded, result.Components["license"].Status)
}

func TestHealthCheckFallbackFingerprint(t *testing.T) {
	fp := newFakeFingerprinter("machine-a")
	fp.Degrade()
	m, _ := newHealthManager(t, NewMemoryStore(), fp)

	result := NewLicenseHealthCheck(m).Check(context.Background())

	fpHealth := result.Components["fingerprint"]
	assert.Equal(t, HealthStatusDegraded, fpHealth.Status)
	assert.Equal(t, "fallback", fpHealth.Metadata["method"])
}

func TestHealthCheckUnhealthy(t *testing.T) {
	store := new(mockStore)
	store.On("Load", mock.Anything).Return(nil, newError("store.load", KindStore, errors.New("permission denied")))
	fp := newFakeFingerprinter("machine-a")
	fp.Fail(errors.New("no network and no hostname"))
	m, _ := newHealthManager(t, store, fp)

	result := NewLicenseHealthCheck(m).Check(context.Background())

	assert.Equal(t, HealthStatusUnhealthy, result.Status)
	assert.Equal(t, HealthStatusUnhealthy, result.Components["store"].Status)
	assert.Contains(t, result.Components["store"].Error, "permission denied")
	assert.Equal(t, HealthStatusUnhealthy, result.Components["fingerprint"].Status)
}
