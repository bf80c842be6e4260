package integration

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xroachx-ghost/void-sub000/internal/app"
	"github.com/xroachx-ghost/void-sub000/internal/config"
	"github.com/xroachx-ghost/void-sub000/internal/license"
	"github.com/xroachx-ghost/void-sub000/internal/shared/testutil"
)

// licenseFiles returns a license config rooted in a fresh temp dir
func licenseFiles(t *testing.T) config.LicenseConfig {
	t.Helper()
	dir := t.TempDir()
	return config.LicenseConfig{
		LicenseFile:       filepath.Join(dir, "user", config.LicenseFileName),
		TrialMarkerFile:   filepath.Join(dir, "user", config.TrialMarkerFileName),
		SystemLicenseFile: filepath.Join(dir, "system", config.LicenseFileName),
		PublicKeyFile:     writePublicKey(t, dir),
		TrialEmail:        config.DefaultTrialEmail,
	}
}

func fileManager(t *testing.T, cfg config.LicenseConfig, fingerprint string, opts ...license.Option) *license.Manager {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	base := []license.Option{
		license.WithFingerprinter(testutil.StaticFingerprinter{Value: fingerprint}),
		license.WithLogger(logger),
	}
	manager, err := license.NewManagerFromConfig(cfg, append(base, opts...)...)
	require.NoError(t, err)
	return manager
}

// testClock is a settable clock shared with a manager
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestLicenseIntegration_SystemLicenseFallback(t *testing.T) {
	cfg := licenseFiles(t)
	_, data := testutil.IssueLicense(t, license.TierEnterprise, 0)
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.SystemLicenseFile), 0755))
	require.NoError(t, os.WriteFile(cfg.SystemLicenseFile, data, 0644))

	manager := fileManager(t, cfg, "shared-host")
	ctx := context.Background()

	// A bare system license is visible but not yet bound to this machine
	status := manager.Validate(ctx)
	assert.Equal(t, license.StateDeviceMismatch, status.State)
	assert.Equal(t, license.TierEnterprise, status.Tier)

	_, err := manager.Activate(ctx, data)
	require.NoError(t, err)

	assert.FileExists(t, cfg.LicenseFile)
	assert.Equal(t, license.StateValid, manager.Validate(ctx).State)

	systemData, err := os.ReadFile(cfg.SystemLicenseFile)
	require.NoError(t, err)
	assert.Equal(t, data, systemData, "system file is never rewritten")
}

func TestLicenseIntegration_UserFileShadowsSystemFile(t *testing.T) {
	cfg := licenseFiles(t)
	ctx := context.Background()

	_, personal := testutil.IssueLicense(t, license.TierPersonal, 30)
	manager := fileManager(t, cfg, "host-a")
	_, err := manager.Activate(ctx, personal)
	require.NoError(t, err)

	_, enterprise := testutil.IssueLicense(t, license.TierEnterprise, 0)
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.SystemLicenseFile), 0755))
	require.NoError(t, os.WriteFile(cfg.SystemLicenseFile, enterprise, 0644))

	status := manager.Validate(ctx)
	assert.Equal(t, license.StateValid, status.State)
	assert.Equal(t, license.TierPersonal, status.Tier)
}

func TestLicenseIntegration_CorruptStore(t *testing.T) {
	cfg := licenseFiles(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.LicenseFile), 0700))
	require.NoError(t, os.WriteFile(cfg.LicenseFile, []byte("{not json"), 0600))

	manager := fileManager(t, cfg, "host-a")
	ctx := context.Background()

	status := manager.Validate(ctx)
	assert.Equal(t, license.StateNoLicense, status.State)
	assert.True(t, status.Degraded)

	_, data := testutil.IssueLicense(t, license.TierPersonal, 30)
	_, err := manager.Activate(ctx, data)
	require.Error(t, err)
	assert.Equal(t, license.KindStore, license.KindOf(err))

	_, err = manager.StartTrial(ctx)
	require.Error(t, err)
	assert.Equal(t, license.KindStore, license.KindOf(err))
}

func TestLicenseIntegration_ExpiryWhileRunning(t *testing.T) {
	cfg := licenseFiles(t)
	clock := &testClock{now: time.Now()}
	manager := fileManager(t, cfg, "host-a", license.WithClock(clock.Now))
	ctx := context.Background()

	_, data := testutil.IssueLicense(t, license.TierProfessional, 30)
	_, err := manager.Activate(ctx, data)
	require.NoError(t, err)

	status := manager.Validate(ctx)
	require.Equal(t, license.StateValid, status.State)
	require.NotNil(t, status.DaysRemaining)
	assert.InDelta(t, 30, *status.DaysRemaining, 1)

	clock.Advance(31 * 24 * time.Hour)

	status = manager.Validate(ctx)
	assert.Equal(t, license.StateExpired, status.State)
	require.NotNil(t, status.DaysRemaining)
	assert.Equal(t, 0, *status.DaysRemaining)
}

func TestLicenseIntegration_TrialExpiresAfterFourteenDays(t *testing.T) {
	cfg := licenseFiles(t)
	clock := &testClock{now: time.Now()}
	manager := fileManager(t, cfg, "host-a", license.WithClock(clock.Now))
	ctx := context.Background()

	rec, err := manager.StartTrial(ctx)
	require.NoError(t, err)
	assert.Equal(t, license.TierTrial, rec.Tier)
	assert.Equal(t, license.StateValid, manager.Validate(ctx).State)

	clock.Advance(15 * 24 * time.Hour)
	assert.Equal(t, license.StateExpired, manager.Validate(ctx).State)

	// Copied to another machine the trial verifies but is not bound there
	other := fileManager(t, cfg, "host-b")
	status := other.Validate(ctx)
	assert.Equal(t, license.StateDeviceMismatch, status.State)
	assert.Equal(t, license.TierTrial, status.Tier)

	data, err := rec.Marshal()
	require.NoError(t, err)
	_, err = fileManager(t, licenseFiles(t), "host-b").Activate(ctx, data)
	assert.Equal(t, license.KindDeviceMismatch, license.KindOf(err))
}

func TestLicenseIntegration_SupersedeTrialWithPaidLicense(t *testing.T) {
	cfg := licenseFiles(t)
	manager := fileManager(t, cfg, "host-a")
	ctx := context.Background()

	_, err := manager.StartTrial(ctx)
	require.NoError(t, err)

	_, data := testutil.IssueLicense(t, license.TierProfessional, 365)
	_, err = manager.Activate(ctx, data)
	require.NoError(t, err)

	info, err := manager.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, license.TierProfessional, info.Tier)
	assert.Equal(t, 1, info.DevicesUsed)
	assert.True(t, info.TrialUsed)

	_, err = manager.StartTrial(ctx)
	assert.Equal(t, license.KindTrialAlreadyUsed, license.KindOf(err))
}

func TestLicenseIntegration_GateFollowsActivation(t *testing.T) {
	cfg := config.Default()
	cfg.License = licenseFiles(t)
	cfg.Server.Addr = "127.0.0.1:0"

	logger, _ := testutil.NewTestLogger(t)
	manager := fileManager(t, cfg.License, "host-a")
	application, err := app.New(cfg, manager, nil, logger)
	require.NoError(t, err)

	server := httptest.NewServer(application.Router)
	defer server.Close()

	entitlements := func() int {
		resp, err := http.Get(server.URL + config.LicenseEndpoint + "/entitlements")
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusForbidden, entitlements())

	_, data := testutil.IssueLicense(t, license.TierPersonal, 30)
	resp, err := http.Post(server.URL+config.LicenseEndpoint+"/activate", "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The activation hook clears the cached denial
	assert.Equal(t, http.StatusOK, entitlements())

	// Changes made outside the API wait for the cache to expire
	require.NoError(t, manager.Deactivate(context.Background()))
	assert.Equal(t, http.StatusOK, entitlements())
	application.LicenseGate.InvalidateCache()
	assert.Equal(t, http.StatusForbidden, entitlements())
}
