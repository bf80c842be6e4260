package license

import (
	"crypto/rsa"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xroachx-ghost/void-sub000/internal/config"
	"github.com/xroachx-ghost/void-sub000/internal/security"
)

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
	testKeyErr  error
)

// issuerKey returns a process-wide 2048 bit key; generation is slow
func issuerKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	testKeyOnce.Do(func() {
		testKey, testKeyErr = security.GenerateRSAKey(security.MinRSAKeyBits)
	})
	require.NoError(t, testKeyErr)
	return testKey
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeClock is a settable clock safe for concurrent reads
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeFingerprinter returns a fixed, switchable identity
type fakeFingerprinter struct {
	mu       sync.Mutex
	value    string
	degraded bool
	err      error
	calls    int
}

func newFakeFingerprinter(value string) *fakeFingerprinter {
	return &fakeFingerprinter{value: value}
}

func (f *fakeFingerprinter) Generate() (*security.DeviceFingerprint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	method := security.MethodPrimary
	if f.degraded {
		method = security.MethodFallback
	}
	return &security.DeviceFingerprint{
		Fingerprint: f.value,
		Method:      method,
		Degraded:    f.degraded,
		GeneratedAt: testNow,
	}, nil
}

func (f *fakeFingerprinter) Set(value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = value
}

func (f *fakeFingerprinter) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeFingerprinter) Degrade() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.degraded = true
}

// testIssuer returns an issuer with a fixed clock and sequential ids
func testIssuer(t *testing.T, now time.Time) *Issuer {
	t.Helper()
	seq := 0
	issuer, err := NewIssuer(issuerKey(t),
		WithIssuerClock(func() time.Time { return now }),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("lic-%04d", seq)
		}))
	require.NoError(t, err)
	return issuer
}

// issueFile issues a license and returns the file bytes
func issueFile(t *testing.T, issuer *Issuer, tier Tier, days *int) []byte {
	t.Helper()
	_, data, err := issuer.Issue(IssueRequest{Email: "owner@example.com", Tier: tier, DurationDays: days})
	require.NoError(t, err)
	return data
}

func intPtr(v int) *int {
	return &v
}

// configForDir points every license file at dir
func configForDir(dir string) config.LicenseConfig {
	return config.LicenseConfig{
		LicenseFile:     filepath.Join(dir, "license.key"),
		TrialMarkerFile: filepath.Join(dir, "trial.marker"),
		TrialEmail:      config.DefaultTrialEmail,
	}
}
