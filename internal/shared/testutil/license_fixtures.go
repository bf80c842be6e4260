package testutil

import (
	"crypto/rsa"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xroachx-ghost/void-sub000/internal/license"
	"github.com/xroachx-ghost/void-sub000/internal/security"
)

// DefaultEmail is the customer on fixtures that do not name one
const DefaultEmail = "customer@example.com"

var (
	issuerKeyOnce sync.Once
	issuerKey     *rsa.PrivateKey
	issuerKeyErr  error
)

// IssuerKey returns a process-wide 2048 bit issuer key. Generating one per
// test would dominate the run time.
func IssuerKey(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	issuerKeyOnce.Do(func() {
		issuerKey, issuerKeyErr = security.GenerateRSAKey(security.MinRSAKeyBits)
	})
	require.NoError(t, issuerKeyErr)
	return issuerKey
}

// NewIssuer returns an issuer signing with IssuerKey
func NewIssuer(t testing.TB, opts ...license.IssuerOption) *license.Issuer {
	t.Helper()
	issuer, err := license.NewIssuer(IssuerKey(t), opts...)
	require.NoError(t, err)
	return issuer
}

// NewVerifier returns a verifier for IssuerKey
func NewVerifier(t testing.TB) *license.Verifier {
	t.Helper()
	return license.NewVerifier(&IssuerKey(t).PublicKey)
}

// IssueLicense issues a signed license file. days <= 0 means perpetual.
func IssueLicense(t testing.TB, tier license.Tier, days int) (*license.Record, []byte) {
	t.Helper()
	req := license.IssueRequest{Email: DefaultEmail, Tier: tier}
	if days > 0 {
		req.DurationDays = &days
	}
	rec, data, err := NewIssuer(t).Issue(req)
	require.NoError(t, err)
	return rec, data
}

// IssueExpired issues a correctly signed license that expired ago
func IssueExpired(t testing.TB, tier license.Tier, ago time.Duration) []byte {
	t.Helper()
	expires := time.Now().Add(-ago).UTC().Truncate(time.Second)
	rec := &license.Record{
		LicenseID:     "lic-expired",
		CustomerEmail: DefaultEmail,
		Tier:          tier,
		IssuedAt:      expires.Add(-30 * 24 * time.Hour),
		ExpiresAt:     &expires,
	}
	require.NoError(t, NewIssuer(t).Sign(rec))
	data, err := rec.Marshal()
	require.NoError(t, err)
	return data
}

// WriteLicenseFile writes data under dir and returns the path
func WriteLicenseFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}

// StaticFingerprinter always reports the same identity
type StaticFingerprinter struct {
	Value    string
	Degraded bool
}

// Generate implements security.Fingerprinter
func (f StaticFingerprinter) Generate() (*security.DeviceFingerprint, error) {
	method := security.MethodPrimary
	if f.Degraded {
		method = security.MethodFallback
	}
	return &security.DeviceFingerprint{
		Fingerprint: f.Value,
		Method:      method,
		Degraded:    f.Degraded,
		OS:          "linux",
		Platform:    "linux/amd64",
		GeneratedAt: time.Now(),
	}, nil
}

// MemoryMachine is one simulated machine: its stores and fingerprint
type MemoryMachine struct {
	Store       *license.MemoryStore
	TrialStore  *license.MemoryTrialStore
	Fingerprint string
}

// NewMemoryMachine creates empty stores for a machine identified by fingerprint
func NewMemoryMachine(fingerprint string) *MemoryMachine {
	return &MemoryMachine{
		Store:       license.NewMemoryStore(),
		TrialStore:  license.NewMemoryTrialStore(),
		Fingerprint: fingerprint,
	}
}

// Manager returns a manager over the machine's stores that trusts IssuerKey.
// Extra options are applied last.
func (m *MemoryMachine) Manager(t testing.TB, opts ...license.Option) *license.Manager {
	t.Helper()
	base := []license.Option{
		license.WithStore(m.Store),
		license.WithTrialStore(m.TrialStore),
		license.WithFingerprinter(StaticFingerprinter{Value: m.Fingerprint}),
		license.WithVerifier(NewVerifier(t)),
	}
	manager, err := license.NewManager(append(base, opts...)...)
	require.NoError(t, err)
	return manager
}
