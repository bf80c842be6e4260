package license

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xroachx-ghost/void-sub000/internal/security"
)

func TestVerifyIssuerSignature(t *testing.T) {
	issuer := testIssuer(t, testNow)
	verifier := NewVerifier(issuer.PublicKey())

	rec, _, err := issuer.Issue(IssueRequest{Email: "owner@example.com", Tier: TierPersonal, DurationDays: intPtr(30)})
	require.NoError(t, err)
	assert.NoError(t, verifier.Verify(rec, ""))
	assert.NoError(t, verifier.Verify(rec, "any-fingerprint"), "issuer signatures are machine independent")

	rec.CustomerEmail = "thief@example.com"
	assert.ErrorIs(t, verifier.Verify(rec, ""), ErrInvalidSignature)
}

func TestVerifyWrongKey(t *testing.T) {
	other, err := security.GenerateRSAKey(security.MinRSAKeyBits)
	require.NoError(t, err)

	rec, _, err := testIssuer(t, testNow).Issue(IssueRequest{Email: "owner@example.com", Tier: TierPersonal})
	require.NoError(t, err)

	assert.ErrorIs(t, NewVerifier(&other.PublicKey).Verify(rec, ""), ErrInvalidSignature)
}

func TestVerifyGarbageSignature(t *testing.T) {
	rec, _, err := testIssuer(t, testNow).Issue(IssueRequest{Email: "owner@example.com", Tier: TierPersonal})
	require.NoError(t, err)

	rec.Signature = "!!not base64!!"
	assert.ErrorIs(t, NewVerifier(&issuerKey(t).PublicKey).Verify(rec, ""), ErrInvalidSignature)

	var nilVerifier *Verifier
	rec.Signature = "AAAA"
	assert.ErrorIs(t, nilVerifier.Verify(rec, ""), ErrInvalidSignature)
}

func TestVerifyLocalSignature(t *testing.T) {
	verifier := NewVerifier(&issuerKey(t).PublicKey)
	exp := testNow.Add(TrialDuration)
	rec := &Record{
		LicenseID:     "trial-1",
		CustomerEmail: "trial@void.local",
		Tier:          TierTrial,
		IssuedAt:      testNow,
		ExpiresAt:     &exp,
	}
	require.NoError(t, signLocal(rec, "machine-a"))
	assert.True(t, strings.HasPrefix(rec.Signature, "local."))

	assert.NoError(t, verifier.Verify(rec, "machine-a"))
	assert.ErrorIs(t, verifier.Verify(rec, "machine-b"), ErrInvalidSignature)
	assert.ErrorIs(t, verifier.Verify(rec, ""), ErrInvalidSignature)

	paid := rec.Clone()
	paid.Tier = TierEnterprise
	require.NoError(t, signLocal(paid, "machine-a"))
	assert.ErrorIs(t, verifier.Verify(paid, "machine-a"), ErrInvalidSignature, "only trials may be signed locally")
}

func TestLoadVerifier(t *testing.T) {
	v, err := LoadVerifier("")
	require.NoError(t, err)
	assert.NotNil(t, v.pub)

	pemData, err := security.EncodePublicKeyPEM(&issuerKey(t).PublicKey)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "issuer.pem")
	require.NoError(t, os.WriteFile(path, pemData, 0600))

	v, err = LoadVerifier(path)
	require.NoError(t, err)
	assert.Equal(t, issuerKey(t).PublicKey.N, v.pub.N)

	_, err = LoadVerifier(filepath.Join(t.TempDir(), "missing.pem"))
	assert.Error(t, err)
}
