package security

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
)

func signingKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	testKeyOnce.Do(func() {
		key, err := GenerateRSAKey(2048)
		require.NoError(t, err)
		testKey = key
	})
	return testKey
}

func TestGenerateRSAKeyMinimum(t *testing.T) {
	_, err := GenerateRSAKey(1024)
	assert.Error(t, err)
}

func TestPEMRoundTrip(t *testing.T) {
	key := signingKey(t)

	privPEM, err := EncodePrivateKeyPEM(key)
	require.NoError(t, err)
	parsedPriv, err := ParsePrivateKeyPEM(privPEM)
	require.NoError(t, err)
	assert.True(t, key.Equal(parsedPriv))

	pubPEM, err := EncodePublicKeyPEM(&key.PublicKey)
	require.NoError(t, err)
	parsedPub, err := ParsePublicKeyPEM(pubPEM)
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(parsedPub))
}

func TestParsePKCS1Fallback(t *testing.T) {
	key := signingKey(t)

	pkcs1 := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	parsed, err := ParsePrivateKeyPEM(pkcs1)
	require.NoError(t, err)
	assert.True(t, key.Equal(parsed))

	pub := pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: x509.MarshalPKCS1PublicKey(&key.PublicKey)})
	parsedPub, err := ParsePublicKeyPEM(pub)
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(parsedPub))
}

func TestParseGarbage(t *testing.T) {
	_, err := ParsePrivateKeyPEM([]byte("not a pem"))
	assert.Error(t, err)
	_, err = ParsePublicKeyPEM([]byte("-----BEGIN PUBLIC KEY-----\nAAAA\n-----END PUBLIC KEY-----\n"))
	assert.Error(t, err)
}

func TestSignVerifyPSS(t *testing.T) {
	key := signingKey(t)
	payload := []byte("void-license/v1\nlicense_id=abc\n")

	sig, err := SignPSS(key, payload)
	require.NoError(t, err)
	require.NoError(t, VerifyPSS(&key.PublicKey, payload, sig))

	assert.Error(t, VerifyPSS(&key.PublicKey, []byte("void-license/v1\nlicense_id=abd\n"), sig))
	assert.Error(t, VerifyPSS(&key.PublicKey, payload, "%%%not-base64"))

	other, err := GenerateRSAKey(2048)
	require.NoError(t, err)
	assert.Error(t, VerifyPSS(&other.PublicKey, payload, sig))
}

func TestDeriveKey(t *testing.T) {
	a, err := DeriveKey([]byte("fingerprint-a"), []byte("salt"), "trial")
	require.NoError(t, err)
	assert.Len(t, a, 32)

	again, err := DeriveKey([]byte("fingerprint-a"), []byte("salt"), "trial")
	require.NoError(t, err)
	assert.Equal(t, a, again)

	b, err := DeriveKey([]byte("fingerprint-b"), []byte("salt"), "trial")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	c, err := DeriveKey([]byte("fingerprint-a"), []byte("salt"), "marker")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	_, err = DeriveKey(nil, nil, "trial")
	assert.Error(t, err)
}

func TestHMAC(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	sig := SignHMAC(key, []byte("payload"))

	assert.True(t, VerifyHMAC(key, []byte("payload"), sig))
	assert.False(t, VerifyHMAC(key, []byte("payload!"), sig))
	assert.False(t, VerifyHMAC([]byte("other"), []byte("payload"), sig))
	assert.False(t, VerifyHMAC(key, []byte("payload"), "not base64!"))
}
