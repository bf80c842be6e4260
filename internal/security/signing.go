package security

import (
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// MinRSAKeyBits is the smallest issuer key accepted
const MinRSAKeyBits = 2048

var pssOptions = &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: crypto.SHA256}

// GenerateRSAKey creates a new issuer key pair
func GenerateRSAKey(bits int) (*rsa.PrivateKey, error) {
	if bits < MinRSAKeyBits {
		return nil, fmt.Errorf("rsa key size %d below minimum %d", bits, MinRSAKeyBits)
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate rsa key: %w", err)
	}
	return key, nil
}

// EncodePrivateKeyPEM encodes priv as a PKCS#8 PEM block
func EncodePrivateKeyPEM(priv *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// EncodePublicKeyPEM encodes pub as a PKIX PEM block
func EncodePublicKeyPEM(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// ParsePrivateKeyPEM parses a PKCS#8 RSA key, falling back to PKCS#1
func ParsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err == nil {
		if key, ok := parsed.(*rsa.PrivateKey); ok {
			return key, nil
		}
		return nil, fmt.Errorf("private key is not RSA")
	}

	if key, err2 := x509.ParsePKCS1PrivateKey(block.Bytes); err2 == nil {
		return key, nil
	}
	return nil, fmt.Errorf("failed to parse private key: %w", err)
}

// ParsePublicKeyPEM parses a PKIX RSA public key, falling back to PKCS#1
func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err == nil {
		if key, ok := parsed.(*rsa.PublicKey); ok {
			return key, nil
		}
		return nil, fmt.Errorf("public key is not RSA")
	}

	if key, err2 := x509.ParsePKCS1PublicKey(block.Bytes); err2 == nil {
		return key, nil
	}
	return nil, fmt.Errorf("failed to parse public key: %w", err)
}

// SignPSS signs payload with RSA-PSS over SHA-256 and returns base64
func SignPSS(priv *rsa.PrivateKey, payload []byte) (string, error) {
	h := sha256.Sum256(payload)
	sig, err := rsa.SignPSS(rand.Reader, priv, crypto.SHA256, h[:], pssOptions)
	if err != nil {
		return "", fmt.Errorf("failed to sign payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// VerifyPSS checks a base64 RSA-PSS signature over payload
func VerifyPSS(pub *rsa.PublicKey, payload []byte, sigB64 string) error {
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return fmt.Errorf("signature is not valid base64: %w", err)
	}
	h := sha256.Sum256(payload)
	if err := rsa.VerifyPSS(pub, crypto.SHA256, h[:], sig, pssOptions); err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	return nil
}

// DeriveKey derives a 32 byte key using HKDF-SHA256
func DeriveKey(secret, salt []byte, info string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("key derivation secret is empty")
	}
	reader := hkdf.New(sha256.New, secret, salt, []byte(info))

	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}
	return key, nil
}

// SignHMAC returns the base64 HMAC-SHA256 of payload
func SignHMAC(key, payload []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC reports whether sig is the HMAC of payload, in constant time
func VerifyHMAC(key, payload []byte, sig string) bool {
	got, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return hmac.Equal(got, mac.Sum(nil))
}
