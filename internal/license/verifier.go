package license

import (
	"crypto/rsa"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/xroachx-ghost/void-sub000/internal/security"
)

//go:embed keys/issuer_public.pem
var embeddedPublicKey []byte

const (
	localSignaturePrefix = "local."
	keyDerivationSalt    = "void-license"
	localLicenseInfo     = "void-trial-license/v1"
	trialMarkerInfo      = "void-trial-marker/v1"
)

// Verifier checks license signatures against the issuer public key
type Verifier struct {
	pub *rsa.PublicKey
}

// NewVerifier creates a verifier for pub
func NewVerifier(pub *rsa.PublicKey) *Verifier {
	return &Verifier{pub: pub}
}

// DefaultVerifier returns a verifier for the public key compiled into the binary
func DefaultVerifier() (*Verifier, error) {
	pub, err := security.ParsePublicKeyPEM(embeddedPublicKey)
	if err != nil {
		return nil, fmt.Errorf("embedded issuer key: %w", err)
	}
	return NewVerifier(pub), nil
}

// LoadVerifier uses the key at publicKeyFile, or the embedded key when empty
func LoadVerifier(publicKeyFile string) (*Verifier, error) {
	if publicKeyFile == "" {
		return DefaultVerifier()
	}
	data, err := os.ReadFile(publicKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}
	pub, err := security.ParsePublicKeyPEM(data)
	if err != nil {
		return nil, fmt.Errorf("public key %s: %w", publicKeyFile, err)
	}
	return NewVerifier(pub), nil
}

// Verify checks rec's signature. Locally signed trial records are accepted
// only when fingerprint is the machine that produced them; pass an empty
// fingerprint to accept issuer signatures only.
func (v *Verifier) Verify(rec *Record, fingerprint string) error {
	const op = "verify"

	if rec.IsLocal() {
		if rec.Tier != TierTrial {
			return newError(op, KindInvalidSignature, fmt.Errorf("local signature on %s license", rec.Tier))
		}
		if fingerprint == "" {
			return newError(op, KindInvalidSignature, fmt.Errorf("local signature requires the originating machine"))
		}
		key, err := deriveLocalKey(fingerprint, localLicenseInfo)
		if err != nil {
			return newError(op, KindInvalidSignature, err)
		}
		if !security.VerifyHMAC(key, rec.Payload(), strings.TrimPrefix(rec.Signature, localSignaturePrefix)) {
			return newError(op, KindInvalidSignature, fmt.Errorf("local signature mismatch"))
		}
		return nil
	}

	if v == nil || v.pub == nil {
		return newError(op, KindInvalidSignature, fmt.Errorf("no issuer public key configured"))
	}
	if err := security.VerifyPSS(v.pub, rec.Payload(), rec.Signature); err != nil {
		return newError(op, KindInvalidSignature, err)
	}
	return nil
}

// signLocal signs a trial record with a key bound to fingerprint
func signLocal(rec *Record, fingerprint string) error {
	key, err := deriveLocalKey(fingerprint, localLicenseInfo)
	if err != nil {
		return err
	}
	rec.Signature = localSignaturePrefix + security.SignHMAC(key, rec.Payload())
	return nil
}

func deriveLocalKey(fingerprint, info string) ([]byte, error) {
	return security.DeriveKey([]byte(fingerprint), []byte(keyDerivationSalt), info)
}
