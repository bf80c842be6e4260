package license

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xroachx-ghost/void-sub000/internal/security"
)

// IssueRequest describes a license to be issued
type IssueRequest struct {
	Email string `validate:"required,email,max=320"`
	Tier  Tier   `validate:"required,oneof=trial personal professional enterprise"`
	// DurationDays nil means perpetual. Trial licenses are always 14 days.
	DurationDays *int `validate:"omitempty,min=1,max=36500"`
}

// Issuer signs licenses with the private key. It runs only on the issuing side.
type Issuer struct {
	key   *rsa.PrivateKey
	now   func() time.Time
	newID func() string
}

// IssuerOption configures an Issuer
type IssuerOption func(*Issuer)

// WithIssuerClock sets the issuer clock
func WithIssuerClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) { i.now = now }
}

// WithIDGenerator replaces UUID generation for license ids
func WithIDGenerator(fn func() string) IssuerOption {
	return func(i *Issuer) { i.newID = fn }
}

// NewIssuer creates an issuer for priv
func NewIssuer(priv *rsa.PrivateKey, opts ...IssuerOption) (*Issuer, error) {
	if priv == nil {
		return nil, fmt.Errorf("issuer private key is required")
	}
	if priv.N.BitLen() < security.MinRSAKeyBits {
		return nil, fmt.Errorf("issuer key is %d bits, need at least %d", priv.N.BitLen(), security.MinRSAKeyBits)
	}

	i := &Issuer{
		key:   priv,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Issue builds, signs and encodes a new license
func (i *Issuer) Issue(req IssueRequest) (*Record, []byte, error) {
	const op = "issue"

	if err := recordValidator().Struct(req); err != nil {
		return nil, nil, newError(op, KindMalformed, err)
	}

	duration := req.DurationDays
	if req.Tier == TierTrial {
		if duration != nil && *duration != TrialDurationDays {
			return nil, nil, newError(op, KindMalformed,
				fmt.Errorf("trial licenses last exactly %d days, got %d", TrialDurationDays, *duration))
		}
		days := TrialDurationDays
		duration = &days
	}

	issuedAt := i.now().UTC().Truncate(time.Second)
	rec := &Record{
		LicenseID:     i.newID(),
		CustomerEmail: req.Email,
		Tier:          req.Tier,
		IssuedAt:      issuedAt,
	}
	if duration != nil {
		exp := issuedAt.Add(time.Duration(*duration) * 24 * time.Hour)
		rec.ExpiresAt = &exp
	}

	if err := i.Sign(rec); err != nil {
		return nil, nil, err
	}

	data, err := rec.Marshal()
	if err != nil {
		return nil, nil, err
	}
	return rec, data, nil
}

// Sign validates rec's fields and sets its RSA-PSS signature. It accepts
// any expiry, including one already in the past.
func (i *Issuer) Sign(rec *Record) error {
	const op = "sign"

	rec.normalize()
	if err := rec.check(false); err != nil {
		return newError(op, KindMalformed, err)
	}

	sig, err := security.SignPSS(i.key, rec.Payload())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rec.Signature = sig
	return nil
}

// PublicKey returns the verification key matching this issuer
func (i *Issuer) PublicKey() *rsa.PublicKey {
	return &i.key.PublicKey
}
