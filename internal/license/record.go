package license

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// PayloadHeader opens every canonical payload. Changing the field order or
// encoding requires a new header version.
const PayloadHeader = "void-license/v1"

// Record is a signed license entitlement. It is immutable once issued.
type Record struct {
	LicenseID     string     `json:"license_id" validate:"required,max=128,nocontrol"`
	CustomerEmail string     `json:"customer_email" validate:"required,max=320,nocontrol"`
	Tier          Tier       `json:"tier" validate:"required,oneof=trial personal professional enterprise"`
	IssuedAt      time.Time  `json:"issued_at"`
	ExpiresAt     *time.Time `json:"expires_at"`
	Signature     string     `json:"signature" validate:"required,nocontrol"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// recordValidator returns the shared validator with license rules registered
func recordValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("nocontrol", func(fl validator.FieldLevel) bool {
			return strings.IndexFunc(fl.Field().String(), unicode.IsControl) < 0
		})
	})
	return validate
}

// ParseRecord decodes and validates a license file. Every failure is
// reported as KindMalformed.
func ParseRecord(data []byte) (*Record, error) {
	const op = "parse"

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, newError(op, KindMalformed, fmt.Errorf("invalid license json: %w", err))
	}
	if dec.More() {
		return nil, newError(op, KindMalformed, fmt.Errorf("trailing data after license object"))
	}

	rec.normalize()
	if err := rec.check(true); err != nil {
		return nil, newError(op, KindMalformed, err)
	}

	return &rec, nil
}

// check validates field rules. withSignature=false is used before signing.
func (r *Record) check(withSignature bool) error {
	var err error
	if withSignature {
		err = recordValidator().Struct(r)
	} else {
		err = recordValidator().StructExcept(r, "Signature")
	}
	if err != nil {
		return err
	}
	if r.IssuedAt.IsZero() {
		return fmt.Errorf("issued_at is required")
	}
	if r.Tier == TierTrial && r.ExpiresAt == nil {
		return fmt.Errorf("trial license must carry an expiry")
	}
	return nil
}

// normalize converts timestamps to UTC so the payload is canonical
func (r *Record) normalize() {
	r.IssuedAt = r.IssuedAt.UTC()
	if r.ExpiresAt != nil {
		exp := r.ExpiresAt.UTC()
		r.ExpiresAt = &exp
	}
}

// Payload returns the canonical byte serialization covered by the signature
func (r *Record) Payload() []byte {
	expires := ""
	if r.ExpiresAt != nil {
		expires = r.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}

	var b strings.Builder
	b.WriteString(PayloadHeader + "\n")
	b.WriteString("license_id=" + r.LicenseID + "\n")
	b.WriteString("customer_email=" + r.CustomerEmail + "\n")
	b.WriteString("tier=" + string(r.Tier) + "\n")
	b.WriteString("issued_at=" + r.IssuedAt.UTC().Format(time.RFC3339Nano) + "\n")
	b.WriteString("expires_at=" + expires + "\n")
	return []byte(b.String())
}

// Marshal encodes the record as an indented license file
func (r *Record) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal license: %w", err)
	}
	return append(data, '\n'), nil
}

// IsExpired reports whether now is past the expiry. Perpetual licenses never expire.
func (r *Record) IsExpired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// DaysRemaining returns whole days left, rounded up, or nil for perpetual licenses
func (r *Record) DaysRemaining(now time.Time) *int {
	if r.ExpiresAt == nil {
		return nil
	}
	return daysUntil(*r.ExpiresAt, now)
}

// daysUntil counts whole days left before expires, rounding up
func daysUntil(expires, now time.Time) *int {
	days := 0
	if remaining := expires.Sub(now); remaining > 0 {
		days = int(math.Ceil(remaining.Hours() / 24))
	}
	return &days
}

// IsLocal reports whether the record carries a machine-local signature
func (r *Record) IsLocal() bool {
	return strings.HasPrefix(r.Signature, localSignaturePrefix)
}

// Clone returns a deep copy
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.ExpiresAt != nil {
		exp := *r.ExpiresAt
		c.ExpiresAt = &exp
	}
	return &c
}
