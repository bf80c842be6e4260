package license

import (
	"errors"
	"fmt"
)

// Kind classifies a license failure so callers can choose remediation
type Kind string

const (
	KindMalformed           Kind = "malformed"
	KindInvalidSignature    Kind = "invalid_signature"
	KindExpired             Kind = "expired"
	KindDeviceMismatch      Kind = "device_mismatch"
	KindDeviceLimitExceeded Kind = "device_limit_exceeded"
	KindTrialAlreadyUsed    Kind = "trial_already_used"
	KindNotActivated        Kind = "not_activated"
	KindAlreadyLicensed     Kind = "already_licensed"
	KindStore               Kind = "store"
)

// Error is the typed result of every expected license failure
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrMalformed           = &Error{Kind: KindMalformed}
	ErrInvalidSignature    = &Error{Kind: KindInvalidSignature}
	ErrExpired             = &Error{Kind: KindExpired}
	ErrDeviceMismatch      = &Error{Kind: KindDeviceMismatch}
	ErrDeviceLimitExceeded = &Error{Kind: KindDeviceLimitExceeded}
	ErrTrialAlreadyUsed    = &Error{Kind: KindTrialAlreadyUsed}
	ErrNotActivated        = &Error{Kind: KindNotActivated}
	ErrAlreadyLicensed     = &Error{Kind: KindAlreadyLicensed}
	ErrStore               = &Error{Kind: KindStore}
)

func newError(op string, kind Kind, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a license error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}
