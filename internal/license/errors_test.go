package license

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesSentinelByKind(t *testing.T) {
	err := newError("activate", KindDeviceLimitExceeded, fmt.Errorf("3 of 3 devices already active"))

	assert.ErrorIs(t, err, ErrDeviceLimitExceeded)
	assert.NotErrorIs(t, err, ErrExpired)
	assert.Equal(t, "activate: device_limit_exceeded: 3 of 3 devices already active", err.Error())
}

func TestErrorThroughWrapping(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("saving: %w", newError("store.save", KindStore, cause))

	assert.ErrorIs(t, err, ErrStore)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindStore, KindOf(err))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestWithOpRelabels(t *testing.T) {
	err := withOp("activate", newError("parse", KindMalformed, errors.New("bad json")))

	var le *Error
	assert.ErrorAs(t, err, &le)
	assert.Equal(t, "activate", le.Op)
	assert.Equal(t, KindMalformed, le.Kind)

	plain := withOp("activate", errors.New("boom"))
	assert.Equal(t, "activate: boom", plain.Error())
}
