package http

import (
	"context"

	"github.com/xroachx-ghost/void-sub000/internal/license"
	"github.com/xroachx-ghost/void-sub000/internal/security"
)

// LicenseService is the license engine as seen by the handlers.
// *license.Manager implements it.
type LicenseService interface {
	Activate(ctx context.Context, data []byte) (*license.Record, error)
	Deactivate(ctx context.Context) error
	Validate(ctx context.Context) license.Status
	Info(ctx context.Context) (*license.Info, error)
	StartTrial(ctx context.Context) (*license.Record, error)
	Fingerprint(ctx context.Context) (*security.DeviceFingerprint, error)
}

var _ LicenseService = (*license.Manager)(nil)
