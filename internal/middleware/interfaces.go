package middleware

import (
	"context"

	"github.com/xroachx-ghost/void-sub000/internal/license"
)

// StatusChecker reports the current license status. It is satisfied by
// *license.Manager and allows for easier testing.
type StatusChecker interface {
	Validate(ctx context.Context) license.Status
}
