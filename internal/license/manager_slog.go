package license

import (
	"context"
	"log/slog"
	"strings"

	"github.com/xroachx-ghost/void-sub000/internal/infrastructure"
	"github.com/xroachx-ghost/void-sub000/internal/security"
)

// logAction logs a license action with component, action and trace id
func (m *Manager) logAction(ctx context.Context, level slog.Level, action, result string, attrs ...slog.Attr) {
	allAttrs := []slog.Attr{
		slog.String("component", "license_manager"),
		slog.String("action", action),
	}
	allAttrs = append(allAttrs, attrs...)

	infrastructure.LoggerWithContext(ctx, m.logger).LogAttrs(ctx, level, result, allAttrs...)
}

// logLicenseAction logs an action about a specific license with masked identity
func (m *Manager) logLicenseAction(ctx context.Context, level slog.Level, action, result string, rec *Record, fingerprint string, attrs ...slog.Attr) {
	licenseAttrs := make([]slog.Attr, 0, len(attrs)+4)
	if rec != nil {
		licenseAttrs = append(licenseAttrs,
			slog.String("license_id", rec.LicenseID),
			slog.String("tier", string(rec.Tier)),
			slog.String("customer_email_masked", MaskEmail(rec.CustomerEmail)),
		)
	}
	if fingerprint != "" {
		licenseAttrs = append(licenseAttrs, slog.String("fingerprint", security.ShortFingerprint(fingerprint)))
	}
	licenseAttrs = append(licenseAttrs, attrs...)

	m.logAction(ctx, level, action, result, licenseAttrs...)
}

// MaskEmail masks an email address while preserving the domain for support
func MaskEmail(email string) string {
	if email == "" {
		return ""
	}

	atIndex := strings.LastIndex(email, "@")
	if atIndex == -1 {
		return "****"
	}

	username := email[:atIndex]
	domain := email[atIndex:]

	if len(username) <= 2 {
		return "**" + domain
	}

	return username[:1] + "****" + username[len(username)-1:] + domain
}

func errAttr(err error) slog.Attr {
	return slog.String("error", err.Error())
}

func (m *Manager) logWarn(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelWarn, action, result, attrs...)
}

func (m *Manager) logError(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelError, action, result, attrs...)
}
