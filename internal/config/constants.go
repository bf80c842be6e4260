package config

import "time"

// Application constants
const (
	// Application Info
	AppName    = "Void Suite"
	AppVersion = "6.0.0"
	AppVendor  = "Void"

	// Paths
	HomeEnvVar          = "VOID_HOME"
	HomeDirName         = ".void"
	LicenseFileName     = "license.key"
	TrialMarkerFileName = "trial.marker"

	// License defaults
	DefaultTrialEmail   = "trial@void.local"
	DefaultServerAddr   = "127.0.0.1:8765"
	FingerprintCacheTTL = time.Hour

	// API Endpoints (local license API)
	LicenseEndpoint = "/api/license"
	HealthEndpoint  = "/healthz"
	MetricsEndpoint = "/metrics"

	// User-facing messages
	MsgNoLicense        = "No license found. Run 'license trial' to start a 14-day trial or 'license activate --file <path>'."
	MsgLicenseExpired   = "License has expired. Purchase or renew a license to continue using licensed features."
	MsgDeviceMismatch   = "This license is bound to a different machine. Reactivate it or contact support."
	MsgDeviceLimit      = "All device slots for this license are in use. Deactivate another device first."
	MsgInvalidSignature = "The license file is corrupted or was not issued by Void."
	MsgTrialUsed        = "A trial has already been used on this machine."
)
