// Package http implements the local license API used by the Void Suite GUI.
// Handlers are thin: they decode the request, call the license manager and
// render the result. The server binds to loopback only.
//
// # Routes
//
//	GET  /api/license/status        current Status (never fails)
//	GET  /api/license/info          Info with masked email and device counts
//	GET  /api/license/fingerprint   this machine's fingerprint and method
//	GET  /api/license/entitlements  tier entitlements, valid license required
//	POST /api/license/activate      body is the license file, rate limited
//	POST /api/license/deactivate    release this machine's device slot
//	POST /api/license/trial         start the 14 day trial
//	GET  /healthz                   LicenseHealthCheck result
//	GET  /metrics                   Prometheus exposition
//
// # Error Handling
//
// Every failure is rendered as RFC 7807 Problem Details. License failures
// carry the kind in error_code:
//
//	{
//	    "type": "/errors/license/device-limit-exceeded",
//	    "title": "Device Limit Exceeded",
//	    "status": 409,
//	    "error_code": "device_limit_exceeded",
//	    "instance": "/api/license/activate"
//	}
package http
