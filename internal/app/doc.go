// Package app assembles the local license API: configuration, logging,
// OpenTelemetry, the license manager and the HTTP router.
//
// # Initialization Flow
//
//	1. Load configuration from ~/.void/config.yaml and VOID_* variables
//	2. Initialize logging and observability
//	3. Build the file-backed license manager
//	4. Set up handlers and middleware
//	5. Serve on the loopback address until SIGINT or SIGTERM
//
// # Usage
//
//	application, err := app.NewApplication()
//	if err != nil {
//	    return err
//	}
//	return application.Run(ctx)
//
// # Middleware Order
//
//	RequestID → LoopbackOnly → OTel → ErrorMiddleware → SecurityHeaders
//
// POST /api/license/activate additionally passes through the activation
// rate limiter and a body size limit. GET /api/license/entitlements passes
// through LicenseGate.
//
// # Error Handling
//
// All initialization errors are returned to the caller. The package never
// calls os.Exit, leaving exit codes to the command.
package app
