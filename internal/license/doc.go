// Package license implements offline license validation and activation for
// Void Suite. Licenses are signed by the issuer with RSA-PSS over SHA-256 and
// bound to machines through hardware fingerprints.
//
// # Components
//
//	- Record: the signed entitlement, parsed from a JSON license file
//	- Issuer: signs new licenses (administrative side only)
//	- Verifier: checks signatures against the embedded issuer public key
//	- Store: persists the license with its activation records
//	- TrialStore: persists the trial marker, independent of the license
//	- Manager: activation, deactivation, validation and trials
//	- LicenseHealthCheck: health reporting for the local API
//
// # Canonical Payload
//
// The signature covers this exact byte sequence, fields in this order:
//
//	void-license/v1
//	license_id=<id>
//	customer_email=<email>
//	tier=<tier>
//	issued_at=<RFC 3339 UTC>
//	expires_at=<RFC 3339 UTC or empty>
//
// Changing any field without the issuer key invalidates the license.
//
// # Validation Flow
//
// Validate runs on every startup and never writes:
//
//	1. Load the stored license (absent: report trial state)
//	2. Verify the signature
//	3. Check expiry
//	4. Match this machine's fingerprint against its activation record
//
// # Errors
//
// Every expected failure is an *Error with a Kind. Use errors.Is with the
// sentinels or KindOf to branch:
//
//	rec, err := manager.Activate(ctx, data)
//	if errors.Is(err, license.ErrDeviceLimitExceeded) {
//	    // ask the user to deactivate another device
//	}
//
// # Trials
//
// StartTrial writes a signed marker before issuing a locally signed 14 day
// trial. The marker survives deletion of the license file, which makes it a
// deterrent against repeated trials rather than a hard guarantee. While the
// window is open a verified marker keeps the trial valid even without the
// license file. A marker that fails verification still blocks a new trial.
//
// Local trial records are checked against the machine they were started on,
// so after a hardware change they report a device mismatch.
package license
