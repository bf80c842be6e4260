package license

import "time"

// State is the outcome of validating the license on this machine
type State string

const (
	StateValid            State = "valid"
	StateExpired          State = "expired"
	StateInvalidSignature State = "invalid_signature"
	StateDeviceMismatch   State = "device_mismatch"
	StateDeactivated      State = "deactivated"
	StateNoLicense        State = "no_license"
)

// Status is the result of Validate
type Status struct {
	State         State      `json:"state"`
	Tier          Tier       `json:"tier,omitempty"`
	LicenseID     string     `json:"license_id,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	DaysRemaining *int       `json:"days_remaining,omitempty"`
	// Degraded is set when the status could not be fully determined,
	// for example because the store was unreadable
	Degraded bool   `json:"degraded,omitempty"`
	Message  string `json:"message,omitempty"`
}

// IsValid reports whether licensed features should be enabled
func (s Status) IsValid() bool {
	return s.State == StateValid
}

// Info is a human-oriented summary of the license on this machine
type Info struct {
	Status              Status     `json:"status"`
	LicenseID           string     `json:"license_id,omitempty"`
	CustomerEmail       string     `json:"customer_email,omitempty"`
	Tier                Tier       `json:"tier,omitempty"`
	IssuedAt            *time.Time `json:"issued_at,omitempty"`
	ExpiresAt           *time.Time `json:"expires_at,omitempty"`
	DaysRemaining       *int       `json:"days_remaining,omitempty"`
	DevicesUsed         int        `json:"devices_used"`
	DeviceLimit         int        `json:"device_limit"`
	UnlimitedDevices    bool       `json:"unlimited_devices"`
	CommercialUse       bool       `json:"commercial_use"`
	FingerprintMethod   string     `json:"fingerprint_method,omitempty"`
	FingerprintDegraded bool       `json:"fingerprint_degraded,omitempty"`
	TrialUsed           bool       `json:"trial_used"`
}
