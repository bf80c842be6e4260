package license

import "time"

// StateVersion is the current on-disk state document version
const StateVersion = 1

// ActivationRecord binds a license to one machine. Records are never
// deleted; deactivation flips Active to false.
type ActivationRecord struct {
	LicenseID         string     `json:"license_id"`
	DeviceFingerprint string     `json:"device_fingerprint"`
	ActivatedAt       time.Time  `json:"activated_at"`
	Active            bool       `json:"active"`
	DeactivatedAt     *time.Time `json:"deactivated_at,omitempty"`
}

// StoredState is the document persisted at the license path
type StoredState struct {
	Version     int                `json:"version"`
	License     *Record            `json:"license,omitempty"`
	Activations []ActivationRecord `json:"activations"`
}

// ActiveFor returns the active activations of licenseID
func (s *StoredState) ActiveFor(licenseID string) []ActivationRecord {
	var active []ActivationRecord
	for _, a := range s.Activations {
		if a.Active && a.LicenseID == licenseID {
			active = append(active, a)
		}
	}
	return active
}

// FindActive returns the active activation of licenseID on fingerprint, or nil.
// The returned pointer aliases the state so callers can update it in place.
func (s *StoredState) FindActive(licenseID, fingerprint string) *ActivationRecord {
	for i := range s.Activations {
		a := &s.Activations[i]
		if a.Active && a.LicenseID == licenseID && a.DeviceFingerprint == fingerprint {
			return a
		}
	}
	return nil
}

// HasHistory reports whether licenseID was ever activated on fingerprint
func (s *StoredState) HasHistory(licenseID, fingerprint string) bool {
	for _, a := range s.Activations {
		if a.LicenseID == licenseID && a.DeviceFingerprint == fingerprint {
			return true
		}
	}
	return false
}

// deactivate flips a to inactive at now
func (a *ActivationRecord) deactivate(now time.Time) {
	a.Active = false
	at := now
	a.DeactivatedAt = &at
}

// Clone returns a deep copy of the state
func (s *StoredState) Clone() *StoredState {
	if s == nil {
		return nil
	}
	c := &StoredState{
		Version:     s.Version,
		License:     s.License.Clone(),
		Activations: make([]ActivationRecord, len(s.Activations)),
	}
	copy(c.Activations, s.Activations)
	for i := range c.Activations {
		if d := c.Activations[i].DeactivatedAt; d != nil {
			at := *d
			c.Activations[i].DeactivatedAt = &at
		}
	}
	return c
}
