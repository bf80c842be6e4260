package license

import (
	"fmt"
	"strings"
	"time"
)

// Tier is a named entitlement level
type Tier string

const (
	TierTrial        Tier = "trial"
	TierPersonal     Tier = "personal"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

const (
	// TrialDurationDays is the fixed length of every trial
	TrialDurationDays = 14
	// TrialDuration is TrialDurationDays as a duration
	TrialDuration = TrialDurationDays * 24 * time.Hour
)

type tierPolicy struct {
	deviceLimit   int // 0 means unlimited
	commercialUse bool
}

var tierPolicies = map[Tier]tierPolicy{
	TierTrial:        {deviceLimit: 1, commercialUse: false},
	TierPersonal:     {deviceLimit: 1, commercialUse: false},
	TierProfessional: {deviceLimit: 3, commercialUse: true},
	TierEnterprise:   {deviceLimit: 0, commercialUse: true},
}

// Tiers lists every tier in ascending order of entitlement
func Tiers() []Tier {
	return []Tier{TierTrial, TierPersonal, TierProfessional, TierEnterprise}
}

// ParseTier parses a tier name, ignoring case and surrounding space
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown license tier %q", s)
	}
	return t, nil
}

// Valid reports whether t is one of the known tiers
func (t Tier) Valid() bool {
	_, ok := tierPolicies[t]
	return ok
}

// DeviceLimit returns the number of concurrently active devices allowed.
// Zero means unlimited.
func (t Tier) DeviceLimit() int {
	return tierPolicies[t].deviceLimit
}

// Unlimited reports whether the tier enforces no device ceiling
func (t Tier) Unlimited() bool {
	return t.Valid() && tierPolicies[t].deviceLimit == 0
}

// CommercialUse reports whether the tier permits commercial use
func (t Tier) CommercialUse() bool {
	return tierPolicies[t].commercialUse
}

func (t Tier) String() string {
	return string(t)
}
