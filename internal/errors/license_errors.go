package errors

import (
	"errors"
	"net/http"

	"github.com/xroachx-ghost/void-sub000/internal/config"
	"github.com/xroachx-ghost/void-sub000/internal/license"
)

// Process exit codes for the license CLI
const (
	ExitOK               = 0
	ExitFailure          = 1
	ExitMalformed        = 2
	ExitInvalidSignature = 3
	ExitExpired          = 4
	ExitDeviceMismatch   = 5
	ExitDeviceLimit      = 6
	ExitTrialUsed        = 7
	ExitNotActivated     = 8
	ExitAlreadyLicensed  = 9
	ExitStore            = 10
)

type kindMapping struct {
	status      int
	problemType string
	title       string
	message     string
	exitCode    int
}

var kindMappings = map[license.Kind]kindMapping{
	license.KindMalformed: {
		http.StatusBadRequest, TypeLicenseMalformed, "Malformed License",
		"The license file could not be read. Make sure you selected the file you received.", ExitMalformed,
	},
	license.KindInvalidSignature: {
		http.StatusForbidden, TypeLicenseInvalidSignature, "Invalid License Signature",
		config.MsgInvalidSignature, ExitInvalidSignature,
	},
	license.KindExpired: {
		http.StatusForbidden, TypeLicenseExpired, "License Expired",
		config.MsgLicenseExpired, ExitExpired,
	},
	license.KindDeviceMismatch: {
		http.StatusForbidden, TypeLicenseDeviceMismatch, "License Device Mismatch",
		config.MsgDeviceMismatch, ExitDeviceMismatch,
	},
	license.KindDeviceLimitExceeded: {
		http.StatusConflict, TypeLicenseDeviceLimit, "Device Limit Exceeded",
		config.MsgDeviceLimit, ExitDeviceLimit,
	},
	license.KindTrialAlreadyUsed: {
		http.StatusConflict, TypeLicenseTrialUsed, "Trial Already Used",
		config.MsgTrialUsed, ExitTrialUsed,
	},
	license.KindNotActivated: {
		http.StatusConflict, TypeLicenseNotActivated, "License Not Activated",
		"This machine has no active license to deactivate.", ExitNotActivated,
	},
	license.KindAlreadyLicensed: {
		http.StatusConflict, TypeLicenseAlreadyLicensed, "Already Licensed",
		"A paid license is already active on this machine.", ExitAlreadyLicensed,
	},
	license.KindStore: {
		http.StatusInternalServerError, TypeLicenseStore, "License Storage Error",
		"The license file could not be read or written. Check permissions on the license directory.", ExitStore,
	},
}

// IsLicenseError reports whether err carries a license failure kind
func IsLicenseError(err error) bool {
	_, ok := kindMappings[license.KindOf(err)]
	return ok
}

// StatusForKind returns the HTTP status for a license failure kind
func StatusForKind(kind license.Kind) int {
	if m, ok := kindMappings[kind]; ok {
		return m.status
	}
	return http.StatusInternalServerError
}

// UserMessage returns the remediation text shown to users for err
func UserMessage(err error) string {
	if m, ok := kindMappings[license.KindOf(err)]; ok {
		return m.message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// ExitCode maps err to the CLI exit status
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if m, ok := kindMappings[license.KindOf(err)]; ok {
		return m.exitCode
	}
	return ExitFailure
}

// LicenseProblem converts a license error to Problem Details. The kind is
// exposed as error_code so clients can branch without parsing text.
func LicenseProblem(err error, instance string) *ProblemDetails {
	kind := license.KindOf(err)
	m, ok := kindMappings[kind]
	if !ok {
		return NewProblemDetails(http.StatusInternalServerError, TypeInternal,
			"Internal Server Error", "An unexpected error occurred while processing your request", instance)
	}

	problem := NewProblemDetails(m.status, m.problemType, m.title, m.message, instance).
		WithExtension("error_code", string(kind))

	var le *license.Error
	if errors.As(err, &le) && le.Op != "" {
		problem.WithExtension("operation", le.Op)
	}
	return problem
}
