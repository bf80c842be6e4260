// Package config provides centralized configuration management for the Void
// license engine. It loads configuration from environment variables and an
// optional YAML file, and resolves every on-disk location the engine touches.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//	1. Environment variables (highest priority)
//	2. YAML configuration file (VOID_CONFIG_FILE, ./config.yaml, ~/.void/config.yaml)
//	3. Default values (lowest priority)
//
// # Environment Variables
//
// All environment variables follow the pattern VOID_* for namespacing:
//
//	VOID_HOME=/home/user/.void
//	VOID_LICENSE_FILE=/home/user/.void/license.key
//	VOID_LICENSE_PUBLIC_KEY_FILE=/path/to/issuer_public.pem
//	VOID_LOGGING_LEVEL=debug
//	VOID_SERVER_ADDR=127.0.0.1:8765
//
// # Path Management
//
// The Paths type is the single source of truth for file locations:
//
//	paths, err := config.GetPaths()
//	licenseFile := paths.LicenseFile     // ~/.void/license.key
//	marker := paths.TrialMarkerFile      // ~/.void/trial.marker
package config
