// Package shared holds helpers used across packages that belong to no
// single layer.
//
// The testutil subpackage provides:
//
//	- a process-wide issuer key and helpers to issue signed license files
//	- StaticFingerprinter and NewMemoryManager for deterministic managers
//	- BufferedSlogHandler for asserting on structured log output
//
// It must not be imported by non-test code.
package shared
