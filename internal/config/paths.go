package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
)

// Paths contains all the application paths
// This is the single source of truth for ALL file paths used by the license engine
type Paths struct {
	HomeDir           string
	LogsDir           string
	LicenseFile       string
	TrialMarkerFile   string
	SystemLicenseFile string
}

// GetPaths returns the application paths rooted at the per-user Void directory.
// VOID_HOME overrides the default ~/.void location.
func GetPaths() (*Paths, error) {
	home := os.Getenv(HomeEnvVar)
	if home == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve user home directory: %w", err)
		}
		home = filepath.Join(userHome, HomeDirName)
	}

	// Directory structure:
	// ~/.void/
	//   ├── license.key     (license + activation records)
	//   ├── trial.marker    (trial usage marker)
	//   ├── config.yaml     (optional)
	//   └── logs/
	paths := &Paths{
		HomeDir:           home,
		LogsDir:           filepath.Join(home, "logs"),
		LicenseFile:       filepath.Join(home, LicenseFileName),
		TrialMarkerFile:   filepath.Join(home, TrialMarkerFileName),
		SystemLicenseFile: systemLicensePath(),
	}

	return paths, nil
}

// systemLicensePath returns the read-only, machine-wide license location
func systemLicensePath() string {
	if runtime.GOOS == "windows" {
		programData := os.Getenv("ProgramData")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		return filepath.Join(programData, "Void", LicenseFileName)
	}
	return filepath.Join("/etc", "void", LicenseFileName)
}

// EnsureDirectories creates the per-user directories if they don't exist
func (p *Paths) EnsureDirectories() error {
	for _, dir := range []string{p.HomeDir, p.LogsDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		slog.Debug("Ensured directory exists", slog.String("directory", dir))
	}
	return nil
}

// GetLogPath returns the path for a log file
func (p *Paths) GetLogPath(filename string) string {
	return filepath.Join(p.LogsDir, filename)
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// GetLicensePath returns the user license file path
func GetLicensePath() (string, error) {
	paths, err := GetPaths()
	if err != nil {
		return "", fmt.Errorf("failed to get paths: %w", err)
	}

	slog.Debug("License path resolution",
		slog.String("license_file", paths.LicenseFile),
		slog.Bool("file_exists", FileExists(paths.LicenseFile)),
		slog.String("system_license_file", paths.SystemLicenseFile),
	)

	return paths.LicenseFile, nil
}

// LogPathResolution logs path resolution information for debugging
func (p *Paths) LogPathResolution() {
	slog.Info("Path resolution summary",
		slog.Group("directories",
			slog.String("home", p.HomeDir),
			slog.String("logs", p.LogsDir),
		),
		slog.Group("license_files",
			slog.String("license", p.LicenseFile),
			slog.String("trial_marker", p.TrialMarkerFile),
			slog.String("system_license", p.SystemLicenseFile),
		))
}
