package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points VOID_HOME at a temp dir and clears config-affecting env vars
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv(HomeEnvVar, home)
	t.Setenv("VOID_CONFIG_FILE", "")
	for _, key := range []string{
		"VOID_LICENSE_FILE", "VOID_LICENSE_TRIAL_MARKER_FILE", "VOID_LICENSE_SYSTEM_FILE",
		"VOID_LICENSE_PUBLIC_KEY_FILE", "VOID_LICENSE_TRIAL_EMAIL", "VOID_LOGGING_LEVEL",
		"VOID_LOGGING_OUTPUT", "VOID_SERVER_ADDR", "VOID_TELEMETRY_SAMPLE_RATIO",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	return home
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		file        string
		wantErr     bool
		validateCfg func(*testing.T, string, *Config)
	}{
		{
			name: "defaults resolve under VOID_HOME",
			validateCfg: func(t *testing.T, home string, cfg *Config) {
				assert.Equal(t, filepath.Join(home, LicenseFileName), cfg.License.LicenseFile)
				assert.Equal(t, filepath.Join(home, TrialMarkerFileName), cfg.License.TrialMarkerFile)
				assert.Equal(t, DefaultTrialEmail, cfg.License.TrialEmail)
				assert.Equal(t, time.Hour, cfg.License.FingerprintCacheTTL)
				assert.Equal(t, "info", cfg.Logging.Level)
				assert.Equal(t, "console", cfg.Logging.Output)
				assert.Equal(t, filepath.Join(home, "logs", "void.log"), cfg.Logging.FilePath)
				assert.Equal(t, DefaultServerAddr, cfg.Server.Addr)
				assert.Equal(t, 5, cfg.Server.ActivationBurst)
				assert.Equal(t, "none", cfg.Telemetry.TraceExporter)
			},
		},
		{
			name: "environment overrides",
			env: map[string]string{
				"VOID_LICENSE_FILE":  "/tmp/custom/license.key",
				"VOID_LOGGING_LEVEL": "debug",
				"VOID_SERVER_ADDR":   "127.0.0.1:9999",
			},
			validateCfg: func(t *testing.T, _ string, cfg *Config) {
				assert.Equal(t, "/tmp/custom/license.key", cfg.License.LicenseFile)
				assert.Equal(t, "debug", cfg.Logging.Level)
				assert.Equal(t, "127.0.0.1:9999", cfg.Server.Addr)
			},
		},
		{
			name: "file values apply when env is unset",
			file: "license:\n  trial_email: qa@void.local\nlogging:\n  level: warn\n",
			validateCfg: func(t *testing.T, _ string, cfg *Config) {
				assert.Equal(t, "qa@void.local", cfg.License.TrialEmail)
				assert.Equal(t, "warn", cfg.Logging.Level)
			},
		},
		{
			name: "env wins over file",
			env:  map[string]string{"VOID_LOGGING_LEVEL": "error"},
			file: "logging:\n  level: warn\n",
			validateCfg: func(t *testing.T, _ string, cfg *Config) {
				assert.Equal(t, "error", cfg.Logging.Level)
			},
		},
		{
			name:    "invalid logging output",
			env:     map[string]string{"VOID_LOGGING_OUTPUT": "syslog"},
			wantErr: true,
		},
		{
			name:    "license and marker share a path",
			file:    "license:\n  license_file: /tmp/same\n  trial_marker_file: /tmp/same\n",
			wantErr: true,
		},
		{
			name:    "malformed yaml",
			file:    "license: [unterminated",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			home := isolate(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if tt.file != "" {
				path := filepath.Join(home, "config.yaml")
				require.NoError(t, os.WriteFile(path, []byte(tt.file), 0600))
				t.Setenv("VOID_CONFIG_FILE", path)
			}

			cfg, err := Load()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.validateCfg(t, home, cfg)
		})
	}
}

func TestDefault(t *testing.T) {
	home := isolate(t)

	cfg := Default()
	require.NotNil(t, cfg)
	assert.Equal(t, filepath.Join(home, LicenseFileName), cfg.License.LicenseFile)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.NoError(t, cfg.validate())
}

func TestValidate(t *testing.T) {
	isolate(t)

	t.Run("forces json format", func(t *testing.T) {
		cfg := Default()
		cfg.Logging.Format = "text"
		require.NoError(t, cfg.validate())
		assert.Equal(t, "json", cfg.Logging.Format)
	})

	t.Run("rejects sample ratio out of range", func(t *testing.T) {
		cfg := Default()
		cfg.Telemetry.SampleRatio = 1.5
		assert.Error(t, cfg.validate())
	})

	t.Run("rejects zero rate limit", func(t *testing.T) {
		cfg := Default()
		cfg.Server.ActivationRPS = 0
		assert.Error(t, cfg.validate())
	})
}
