package validation

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xroachx-ghost/void-sub000/internal/shared/testutil"
)

func TestFileValidator_ReadLicenseFile(t *testing.T) {
	tests := []struct {
		name          string
		setupFunc     func(t *testing.T) string
		wantErr       error
		errorContains string
	}{
		{
			name: "valid file",
			setupFunc: func(t *testing.T) string {
				return testutil.WriteLicenseFile(t, t.TempDir(), "license.json", []byte(`{"license_id":"x"}`))
			},
		},
		{
			name: "missing file",
			setupFunc: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "missing.json")
			},
			errorContains: "does not exist",
		},
		{
			name: "directory",
			setupFunc: func(t *testing.T) string {
				return t.TempDir()
			},
			errorContains: "is a directory",
		},
		{
			name: "empty file",
			setupFunc: func(t *testing.T) string {
				return testutil.WriteLicenseFile(t, t.TempDir(), "empty.json", nil)
			},
			wantErr: ErrEmptyFile,
		},
		{
			name: "too large",
			setupFunc: func(t *testing.T) string {
				return testutil.WriteLicenseFile(t, t.TempDir(), "big.json", bytes.Repeat([]byte("x"), MaxLicenseFileSize+1))
			},
			wantErr: ErrFileTooLarge,
		},
		{
			name: "exactly at limit",
			setupFunc: func(t *testing.T) string {
				return testutil.WriteLicenseFile(t, t.TempDir(), "limit.json", bytes.Repeat([]byte("x"), MaxLicenseFileSize))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := testutil.NewTestLogger(t)
			v := NewFileValidator(logger)

			data, err := v.ReadLicenseFile(tt.setupFunc(t))

			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, data)
			case tt.errorContains != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorContains)
			default:
				require.NoError(t, err)
				assert.NotEmpty(t, data)
			}
		})
	}
}

func TestFileValidator_ValidatePrivateKeyFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not meaningful on windows")
	}

	logger, handler := testutil.NewTestLogger(t)
	v := NewFileValidator(logger)
	dir := t.TempDir()

	private := filepath.Join(dir, "private.pem")
	require.NoError(t, os.WriteFile(private, []byte("key"), 0600))
	require.NoError(t, v.ValidatePrivateKeyFile(private))
	assert.False(t, handler.ContainsMessage("accessible to other users"))

	shared := filepath.Join(dir, "shared.pem")
	require.NoError(t, os.WriteFile(shared, []byte("key"), 0600))
	require.NoError(t, os.Chmod(shared, 0644))
	require.NoError(t, v.ValidatePrivateKeyFile(shared))
	assert.True(t, handler.ContainsMessage("accessible to other users"))

	assert.Error(t, v.ValidatePrivateKeyFile(filepath.Join(dir, "missing.pem")))
}

func TestFileValidator_ValidateOutputDirectory(t *testing.T) {
	v := NewFileValidator(nil)
	dir := t.TempDir()

	target := filepath.Join(dir, "nested", "out", "license.json")
	require.NoError(t, v.ValidateOutputDirectory(target))
	assert.DirExists(t, filepath.Join(dir, "nested", "out"))

	entries, err := os.ReadDir(filepath.Join(dir, "nested", "out"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}
