package validation

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
)

// MaxLicenseFileSize bounds license files. Real files are well under 1KB.
const MaxLicenseFileSize = 64 * 1024

var (
	// ErrEmptyFile is returned for zero-length license files
	ErrEmptyFile = errors.New("file is empty")
	// ErrFileTooLarge is returned for files over MaxLicenseFileSize
	ErrFileTooLarge = errors.New("file is too large to be a license")
)

// FileValidator checks files handed to the license commands before they are parsed
type FileValidator struct {
	logger *slog.Logger
}

// NewFileValidator creates a new file validator
func NewFileValidator(logger *slog.Logger) *FileValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileValidator{
		logger: logger,
	}
}

// ReadLicenseFile validates path and returns its contents. It rejects
// directories, empty files and anything larger than MaxLicenseFileSize.
func (v *FileValidator) ReadLicenseFile(path string) ([]byte, error) {
	info, err := v.statRegular(path)
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		v.logger.Warn("License file is empty", slog.String("file", path))
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyFile)
	}
	if info.Size() > MaxLicenseFileSize {
		v.logger.Warn("License file exceeds size limit",
			slog.String("file", path),
			slog.Int64("size", info.Size()),
			slog.Int("limit", MaxLicenseFileSize))
		return nil, fmt.Errorf("%s: %w", path, ErrFileTooLarge)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		v.logger.Error("License file is not readable",
			slog.String("file", path),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("file %s is not readable: %w", path, err)
	}

	v.logger.Debug("License file validated",
		slog.String("file", path),
		slog.Int64("size", info.Size()))
	return data, nil
}

// ValidatePrivateKeyFile checks that a private key exists and warns when
// other users can read it
func (v *FileValidator) ValidatePrivateKeyFile(path string) error {
	info, err := v.statRegular(path)
	if err != nil {
		return err
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0077 != 0 {
		v.logger.Warn("Private key is accessible to other users",
			slog.String("file", path),
			slog.String("mode", info.Mode().Perm().String()))
	}
	return nil
}

// ValidateOutputDirectory ensures the directory for path exists and is writable
func (v *FileValidator) ValidateOutputDirectory(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		v.logger.Error("Failed to create output directory",
			slog.String("directory", dir),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	testFile, err := os.CreateTemp(dir, ".write_test-*")
	if err != nil {
		v.logger.Error("Output directory is not writable",
			slog.String("directory", dir),
			slog.String("error", err.Error()))
		return fmt.Errorf("output directory %s is not writable: %w", dir, err)
	}
	testFile.Close()
	os.Remove(testFile.Name())

	return nil
}

func (v *FileValidator) statRegular(path string) (fs.FileInfo, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		v.logger.Warn("File does not exist", slog.String("file", path))
		return nil, fmt.Errorf("file %s does not exist", path)
	}
	if err != nil {
		v.logger.Error("Failed to stat file",
			slog.String("file", path),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to stat file %s: %w", path, err)
	}
	if info.IsDir() {
		v.logger.Warn("Path is a directory, not a file", slog.String("path", path))
		return nil, fmt.Errorf("%s is a directory, not a file", path)
	}
	return info, nil
}
