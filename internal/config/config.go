package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix is the prefix for every environment variable read by Load
const EnvPrefix = "VOID"

// Config represents the complete application configuration
type Config struct {
	License   LicenseConfig   `yaml:"license" envconfig:"LICENSE"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// LicenseConfig contains the license engine configuration
type LicenseConfig struct {
	// LicenseFile overrides the default ~/.void/license.key location
	LicenseFile string `yaml:"license_file" envconfig:"FILE"`
	// TrialMarkerFile overrides the default ~/.void/trial.marker location
	TrialMarkerFile string `yaml:"trial_marker_file" envconfig:"TRIAL_MARKER_FILE"`
	// SystemLicenseFile is consulted read-only when the user license file is absent
	SystemLicenseFile string `yaml:"system_license_file" envconfig:"SYSTEM_FILE"`
	// PublicKeyFile replaces the embedded issuer public key (development builds)
	PublicKeyFile string `yaml:"public_key_file" envconfig:"PUBLIC_KEY_FILE"`
	// TrialEmail is written into locally issued trial licenses
	TrialEmail string `yaml:"trial_email" envconfig:"TRIAL_EMAIL" default:"trial@void.local"`
	// FingerprintCacheTTL controls how long a computed fingerprint is reused
	FingerprintCacheTTL time.Duration `yaml:"fingerprint_cache_ttl" envconfig:"FINGERPRINT_CACHE_TTL" default:"1h"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format   string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// ServerConfig contains the local license API configuration
type ServerConfig struct {
	Addr            string        `yaml:"addr" envconfig:"ADDR" default:"127.0.0.1:8765"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	ActivationRPS   float64       `yaml:"activation_rps" envconfig:"ACTIVATION_RPS" default:"1"`
	ActivationBurst int           `yaml:"activation_burst" envconfig:"ACTIVATION_BURST" default:"5"`
}

// TelemetryConfig contains OpenTelemetry configuration
type TelemetryConfig struct {
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER" default:"none"`
	MetricExporter string  `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER" default:"prometheus"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO" default:"1.0"`
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT" default:"production"`
}

// Load loads configuration from environment variables and config file
func Load() (*Config, error) {
	var cfg Config

	// Load from environment variables first
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// Load from config file if exists
	if configFile := getConfigFilePath(); configFile != "" {
		fileConfig, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileConfig, cfg)
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// mergeConfigs merges file config with env config. Values explicitly set in
// the environment win; envconfig defaults are replaced by file values.
func mergeConfigs(fileConfig, envConfig Config) Config {
	override := func(dst *string, envKey, fileValue string) {
		if _, set := os.LookupEnv(envKey); !set && fileValue != "" {
			*dst = fileValue
		}
	}

	override(&envConfig.License.LicenseFile, "VOID_LICENSE_FILE", fileConfig.License.LicenseFile)
	override(&envConfig.License.TrialMarkerFile, "VOID_LICENSE_TRIAL_MARKER_FILE", fileConfig.License.TrialMarkerFile)
	override(&envConfig.License.SystemLicenseFile, "VOID_LICENSE_SYSTEM_FILE", fileConfig.License.SystemLicenseFile)
	override(&envConfig.License.PublicKeyFile, "VOID_LICENSE_PUBLIC_KEY_FILE", fileConfig.License.PublicKeyFile)
	override(&envConfig.License.TrialEmail, "VOID_LICENSE_TRIAL_EMAIL", fileConfig.License.TrialEmail)
	override(&envConfig.Logging.Level, "VOID_LOGGING_LEVEL", fileConfig.Logging.Level)
	override(&envConfig.Logging.Output, "VOID_LOGGING_OUTPUT", fileConfig.Logging.Output)
	override(&envConfig.Logging.FilePath, "VOID_LOGGING_FILE_PATH", fileConfig.Logging.FilePath)
	override(&envConfig.Server.Addr, "VOID_SERVER_ADDR", fileConfig.Server.Addr)
	override(&envConfig.Telemetry.TraceExporter, "VOID_TELEMETRY_TRACE_EXPORTER", fileConfig.Telemetry.TraceExporter)
	override(&envConfig.Telemetry.MetricExporter, "VOID_TELEMETRY_METRIC_EXPORTER", fileConfig.Telemetry.MetricExporter)

	if _, set := os.LookupEnv("VOID_LICENSE_FINGERPRINT_CACHE_TTL"); !set && fileConfig.License.FingerprintCacheTTL > 0 {
		envConfig.License.FingerprintCacheTTL = fileConfig.License.FingerprintCacheTTL
	}

	return envConfig
}

// resolvePaths fills empty path settings from the centralized paths system
func (c *Config) resolvePaths() error {
	paths, err := GetPaths()
	if err != nil {
		return fmt.Errorf("failed to get paths: %w", err)
	}

	if c.License.LicenseFile == "" {
		c.License.LicenseFile = paths.LicenseFile
	}
	if c.License.TrialMarkerFile == "" {
		c.License.TrialMarkerFile = paths.TrialMarkerFile
	}
	if c.License.SystemLicenseFile == "" {
		c.License.SystemLicenseFile = paths.SystemLicenseFile
	}
	if c.Logging.FilePath == "" {
		c.Logging.FilePath = paths.GetLogPath("void.log")
	}

	return nil
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.License.LicenseFile == c.License.TrialMarkerFile {
		return fmt.Errorf("license file and trial marker file must differ")
	}

	if c.License.FingerprintCacheTTL < 0 {
		return fmt.Errorf("fingerprint cache ttl must not be negative")
	}

	switch strings.ToLower(c.Logging.Output) {
	case "console", "file", "both":
	default:
		return fmt.Errorf("invalid logging output: %s", c.Logging.Output)
	}

	// JSON is the only supported log format
	c.Logging.Format = "json"

	if c.Server.Addr == "" {
		return fmt.Errorf("server address must be set")
	}

	if c.Server.ActivationRPS <= 0 || c.Server.ActivationBurst <= 0 {
		return fmt.Errorf("activation rate limit must be positive")
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry sample ratio must be within [0,1]: %v", c.Telemetry.SampleRatio)
	}

	return nil
}

// getConfigFilePath returns the path to the config file, or "" when none exists
func getConfigFilePath() string {
	if explicit := os.Getenv("VOID_CONFIG_FILE"); explicit != "" {
		return explicit
	}

	locations := []string{"config.yaml"}
	if paths, err := GetPaths(); err == nil {
		locations = append(locations, filepath.Join(paths.HomeDir, "config.yaml"))
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

// Default returns default configuration with paths resolved
func Default() *Config {
	cfg := &Config{
		License: LicenseConfig{
			TrialEmail:          DefaultTrialEmail,
			FingerprintCacheTTL: FingerprintCacheTTL,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "console",
		},
		Server: ServerConfig{
			Addr:            DefaultServerAddr,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			ActivationRPS:   1,
			ActivationBurst: 5,
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
			Environment:    "production",
		},
	}

	// Path resolution only fails without a home directory; leave paths empty then
	_ = cfg.resolvePaths()

	return cfg
}
