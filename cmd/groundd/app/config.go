package app

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the main application configuration.
type Config struct {
	Settings Settings      `yaml:"settings"`
	Vehicle  VehicleConfig `yaml:"vehicle"`
	Server   ServerConfig  `yaml:"server"`
	Storage  StorageConfig `yaml:"storage"`
}

// Settings represents global application settings.
type Settings struct {
	LogLevel string `yaml:"logLevel"`
}

// VehicleConfig represents the vehicle link settings. An empty device
// enables auto-detection; "SIM" forces the simulated backend.
type VehicleConfig struct {
	Device        string  `yaml:"device"`
	BaudRate      int     `yaml:"baudRate"`
	ProbeInterval float64 `yaml:"probeInterval"`
	SimFallback   *bool   `yaml:"simFallback"`
}

// ServerConfig represents the HTTP listener settings.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// StorageConfig represents flight log settings.
type StorageConfig struct {
	Database       string  `yaml:"database"`
	SampleInterval float64 `yaml:"sampleInterval"`
	MaxBatchSize   int     `yaml:"maxBatchSize"`
}

// DefaultConfig returns the configuration used when no file is provided.
func DefaultConfig() *Config {
	enabled := true
	return &Config{
		Settings: Settings{LogLevel: "info"},
		Vehicle: VehicleConfig{
			BaudRate:      115200,
			ProbeInterval: 5,
			SimFallback:   &enabled,
		},
		Server:  ServerConfig{Listen: ":8080"},
		Storage: StorageConfig{Database: "flight.db", SampleInterval: 1, MaxBatchSize: 30},
	}
}

// LoadConfig reads the YAML configuration at path over the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if config.Vehicle.ProbeInterval <= 0 {
		return nil, fmt.Errorf("probeInterval must be positive, got %v", config.Vehicle.ProbeInterval)
	}
	if config.Storage.SampleInterval <= 0 {
		return nil, fmt.Errorf("sampleInterval must be positive, got %v", config.Storage.SampleInterval)
	}

	return config, nil
}

// Level parses the configured log level.
func (s Settings) Level() (slog.Level, error) {
	switch strings.ToLower(s.LogLevel) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s.LogLevel)
}
