// Package config provides configuration loading and management for ctvoxel.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Resampling parameters
	Resampling struct {
		// Order selects the spline interpolation order (0-5)
		Order int `yaml:"order"`

		// TargetShape is the resampled output shape as depth, height, width
		TargetShape []int `yaml:"targetShape"`

		// Workers sets how many volumes are resampled concurrently
		Workers int `yaml:"workers"`
	} `yaml:"resampling"`

	// Network parameters
	Network struct {
		// NumTargets is the width of the classifier's prediction vector
		NumTargets int `yaml:"numTargets"`

		// DropoutRate is the fraction of activations dropped between
		// stages while training
		DropoutRate float64 `yaml:"dropoutRate"`

		// Seed drives weight initialization and dropout masks
		Seed int64 `yaml:"seed"`
	} `yaml:"network"`

	// Runtime parameters
	Runtime struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`

		// SlicesDir is the directory slice previews are written into
		SlicesDir string `yaml:"slicesDir"`
	} `yaml:"runtime"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default resampling parameters. The target shape matches the
	// classifier's fixed input so resampled scans feed it directly.
	cfg.Resampling.Order = 3
	cfg.Resampling.TargetShape = []int{32, 64, 64}
	cfg.Resampling.Workers = runtime.NumCPU()

	// Set default network parameters
	cfg.Network.NumTargets = 1
	cfg.Network.DropoutRate = 0.35
	cfg.Network.Seed = 1

	// Set default runtime parameters
	cfg.Runtime.Verbose = true
	cfg.Runtime.SlicesDir = "slices"

	return cfg
}

// Validate checks that every configured value is inside its usable range
func (cfg *Config) Validate() error {
	if cfg.Resampling.Order < 0 || cfg.Resampling.Order > 5 {
		return fmt.Errorf("resampling order %d outside the supported range 0-5", cfg.Resampling.Order)
	}

	if len(cfg.Resampling.TargetShape) != 3 {
		return fmt.Errorf("target shape needs exactly 3 extents, got %d", len(cfg.Resampling.TargetShape))
	}
	for i, n := range cfg.Resampling.TargetShape {
		if n <= 0 {
			return fmt.Errorf("target shape axis %d has non-positive extent %d", i, n)
		}
	}

	if cfg.Resampling.Workers < 1 {
		return fmt.Errorf("worker count must be at least 1, got %d", cfg.Resampling.Workers)
	}

	if cfg.Network.NumTargets < 1 {
		return fmt.Errorf("number of targets must be at least 1, got %d", cfg.Network.NumTargets)
	}
	if cfg.Network.DropoutRate < 0 || cfg.Network.DropoutRate >= 1 {
		return fmt.Errorf("dropout rate %v outside [0,1)", cfg.Network.DropoutRate)
	}

	return nil
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML over the defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the
// specified path.
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
