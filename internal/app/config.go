package app

import (
	"fmt"

	"github.com/vk/dnnflow/internal/config"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// ConfigPath is an HCL file or directory; empty means built-in defaults.
	ConfigPath string
	// DumpPath receives the textual graph dump before the run; "-" writes it
	// to the app's output and empty disables it.
	DumpPath string
	// DryRun builds (and optionally dumps) the graph without executing it.
	DryRun bool

	LogFormat       string
	LogLevel        string
	HealthcheckPort int

	// Overrides are command-line values that win over the file.
	Overrides config.Overrides
}

var (
	validLogFormats = map[string]bool{"text": true, "json": true}
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
)

// NewConfig validates cfg and returns a copy of it.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if !validLogFormats[cfg.LogFormat] {
		return nil, fmt.Errorf("invalid log format %q: must be text or json", cfg.LogFormat)
	}
	if !validLogLevels[cfg.LogLevel] {
		return nil, fmt.Errorf("invalid log level %q: must be debug, info, warn or error", cfg.LogLevel)
	}
	if cfg.HealthcheckPort < 0 || cfg.HealthcheckPort > 65535 {
		return nil, fmt.Errorf("invalid healthcheck port %d", cfg.HealthcheckPort)
	}
	if err := cfg.Overrides.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
