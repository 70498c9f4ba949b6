package config

import (
	"fmt"

	"github.com/compresr/nextedit/internal/monitoring"
)

// MonitoringConfig contains logging and telemetry settings.
type MonitoringConfig struct {
	// Logging settings
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // json, console
	LogOutput string `yaml:"log_output"` // stdout, stderr, or file path

	// Telemetry settings
	Telemetry monitoring.TelemetryConfig `yaml:"telemetry"`
}

func (m *MonitoringConfig) applyDefaults() {
	if m.LogLevel == "" {
		m.LogLevel = "info"
	}
	if m.LogFormat == "" {
		m.LogFormat = "console"
	}
	if m.LogOutput == "" {
		m.LogOutput = "stderr"
	}
}

// Validate checks logging settings.
func (m *MonitoringConfig) Validate() error {
	switch m.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid monitoring.log_level: %q", m.LogLevel)
	}
	switch m.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("invalid monitoring.log_format: %q", m.LogFormat)
	}
	if m.Telemetry.Enabled && m.Telemetry.LogPath == "" && m.Telemetry.ActionsPath == "" {
		return fmt.Errorf("monitoring.telemetry enabled but no log paths configured")
	}
	return nil
}
