// Package config loads and validates the prediction daemon configuration.
//
// DESIGN: Configuration comes from a YAML file with ${VAR:-default} env
// expansion. Tuning knobs (budgets, policy thresholds, debounce) carry
// defaults applied on load; wiring settings (listen address, backend URL)
// are required and validated explicitly.
//
// FILES:
//   - config.go:     Root Config struct, Load(), env expansion, Validate()
//   - monitoring.go: Logging and telemetry settings
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/compresr/nextedit/internal/backend"
	"github.com/compresr/nextedit/internal/budget"
	"github.com/compresr/nextedit/internal/coordinator"
	"github.com/compresr/nextedit/internal/monitor"
)

// Config is the root configuration for the prediction daemon.
type Config struct {
	Server      ServerConfig         `yaml:"server"`      // editor-facing RPC endpoint
	Backend     backend.WSConfig     `yaml:"backend"`     // prediction backend connection
	Prompt      budget.PromptOptions `yaml:"prompt"`      // token budgets and clipping
	Policy      monitor.Config       `yaml:"policy"`      // acceptance monitor tuning
	Coordinator coordinator.Config   `yaml:"coordinator"` // speculation settings
	Store       StoreConfig          `yaml:"store"`       // interaction persistence
	Monitoring  MonitoringConfig     `yaml:"monitoring"`  // telemetry and logging
}

// ServerConfig contains the editor-facing RPC server settings.
type ServerConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`   // host:port to listen on
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // max time to read a frame
	WriteTimeout time.Duration `yaml:"write_timeout"` // max time to write a frame
}

// StoreConfig contains interaction persistence settings.
type StoreConfig struct {
	Type     string `yaml:"type"`      // "sqlite" or "memory"
	Path     string `yaml:"path"`      // database file, sqlite only
	WarmRows int    `yaml:"warm_rows"` // interactions replayed at startup
}

// expandEnvWithDefaults expands environment variables with support for
// default values. Supports both ${VAR} and ${VAR:-default} syntax.
func expandEnvWithDefaults(s string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes, expands env vars,
// applies env overrides and defaults, and validates the result.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvWithDefaults(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides so external
// systems can redirect log paths without editing config files.
func (c *Config) applyEnvOverrides() {
	if envPath := os.Getenv("NES_TELEMETRY_LOG"); envPath != "" {
		c.Monitoring.Telemetry.LogPath = envPath
		c.Monitoring.Telemetry.Enabled = true
	}
	if envPath := os.Getenv("NES_ACTIONS_LOG"); envPath != "" {
		c.Monitoring.Telemetry.ActionsPath = envPath
		c.Monitoring.Telemetry.Enabled = true
	}
	if envAddr := os.Getenv("NES_LISTEN_ADDR"); envAddr != "" {
		c.Server.ListenAddr = envAddr
	}
}

// applyDefaults fills tuning knobs left unset.
func (c *Config) applyDefaults() {
	c.Prompt = budget.WithDefaults(c.Prompt)
	c.Policy = monitor.WithDefaults(c.Policy)
	c.Coordinator = coordinator.WithDefaults(c.Coordinator)
	c.Monitoring.applyDefaults()

	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Store.Type == "" {
		c.Store.Type = "memory"
	}
	if c.Store.WarmRows == 0 {
		c.Store.WarmRows = 200
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required")
	}

	if err := c.Prompt.Validate(); err != nil {
		return fmt.Errorf("prompt: %w", err)
	}

	switch c.Store.Type {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required when store.type is sqlite")
		}
	default:
		return fmt.Errorf("unknown store.type %q (must be sqlite or memory)", c.Store.Type)
	}

	if err := c.Monitoring.Validate(); err != nil {
		return err
	}

	return nil
}
