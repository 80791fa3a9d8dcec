// Package config handles configuration loading and management.
// Protocols are authored declaratively in YAML and compiled into the
// framer/structure/extract types before use.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/telemetry"
	"github.com/Leonezz/serialport-api-mgr-sub003/pkg/transport"
)

// Default config file locations.
var configPaths = []string{
	"./config.yaml",
	"./config.yml",
	"./portmgr.yaml",
	"./portmgr.yml",
	"~/.config/portmgr/config.yaml",
	"/etc/portmgr/config.yaml",
}

// Config is the application configuration root.
type Config struct {
	// Ports lists the sessions to open at startup.
	Ports []PortConfig `yaml:"ports" json:"ports" validate:"dive"`

	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
	Script    ScriptConfig    `yaml:"script" json:"script"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
}

// PortConfig binds one transport to one protocol.
type PortConfig struct {
	// Name identifies the session.
	Name string `yaml:"name" json:"name" validate:"required"`

	Transport transport.Config `yaml:"transport" json:"transport"`

	// Protocol is either a preset name or an inline definition.
	Preset   string          `yaml:"preset,omitempty" json:"preset,omitempty"`
	Protocol *ProtocolConfig `yaml:"protocol,omitempty" json:"protocol,omitempty"`
}

// LoggingConfig mirrors logger.Config.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" validate:"omitempty,oneof=text json"`
	Output string `yaml:"output" json:"output" validate:"omitempty,oneof=stdout file"`
	File   string `yaml:"file" json:"file"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Listen   string `yaml:"listen" json:"listen"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
}

// ScriptConfig selects the sandboxed engine.
type ScriptConfig struct {
	// Engine is "js" or "lua".
	Engine string `yaml:"engine" json:"engine" validate:"omitempty,oneof=js lua"`

	// Timeout bounds one execution.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// TelemetryConfig selects the recording sinks.
type TelemetryConfig struct {
	// Log enables the structured-log sink.
	Log bool `yaml:"log" json:"log"`

	// Capture, when set, is the SQLite capture database path.
	Capture string `yaml:"capture" json:"capture"`

	// MQTT, when set, publishes events to a broker.
	MQTT *telemetry.MQTTConfig `yaml:"mqtt,omitempty" json:"mqtt,omitempty"`
}

// Load loads configuration from path, or probes the default locations
// when path is empty. A missing config yields the defaults.
func Load(path string) (*Config, error) {
	if path != "" {
		return loadFile(path)
	}

	for _, p := range configPaths {
		if p[0] == '~' {
			home, err := os.UserHomeDir()
			if err == nil {
				p = filepath.Join(home, p[2:])
			}
		}
		if _, err := os.Stat(p); err == nil {
			return loadFile(p)
		}
	}
	return DefaultConfig(), nil
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate validates the configuration.
func Validate(cfg *Config) error {
	validate := validator.New()
	return validate.Struct(cfg)
}

// Save writes configuration to file, creating the directory.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns a usable default configuration.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Listen:   ":9090",
			Endpoint: "/metrics",
		},
		Script: ScriptConfig{
			Engine:  "js",
			Timeout: time.Second,
		},
		Telemetry: TelemetryConfig{
			Log: true,
		},
	}
}
