// Package config handles configuration loading from YAML and environment variables.
// Configuration precedence: environment variables > config file > embedded defaults > built-in defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Nova1545/gnome-shell-extension-customreboot/internal/bootloader"
)

// Environment variables recognized by the service.
const (
	EnvConfigPath = "CUSTOM_REBOOT_CONFIG"
	EnvBus        = "CUSTOM_REBOOT_BUS"
	EnvLogLevel   = "CUSTOM_REBOOT_LOG_LEVEL"
)

// Bus types.
const (
	BusSession = "session"
	BusSystem  = "system"
)

// Duration is a wrapper around time.Duration that supports YAML unmarshaling
// from human-readable strings like "5s" or "1m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("unsupported duration format: %v", value.Kind)
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	d.Duration = parsed
	return nil
}

// Config holds all service configuration.
type Config struct {
	Bus         BusConfig         `yaml:"bus"`
	Bootloader  BootloaderConfig  `yaml:"bootloader"`
	QuickReboot QuickRebootConfig `yaml:"quick_reboot"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// BusConfig selects the message bus the service registers on.
type BusConfig struct {
	Type string `yaml:"type"`
	// CallTimeout bounds remote calls made by the stop client.
	CallTimeout Duration `yaml:"call_timeout"`
}

// BootloaderConfig holds the well-known bootloader locations.
type BootloaderConfig struct {
	GrubConfigs  []string `yaml:"grub_configs"`
	BootctlPaths []string `yaml:"bootctl_paths"`
	GrubReboot   string   `yaml:"grub_reboot"`
	UpdateGrub   string   `yaml:"update_grub"`
}

// QuickRebootConfig locates the GRUB helper script.
type QuickRebootConfig struct {
	Script      string `yaml:"script"`
	InstallPath string `yaml:"install_path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	paths := bootloader.DefaultPaths()
	return &Config{
		Bus: BusConfig{
			Type:        BusSession,
			CallTimeout: Duration{5 * time.Second},
		},
		Bootloader: BootloaderConfig{
			GrubConfigs:  paths.GrubConfigs,
			BootctlPaths: paths.BootctlPaths,
			GrubReboot:   paths.GrubReboot,
			UpdateGrub:   paths.UpdateGrub,
		},
		QuickReboot: QuickRebootConfig{
			Script:      paths.QuickRebootScript,
			InstallPath: paths.QuickRebootTarget,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Paths converts the configured locations for the bootloader package.
func (c *Config) Paths() bootloader.Paths {
	return bootloader.Paths{
		GrubConfigs:       c.Bootloader.GrubConfigs,
		BootctlPaths:      c.Bootloader.BootctlPaths,
		GrubReboot:        c.Bootloader.GrubReboot,
		UpdateGrub:        c.Bootloader.UpdateGrub,
		QuickRebootScript: c.QuickReboot.Script,
		QuickRebootTarget: c.QuickReboot.InstallPath,
	}
}

// Locate returns the config file to read: $CUSTOM_REBOOT_CONFIG if set,
// otherwise the first existing standard path. Returns "" if none exists.
func Locate() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	for _, p := range configSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// LoadLayered loads configuration with the full precedence chain:
// env vars > external YAML file > embedded bytes > defaults.
//
// An optional configPath argument controls external-file discovery:
//   - omitted        → auto-discover via Locate()
//   - explicit value  → use that path ("" means no external file)
func LoadLayered(embedded []byte, configPath ...string) (*Config, error) {
	cfg := DefaultConfig()

	// Layer 1: embedded config compiled into the binary
	if len(embedded) > 0 {
		if err := yaml.Unmarshal(embedded, cfg); err != nil {
			return nil, fmt.Errorf("parsing embedded config: %w", err)
		}
	}

	// Layer 2: external YAML file; a missing file is not an error
	var filePath string
	if len(configPath) > 0 {
		filePath = configPath[0] // caller-supplied (may be "")
	} else {
		filePath = Locate() // auto-discover
	}
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", filePath, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	// Layer 3: environment variables (highest priority)
	applyEnvOverrides(cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if bus := os.Getenv(EnvBus); bus != "" {
		cfg.Bus.Type = bus
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		cfg.Logging.Level = level
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.Bus.Type {
	case BusSession, BusSystem:
	default:
		return fmt.Errorf("bus type must be %q or %q (got: %q)", BusSession, BusSystem, c.Bus.Type)
	}
	if c.Bus.CallTimeout.Duration < 0 {
		return fmt.Errorf("bus call timeout must not be negative")
	}
	if len(c.Bootloader.GrubConfigs) == 0 {
		return fmt.Errorf("at least one grub config path is required")
	}
	if len(c.Bootloader.BootctlPaths) == 0 {
		return fmt.Errorf("at least one bootctl path is required")
	}
	if c.Bootloader.GrubReboot == "" || c.Bootloader.UpdateGrub == "" {
		return fmt.Errorf("grub_reboot and update_grub are required")
	}
	if c.QuickReboot.InstallPath == "" {
		return fmt.Errorf("quick reboot install path is required")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}
	return nil
}
