package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chaz8081/blereader/internal/ble"
	"github.com/chaz8081/blereader/internal/permission"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	LogLevel    string            `yaml:"log_level"`
	Backend     string            `yaml:"backend"` // "host" or "sim"
	Target      TargetConfig      `yaml:"target"`
	Scan        ScanConfig        `yaml:"scan"`
	Connect     ConnectConfig     `yaml:"connect"`
	Poll        PollConfig        `yaml:"poll"`
	Permissions PermissionsConfig `yaml:"permissions"`
	Hotkey      HotkeyConfig      `yaml:"hotkey"`
	Output      OutputConfig      `yaml:"output"`
}

// TargetConfig names the GATT service and characteristic to subscribe to.
type TargetConfig struct {
	Service        string `yaml:"service"`
	Characteristic string `yaml:"characteristic"`
	CCCD           string `yaml:"cccd"`
}

// ScanConfig holds scan session settings.
type ScanConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	IncludeUnnamed bool          `yaml:"include_unnamed"`
}

// ConnectConfig selects the peripheral and tunes connection setup.
// Address wins over Name; with neither, the first discovered device is used.
type ConnectConfig struct {
	Address        string        `yaml:"address"`
	Name           string        `yaml:"name"`
	DiscoveryDelay time.Duration `yaml:"discovery_delay"`
}

// PollConfig holds the backstop read settings.
type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// PermissionsConfig describes where runtime permissions come from.
type PermissionsConfig struct {
	Source           string   `yaml:"source"` // "static" or "bluez"
	PlatformRevision int      `yaml:"platform_revision"`
	Granted          []string `yaml:"granted"`
}

// HotkeyConfig holds hotkey-related settings.
type HotkeyConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Keys           []string `yaml:"keys"`            // start/stop scanning
	DisconnectKeys []string `yaml:"disconnect_keys"` // drop the connection
	Mode           string   `yaml:"mode"`            // "hold" or "toggle"
}

// OutputConfig selects how payloads are emitted.
type OutputConfig struct {
	Method string `yaml:"method"` // "print", "json", "type" or "paste"
	Path   string `yaml:"path"`   // json only; empty means stdout
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "blereader")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	target := ble.DefaultTarget()
	opts := ble.DefaultOptions()

	return &Config{
		LogLevel: "info",
		Backend:  "host",
		Target: TargetConfig{
			Service:        target.Service.String(),
			Characteristic: target.Characteristic.String(),
			CCCD:           target.CCCD.String(),
		},
		Scan: ScanConfig{
			Timeout: opts.ScanTimeout,
		},
		Connect: ConnectConfig{
			DiscoveryDelay: opts.DiscoveryDelay,
		},
		Poll: PollConfig{
			Interval: opts.PollInterval,
		},
		Permissions: PermissionsConfig{
			Source:           "static",
			PlatformRevision: permission.ScopedRevision,
			Granted:          []string{"scan", "connect"},
		},
		Hotkey: HotkeyConfig{
			Keys:           []string{"ctrl", "shift", "s"},
			DisconnectKeys: []string{"ctrl", "shift", "d"},
			Mode:           "toggle",
		},
		Output: OutputConfig{
			Method: "print",
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in output.path is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Output.Path = expandTilde(cfg.Output.Path)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	switch c.Backend {
	case "host", "sim":
	default:
		return fmt.Errorf("backend must be \"host\" or \"sim\", got %q", c.Backend)
	}

	if _, err := c.Target.Parse(); err != nil {
		return err
	}

	if c.Scan.Timeout <= 0 {
		return fmt.Errorf("scan.timeout must be > 0")
	}
	if c.Connect.DiscoveryDelay < 0 {
		return fmt.Errorf("connect.discovery_delay must not be negative")
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll.interval must be > 0")
	}

	switch c.Permissions.Source {
	case "static", "bluez":
	default:
		return fmt.Errorf("permissions.source must be \"static\" or \"bluez\", got %q", c.Permissions.Source)
	}
	if _, err := c.Permissions.Snapshot(); err != nil {
		return err
	}

	if c.Hotkey.Enabled {
		if len(c.Hotkey.Keys) == 0 {
			return fmt.Errorf("hotkey.keys must not be empty")
		}
		switch c.Hotkey.Mode {
		case "hold", "toggle":
		default:
			return fmt.Errorf("hotkey.mode must be \"hold\" or \"toggle\", got %q", c.Hotkey.Mode)
		}
	}

	switch c.Output.Method {
	case "print", "json", "type", "paste":
	default:
		return fmt.Errorf("output.method must be print, json, type, or paste, got %q", c.Output.Method)
	}
	if c.Output.Path != "" && c.Output.Method != "json" {
		return fmt.Errorf("output.path is only used with output.method \"json\"")
	}

	return nil
}

// Parse converts the configured UUID strings.
func (t TargetConfig) Parse() (ble.Target, error) {
	var target ble.Target
	fields := []struct {
		name string
		in   string
		out  *uuid.UUID
	}{
		{"target.service", t.Service, &target.Service},
		{"target.characteristic", t.Characteristic, &target.Characteristic},
		{"target.cccd", t.CCCD, &target.CCCD},
	}
	for _, f := range fields {
		id, err := uuid.Parse(f.in)
		if err != nil {
			return ble.Target{}, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.out = id
	}
	return target, target.Validate()
}

// Snapshot converts the static permission settings.
func (p PermissionsConfig) Snapshot() (permission.Snapshot, error) {
	snap := permission.Snapshot{Revision: p.PlatformRevision}
	for _, name := range p.Granted {
		perm, err := permission.ParsePermission(name)
		if err != nil {
			return permission.Snapshot{}, fmt.Errorf("permissions.granted: %w", err)
		}
		snap.Granted = snap.Granted.With(perm)
	}
	return snap, nil
}

// ManagerOptions builds ble.Options from the config.
func (c *Config) ManagerOptions() (ble.Options, error) {
	target, err := c.Target.Parse()
	if err != nil {
		return ble.Options{}, err
	}
	return ble.Options{
		Target:         target,
		ScanTimeout:    c.Scan.Timeout,
		DiscoveryDelay: c.Connect.DiscoveryDelay,
		PollInterval:   c.Poll.Interval,
		IncludeUnnamed: c.Scan.IncludeUnnamed,
	}, nil
}

// ParseLogLevel maps a config log level to a slog.Level. Unknown values
// fall back to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultHeader = `# blereader configuration
#
# backend: "host" uses the system Bluetooth adapter, "sim" a simulated peripheral.
# permissions.source: "static" uses the granted list below, "bluez" asks BlueZ over D-Bus.
# output.method: print (hex), json (one object per line), type or paste (keyboard).

`

// WriteDefault writes the default config to DefaultConfigPath. It returns
// ("", nil) without touching anything if a config file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing default config: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
