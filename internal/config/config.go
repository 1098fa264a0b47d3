package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	BLE      BLEConfig     `yaml:"ble"`
	Store    StoreConfig   `yaml:"store"`
	Relay    RelayConfig   `yaml:"relay"`
	Session  SessionConfig `yaml:"session"`
	LogLevel string        `yaml:"log_level"`
	LogFile  string        `yaml:"log_file"` // TUI mode only; empty discards logs
}

// BLEConfig holds radio and sensor settings.
type BLEConfig struct {
	AdapterName        string        `yaml:"adapter"` // BlueZ controller, Linux only
	ScanDuration       time.Duration `yaml:"scan_duration"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	MTU                int           `yaml:"mtu"`
	NameFilter         string        `yaml:"name_filter"`
	ServiceUUID        string        `yaml:"service_uuid"`
	CharacteristicUUID string        `yaml:"characteristic_uuid"`
	AutoReconnect      bool          `yaml:"auto_reconnect"`
}

// StoreConfig locates the persistent key-value store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// RelayConfig holds telemetry forwarding settings. Empty addresses
// disable the corresponding output.
type RelayConfig struct {
	Listen    string `yaml:"listen"`
	OSCAddr   string `yaml:"osc_addr"`
	OSCPrefix string `yaml:"osc_prefix"`
}

// SessionConfig holds the default export labels.
type SessionConfig struct {
	SubjectID string `yaml:"subject_id"`
	TrialID   string `yaml:"trial_id"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "sensorlink")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	home, _ := os.UserHomeDir()

	return &Config{
		BLE: BLEConfig{
			AdapterName:        "hci0",
			ScanDuration:       2 * time.Second,
			ConnectTimeout:     3 * time.Second,
			MTU:                512,
			ServiceUUID:        "4fafc201-1fb5-459e-8fcc-c5c9c331914b",
			CharacteristicUUID: "beb5483e-36e1-4688-b7f5-ea07361b26a8",
			AutoReconnect:      true,
		},
		Store: StoreConfig{
			Path: filepath.Join(home, ".local", "share", "sensorlink", "store.yaml"),
		},
		Relay: RelayConfig{
			OSCPrefix: "/sensorlink",
		},
		LogLevel: "info",
		LogFile:  filepath.Join(home, ".local", "state", "sensorlink", "sensorlink.log"),
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in paths is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Store.Path = expandTilde(cfg.Store.Path)
	cfg.LogFile = expandTilde(cfg.LogFile)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.BLE.ScanDuration <= 0 {
		return fmt.Errorf("ble.scan_duration must be > 0")
	}
	if c.BLE.ConnectTimeout <= 0 {
		return fmt.Errorf("ble.connect_timeout must be > 0")
	}
	if c.BLE.MTU < 23 || c.BLE.MTU > 517 {
		return fmt.Errorf("ble.mtu must be between 23 and 517, got %d", c.BLE.MTU)
	}
	if _, err := uuid.Parse(c.BLE.ServiceUUID); err != nil {
		return fmt.Errorf("ble.service_uuid %q: %w", c.BLE.ServiceUUID, err)
	}
	if _, err := uuid.Parse(c.BLE.CharacteristicUUID); err != nil {
		return fmt.Errorf("ble.characteristic_uuid %q: %w", c.BLE.CharacteristicUUID, err)
	}

	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}

	if c.Relay.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Relay.Listen); err != nil {
			return fmt.Errorf("relay.listen %q: %w", c.Relay.Listen, err)
		}
	}
	if c.Relay.OSCAddr != "" {
		if _, _, err := net.SplitHostPort(c.Relay.OSCAddr); err != nil {
			return fmt.Errorf("relay.osc_addr %q: %w", c.Relay.OSCAddr, err)
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel maps a config level name to a slog level, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

const defaultHeader = `# sensorlink configuration
# Durations use Go syntax (2s, 3000ms). Empty relay addresses disable output.
`

// WriteDefault writes the default config to DefaultConfigPath. It returns
// the path written, or "" if a config already exists there.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
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
