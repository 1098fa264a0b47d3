package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.BLE.ScanDuration != 2*time.Second {
		t.Errorf("BLE.ScanDuration = %v, want 2s", cfg.BLE.ScanDuration)
	}
	if cfg.BLE.ConnectTimeout != 3*time.Second {
		t.Errorf("BLE.ConnectTimeout = %v, want 3s", cfg.BLE.ConnectTimeout)
	}
	if cfg.BLE.MTU != 512 {
		t.Errorf("BLE.MTU = %d, want 512", cfg.BLE.MTU)
	}
	if cfg.BLE.ServiceUUID != "4fafc201-1fb5-459e-8fcc-c5c9c331914b" {
		t.Errorf("BLE.ServiceUUID = %q", cfg.BLE.ServiceUUID)
	}
	if !cfg.BLE.AutoReconnect {
		t.Error("BLE.AutoReconnect should default to true")
	}
	if cfg.Store.Path == "" {
		t.Error("Store.Path should not be empty")
	}
	if cfg.Relay.Listen != "" || cfg.Relay.OSCAddr != "" {
		t.Errorf("relay outputs should default off, got %+v", cfg.Relay)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
ble:
  scan_duration: 5s
  connect_timeout: 1500ms
  mtu: 247
  name_filter: Leg
  auto_reconnect: false
store:
  path: /tmp/sensorlink-store.yaml
relay:
  listen: 127.0.0.1:8765
  osc_addr: 127.0.0.1:9000
  osc_prefix: /lab
session:
  subject_id: S01
  trial_id: T02
log_level: debug
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BLE.ScanDuration != 5*time.Second {
		t.Errorf("BLE.ScanDuration = %v, want 5s", cfg.BLE.ScanDuration)
	}
	if cfg.BLE.ConnectTimeout != 1500*time.Millisecond {
		t.Errorf("BLE.ConnectTimeout = %v, want 1.5s", cfg.BLE.ConnectTimeout)
	}
	if cfg.BLE.MTU != 247 {
		t.Errorf("BLE.MTU = %d, want 247", cfg.BLE.MTU)
	}
	if cfg.BLE.NameFilter != "Leg" {
		t.Errorf("BLE.NameFilter = %q, want %q", cfg.BLE.NameFilter, "Leg")
	}
	if cfg.BLE.AutoReconnect {
		t.Error("BLE.AutoReconnect = true, want false")
	}
	// Unset fields keep their defaults.
	if cfg.BLE.CharacteristicUUID != "beb5483e-36e1-4688-b7f5-ea07361b26a8" {
		t.Errorf("BLE.CharacteristicUUID = %q, want default", cfg.BLE.CharacteristicUUID)
	}
	if cfg.Store.Path != "/tmp/sensorlink-store.yaml" {
		t.Errorf("Store.Path = %q", cfg.Store.Path)
	}
	if cfg.Relay.Listen != "127.0.0.1:8765" || cfg.Relay.OSCAddr != "127.0.0.1:9000" || cfg.Relay.OSCPrefix != "/lab" {
		t.Errorf("Relay = %+v", cfg.Relay)
	}
	if cfg.Session.SubjectID != "S01" || cfg.Session.TrialID != "T02" {
		t.Errorf("Session = %+v", cfg.Session)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	yamlContent := `
store:
  path: ~/data/store.yaml
log_file: ~/logs/sensorlink.log
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if want := filepath.Join(home, "data/store.yaml"); cfg.Store.Path != want {
		t.Errorf("Store.Path = %q, want %q", cfg.Store.Path, want)
	}
	if want := filepath.Join(home, "logs/sensorlink.log"); cfg.LogFile != want {
		t.Errorf("LogFile = %q, want %q", cfg.LogFile, want)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("ble: [unclosed"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should fail on invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "zero scan duration",
			modify:  func(c *Config) { c.BLE.ScanDuration = 0 },
			wantErr: true,
		},
		{
			name:    "negative connect timeout",
			modify:  func(c *Config) { c.BLE.ConnectTimeout = -time.Second },
			wantErr: true,
		},
		{
			name:    "mtu too small",
			modify:  func(c *Config) { c.BLE.MTU = 20 },
			wantErr: true,
		},
		{
			name:    "mtu too large",
			modify:  func(c *Config) { c.BLE.MTU = 1024 },
			wantErr: true,
		},
		{
			name:    "invalid service uuid",
			modify:  func(c *Config) { c.BLE.ServiceUUID = "not-a-uuid" },
			wantErr: true,
		},
		{
			name:    "empty characteristic uuid",
			modify:  func(c *Config) { c.BLE.CharacteristicUUID = "" },
			wantErr: true,
		},
		{
			name:    "empty store path",
			modify:  func(c *Config) { c.Store.Path = "" },
			wantErr: true,
		},
		{
			name:    "relay listen without port",
			modify:  func(c *Config) { c.Relay.Listen = "localhost" },
			wantErr: true,
		},
		{
			name:    "relay listen any interface",
			modify:  func(c *Config) { c.Relay.Listen = ":8765" },
			wantErr: false,
		},
		{
			name:    "osc without port",
			modify:  func(c *Config) { c.Relay.OSCAddr = "127.0.0.1" },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "sensorlink", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}

	if !strings.HasPrefix(string(data), "# sensorlink") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.BLE.ConnectTimeout != 3*time.Second {
		t.Errorf("written config BLE.ConnectTimeout = %v, want 3s", cfg.BLE.ConnectTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("written config does not validate: %v", err)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "sensorlink")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("log_level: debug\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
