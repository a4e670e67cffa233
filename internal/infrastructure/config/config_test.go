package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_ValidConfig(t *testing.T) {
	// Create a temporary config file
	content := `
store:
  path: "/tmp/devices.json"
telemetry:
  url: "https://feed.example.net/"
  token: "abc123"
  poll_interval: 15
  fetch_timeout: 5
api:
  host: "0.0.0.0"
  port: 9000
history:
  enabled: true
  path: "/tmp/history.db"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Store.Path != "/tmp/devices.json" {
		t.Errorf("Store.Path = %q, want %q", cfg.Store.Path, "/tmp/devices.json")
	}

	if cfg.Telemetry.URL != "https://feed.example.net/" {
		t.Errorf("Telemetry.URL = %q, want %q", cfg.Telemetry.URL, "https://feed.example.net/")
	}

	if cfg.Telemetry.PollInterval != 15 {
		t.Errorf("Telemetry.PollInterval = %d, want 15", cfg.Telemetry.PollInterval)
	}

	if cfg.API.Port != 9000 {
		t.Errorf("API.Port = %d, want 9000", cfg.API.Port)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}

	if cfg.Store.Path == "" {
		t.Error("LoadOrDefault should fall back to defaults with non-empty Store.Path")
	}

	if cfg.Telemetry.PollInterval != 10 {
		t.Errorf("Telemetry.PollInterval = %d, want default 10", cfg.Telemetry.PollInterval)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
store:
  path: ""
telemetry:
  poll_interval: 10
  fetch_timeout: 8
api:
  port: 8090
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for empty store.path, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Store:     StoreConfig{Path: "/data/devices.json"},
			Telemetry: TelemetryConfig{PollInterval: 10, FetchTimeout: 8},
			API:       APIConfig{Port: 8090},
			MQTT:      MQTTConfig{QoS: 1},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing store path",
			mutate:  func(c *Config) { c.Store.Path = "" },
			wantErr: true,
		},
		{
			name:    "poll interval below one second",
			mutate:  func(c *Config) { c.Telemetry.PollInterval = 0 },
			wantErr: true,
		},
		{
			name:    "fetch timeout below one second",
			mutate:  func(c *Config) { c.Telemetry.FetchTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "negative debounce",
			mutate:  func(c *Config) { c.Alerts.DebounceSeconds = -1 },
			wantErr: true,
		},
		{
			name:    "invalid port low",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: true,
		},
		{
			name:    "invalid port high",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: true,
		},
		{
			name: "history enabled without path",
			mutate: func(c *Config) {
				c.History.Enabled = true
				c.History.Path = ""
			},
			wantErr: true,
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetDurations(t *testing.T) {
	cfg := &Config{
		Telemetry: TelemetryConfig{PollInterval: 15, FetchTimeout: 5},
		Alerts:    AlertsConfig{DebounceSeconds: 20},
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetPollInterval().Seconds(); got != 15 {
		t.Errorf("GetPollInterval() = %v, want 15", got)
	}

	if got := cfg.GetFetchTimeout().Seconds(); got != 5 {
		t.Errorf("GetFetchTimeout() = %v, want 5", got)
	}

	if got := cfg.GetAlertDebounce().Seconds(); got != 20 {
		t.Errorf("GetAlertDebounce() = %v, want 20", got)
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}

	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}

	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	// Set environment variables
	t.Setenv("OPTRACK_STORE_PATH", "/custom/devices.json")
	t.Setenv("OPTRACK_TELEMETRY_URL", "https://override.example.net/")
	t.Setenv("OPTRACK_TELEMETRY_TOKEN", "env-token")
	t.Setenv("OPTRACK_API_HOST", "192.168.1.1")
	t.Setenv("OPTRACK_API_PORT", "9001")
	t.Setenv("OPTRACK_MQTT_USERNAME", "testuser")
	t.Setenv("OPTRACK_INFLUXDB_TOKEN", "secret-token")

	applyEnvOverrides(cfg)

	if cfg.Store.Path != "/custom/devices.json" {
		t.Errorf("Store.Path = %q, want %q", cfg.Store.Path, "/custom/devices.json")
	}

	if cfg.Telemetry.URL != "https://override.example.net/" {
		t.Errorf("Telemetry.URL = %q, want %q", cfg.Telemetry.URL, "https://override.example.net/")
	}

	if cfg.Telemetry.Token != "env-token" {
		t.Errorf("Telemetry.Token = %q, want %q", cfg.Telemetry.Token, "env-token")
	}

	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}

	if cfg.API.Port != 9001 {
		t.Errorf("API.Port = %d, want 9001", cfg.API.Port)
	}

	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}

	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	cfg := defaultConfig()
	cfg.Telemetry.URL = "https://saved.example.net/"
	cfg.Telemetry.Token = "saved-token"

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() after Save error = %v", err)
	}

	if loaded.Telemetry.URL != "https://saved.example.net/" {
		t.Errorf("Telemetry.URL = %q, want %q", loaded.Telemetry.URL, "https://saved.example.net/")
	}

	if loaded.Telemetry.Token != "saved-token" {
		t.Errorf("Telemetry.Token = %q, want %q", loaded.Telemetry.Token, "saved-token")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Store.Path == "" {
		t.Error("defaultConfig should have non-empty Store.Path")
	}

	if cfg.Telemetry.PollInterval != 10 {
		t.Errorf("defaultConfig Telemetry.PollInterval = %d, want 10", cfg.Telemetry.PollInterval)
	}

	if cfg.API.Port != 8090 {
		t.Errorf("defaultConfig API.Port = %d, want 8090", cfg.API.Port)
	}

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
}
