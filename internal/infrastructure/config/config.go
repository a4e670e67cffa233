package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for OpTech Tracker.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	History   HistoryConfig   `yaml:"history"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// StoreConfig contains settings for the device collection file.
type StoreConfig struct {
	// Path is the filesystem path to the JSON device collection file.
	Path string `yaml:"path"`
}

// TelemetryConfig contains settings for the external telemetry source.
//
// These are the settings an operator can change at runtime through the
// settings endpoint; changes are written back to the config file.
type TelemetryConfig struct {
	// URL is the telemetry endpoint polled for payload batches.
	URL string `yaml:"url"`

	// Token is the bearer token sent on every fetch. A bare token is
	// prefixed with "Bearer "; a token already carrying the prefix is
	// sent as-is. Empty disables the Authorization header.
	Token string `yaml:"token"`

	// MediaBase is an optional base URL for resolving image IDs.
	MediaBase string `yaml:"media_base"`

	// PollInterval is the seconds between sync cycles.
	PollInterval int `yaml:"poll_interval"`

	// FetchTimeout bounds a single telemetry fetch (seconds).
	FetchTimeout int `yaml:"fetch_timeout"`
}

// AlertsConfig contains alert signalling settings.
type AlertsConfig struct {
	// DebounceSeconds is the minimum gap between attention signals.
	// Alert log entries are never throttled, only the signal is.
	DebounceSeconds int `yaml:"debounce_seconds"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Token    string           `yaml:"token"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// HistoryConfig contains settings for the SQLite event archive.
type HistoryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// RetentionDays is how long archived events are kept before the
	// daily prune removes them. Zero disables pruning.
	RetentionDays int `yaml:"retention_days"`
}

// MQTTConfig contains settings for the optional MQTT alert publisher.
type MQTTConfig struct {
	Enabled     bool             `yaml:"enabled"`
	Broker      MQTTBrokerConfig `yaml:"broker"`
	Auth        MQTTAuthConfig   `yaml:"auth"`
	QoS         int              `yaml:"qos"`
	TopicPrefix string           `yaml:"topic_prefix"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// InfluxDBConfig contains InfluxDB connection settings for the optional
// time-series export of device telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: OPTRACK_SECTION_KEY
// For example: OPTRACK_TELEMETRY_URL, OPTRACK_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault behaves like Load but returns defaults (with env overrides
// applied) when the config file does not exist. First-run deployments start
// without a file; the settings endpoint creates one on the first save.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := defaultConfig()
		applyEnvOverrides(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("validating config: %w", err)
		}
		return cfg, nil
	}
	return Load(path)
}

// Save writes the configuration back to a YAML file.
//
// Used by the settings endpoint to persist operator changes to the
// telemetry section. The directory is created if missing.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path: "./data/devices.json",
		},
		Telemetry: TelemetryConfig{
			URL:          "https://kit-tracker.example.net/",
			PollInterval: 10,
			FetchTimeout: 8,
		},
		Alerts: AlertsConfig{
			DebounceSeconds: 10,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		History: HistoryConfig{
			Enabled:       true,
			Path:          "./data/history.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 90,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "optrack",
			},
			QoS:         1,
			TopicPrefix: "optrack",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: OPTRACK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Store
	if v := os.Getenv("OPTRACK_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}

	// Telemetry
	if v := os.Getenv("OPTRACK_TELEMETRY_URL"); v != "" {
		cfg.Telemetry.URL = v
	}
	if v := os.Getenv("OPTRACK_TELEMETRY_TOKEN"); v != "" {
		cfg.Telemetry.Token = v
	}
	if v := os.Getenv("OPTRACK_TELEMETRY_MEDIA_BASE"); v != "" {
		cfg.Telemetry.MediaBase = v
	}

	// API
	if v := os.Getenv("OPTRACK_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("OPTRACK_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv("OPTRACK_API_TOKEN"); v != "" {
		cfg.API.Token = v
	}

	// MQTT
	if v := os.Getenv("OPTRACK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("OPTRACK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("OPTRACK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Store.Path == "" {
		errs = append(errs, "store.path is required")
	}

	if c.Telemetry.PollInterval < 1 {
		errs = append(errs, "telemetry.poll_interval must be at least 1 second")
	}
	if c.Telemetry.FetchTimeout < 1 {
		errs = append(errs, "telemetry.fetch_timeout must be at least 1 second")
	}

	if c.Alerts.DebounceSeconds < 0 {
		errs = append(errs, "alerts.debounce_seconds must not be negative")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.History.Enabled && c.History.Path == "" {
		errs = append(errs, "history.path is required when history is enabled")
	}
	if c.History.RetentionDays < 0 {
		errs = append(errs, "history.retention_days must not be negative")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetPollInterval returns the sync cycle interval as a Duration.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Telemetry.PollInterval) * time.Second
}

// GetFetchTimeout returns the telemetry fetch timeout as a Duration.
func (c *Config) GetFetchTimeout() time.Duration {
	return time.Duration(c.Telemetry.FetchTimeout) * time.Second
}

// GetAlertDebounce returns the attention-signal debounce window as a Duration.
func (c *Config) GetAlertDebounce() time.Duration {
	return time.Duration(c.Alerts.DebounceSeconds) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
