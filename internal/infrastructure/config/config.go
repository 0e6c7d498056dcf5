package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for RV-Link Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Coach       CoachConfig       `yaml:"coach"`
	Protocol    ProtocolConfig    `yaml:"protocol"`
	Transports  TransportsConfig  `yaml:"transports"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Logging     LoggingConfig     `yaml:"logging"`
	Features    FeaturesConfig    `yaml:"features"`
}

// CoachConfig identifies the vehicle this instance runs on.
type CoachConfig struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	ModelYear int    `yaml:"model_year"`
}

// ProtocolConfig contains the RV-C specification and coach mapping documents.
type ProtocolConfig struct {
	// SpecFile is the path to the RV-C wire specification (DGN → field list).
	SpecFile string `yaml:"spec_file"`

	// MappingFile is the path to the coach mapping document
	// (DGN+instance → entity declarations).
	MappingFile string `yaml:"mapping_file"`

	// Interfaces maps logical interface names to physical transport ids.
	// Example: {"house": "can0", "chassis": "can1"}
	Interfaces map[string]string `yaml:"interfaces"`

	// SourceAddress is this node's address stamped on outgoing frames.
	SourceAddress uint8 `yaml:"source_address"`
}

// TransportsConfig contains settings for each transport variant.
type TransportsConfig struct {
	CANBus []CANBusConfig `yaml:"canbus"`
	Polled []PolledConfig `yaml:"polled"`
	Scan   []ScanConfig   `yaml:"scan"`
}

// CANBusConfig configures a direct-bus transport.
type CANBusConfig struct {
	// ID is the physical interface name (e.g., "can0").
	ID string `yaml:"id"`

	// URL is the gateway daemon connection URL.
	// Supported formats:
	//   - "tcp://localhost:29536"
	//   - "unix:///run/canbusd"
	URL string `yaml:"url"`
}

// PolledConfig configures a polled IP device transport.
type PolledConfig struct {
	// ID is the transport id (e.g., "geniptank0").
	ID string `yaml:"id"`

	// URL is the device status endpoint.
	URL string `yaml:"url"`

	// IntervalSeconds is the poll period. Default: 30.
	IntervalSeconds int `yaml:"interval_seconds"`
}

// ScanConfig configures a passive wireless scanner transport.
type ScanConfig struct {
	// ID is the transport id (e.g., "blescan0").
	ID string `yaml:"id"`

	// Adapter is the host adapter name (e.g., "hci0").
	Adapter string `yaml:"adapter"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// DiagnosticsConfig contains settings for the unrecognized-frame store.
type DiagnosticsConfig struct {
	Enabled bool `yaml:"enabled"`

	// DatabasePath is the SQLite path for the diagnostics store.
	// Default: ":memory:" — nothing survives a restart.
	DatabasePath string `yaml:"database_path"`

	// BusyTimeout is the maximum time to wait for a database lock (seconds).
	BusyTimeout int `yaml:"busy_timeout"`

	// MaxIdentifiers bounds the number of distinct unrecognized identifiers
	// tracked per session. Default: 512.
	MaxIdentifiers int `yaml:"max_identifiers"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// FeaturesConfig controls which optional features start.
type FeaturesConfig struct {
	// Disabled lists non-core features that should not be started.
	Disabled []string `yaml:"disabled"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: RVLINK_SECTION_KEY
// For example: RVLINK_MQTT_HOST, RVLINK_PROTOCOL_MAPPING_FILE
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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Coach: CoachConfig{
			ID:   "coach-001",
			Name: "RV-Link",
		},
		Protocol: ProtocolConfig{
			SpecFile:      "./configs/rvc-spec.yaml",
			MappingFile:   "./configs/coach-mapping.yaml",
			SourceAddress: 0x82,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "rvlink-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Diagnostics: DiagnosticsConfig{
			Enabled:        true,
			DatabasePath:   ":memory:",
			BusyTimeout:    5,
			MaxIdentifiers: 512,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: RVLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RVLINK_COACH_ID"); v != "" {
		cfg.Coach.ID = v
	}

	if v := os.Getenv("RVLINK_PROTOCOL_SPEC_FILE"); v != "" {
		cfg.Protocol.SpecFile = v
	}
	if v := os.Getenv("RVLINK_PROTOCOL_MAPPING_FILE"); v != "" {
		cfg.Protocol.MappingFile = v
	}

	if v := os.Getenv("RVLINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("RVLINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("RVLINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("RVLINK_DIAGNOSTICS_DATABASE_PATH"); v != "" {
		cfg.Diagnostics.DatabasePath = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Coach.ID == "" {
		errs = append(errs, "coach.id is required")
	}

	if c.Protocol.SpecFile == "" {
		errs = append(errs, "protocol.spec_file is required")
	}
	if c.Protocol.MappingFile == "" {
		errs = append(errs, "protocol.mapping_file is required")
	}

	// Duplicate physical assignment across distinct logical names is a
	// configuration error: two logical interfaces cannot share a bus.
	seen := make(map[string]string, len(c.Protocol.Interfaces))
	for logical, physical := range c.Protocol.Interfaces {
		if physical == "" {
			errs = append(errs, fmt.Sprintf("protocol.interfaces.%s: physical id is empty", logical))
			continue
		}
		if prev, ok := seen[physical]; ok {
			errs = append(errs, fmt.Sprintf(
				"protocol.interfaces: %q and %q both map to %q", prev, logical, physical))
		}
		seen[physical] = logical
	}

	for i, t := range c.Transports.CANBus {
		if t.ID == "" {
			errs = append(errs, fmt.Sprintf("transports.canbus[%d].id is required", i))
		}
		if t.URL == "" {
			errs = append(errs, fmt.Sprintf("transports.canbus[%d].url is required", i))
		}
	}
	for i, t := range c.Transports.Polled {
		if t.ID == "" {
			errs = append(errs, fmt.Sprintf("transports.polled[%d].id is required", i))
		}
		if t.URL == "" {
			errs = append(errs, fmt.Sprintf("transports.polled[%d].url is required", i))
		}
	}

	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port <= 0 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be 1-65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Diagnostics.Enabled {
		if c.Diagnostics.DatabasePath == "" {
			errs = append(errs, "diagnostics.database_path is required when diagnostics is enabled")
		}
		if c.Diagnostics.MaxIdentifiers <= 0 {
			errs = append(errs, "diagnostics.max_identifiers must be positive")
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not valid", c.Logging.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// PollInterval returns the poll period for a polled transport in seconds,
// applying the default when unset.
func (p PolledConfig) PollInterval() int {
	if p.IntervalSeconds <= 0 {
		return 30
	}
	return p.IntervalSeconds
}
