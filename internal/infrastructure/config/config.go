package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "SCARDBRIDGE_"

// Config is the root configuration structure for scardbridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	Smartcard SmartcardConfig `yaml:"smartcard"`
	Emulator  EmulatorConfig  `yaml:"emulator"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Database  DatabaseConfig  `yaml:"database"`
	Journal   JournalConfig   `yaml:"journal"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BridgeConfig identifies this bridge instance on the MQTT bus.
type BridgeConfig struct {
	// ID is used in every topic. Empty means a random ID is generated at startup.
	ID string `yaml:"id"`

	// HealthInterval is how often health is republished (seconds).
	HealthInterval int `yaml:"health_interval"`
}

// SmartcardConfig contains dispatch engine settings.
type SmartcardConfig struct {
	// DeviceName is the announced device name.
	DeviceName string `yaml:"device_name"`

	// Async runs long-running calls on their own workers.
	Async bool `yaml:"async"`

	// MaxWorkers bounds concurrently running calls. 0 is unbounded.
	MaxWorkers int `yaml:"max_workers"`
}

// EmulatorConfig describes the virtual readers served to the peer.
type EmulatorConfig struct {
	Readers []EmulatorReaderConfig `yaml:"readers"`
}

// EmulatorReaderConfig is one virtual reader. A non-empty ATR inserts a card.
type EmulatorReaderConfig struct {
	Name string `yaml:"name"`
	ATR  string `yaml:"atr"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// JournalConfig contains completion journal settings.
type JournalConfig struct {
	Enabled bool `yaml:"enabled"`

	// BufferSize is the number of completions queued for writing.
	BufferSize int `yaml:"buffer_size"`

	// RetentionHours is how long entries are kept. 0 keeps everything.
	RetentionHours int `yaml:"retention_hours"`

	// PruneInterval is how often old entries are removed (minutes).
	PruneInterval int `yaml:"prune_interval"`
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

// APIConfig contains HTTP status API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`

	// StatsInterval is how often device_stats points are written (seconds).
	StatsInterval int `yaml:"stats_interval"`
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
// An empty path skips step 2.
//
// Environment variables follow the pattern: SCARDBRIDGE_SECTION_KEY
// For example: SCARDBRIDGE_MQTT_HOST, SCARDBRIDGE_SMARTCARD_MAX_WORKERS
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			HealthInterval: 30,
		},
		Smartcard: SmartcardConfig{
			DeviceName: "SCARD",
			Async:      true,
		},
		Emulator: EmulatorConfig{
			Readers: []EmulatorReaderConfig{{Name: "Virtual Reader 0"}},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "scardbridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Database: DatabaseConfig{
			Path:        "./data/scardbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Journal: JournalConfig{
			Enabled:        false,
			BufferSize:     1024,
			RetentionHours: 24 * 7,
			PruneInterval:  60,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
			StatsInterval: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"BRIDGE_ID":        &cfg.Bridge.ID,
		"SMARTCARD_DEVICE": &cfg.Smartcard.DeviceName,
		"MQTT_HOST":        &cfg.MQTT.Broker.Host,
		"MQTT_CLIENT_ID":   &cfg.MQTT.Broker.ClientID,
		"MQTT_USERNAME":    &cfg.MQTT.Auth.Username,
		"MQTT_PASSWORD":    &cfg.MQTT.Auth.Password,
		"API_HOST":         &cfg.API.Host,
		"DATABASE_PATH":    &cfg.Database.Path,
		"INFLUXDB_URL":     &cfg.InfluxDB.URL,
		"INFLUXDB_TOKEN":   &cfg.InfluxDB.Token,
		"LOG_LEVEL":        &cfg.Logging.Level,
		"LOG_FORMAT":       &cfg.Logging.Format,
	}
	for key, dst := range strs {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"SMARTCARD_MAX_WORKERS": &cfg.Smartcard.MaxWorkers,
		"MQTT_PORT":             &cfg.MQTT.Broker.Port,
		"API_PORT":              &cfg.API.Port,
	}
	for key, dst := range ints {
		v := os.Getenv(EnvPrefix + key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
	}

	bools := map[string]*bool{
		"SMARTCARD_ASYNC":  &cfg.Smartcard.Async,
		"JOURNAL_ENABLED":  &cfg.Journal.Enabled,
		"INFLUXDB_ENABLED": &cfg.InfluxDB.Enabled,
		"API_ENABLED":      &cfg.API.Enabled,
	}
	for key, dst := range bools {
		v := os.Getenv(EnvPrefix + key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = b
	}

	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if strings.ContainsAny(c.Bridge.ID, "/+#") {
		errs = append(errs, "bridge.id must not contain '/', '+' or '#'")
	}
	if c.Bridge.HealthInterval < 1 {
		errs = append(errs, "bridge.health_interval must be at least 1 second")
	}

	if c.Smartcard.MaxWorkers < 0 {
		errs = append(errs, "smartcard.max_workers must be >= 0")
	}

	for i, r := range c.Emulator.Readers {
		if r.Name == "" {
			errs = append(errs, fmt.Sprintf("emulator.readers[%d].name is required", i))
		}
		if _, err := hex.DecodeString(r.ATR); err != nil {
			errs = append(errs, fmt.Sprintf("emulator.readers[%d].atr must be hex", i))
		}
	}

	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.Enabled && (c.WebSocket.PingInterval < 1 || c.WebSocket.PongTimeout < 1) {
		errs = append(errs, "websocket.ping_interval and websocket.pong_timeout must be at least 1 second")
	}

	if c.Journal.Enabled {
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required when journal is enabled")
		}
		if c.Journal.BufferSize < 1 {
			errs = append(errs, "journal.buffer_size must be at least 1")
		}
		if c.Journal.RetentionHours < 0 {
			errs = append(errs, "journal.retention_hours must be >= 0")
		}
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "logging.level must be debug, info, warn or error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ATRBytes decodes the reader's ATR. Validate guarantees it is valid hex.
func (r EmulatorReaderConfig) ATRBytes() []byte {
	b, _ := hex.DecodeString(r.ATR) //nolint:errcheck // checked by Validate
	return b
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

// HealthInterval returns the bridge health republish interval.
func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// JournalRetention returns how long journal entries are kept. Zero keeps everything.
func (c *Config) JournalRetention() time.Duration {
	return time.Duration(c.Journal.RetentionHours) * time.Hour
}

// JournalPruneInterval returns how often the journal is pruned.
func (c *Config) JournalPruneInterval() time.Duration {
	return time.Duration(c.Journal.PruneInterval) * time.Minute
}

// StatsInterval returns how often device statistics are written to InfluxDB.
func (c *Config) StatsInterval() time.Duration {
	return time.Duration(c.InfluxDB.StatsInterval) * time.Second
}
