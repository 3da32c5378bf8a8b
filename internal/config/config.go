package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for safeboard.
type Config struct {
	SessionID  string           `toml:"session_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Database   DatabaseConfig   `toml:"database"`
	Storage    StorageConfig    `toml:"storage"`
	Feed       FeedConfig       `toml:"feed"`
	TimeSync   TimeSyncConfig   `toml:"time_sync"`
	Archive    ArchiveConfig    `toml:"archive"`
	Encryption EncryptionConfig `toml:"encryption"`
	Server     ServerConfig     `toml:"server"`
}

// DatabaseConfig represents configuration for the accident config store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite", "memory" or "postgres"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
	DSN     string `toml:"dsn,omitempty"`      // only used for type=postgres
}

// StorageConfig represents configuration for the shared key/value storage
// display sessions use to share the time sync point.
type StorageConfig struct {
	Type         string        `toml:"type"`           // "memory" or "sqlite"
	Path         string        `toml:"path,omitempty"` // only used for type=sqlite
	PollInterval time.Duration `toml:"poll_interval,omitempty"`
}

// FeedConfig represents configuration for the config change feed.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type FeedConfig struct {
	Type string `toml:"type"` // "hub", "poll", "postgres", "kafka" or "mqtt"

	// Poll-specific fields (only used when Type == "poll")
	PollInterval time.Duration `toml:"poll_interval,omitempty"`

	// Kafka-specific fields (only used when Type == "kafka")
	KafkaBrokers []string `toml:"kafka_brokers,omitempty"`
	KafkaTopic   string   `toml:"kafka_topic,omitempty"`
	KafkaGroupID string   `toml:"kafka_group_id,omitempty"`

	// MQTT-specific fields (only used when Type == "mqtt")
	MQTTBroker   string `toml:"mqtt_broker,omitempty"`
	MQTTTopic    string `toml:"mqtt_topic,omitempty"`
	MQTTClientID string `toml:"mqtt_client_id,omitempty"`
}

// TimeSyncConfig tunes the time source refresh protocol. The time API URL,
// timezone and enabled flag are operator settings kept in shared storage.
type TimeSyncConfig struct {
	Interval     time.Duration `toml:"interval"`
	Staleness    time.Duration `toml:"staleness"`
	Timeout      time.Duration `toml:"timeout"`
	FallbackURLs []string      `toml:"fallback_urls"`
}

// ArchiveConfig represents configuration for the reset audit archive.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ArchiveConfig struct {
	Type    string `toml:"type"` // "none", "memory", "filesystem" or "s3"
	Name    string `toml:"name"`
	Encrypt bool   `toml:"encrypt"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket string `toml:"s3_bucket,omitempty"`
	S3Prefix string `toml:"s3_prefix,omitempty"`
	S3Region string `toml:"s3_region,omitempty"`
	// S3Endpoint, S3AccessKeyID and S3SecretAccessKey target S3-compatible
	// stores. Empty values use the AWS defaults and credential chain.
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used for archive encryption.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Listen string `toml:"listen"`
	// APIKeys guard the mutating routes when non-empty.
	APIKeys []string `toml:"api_keys,omitempty"`
}

// NewConfig creates a new Config with the provided values and defaults
// for a single-host installation below baseDir.
func NewConfig(sessionID, baseDir string) *Config {
	return &Config{
		SessionID: sessionID,
		BaseDir:   baseDir,
		LogDir:    filepath.Join(baseDir, "log"),
		Database:  DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Storage: StorageConfig{
			Type:         "sqlite",
			Path:         filepath.Join(baseDir, "shared.db"),
			PollInterval: time.Second,
		},
		Feed: FeedConfig{Type: "poll", PollInterval: 5 * time.Second},
		TimeSync: TimeSyncConfig{
			Interval:  5 * time.Minute,
			Staleness: 5 * time.Minute,
			Timeout:   5 * time.Second,
		},
		Archive: ArchiveConfig{
			Type:   "filesystem",
			Name:   "local",
			FSRoot: filepath.Join(baseDir, "archive"),
		},
		Encryption: EncryptionConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "safeboard.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "safeboard.key"),
		},
		Server: ServerConfig{Listen: "127.0.0.1:8080"},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
