package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for driveingest.
type Config struct {
	InstanceID string           `toml:"instance_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Log        LogConfig        `toml:"log"`
	Remote     RemoteConfig     `toml:"remote"`
	Database   DatabaseConfig   `toml:"database"`
	Broker     BrokerConfig     `toml:"broker"`
	Tracker    TrackerConfig    `toml:"tracker"`
	HTTP       HTTPConfig       `toml:"http"`
	Inbox      InboxConfig      `toml:"inbox"`
	Snapshot   SnapshotConfig   `toml:"snapshot"`
	Encryption EncryptionConfig `toml:"encryption"`
}

// LogConfig controls the rotating log file.
type LogConfig struct {
	Level      string `toml:"level"`       // debug, info, warn, error; defaults to info
	MaxSizeMB  int    `toml:"max_size_mb"` // rotate after this many megabytes
	MaxBackups int    `toml:"max_backups"` // rotated files to keep
	Stderr     bool   `toml:"stderr"`      // also write to stderr
}

// RemoteConfig selects the remote directory client.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type RemoteConfig struct {
	Type     string `toml:"type"`      // "drive" or "memory"
	FolderID string `toml:"folder_id"` // watched root folder

	// Drive-specific fields (only used when Type == "drive")
	CredentialsFile string `toml:"credentials_file,omitempty"`
	NotificationURL string `toml:"notification_url,omitempty"`
}

// DatabaseConfig represents configuration for the relational store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite", "memory" or "postgres"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
	DSN     string `toml:"dsn,omitempty"`      // only used for type=postgres
}

// BrokerConfig selects the message broker.
type BrokerConfig struct {
	Type          string   `toml:"type"` // "kafka" or "memory"
	Brokers       []string `toml:"brokers,omitempty"`
	SyncTopic     string   `toml:"sync_topic"`
	AnalysisTopic string   `toml:"analysis_topic"`
	GroupID       string   `toml:"group_id"`
}

// TrackerConfig tunes change tracking.
type TrackerConfig struct {
	SeenStore    string   `toml:"seen_store"`          // "memory" or "bolt"
	SeenPath     string   `toml:"seen_path,omitempty"` // only used for seen_store=bolt
	SeenCapacity int      `toml:"seen_capacity"`       // 0 means unbounded
	PollInterval Duration `toml:"poll_interval"`
}

// HTTPConfig holds the API listener address. Empty disables the API.
type HTTPConfig struct {
	Addr string `toml:"addr"`
}

// InboxConfig holds the upload drop directory. Empty disables the watcher.
// Ignore lists base-name globs of files never uploaded.
type InboxConfig struct {
	Dir    string   `toml:"dir"`
	Ignore []string `toml:"ignore"`
}

// SnapshotConfig represents configuration for the snapshot vault.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type SnapshotConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"

	// S3-specific fields (only used when Type == "s3")
	S3Bucket string `toml:"s3_bucket,omitempty"`
	S3Prefix string `toml:"s3_prefix,omitempty"`
	S3Region string `toml:"s3_region,omitempty"`

	// Optional: an S3-compatible endpoint and static credentials. When unset
	// the default AWS endpoint and credential chain are used.
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used for snapshots.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// Duration is a time.Duration written as a string ("30s") in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// NewConfig creates a new Config with the provided values and defaults for
// everything that can be derived from baseDir.
func NewConfig(instanceID, baseDir string) *Config {
	return &Config{
		InstanceID: instanceID,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 5,
		},
		Remote: RemoteConfig{Type: "drive"},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Broker: BrokerConfig{
			Type:          "kafka",
			Brokers:       []string{"localhost:9092"},
			SyncTopic:     "drive-events",
			AnalysisTopic: "analysis-events",
			GroupID:       "analysis-saver-group",
		},
		Tracker: TrackerConfig{
			SeenStore:    "bolt",
			SeenPath:     filepath.Join(baseDir, "seen.db"),
			SeenCapacity: 10000,
			PollInterval: Duration{time.Minute},
		},
		HTTP: HTTPConfig{Addr: "127.0.0.1:8080"},
		Inbox: InboxConfig{
			Ignore: []string{"*.part", "*.crdownload", "*.tmp", "~$*"},
		},
		Snapshot: SnapshotConfig{
			Type:        "filesystem",
			FSVaultRoot: filepath.Join(baseDir, "snapshots"),
		},
		Encryption: EncryptionConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "driveingest.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "driveingest.key"),
		},
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
