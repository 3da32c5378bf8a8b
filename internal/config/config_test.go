package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		SessionID: "kiosk-hall-3",
		BaseDir:   "/home/user/.local/share/safeboard",
		LogDir:    "/home/user/.local/share/safeboard/log",
		Database:  DatabaseConfig{Type: "postgres", DSN: "postgres://board@db/safety"},
		Storage:   StorageConfig{Type: "sqlite", Path: "/tmp/shared.db", PollInterval: 2 * time.Second},
		Feed: FeedConfig{
			Type:         "kafka",
			KafkaBrokers: []string{"kafka-1:9092", "kafka-2:9092"},
			KafkaTopic:   "accident-config",
		},
		TimeSync: TimeSyncConfig{
			Interval:     time.Minute,
			Staleness:    5 * time.Minute,
			Timeout:      3 * time.Second,
			FallbackURLs: []string{"https://timeapi.io/api/Time/current/zone?timeZone=UTC"},
		},
		Archive: ArchiveConfig{Type: "s3", Name: "audit", S3Bucket: "safety-audit", S3Region: "eu-central-1", Encrypt: true},
		Encryption: EncryptionConfig{
			PublicKeyPath:  "/keys/safeboard.pub",
			PrivateKeyPath: "/keys/safeboard.key",
		},
		Server: ServerConfig{Listen: ":8080", APIKeys: []string{"secret"}},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.SessionID != original.SessionID {
		t.Errorf("SessionID = %q, want %q", got.SessionID, original.SessionID)
	}
	if got.Database.DSN != original.Database.DSN {
		t.Errorf("Database.DSN = %q, want %q", got.Database.DSN, original.Database.DSN)
	}
	if got.Storage.PollInterval != 2*time.Second {
		t.Errorf("Storage.PollInterval = %v, want 2s", got.Storage.PollInterval)
	}
	if len(got.Feed.KafkaBrokers) != 2 || got.Feed.KafkaTopic != "accident-config" {
		t.Errorf("Feed = %+v", got.Feed)
	}
	if got.TimeSync.Interval != time.Minute || got.TimeSync.Timeout != 3*time.Second {
		t.Errorf("TimeSync = %+v", got.TimeSync)
	}
	if len(got.TimeSync.FallbackURLs) != 1 {
		t.Errorf("len(TimeSync.FallbackURLs) = %d, want 1", len(got.TimeSync.FallbackURLs))
	}
	if got.Archive.Type != "s3" || got.Archive.S3Bucket != "safety-audit" || !got.Archive.Encrypt {
		t.Errorf("Archive = %+v", got.Archive)
	}
	if got.Encryption.PrivateKeyPath != original.Encryption.PrivateKeyPath {
		t.Errorf("Encryption.PrivateKeyPath = %q, want %q", got.Encryption.PrivateKeyPath, original.Encryption.PrivateKeyPath)
	}
	if len(got.Server.APIKeys) != 1 || got.Server.APIKeys[0] != "secret" {
		t.Errorf("Server.APIKeys = %v", got.Server.APIKeys)
	}
}

func TestManager_Read_DurationStrings(t *testing.T) {
	input := `
[time_sync]
interval = "30s"
staleness = "10m"
timeout = "5s"
`
	got, err := (&Manager{}).Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got.TimeSync.Interval != 30*time.Second {
		t.Errorf("Interval = %v, want 30s", got.TimeSync.Interval)
	}
	if got.TimeSync.Staleness != 10*time.Minute {
		t.Errorf("Staleness = %v, want 10m", got.TimeSync.Staleness)
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("session-1", "/data/safeboard")

	if cfg.SessionID != "session-1" {
		t.Errorf("SessionID = %q, want %q", cfg.SessionID, "session-1")
	}
	if cfg.LogDir != "/data/safeboard/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/safeboard/log")
	}
	if cfg.Database.Type != "sqlite" || cfg.Database.DataDir != "/data/safeboard/db" {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.Storage.Path != "/data/safeboard/shared.db" {
		t.Errorf("Storage.Path = %q", cfg.Storage.Path)
	}
	if cfg.TimeSync.Interval != 5*time.Minute || cfg.TimeSync.Staleness != 5*time.Minute {
		t.Errorf("TimeSync = %+v", cfg.TimeSync)
	}
	if cfg.Encryption.PublicKeyPath != "/data/safeboard/keys/safeboard.pub" {
		t.Errorf("Encryption.PublicKeyPath = %q", cfg.Encryption.PublicKeyPath)
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "safeboard.toml")
		cfg := NewConfig("s1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "safeboard.toml")
		cfg := NewConfig("s1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		if err := Init(path, cfg); err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "safeboard.toml")
		cfg := NewConfig("read-test", dir)
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.SessionID != "read-test" {
			t.Errorf("SessionID = %q, want %q", got.SessionID, "read-test")
		}
		if got.Database.Type != "memory" {
			t.Errorf("Database.Type = %q, want memory", got.Database.Type)
		}
		if got.Storage.PollInterval != time.Second {
			t.Errorf("Storage.PollInterval = %v, want 1s", got.Storage.PollInterval)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		if _, err := ReadFromFile("/nonexistent/path/safeboard.toml"); err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
