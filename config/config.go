// Package config loads replica configuration from environment variables,
// with an optional YAML file overlay, following the same env-first
// convention as the teacher's pkg/config and pkg/apoc/config.go.
//
// Example:
//
//	cfg := config.LoadFromEnv()
//	if path := os.Getenv("TCGO_CONFIG_FILE"); path != "" {
//		cfg, _ = config.LoadFromEnvOrFile(path)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/taskchampion/tcgo/retention"
)

// Config holds everything a replica needs to run: where its TaskDB lives,
// which Server it talks to, and its ambient logging/retention settings.
type Config struct {
	Replica   ReplicaConfig   `yaml:"replica"`
	Storage   StorageConfig   `yaml:"storage"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Retention RetentionConfig `yaml:"retention"`
}

// ReplicaConfig names the on-disk TaskDB directory (when Storage.OnDisk is
// set) and the client identity this replica presents to a Server.
type ReplicaConfig struct {
	TaskdbDir string `yaml:"taskdb_dir"`
	ClientID  string `yaml:"client_id"`
}

// StorageConfig selects the storage.Engine backing a replica's TaskDB.
// Exactly one of OnDisk/InMemory is meaningful; InMemory wins if both are
// set, matching a "last one specified" convention rather than erroring.
type StorageConfig struct {
	InMemory bool   `yaml:"in_memory"`
	OnDisk   string `yaml:"on_disk"` // directory, used when InMemory is false
}

// ServerKind selects which Server implementation ServerConfig describes.
type ServerKind string

const (
	ServerLocal  ServerKind = "local"
	ServerRemote ServerKind = "remote"
)

// ServerConfig is a tagged union over the two Server shapes spec section 6
// enumerates: {local: {server_dir}} | {remote: {origin, client_id,
// encryption_secret}}. The client ID is not a field here; it is
// ReplicaConfig.ClientID.
type ServerConfig struct {
	Kind ServerKind `yaml:"kind"`

	// Local
	ServerDir string `yaml:"server_dir"`

	// Remote
	Origin           string `yaml:"origin"`
	EncryptionSecret string `yaml:"encryption_secret"`
}

// LoggingConfig holds log level/format/output settings, matching the
// teacher's own Logging section in shape. It is loaded from the
// environment and the YAML file, but no other package in this module
// reads it; logging output is not configured from it.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// RetentionConfig controls Replica.ExpireTasks's default horizon.
type RetentionConfig struct {
	TaskExpiryHorizon time.Duration `yaml:"task_expiry_horizon"`
}

// DefaultTaskExpiryHorizon is applied when TCGO_RETENTION_TASK_EXPIRY_HORIZON
// is unset, per Open Question (b)'s resolution in DESIGN.md.
const DefaultTaskExpiryHorizon = retention.DefaultTaskHorizon

// LoadFromEnv builds a Config from TCGO_-prefixed environment variables,
// falling back to sensible single-replica defaults for anything unset.
func LoadFromEnv() *Config {
	cfg := &Config{}

	cfg.Replica.TaskdbDir = getEnv("TCGO_REPLICA_TASKDB_DIR", "./taskdb")
	cfg.Replica.ClientID = getEnv("TCGO_REPLICA_CLIENT_ID", "")

	cfg.Storage.InMemory = getEnvBool("TCGO_STORAGE_IN_MEMORY", false)
	cfg.Storage.OnDisk = getEnv("TCGO_STORAGE_ON_DISK", cfg.Replica.TaskdbDir)

	cfg.Server.Kind = ServerKind(getEnv("TCGO_SERVER_KIND", string(ServerLocal)))
	cfg.Server.ServerDir = getEnv("TCGO_SERVER_DIR", "./server")
	cfg.Server.Origin = getEnv("TCGO_SERVER_ORIGIN", "")
	cfg.Server.EncryptionSecret = getEnv("TCGO_SERVER_ENCRYPTION_SECRET", "")

	cfg.Logging.Level = getEnv("TCGO_LOG_LEVEL", "info")
	cfg.Logging.Format = getEnv("TCGO_LOG_FORMAT", "text")
	cfg.Logging.Output = getEnv("TCGO_LOG_OUTPUT", "stderr")

	cfg.Retention.TaskExpiryHorizon = getEnvDuration("TCGO_RETENTION_TASK_EXPIRY_HORIZON", DefaultTaskExpiryHorizon)

	return cfg
}

// LoadFromEnvOrFile loads from the environment, then overlays values from
// a YAML file at path if it exists; environment variables take precedence
// only where the file leaves a field at its zero value, mirroring the
// teacher's "file, then env fills gaps" composition in pkg/apoc/config.go
// — inverted here because a replica's env defaults are already sensible
// and the file is the explicit override.
func LoadFromEnvOrFile(path string) (*Config, error) {
	cfg := LoadFromEnv()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for logical errors before it is used
// to open a replica.
func (c *Config) Validate() error {
	switch c.Server.Kind {
	case ServerLocal:
		if c.Server.ServerDir == "" && !c.Storage.InMemory {
			return fmt.Errorf("config: server.kind=local requires server_dir")
		}
	case ServerRemote:
		if c.Server.Origin == "" {
			return fmt.Errorf("config: server.kind=remote requires origin")
		}
		if c.Server.EncryptionSecret == "" {
			return fmt.Errorf("config: server.kind=remote requires encryption_secret")
		}
	default:
		return fmt.Errorf("config: unknown server.kind %q", c.Server.Kind)
	}
	if c.Retention.TaskExpiryHorizon < 0 {
		return fmt.Errorf("config: retention.task_expiry_horizon must be non-negative")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}
