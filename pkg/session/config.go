package session

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds store configuration from YAML.
type Config struct {
	// Store specifies the storage backend type.
	// Options: "memory", "file", "redis".
	// Default: "memory".
	Store string `yaml:"store"`

	// BaseDir is the base directory for file-based storage.
	// Default: ~/.runlog/sessions.
	BaseDir string `yaml:"base_dir"`

	// Redis contains Redis-specific settings, used when Store is "redis".
	Redis RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string `yaml:"addr"`
	// Password is the Redis password (optional).
	Password string `yaml:"password"`
	// DB is the Redis database number.
	DB int `yaml:"db"`
	// Prefix is the key prefix for all store keys (default: "runlog:").
	Prefix string `yaml:"prefix"`
	// SessionTTL is the session expiry duration (0 = never expire).
	SessionTTL time.Duration `yaml:"session_ttl"`
	// PoolSize is the connection pool size (default: 10).
	PoolSize int `yaml:"pool_size"`
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		Store:   "memory",
		BaseDir: "",
		Redis: RedisConfig{
			Prefix: defaultRedisPrefix,
		},
	}
}

// LoadConfig reads a YAML configuration file, then applies environment
// overrides. A missing path yields the defaults plus overrides. Environment
// variables recognized:
//   - RUNLOG_STORE: backend type
//   - RUNLOG_BASE_DIR: file store base directory
//   - RUNLOG_REDIS_ADDR: Redis address
//   - RUNLOG_REDIS_PREFIX: Redis key prefix
//   - RUNLOG_REDIS_TTL: Redis session TTL (Go duration string)
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 - caller-chosen config path
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("RUNLOG_STORE"); v != "" {
		cfg.Store = v
	}
	if v := os.Getenv("RUNLOG_BASE_DIR"); v != "" {
		cfg.BaseDir = v
	}
	if v := os.Getenv("RUNLOG_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("RUNLOG_REDIS_PREFIX"); v != "" {
		cfg.Redis.Prefix = v
	}
	if v := os.Getenv("RUNLOG_REDIS_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("parse RUNLOG_REDIS_TTL: %w", err)
		}
		cfg.Redis.SessionTTL = ttl
	}
	return cfg, nil
}

// OpenStore constructs the store the configuration names.
func OpenStore(cfg Config) (Store, error) {
	switch cfg.Store {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(cfg.BaseDir)
	case "redis":
		return NewRedisStore(cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Store)
	}
}
