package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by Get when the key has never been written or was
// deleted.
var ErrNotFound = errors.New("storage: key not found")

// Backend type names accepted by Config.Type.
const (
	TypeMemory     = "memory"
	TypeFilesystem = "filesystem"
	TypeRedis      = "redis"
	TypeSQLite     = "sqlite"
	TypePostgres   = "postgres"
)

// KV is the agent's local key/value store. Each Set replaces the whole value
// in a single write, so a reader never observes a half-written document.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Delete is idempotent: deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	Close() error
}

// HealthChecker is implemented by backends that talk to something remote.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Config for storage backend
type Config struct {
	Type string `yaml:"type"` // "memory", "filesystem", "redis", "sqlite", "postgres"

	// Filesystem config
	FilesystemRoot string `yaml:"filesystem_root"`

	// Redis config
	RedisURL       string `yaml:"redis_url"`
	RedisPassword  string `yaml:"redis_password"`
	RedisDB        int    `yaml:"redis_db"`
	RedisKeyPrefix string `yaml:"redis_key_prefix"`
	RedisPoolSize  int    `yaml:"redis_pool_size"`

	// SQL config (sqlite and postgres)
	SQLDSN      string        `yaml:"sql_dsn"`
	SQLMaxConns int           `yaml:"sql_max_conns"`
	SQLTimeout  time.Duration `yaml:"sql_timeout"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Type:           TypeFilesystem,
		FilesystemRoot: "/tmp/glimpse",
		RedisKeyPrefix: "glimpse:",
		RedisPoolSize:  10,
		SQLDSN:         "file:glimpse.db?cache=shared",
		SQLMaxConns:    4,
		SQLTimeout:     10 * time.Second,
	}
}

// Validate checks that the selected backend has what it needs.
func (c Config) Validate() error {
	switch c.Type {
	case TypeMemory:
		return nil
	case TypeFilesystem:
		if c.FilesystemRoot == "" {
			return errors.New("storage: filesystem root is required")
		}
	case TypeRedis:
		if c.RedisURL == "" {
			return errors.New("storage: redis URL is required")
		}
	case TypeSQLite, TypePostgres:
		if c.SQLDSN == "" {
			return fmt.Errorf("storage: DSN is required for %s", c.Type)
		}
	default:
		return fmt.Errorf("storage: unknown backend type %q", c.Type)
	}
	return nil
}

// New opens the backend selected by cfg.Type.
func New(ctx context.Context, cfg Config) (KV, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case TypeMemory:
		return NewMemoryKV(), nil
	case TypeFilesystem:
		return NewFileSystemKV(cfg.FilesystemRoot)
	case TypeRedis:
		return NewRedisKV(ctx, cfg)
	default:
		return OpenSQLKV(ctx, cfg)
	}
}

func validateKey(key string) error {
	if key == "" {
		return errors.New("storage: empty key")
	}
	if strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return fmt.Errorf("storage: invalid key %q", key)
	}
	return nil
}
