package main

import (
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ggoodman/mcp-tasks-go/sessions/redishost"
	"github.com/joeshaw/envdecode"
)

const (
	storeMemory = "memory"
	storeRedis  = "redis"
)

// Config is read from the environment first; command-line flags override it.
type Config struct {
	Addr     string `env:"MCP_TASKS_ADDR,default=:8080"`
	Store    string `env:"MCP_TASKS_STORE,default=memory"`
	LogLevel string `env:"MCP_TASKS_LOG_LEVEL,default=info"`

	Redis redishost.Config

	ReconcileInterval time.Duration `env:"MCP_TASKS_RECONCILE_INTERVAL,default=5s"`
	CleanupInterval   time.Duration `env:"MCP_TASKS_CLEANUP_INTERVAL,default=1m"`
	DefaultTTL        time.Duration `env:"MCP_TASKS_DEFAULT_TTL,default=1h"`
	AbandonedAfter    time.Duration `env:"MCP_TASKS_ABANDONED_AFTER,default=24h"`
	ShutdownTimeout   time.Duration `env:"MCP_TASKS_SHUTDOWN_TIMEOUT,default=10s"`

	// ResourcesDir, when set, is exposed read-only as fs:// resources.
	ResourcesDir string `env:"MCP_TASKS_RESOURCES_DIR"`

	ShardIndex int `env:"MCP_TASKS_SHARD_INDEX,default=0"`
	ShardCount int `env:"MCP_TASKS_SHARD_COUNT,default=1"`
}

func loadConfig() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return cfg, errors.Wrap(err, "decode environment")
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Store {
	case storeMemory, storeRedis:
	default:
		return errors.Newf("unknown store %q (want %q or %q)", c.Store, storeMemory, storeRedis)
	}
	if c.ShardCount < 1 {
		return errors.Newf("shard count must be positive, got %d", c.ShardCount)
	}
	if c.ShardIndex < 0 || c.ShardIndex >= c.ShardCount {
		return errors.Newf("shard index %d out of range [0,%d)", c.ShardIndex, c.ShardCount)
	}
	for name, d := range map[string]time.Duration{
		"reconcile interval": c.ReconcileInterval,
		"cleanup interval":   c.CleanupInterval,
		"default ttl":        c.DefaultTTL,
		"abandoned after":    c.AbandonedAfter,
	} {
		if d <= 0 {
			return errors.Newf("%s must be positive, got %s", name, d)
		}
	}
	if _, err := c.level(); err != nil {
		return err
	}
	return nil
}

func (c Config) level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return l, errors.Wrapf(err, "log level %q", c.LogLevel)
	}
	return l, nil
}
