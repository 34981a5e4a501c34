package main

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.validate())

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, storeMemory, cfg.Store)
	assert.Equal(t, "localhost:6379", cfg.Redis.RedisAddr)
	assert.Equal(t, "mcp:sessions:", cfg.Redis.KeyPrefix)
	assert.Equal(t, 5*time.Second, cfg.ReconcileInterval)
	assert.Equal(t, time.Minute, cfg.CleanupInterval)
	assert.Equal(t, time.Hour, cfg.DefaultTTL)
	assert.Equal(t, 24*time.Hour, cfg.AbandonedAfter)
	assert.Empty(t, cfg.ResourcesDir)
	assert.Equal(t, 0, cfg.ShardIndex)
	assert.Equal(t, 1, cfg.ShardCount)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("MCP_TASKS_STORE", "redis")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("MCP_TASKS_RECONCILE_INTERVAL", "250ms")
	t.Setenv("MCP_TASKS_SHARD_INDEX", "2")
	t.Setenv("MCP_TASKS_SHARD_COUNT", "3")
	t.Setenv("MCP_TASKS_LOG_LEVEL", "debug")

	cfg, err := loadConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.validate())
	assert.Equal(t, storeRedis, cfg.Store)
	assert.Equal(t, "redis:6380", cfg.Redis.RedisAddr)
	assert.Equal(t, 250*time.Millisecond, cfg.ReconcileInterval)
	assert.Equal(t, 2, cfg.ShardIndex)

	level, err := cfg.level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestConfigValidate(t *testing.T) {
	base, err := loadConfig()
	require.NoError(t, err)

	cases := map[string]func(*Config){
		"unknown store":      func(c *Config) { c.Store = "etcd" },
		"zero shards":        func(c *Config) { c.ShardCount = 0 },
		"shard out of range": func(c *Config) { c.ShardIndex = 1 },
		"negative interval":  func(c *Config) { c.ReconcileInterval = -time.Second },
		"bad log level":      func(c *Config) { c.LogLevel = "loud" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			assert.Error(t, cfg.validate())
		})
	}
}

func TestBuiltinToolsAdvertiseSchemas(t *testing.T) {
	tools := builtinTools().Snapshot()
	require.Len(t, tools, 3)
	for _, tool := range tools {
		assert.NotEmpty(t, tool.Description, tool.Name)
		assert.Equal(t, "object", tool.InputSchema.Type, tool.Name)
	}
}

func TestCountdownSchemaBounds(t *testing.T) {
	var countdown *float64
	for _, tool := range builtinTools().Snapshot() {
		if tool.Name == "countdown" {
			countdown = tool.InputSchema.Properties["from"].Maximum
		}
	}
	require.NotNil(t, countdown)
	assert.Equal(t, 3600.0, *countdown)
}
