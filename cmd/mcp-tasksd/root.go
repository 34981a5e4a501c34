package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	cfg, cfgErr := loadConfig()

	cmd := &cobra.Command{
		Use:   "mcp-tasksd",
		Short: "Serve MCP tasks and catalog change notifications",
		Long: `mcp-tasksd runs the JSON-RPC endpoint on /mcp and Prometheus metrics on
/metrics. Sessions, tasks and subscription state live in the configured
store, so several replicas can share one Redis and split background work
between them with --shard-index and --shard-count.

Every flag defaults to its environment variable.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfgErr != nil {
				return cfgErr
			}
			if err := cfg.validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address (MCP_TASKS_ADDR)")
	f.StringVar(&cfg.Store, "store", cfg.Store, "session store: memory or redis (MCP_TASKS_STORE)")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error (MCP_TASKS_LOG_LEVEL)")
	f.StringVar(&cfg.Redis.RedisAddr, "redis-addr", cfg.Redis.RedisAddr, "redis address (REDIS_ADDR)")
	f.StringVar(&cfg.Redis.KeyPrefix, "key-prefix", cfg.Redis.KeyPrefix, "redis key prefix (SESSIONS_KEY_PREFIX)")
	f.DurationVar(&cfg.ReconcileInterval, "reconcile-interval", cfg.ReconcileInterval, "catalog reconcile cadence (MCP_TASKS_RECONCILE_INTERVAL)")
	f.DurationVar(&cfg.CleanupInterval, "cleanup-interval", cfg.CleanupInterval, "task cleanup cadence (MCP_TASKS_CLEANUP_INTERVAL)")
	f.DurationVar(&cfg.DefaultTTL, "default-ttl", cfg.DefaultTTL, "retention of finished tasks without a ttl (MCP_TASKS_DEFAULT_TTL)")
	f.DurationVar(&cfg.AbandonedAfter, "abandoned-after", cfg.AbandonedAfter, "age after which unfinished tasks are dropped (MCP_TASKS_ABANDONED_AFTER)")
	f.StringVar(&cfg.ResourcesDir, "resources-dir", cfg.ResourcesDir, "directory exposed as resources (MCP_TASKS_RESOURCES_DIR)")
	f.IntVar(&cfg.ShardIndex, "shard-index", cfg.ShardIndex, "background shard owned by this replica (MCP_TASKS_SHARD_INDEX)")
	f.IntVar(&cfg.ShardCount, "shard-count", cfg.ShardCount, "number of background shards (MCP_TASKS_SHARD_COUNT)")

	return cmd
}
