package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ggoodman/mcp-tasks-go/internal/logctx"
	"github.com/ggoodman/mcp-tasks-go/internal/outbound"
	"github.com/ggoodman/mcp-tasks-go/internal/telemetry"
	"github.com/ggoodman/mcp-tasks-go/mcpservice"
	"github.com/ggoodman/mcp-tasks-go/sessions"
	"github.com/ggoodman/mcp-tasks-go/sessions/memoryhost"
	"github.com/ggoodman/mcp-tasks-go/sessions/redishost"
	"github.com/ggoodman/mcp-tasks-go/taskhttp"
	"github.com/ggoodman/mcp-tasks-go/tasks"
	"github.com/ggoodman/mcp-tasks-go/versions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const metricsNamespace = "mcp_tasks"

func newLogger(cfg Config) *slog.Logger {
	level, _ := cfg.level()
	return slog.New(logctx.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func openHost(ctx context.Context, cfg Config, log *slog.Logger) (sessions.SessionHost, func() error, error) {
	if cfg.Store == storeMemory {
		log.WarnContext(ctx, "store.memory", slog.String("note", "state is lost on restart and not shared between replicas"))
		return memoryhost.New(), func() error { return nil }, nil
	}
	host, err := redishost.New(cfg.Redis)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "connect redis at %s", cfg.Redis.RedisAddr)
	}
	log.InfoContext(ctx, "store.redis", slog.String("addr", cfg.Redis.RedisAddr), slog.String("prefix", cfg.Redis.KeyPrefix))
	return host, host.Close, nil
}

func newCatalog(cfg Config, log *slog.Logger) *mcpservice.Catalog {
	opts := []mcpservice.CatalogOption{mcpservice.WithTools(builtinTools())}
	if cfg.ResourcesDir != "" {
		opts = append(opts, mcpservice.WithResourceProvider(mcpservice.NewFSResources(
			mcpservice.WithOSDir(cfg.ResourcesDir),
			mcpservice.WithFSLogger(log),
		)))
	}
	return mcpservice.NewCatalog(opts...)
}

// serve runs the HTTP server and the background workers until ctx ends or
// one of them fails.
func serve(ctx context.Context, cfg Config) error {
	log := newLogger(cfg)
	slog.SetDefault(log)

	host, closeHost, err := openHost(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeHost(); err != nil {
			log.WarnContext(ctx, "store.close.fail", slog.Any("err", err))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewPrometheusSink(metricsNamespace, reg)
	tracer := telemetry.Tracer()
	shard := sessions.Shard{Index: cfg.ShardIndex, Count: cfg.ShardCount}

	ctrl := tasks.NewController(host, tasks.WithLogger(log), tasks.WithMetrics(metrics))
	catalog := newCatalog(cfg, log)
	outbox := outbound.NewOutbox(host, outbound.WithOutboxLogger(log))
	engine := versions.NewEngine(host, catalog, outbox,
		versions.WithLogger(log),
		versions.WithMetrics(metrics),
		versions.WithTracer(tracer),
		versions.WithInterval(cfg.ReconcileInterval),
		versions.WithShard(shard),
		versions.WithTrigger(catalog.Subscriber()),
	)
	reaper := tasks.NewReaper(ctrl,
		tasks.WithReaperInterval(cfg.CleanupInterval),
		tasks.WithDefaultTTL(cfg.DefaultTTL),
		tasks.WithAbandonedAfter(cfg.AbandonedAfter),
		tasks.WithReaperShard(shard),
		tasks.WithReaperLogger(log),
		tasks.WithReaperTracer(tracer),
	)

	g, gctx := errgroup.WithContext(ctx)
	handler := taskhttp.New(ctrl, engine, catalog, outbox,
		taskhttp.WithLogger(log),
		taskhttp.WithBaseContext(gctx),
	)

	mux := http.NewServeMux()
	mux.Handle("/mcp", handler)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error { return catalog.Run(gctx) })
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error { return reaper.Run(gctx) })
	g.Go(func() error {
		log.InfoContext(gctx, "http.listen",
			slog.String("addr", cfg.Addr),
			slog.String("store", cfg.Store),
			slog.Int("shard_index", shard.Index),
			slog.Int("shard_count", shard.Count),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		if werr := handler.Wait(sctx); werr != nil {
			err = errors.CombineErrors(err, errors.Wrap(werr, "wait for running tasks"))
		}
		log.InfoContext(sctx, "http.shutdown", slog.Any("err", err))
		return err
	})

	return g.Wait()
}
