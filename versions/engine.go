package versions

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/eapache/queue"
	"github.com/ggoodman/mcp-tasks-go/internal/logctx"
	"github.com/ggoodman/mcp-tasks-go/internal/telemetry"
	"github.com/ggoodman/mcp-tasks-go/mcp"
	"github.com/ggoodman/mcp-tasks-go/sessions"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// ErrResourceNotFound is returned when subscribing to an unknown resource.
var ErrResourceNotFound = errors.New("resource not found")

const defaultPageSize = 100

// Engine detects catalog changes per session by comparing content hashes with
// the versions each session last acknowledged, and reports the differences
// through a Sink.
type Engine struct {
	host   sessions.SessionHost
	source Source
	sink   Sink

	interval    time.Duration
	pageSize    int
	concurrency int
	shard       sessions.Shard
	trigger     <-chan struct{}

	log     *slog.Logger
	metrics telemetry.MetricsSink
	tracer  trace.Tracer

	cache cache
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

// WithMetrics sets the sink for tick and notification metrics.
func WithMetrics(m telemetry.MetricsSink) Option { return func(e *Engine) { e.metrics = m } }

// WithTracer sets the tracer used for tick spans.
func WithTracer(t trace.Tracer) Option { return func(e *Engine) { e.tracer = t } }

// WithInterval sets the reconciliation cadence. Keep it well below any
// session inactivity timeout.
func WithInterval(d time.Duration) Option { return func(e *Engine) { e.interval = d } }

// WithPageSize bounds how many sessions, and how many subscriptions of one
// session, are read per store call.
func WithPageSize(n int) Option { return func(e *Engine) { e.pageSize = n } }

// WithConcurrency bounds how many sessions are reconciled in parallel.
func WithConcurrency(n int) Option { return func(e *Engine) { e.concurrency = n } }

// WithShard restricts the engine to one shard of the session space.
func WithShard(s sessions.Shard) Option { return func(e *Engine) { e.shard = s } }

// WithTrigger makes Run tick early whenever the channel fires.
func WithTrigger(ch <-chan struct{}) Option { return func(e *Engine) { e.trigger = ch } }

// NewEngine builds an Engine.
func NewEngine(host sessions.SessionHost, source Source, sink Sink, opts ...Option) *Engine {
	e := &Engine{
		host:        host,
		source:      source,
		sink:        sink,
		interval:    5 * time.Second,
		pageSize:    defaultPageSize,
		concurrency: 8,
		log:         slog.Default(),
		metrics:     telemetry.Nop{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.pageSize <= 0 {
		e.pageSize = defaultPageSize
	}
	if e.concurrency <= 0 {
		e.concurrency = 1
	}
	return e
}

// Run ticks on the configured interval, and on every trigger, until ctx ends.
func (e *Engine) Run(ctx context.Context) error {
	t := time.NewTicker(e.interval)
	defer t.Stop()
	for {
		if _, err := e.Tick(ctx); err != nil && ctx.Err() == nil {
			e.log.ErrorContext(ctx, "versions.tick.fail", slog.Any("err", err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		case <-e.trigger:
		}
	}
}

// TickStats summarises one tick.
type TickStats struct {
	Sessions      int64
	Notifications int64
	Failed        int64
}

// Tick rebuilds the hash snapshot and reconciles every owned session once.
// A failing session is logged and counted; the tick carries on.
func (e *Engine) Tick(ctx context.Context) (TickStats, error) {
	ctx, span := telemetry.StartSpan(ctx, e.tracer, "versions.Engine.Tick")
	start := time.Now()
	var stats TickStats

	e.refresh(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	err := sessions.ForEachSession(gctx, e.host, e.pageSize, func(sid string) error {
		if !e.shard.Owns(sid) {
			return nil
		}
		atomic.AddInt64(&stats.Sessions, 1)
		g.Go(func() error {
			n, err := e.ReconcileSession(gctx, sid)
			atomic.AddInt64(&stats.Notifications, int64(n))
			if err != nil {
				atomic.AddInt64(&stats.Failed, 1)
				e.log.WarnContext(logctx.WithSessionData(gctx, &logctx.SessionData{SessionID: sid}), "versions.session.fail", slog.Any("err", err))
			}
			return nil
		})
		return nil
	})
	if werr := g.Wait(); err == nil {
		err = werr
	}

	span.SetAttributes(
		attribute.Int64("sessions", stats.Sessions),
		attribute.Int64("notifications", stats.Notifications),
	)
	telemetry.EndSpan(span, err)
	e.metrics.ObserveHistogram("versions.tick.seconds", time.Since(start).Seconds(), nil)
	e.log.DebugContext(ctx, "versions.tick.done",
		slog.Int64("sessions", stats.Sessions),
		slog.Int64("notifications", stats.Notifications),
		slog.Int64("failed", stats.Failed),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()),
	)
	return stats, err
}

func (e *Engine) refresh(ctx context.Context) *snapshot {
	s := buildSnapshot(ctx, e.source, e.cache.current(), e.log)
	e.cache.swap(s)
	return s
}

func (e *Engine) snapshot(ctx context.Context) *snapshot {
	if s := e.cache.current(); s != nil {
		return s
	}
	return e.refresh(ctx)
}

// ReconcileSession compares one session's recorded versions with the
// current snapshot, advances them, and then delivers the resulting
// notifications: list changes first, resource updates after. It returns the
// number of notifications delivered.
func (e *Engine) ReconcileSession(ctx context.Context, sessionID string) (int, error) {
	snap := e.snapshot(ctx)
	pending := queue.New()

	if err := e.reconcileLists(ctx, sessionID, snap, pending); err != nil {
		return 0, err
	}
	if err := e.reconcileResources(ctx, sessionID, snap, pending); err != nil {
		// Deliver what was already committed before reporting.
		return e.flush(ctx, sessionID, pending), err
	}
	return e.flush(ctx, sessionID, pending), nil
}

func (e *Engine) reconcileLists(ctx context.Context, sid string, snap *snapshot, pending *queue.Queue) error {
	fresh := snap.lists
	stored, ok, err := sessions.Get(ctx, e.host, sid, systemListVersionsKey)
	if err != nil {
		return errors.Wrap(err, "read list versions")
	}
	if ok && len(changedLists(stored, fresh)) == 0 {
		return nil
	}

	changed, _, err := sessions.Compute(ctx, e.host, sid, systemListVersionsKey, func(cur SystemListVersions, ok bool) (SystemListVersions, bool, []mcp.Method) {
		if !ok {
			// First sighting: record silently.
			return fresh, true, nil
		}
		return mergeLists(cur, fresh), true, changedLists(cur, fresh)
	})
	if err != nil {
		return errors.Wrap(err, "advance list versions")
	}
	for _, m := range changed {
		pending.Add(Notification{Method: m})
	}
	return nil
}

// changedLists returns the notification methods for lists whose known fresh
// hash differs from the stored one. Resources and resource templates share
// one notification.
func changedLists(stored, fresh SystemListVersions) []mcp.Method {
	differs := func(s, f string) bool { return f != "" && s != f }
	var out []mcp.Method
	if differs(stored.Tools, fresh.Tools) {
		out = append(out, mcp.ToolsListChangedNotificationMethod)
	}
	if differs(stored.Prompts, fresh.Prompts) {
		out = append(out, mcp.PromptsListChangedNotificationMethod)
	}
	if differs(stored.Resources, fresh.Resources) || differs(stored.ResourceTemplates, fresh.ResourceTemplates) {
		out = append(out, mcp.ResourcesListChangedNotificationMethod)
	}
	return out
}

func mergeLists(stored, fresh SystemListVersions) SystemListVersions {
	pick := func(s, f string) string {
		if f == "" {
			return s
		}
		return f
	}
	return SystemListVersions{
		Tools:             pick(stored.Tools, fresh.Tools),
		Prompts:           pick(stored.Prompts, fresh.Prompts),
		Resources:         pick(stored.Resources, fresh.Resources),
		ResourceTemplates: pick(stored.ResourceTemplates, fresh.ResourceTemplates),
	}
}

func (e *Engine) reconcileResources(ctx context.Context, sid string, snap *snapshot, pending *queue.Queue) error {
	cursor := ""
	for {
		page, err := sessions.List(ctx, e.host, sid, resourceVersionKind, e.pageSize, cursor)
		if err != nil {
			return errors.Wrap(err, "list subscriptions")
		}
		for _, sub := range page {
			uri := sub.Name
			// A deleted resource hashes to "" and is reported once; the
			// subscription stays so a reappearance is reported too.
			h, _, err := snap.resourceHash(ctx, uri)
			if err != nil {
				e.metrics.IncCounter("versions.resource.fail", nil)
				e.log.WarnContext(ctx, "versions.resource.fail", slog.String("uri", uri), slog.Any("err", err))
				continue
			}
			if sub.Value.Version == h {
				continue
			}
			updated, _, err := sessions.Compute(ctx, e.host, sid, resourceVersionKind.Key(uri), func(cur ResourceVersion, ok bool) (ResourceVersion, bool, bool) {
				if !ok {
					// Unsubscribed meanwhile.
					return cur, false, false
				}
				if cur.Version == h {
					return cur, true, false
				}
				return ResourceVersion{Version: h}, true, true
			})
			if err != nil {
				e.log.WarnContext(ctx, "versions.resource.advance.fail", slog.String("uri", uri), slog.Any("err", err))
				continue
			}
			if updated {
				pending.Add(Notification{Method: mcp.ResourcesUpdatedNotificationMethod, URI: uri})
			}
		}
		if len(page) < e.pageSize {
			return nil
		}
		cursor = page[len(page)-1].Name
	}
}

func (e *Engine) flush(ctx context.Context, sid string, pending *queue.Queue) int {
	sent := 0
	for pending.Length() > 0 {
		n := pending.Remove().(Notification)
		if err := e.sink.Notify(ctx, sid, n); err != nil {
			e.log.WarnContext(ctx, "versions.notify.fail", slog.String("method", string(n.Method)), slog.Any("err", err))
			continue
		}
		sent++
		e.metrics.IncCounter("versions.notifications", map[string]string{"method": string(n.Method)})
	}
	return sent
}

// InitializeSessionVersions records the current list hashes for a new
// session so it is not told about changes that predate it. It returns false
// when the session does not exist.
func (e *Engine) InitializeSessionVersions(ctx context.Context, sessionID string) (bool, error) {
	snap := e.snapshot(ctx)
	found, err := sessions.Set(ctx, e.host, sessionID, systemListVersionsKey, snap.lists)
	if err != nil {
		return false, errors.Wrap(err, "initialize list versions")
	}
	return found, nil
}

// Subscribe starts tracking uri for the session, recording its current hash
// so only later changes are reported. The hash is read from the source, not
// the last tick's snapshot. Unknown resources yield ErrResourceNotFound; a
// missing session yields false.
func (e *Engine) Subscribe(ctx context.Context, sessionID, uri string) (bool, error) {
	h, exists, err := e.snapshot(ctx).rehash(ctx, uri)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, errors.Wrapf(ErrResourceNotFound, "%q", uri)
	}
	found, err := sessions.Set(ctx, e.host, sessionID, resourceVersionKind.Key(uri), ResourceVersion{Version: h})
	if err != nil {
		return false, errors.Wrap(err, "subscribe")
	}
	return found, nil
}

// Unsubscribe stops tracking uri for the session. It reports whether a
// subscription existed.
func (e *Engine) Unsubscribe(ctx context.Context, sessionID, uri string) (bool, error) {
	deleted, err := sessions.Delete(ctx, e.host, sessionID, resourceVersionKind.Key(uri))
	if err != nil {
		return false, errors.Wrap(err, "unsubscribe")
	}
	return deleted, nil
}
