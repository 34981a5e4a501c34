package tasks

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ggoodman/mcp-tasks-go/internal/logctx"
	"github.com/ggoodman/mcp-tasks-go/internal/telemetry"
	"github.com/ggoodman/mcp-tasks-go/sessions"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const reaperPageSize = 100

// Reaper periodically deletes tasks that outlived their TTL after completing,
// and tasks that never completed within the abandonment threshold.
type Reaper struct {
	ctrl           *Controller
	interval       time.Duration
	defaultTTL     time.Duration
	abandonedAfter time.Duration
	concurrency    int
	shard          sessions.Shard
	log            *slog.Logger
	metrics        telemetry.MetricsSink
	tracer         trace.Tracer
}

// ReaperOption configures a Reaper.
type ReaperOption func(*Reaper)

func WithReaperInterval(d time.Duration) ReaperOption {
	return func(r *Reaper) { r.interval = d }
}

// WithDefaultTTL applies to completed tasks created without a TTL.
func WithDefaultTTL(d time.Duration) ReaperOption {
	return func(r *Reaper) { r.defaultTTL = d }
}

func WithAbandonedAfter(d time.Duration) ReaperOption {
	return func(r *Reaper) { r.abandonedAfter = d }
}

// WithReaperConcurrency bounds how many sessions are swept in parallel.
func WithReaperConcurrency(n int) ReaperOption {
	return func(r *Reaper) { r.concurrency = n }
}

// WithReaperShard restricts the reaper to one shard of the session space.
func WithReaperShard(s sessions.Shard) ReaperOption {
	return func(r *Reaper) { r.shard = s }
}

func WithReaperLogger(l *slog.Logger) ReaperOption {
	return func(r *Reaper) { r.log = l }
}

func WithReaperTracer(t trace.Tracer) ReaperOption {
	return func(r *Reaper) { r.tracer = t }
}

// NewReaper builds a Reaper that deletes through ctrl. Metrics are shared
// with the controller.
func NewReaper(ctrl *Controller, opts ...ReaperOption) *Reaper {
	r := &Reaper{
		ctrl:           ctrl,
		interval:       time.Minute,
		defaultTTL:     time.Hour,
		abandonedAfter: 24 * time.Hour,
		concurrency:    8,
		log:            ctrl.log,
		metrics:        ctrl.metrics,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.concurrency <= 0 {
		r.concurrency = 1
	}
	return r
}

// SweepStats summarises one sweep.
type SweepStats struct {
	Sessions  int64
	Expired   int64
	Abandoned int64
	Failed    int64
}

// Run sweeps on every interval until ctx ends.
func (r *Reaper) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.log.ErrorContext(ctx, "tasks.reaper.sweep.fail", slog.Any("err", err))
			}
		}
	}
}

// Sweep scans every owned session once. Failures for one session are logged
// and counted without stopping the sweep.
func (r *Reaper) Sweep(ctx context.Context) (SweepStats, error) {
	ctx, span := telemetry.StartSpan(ctx, r.tracer, "tasks.Reaper.Sweep")
	start := time.Now()
	var stats SweepStats

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	err := sessions.ForEachSession(gctx, r.ctrl.host, reaperPageSize, func(sid string) error {
		if !r.shard.Owns(sid) {
			return nil
		}
		atomic.AddInt64(&stats.Sessions, 1)
		g.Go(func() error {
			if err := r.sweepSession(gctx, sid, &stats); err != nil {
				atomic.AddInt64(&stats.Failed, 1)
				r.log.WarnContext(logctx.WithSessionData(gctx, &logctx.SessionData{SessionID: sid}), "tasks.reaper.session.fail", slog.Any("err", err))
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
		attribute.Int64("expired", stats.Expired),
		attribute.Int64("abandoned", stats.Abandoned),
	)
	telemetry.EndSpan(span, err)
	r.metrics.ObserveHistogram("tasks.reaper.sweep.seconds", time.Since(start).Seconds(), nil)
	r.log.InfoContext(ctx, "tasks.reaper.sweep",
		slog.Int64("sessions", stats.Sessions),
		slog.Int64("expired", stats.Expired),
		slog.Int64("abandoned", stats.Abandoned),
		slog.Int64("failed", stats.Failed),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()),
	)
	return stats, err
}

func (r *Reaper) sweepSession(ctx context.Context, sid string, stats *SweepStats) error {
	now := r.ctrl.now()
	cursor := ""
	for {
		page, err := sessions.List(ctx, r.ctrl.host, sid, taskKind, reaperPageSize, cursor)
		if err != nil {
			return err
		}
		for _, e := range page {
			reason := r.verdict(now, e.Value)
			if reason == "" {
				continue
			}
			if _, err := r.ctrl.Delete(ctx, sid, e.Name); err != nil {
				return err
			}
			if reason == "expired" {
				atomic.AddInt64(&stats.Expired, 1)
			} else {
				atomic.AddInt64(&stats.Abandoned, 1)
			}
			r.metrics.IncCounter("tasks.reaped", map[string]string{"reason": reason})
			r.log.DebugContext(ctx, "tasks.reaper.delete",
				slog.String("task_id", Combine(sid, e.Name)),
				slog.String("reason", reason),
			)
		}
		if len(page) < reaperPageSize {
			return nil
		}
		cursor = page[len(page)-1].Name
	}
}

// verdict returns "expired", "abandoned" or "" when the task should stay.
func (r *Reaper) verdict(now time.Time, rec Record) string {
	if rec.Result != nil {
		ttl := r.defaultTTL
		if rec.TTL != nil {
			ttl = *rec.TTL
		}
		if now.Sub(rec.Result.CompletedAt) >= ttl {
			return "expired"
		}
		return ""
	}
	if r.abandonedAfter > 0 && now.Sub(rec.CreatedAt) >= r.abandonedAfter {
		return "abandoned"
	}
	return ""
}
