package redishost

import (
	"context"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ggoodman/mcp-tasks-go/sessions"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// Config for Redis-backed SessionHost. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: SESSIONS_KEY_PREFIX
	KeyPrefix string `env:"SESSIONS_KEY_PREFIX,default=mcp:sessions:"`
	// ComputeRetries bounds optimistic retries of ComputeValue. ENV: SESSIONS_COMPUTE_RETRIES
	ComputeRetries int `env:"SESSIONS_COMPUTE_RETRIES,default=32"`
	// WakeupPoll is the fallback re-check period for AwaitChange when a
	// pub/sub wakeup is missed. ENV: SESSIONS_WAKEUP_POLL
	WakeupPoll time.Duration `env:"SESSIONS_WAKEUP_POLL,default=500ms"`
}

type Host struct {
	client     redis.UniversalClient
	keyPrefix  string
	retries    int
	wakeupPoll time.Duration
	ownsClient bool
}

// Option configures a Host built with NewWithClient.
type Option func(*Host)

// WithKeyPrefix sets the prefix applied to every key and channel.
func WithKeyPrefix(prefix string) Option { return func(h *Host) { h.keyPrefix = prefix } }

// WithComputeRetries bounds optimistic retries of ComputeValue.
func WithComputeRetries(n int) Option { return func(h *Host) { h.retries = n } }

// WithWakeupPoll sets the fallback re-check period of AwaitChange.
func WithWakeupPoll(d time.Duration) Option { return func(h *Host) { h.wakeupPoll = d } }

func New(cfg Config) (*Host, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		_ = cl.Close()
		return nil, errors.Wrap(err, "redis ping")
	}
	opts := []Option{WithKeyPrefix(cfg.KeyPrefix), WithComputeRetries(cfg.ComputeRetries), WithWakeupPoll(cfg.WakeupPoll)}
	h := NewWithClient(cl, opts...)
	h.ownsClient = true
	return h, nil
}

// NewFromEnv builds a Host using envdecode to populate Config.
func NewFromEnv() (*Host, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, errors.Wrap(err, "decode redis host config")
	}
	return New(cfg)
}

// NewWithClient wraps an existing client. The caller keeps ownership of it.
func NewWithClient(client redis.UniversalClient, opts ...Option) *Host {
	h := &Host{client: client}
	for _, opt := range opts {
		opt(h)
	}
	if h.keyPrefix == "" {
		h.keyPrefix = "mcp:sessions:"
	}
	if h.retries <= 0 {
		h.retries = 32
	}
	if h.wakeupPoll <= 0 {
		h.wakeupPoll = 500 * time.Millisecond
	}
	return h
}

// Close closes the Redis client if the Host created it.
func (h *Host) Close() error {
	if !h.ownsClient {
		return nil
	}
	return h.client.Close()
}

// --- Key helpers ---
//
// Every per-session key starts with <len(sid)>{<sid>}: so that the session id
// can be recovered unambiguously whatever characters it contains, and so all
// keys of one session share a cluster hash slot (WATCH spans several of them).

func (h *Host) sessionBase(sessionID string) string {
	return h.keyPrefix + strconv.Itoa(len(sessionID)) + "{" + sessionID + "}:"
}
func (h *Host) sessionsIndexKey() string           { return h.keyPrefix + "sessions" }
func (h *Host) sessionKey(sessionID string) string { return h.sessionBase(sessionID) + "session" }
func (h *Host) versionKey(sessionID string) string { return h.sessionBase(sessionID) + "version" }
func (h *Host) kindsKey(sessionID string) string   { return h.sessionBase(sessionID) + "kinds" }
func (h *Host) changedChannel(sessionID string) string {
	return h.sessionBase(sessionID) + "changed"
}
func (h *Host) indexKey(sessionID, kind string) string {
	return h.sessionBase(sessionID) + "index:" + kind
}
func (h *Host) valueKey(sessionID, kind, name string) string {
	return h.sessionBase(sessionID) + "value:" + strconv.Itoa(len(kind)) + ":" + kind + ":" + name
}

// --- Lifecycle ---

func (h *Host) CreateSession(ctx context.Context, sessionID string) error {
	c := context.WithoutCancel(ctx)
	if err := h.client.SetNX(c, h.sessionKey(sessionID), time.Now().UTC().Format(time.RFC3339Nano), 0).Err(); err != nil {
		return errors.Wrap(err, "create session")
	}
	if err := h.client.ZAdd(c, h.sessionsIndexKey(), redis.Z{Member: sessionID}).Err(); err != nil {
		return errors.Wrap(err, "index session")
	}
	return nil
}

func (h *Host) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	n, err := h.client.Exists(ctx, h.sessionKey(sessionID)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (h *Host) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	// Deleting the session key first aborts in-flight WATCH transactions and
	// makes the scripts below refuse further writes.
	c := context.WithoutCancel(ctx)
	n, err := h.client.Del(c, h.sessionKey(sessionID)).Result()
	if err != nil {
		return false, errors.Wrap(err, "delete session")
	}
	_ = h.client.ZRem(c, h.sessionsIndexKey(), sessionID).Err()

	kinds, err := h.client.SMembers(c, h.kindsKey(sessionID)).Result()
	if err != nil {
		return n == 1, errors.Wrap(err, "list session kinds")
	}
	for _, kind := range kinds {
		if err := h.deleteKind(c, sessionID, kind); err != nil {
			return n == 1, err
		}
	}
	_, err = h.client.TxPipelined(c, func(pipe redis.Pipeliner) error {
		pipe.Del(c, h.kindsKey(sessionID), h.versionKey(sessionID))
		pipe.Publish(c, h.changedChannel(sessionID), "deleted")
		return nil
	})
	if err != nil {
		return n == 1, errors.Wrap(err, "finish session delete")
	}
	return n == 1, nil
}

func (h *Host) deleteKind(ctx context.Context, sessionID, kind string) error {
	idx := h.indexKey(sessionID, kind)
	for {
		names, err := h.client.ZRange(ctx, idx, 0, 99).Result()
		if err != nil {
			return errors.Wrapf(err, "list %s values", kind)
		}
		if len(names) == 0 {
			break
		}
		keys := make([]string, 0, len(names))
		members := make([]any, 0, len(names))
		for _, name := range names {
			keys = append(keys, h.valueKey(sessionID, kind, name))
			members = append(members, name)
		}
		if _, err := h.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, keys...)
			pipe.ZRem(ctx, idx, members...)
			return nil
		}); err != nil {
			return errors.Wrapf(err, "delete %s values", kind)
		}
	}
	return h.client.Del(ctx, idx).Err()
}

func (h *Host) ListSessions(ctx context.Context, limit int, after string) ([]string, error) {
	return h.client.ZRangeByLex(ctx, h.sessionsIndexKey(), lexRange(limit, after)).Result()
}

// --- Values ---

func (h *Host) GetValue(ctx context.Context, sessionID, kind, name string) ([]byte, bool, error) {
	var exists *redis.IntCmd
	var get *redis.StringCmd
	_, err := h.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		exists = pipe.Exists(ctx, h.sessionKey(sessionID))
		get = pipe.Get(ctx, h.valueKey(sessionID, kind, name))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, false, err
	}
	if exists.Val() == 0 {
		return nil, false, nil
	}
	b, err := get.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

var setScript = redis.NewScript(`
local session = KEYS[1]
local value = KEYS[2]
local index = KEYS[3]
local kinds = KEYS[4]
local version = KEYS[5]
if redis.call('EXISTS', session) == 0 then
  return 0
end
redis.call('SET', value, ARGV[1])
redis.call('ZADD', index, 0, ARGV[2])
redis.call('SADD', kinds, ARGV[3])
redis.call('INCR', version)
redis.call('PUBLISH', ARGV[4], 'set')
return 1
`)

func (h *Host) SetValue(ctx context.Context, sessionID, kind, name string, value []byte) (bool, error) {
	keys := []string{
		h.sessionKey(sessionID),
		h.valueKey(sessionID, kind, name),
		h.indexKey(sessionID, kind),
		h.kindsKey(sessionID),
		h.versionKey(sessionID),
	}
	res, err := setScript.Run(context.WithoutCancel(ctx), h.client, keys, value, name, kind, h.changedChannel(sessionID)).Int()
	if err != nil {
		return false, errors.Wrapf(err, "set %s/%s", kind, name)
	}
	return res == 1, nil
}

var deleteScript = redis.NewScript(`
local session = KEYS[1]
local value = KEYS[2]
local index = KEYS[3]
local version = KEYS[4]
if redis.call('EXISTS', session) == 0 then
  return 0
end
local n = redis.call('DEL', value)
if n == 1 then
  redis.call('ZREM', index, ARGV[1])
  redis.call('INCR', version)
  redis.call('PUBLISH', ARGV[2], 'delete')
end
return n
`)

func (h *Host) DeleteValue(ctx context.Context, sessionID, kind, name string) (bool, error) {
	keys := []string{
		h.sessionKey(sessionID),
		h.valueKey(sessionID, kind, name),
		h.indexKey(sessionID, kind),
		h.versionKey(sessionID),
	}
	res, err := deleteScript.Run(context.WithoutCancel(ctx), h.client, keys, name, h.changedChannel(sessionID)).Int()
	if err != nil {
		return false, errors.Wrapf(err, "delete %s/%s", kind, name)
	}
	return res == 1, nil
}

// fnError marks failures raised by the caller's compute function so they are
// not mistaken for transaction conflicts.
type fnError struct{ err error }

func (e fnError) Error() string { return e.err.Error() }
func (e fnError) Unwrap() error { return e.err }

func (h *Host) ComputeValue(ctx context.Context, sessionID, kind, name string, fn sessions.ComputeFunc) (bool, error) {
	sk := h.sessionKey(sessionID)
	vk := h.valueKey(sessionID, kind, name)

	var found bool
	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, sk).Result()
		if err != nil {
			return err
		}
		found = n == 1
		if !found {
			return nil
		}
		cur, err := tx.Get(ctx, vk).Bytes()
		ok := true
		if errors.Is(err, redis.Nil) {
			ok, cur = false, nil
		} else if err != nil {
			return err
		}
		next, keep, err := fn(cur, ok)
		if err != nil {
			return fnError{err}
		}
		if !keep && !ok {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if keep {
				pipe.Set(ctx, vk, next, 0)
				pipe.ZAdd(ctx, h.indexKey(sessionID, kind), redis.Z{Member: name})
				pipe.SAdd(ctx, h.kindsKey(sessionID), kind)
			} else {
				pipe.Del(ctx, vk)
				pipe.ZRem(ctx, h.indexKey(sessionID, kind), name)
			}
			pipe.Incr(ctx, h.versionKey(sessionID))
			pipe.Publish(ctx, h.changedChannel(sessionID), "compute")
			return nil
		})
		return err
	}

	for i := 0; i < h.retries; i++ {
		err := h.client.Watch(ctx, txf, sk, vk)
		if err == nil {
			return found, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		var fe fnError
		if errors.As(err, &fe) {
			return true, fe.err
		}
		return false, errors.Wrapf(err, "compute %s/%s", kind, name)
	}
	return false, errors.Wrapf(sessions.ErrComputeConflict, "compute %s/%s after %d attempts", kind, name, h.retries)
}

func (h *Host) ListValues(ctx context.Context, sessionID, kind string, limit int, after string) ([]sessions.RawEntry, error) {
	names, err := h.client.ZRangeByLex(ctx, h.indexKey(sessionID, kind), lexRange(limit, after)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", kind)
	}
	if len(names) == 0 {
		return nil, nil
	}
	keys := make([]string, len(names))
	for i, name := range names {
		keys[i] = h.valueKey(sessionID, kind, name)
	}
	vals, err := h.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", kind)
	}
	out := make([]sessions.RawEntry, 0, len(names))
	for i, v := range vals {
		// A value deleted between the index read and MGET shows up as nil.
		s, ok := v.(string)
		if !ok {
			continue
		}
		out = append(out, sessions.RawEntry{Name: names[i], Value: []byte(s)})
	}
	return out, nil
}

// --- Change tracking ---

func (h *Host) Version(ctx context.Context, sessionID string) (uint64, bool, error) {
	var exists *redis.IntCmd
	var ver *redis.StringCmd
	_, err := h.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		exists = pipe.Exists(ctx, h.sessionKey(sessionID))
		ver = pipe.Get(ctx, h.versionKey(sessionID))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, false, err
	}
	if exists.Val() == 0 {
		return 0, false, nil
	}
	v, err := ver.Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, true, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (h *Host) AwaitChange(ctx context.Context, sessionID string, since uint64) error {
	sub := h.client.Subscribe(ctx, h.changedChannel(sessionID))
	defer sub.Close()
	// Wait for the subscription to be confirmed before re-checking the
	// counter so a publish racing with the subscribe cannot be missed.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Wrap(err, "subscribe to session changes")
	}
	msgs := sub.Channel()
	ticker := time.NewTicker(h.wakeupPoll)
	defer ticker.Stop()

	for {
		v, ok, err := h.Version(ctx, sessionID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if !ok || v != since {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-msgs:
		case <-ticker.C:
		}
	}
}

// Interface compliance
var _ sessions.SessionHost = (*Host)(nil)

// --- Helpers ---

func lexRange(limit int, after string) *redis.ZRangeBy {
	r := &redis.ZRangeBy{Min: "-", Max: "+"}
	if after != "" {
		r.Min = "(" + after
	}
	if limit > 0 {
		r.Count = int64(limit)
	}
	return r
}
