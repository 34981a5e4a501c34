package memoryhost

import (
	"context"
	"sort"
	"sync"

	"github.com/ggoodman/mcp-tasks-go/sessions"
)

// Host is an in-memory implementation of sessions.SessionHost.
type Host struct {
	mu       sync.RWMutex
	sessions map[string]*sessionData
}

type sessionData struct {
	mu      sync.Mutex
	values  map[string]map[string][]byte // kind -> name -> encoded value
	version uint64
	// changed is closed and replaced on every mutation; waiters grab the
	// current channel under mu and block on it.
	changed chan struct{}
	deleted bool
}

// New returns an empty Host.
func New() *Host {
	return &Host{sessions: make(map[string]*sessionData)}
}

// --- Lifecycle ---

func (h *Host) CreateSession(ctx context.Context, sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[sessionID]; ok {
		return nil
	}
	h.sessions[sessionID] = &sessionData{
		values:  make(map[string]map[string][]byte),
		changed: make(chan struct{}),
	}
	return nil
}

func (h *Host) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	return h.lookup(sessionID) != nil, nil
}

func (h *Host) DeleteSession(ctx context.Context, sessionID string) (bool, error) {
	h.mu.Lock()
	sd, ok := h.sessions[sessionID]
	if ok {
		delete(h.sessions, sessionID)
	}
	h.mu.Unlock()
	if !ok {
		return false, nil
	}
	// Wake any waiters so they observe the session is gone.
	sd.mu.Lock()
	sd.deleted = true
	sd.values = nil
	sd.bumpLocked()
	sd.mu.Unlock()
	return true, nil
}

func (h *Host) ListSessions(ctx context.Context, limit int, after string) ([]string, error) {
	h.mu.RLock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		if id > after {
			ids = append(ids, id)
		}
	}
	h.mu.RUnlock()
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// --- Values ---

func (h *Host) GetValue(ctx context.Context, sessionID, kind, name string) ([]byte, bool, error) {
	sd := h.lookup(sessionID)
	if sd == nil {
		return nil, false, nil
	}
	sd.mu.Lock()
	defer sd.mu.Unlock()
	if sd.deleted {
		return nil, false, nil
	}
	v, ok := sd.values[kind][name]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (h *Host) SetValue(ctx context.Context, sessionID, kind, name string, value []byte) (bool, error) {
	return h.ComputeValue(ctx, sessionID, kind, name, func([]byte, bool) ([]byte, bool, error) {
		return value, true, nil
	})
}

func (h *Host) DeleteValue(ctx context.Context, sessionID, kind, name string) (bool, error) {
	sd := h.lookup(sessionID)
	if sd == nil {
		return false, nil
	}
	sd.mu.Lock()
	defer sd.mu.Unlock()
	if sd.deleted {
		return false, nil
	}
	if _, ok := sd.values[kind][name]; !ok {
		return false, nil
	}
	sd.removeLocked(kind, name)
	sd.bumpLocked()
	return true, nil
}

func (h *Host) ComputeValue(ctx context.Context, sessionID, kind, name string, fn sessions.ComputeFunc) (bool, error) {
	sd := h.lookup(sessionID)
	if sd == nil {
		return false, nil
	}
	sd.mu.Lock()
	defer sd.mu.Unlock()
	if sd.deleted {
		return false, nil
	}
	cur, ok := sd.values[kind][name]
	if ok {
		cur = append([]byte(nil), cur...)
	}
	next, keep, err := fn(cur, ok)
	if err != nil {
		return true, err
	}
	switch {
	case keep:
		m := sd.values[kind]
		if m == nil {
			m = make(map[string][]byte)
			sd.values[kind] = m
		}
		m[name] = append([]byte(nil), next...)
	case ok:
		sd.removeLocked(kind, name)
	default:
		// absent and still absent: nothing changed
		return true, nil
	}
	sd.bumpLocked()
	return true, nil
}

func (h *Host) ListValues(ctx context.Context, sessionID, kind string, limit int, after string) ([]sessions.RawEntry, error) {
	sd := h.lookup(sessionID)
	if sd == nil {
		return nil, nil
	}
	sd.mu.Lock()
	if sd.deleted {
		sd.mu.Unlock()
		return nil, nil
	}
	out := make([]sessions.RawEntry, 0, len(sd.values[kind]))
	for name, v := range sd.values[kind] {
		if name > after {
			out = append(out, sessions.RawEntry{Name: name, Value: append([]byte(nil), v...)})
		}
	}
	sd.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Change tracking ---

func (h *Host) Version(ctx context.Context, sessionID string) (uint64, bool, error) {
	sd := h.lookup(sessionID)
	if sd == nil {
		return 0, false, nil
	}
	sd.mu.Lock()
	defer sd.mu.Unlock()
	if sd.deleted {
		return 0, false, nil
	}
	return sd.version, true, nil
}

func (h *Host) AwaitChange(ctx context.Context, sessionID string, since uint64) error {
	sd := h.lookup(sessionID)
	if sd == nil {
		return nil
	}
	sd.mu.Lock()
	if sd.deleted || sd.version != since {
		sd.mu.Unlock()
		return nil
	}
	ch := sd.changed
	sd.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}

// --- Helpers ---

func (h *Host) lookup(sessionID string) *sessionData {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[sessionID]
}

func (sd *sessionData) removeLocked(kind, name string) {
	m := sd.values[kind]
	delete(m, name)
	if len(m) == 0 {
		delete(sd.values, kind)
	}
}

func (sd *sessionData) bumpLocked() {
	sd.version++
	close(sd.changed)
	sd.changed = make(chan struct{})
}

// Ensure interface compliance
var _ sessions.SessionHost = (*Host)(nil)
