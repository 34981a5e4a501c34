package sessions

import (
	"context"

	"github.com/cockroachdb/errors"
)

// ErrSessionNotFound is returned by operations that cannot report a missing
// session through a boolean, such as task creation. Host methods themselves
// never return it.
var ErrSessionNotFound = errors.New("session not found")

// ErrComputeConflict is returned by distributed hosts when an atomic compute
// could not be committed after exhausting its retry budget.
var ErrComputeConflict = errors.New("session value compute conflict")

// RawEntry is a single named value of one kind, as stored by a host.
type RawEntry struct {
	Name  string
	Value []byte
}

// ComputeFunc transforms the current encoded value of a key. It receives
// ok=false when the key is absent. Returning keep=false deletes the key.
// Distributed hosts may invoke it more than once for a single ComputeValue
// call, so it must not have side effects.
type ComputeFunc func(cur []byte, ok bool) (next []byte, keep bool, err error)

// SessionHost is the persistence contract behind the session value store.
// Values are scoped by session id and addressed by (kind, name). Every
// mutating method touches exactly one key atomically and advances the
// session's change counter.
//
// A missing or expired session is never an error: methods report it through
// their boolean result (found / ok / deleted) so callers can treat a
// concurrently reaped session as an ordinary outcome.
type SessionHost interface {
	// Lifecycle.
	CreateSession(ctx context.Context, sessionID string) error
	SessionExists(ctx context.Context, sessionID string) (bool, error)
	DeleteSession(ctx context.Context, sessionID string) (bool, error)
	// ListSessions returns up to limit session ids in ascending order,
	// strictly after the given cursor ("" starts from the beginning).
	ListSessions(ctx context.Context, limit int, after string) ([]string, error)

	// Values.
	GetValue(ctx context.Context, sessionID, kind, name string) ([]byte, bool, error)
	SetValue(ctx context.Context, sessionID, kind, name string, value []byte) (found bool, err error)
	DeleteValue(ctx context.Context, sessionID, kind, name string) (deleted bool, err error)
	ComputeValue(ctx context.Context, sessionID, kind, name string, fn ComputeFunc) (found bool, err error)
	// ListValues returns up to limit entries of one kind ordered by name,
	// strictly after the given cursor.
	ListValues(ctx context.Context, sessionID, kind string, limit int, after string) ([]RawEntry, error)

	// Change tracking.
	// Version returns the session's change counter; ok is false when the
	// session does not exist.
	Version(ctx context.Context, sessionID string) (version uint64, ok bool, err error)
	// AwaitChange blocks until the counter differs from since, the session
	// is gone, or ctx ends (returning ctx.Err()).
	AwaitChange(ctx context.Context, sessionID string, since uint64) error
}
