package sessions

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// Get reads the value at key. ok is false when either the session or the key
// does not exist.
func Get[T any](ctx context.Context, h SessionHost, sessionID string, key Key[T]) (T, bool, error) {
	var zero T
	b, ok, err := h.GetValue(ctx, sessionID, key.kind, key.name)
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := decode[T](b)
	if err != nil {
		return zero, false, errors.Wrapf(err, "get %s", key)
	}
	return v, true, nil
}

// Set writes value at key. found is false when the session does not exist.
func Set[T any](ctx context.Context, h SessionHost, sessionID string, key Key[T], value T) (bool, error) {
	b, err := encode(value)
	if err != nil {
		return false, errors.Wrapf(err, "set %s", key)
	}
	return h.SetValue(ctx, sessionID, key.kind, key.name, b)
}

// Delete removes the value at key, reporting whether something was removed.
func Delete[T any](ctx context.Context, h SessionHost, sessionID string, key Key[T]) (bool, error) {
	return h.DeleteValue(ctx, sessionID, key.kind, key.name)
}

// Compute atomically replaces the value at key with the output of fn.
//
// fn receives the current value (ok=false when absent) and returns the next
// value, whether to keep it (false deletes the key) and a result that Compute
// hands back to the caller. found is false when the session does not exist,
// in which case fn's result is the zero R.
//
// fn may run more than once when a distributed host retries after a
// conflicting write; only the result of the committed run is returned.
func Compute[T, R any](ctx context.Context, h SessionHost, sessionID string, key Key[T], fn func(cur T, ok bool) (next T, keep bool, result R)) (R, bool, error) {
	var result R
	found, err := h.ComputeValue(ctx, sessionID, key.kind, key.name, func(cur []byte, ok bool) ([]byte, bool, error) {
		var v T
		if ok {
			dv, err := decode[T](cur)
			if err != nil {
				return nil, false, err
			}
			v = dv
		}
		next, keep, r := fn(v, ok)
		result = r
		if !keep {
			return nil, false, nil
		}
		b, err := encode(next)
		if err != nil {
			return nil, false, err
		}
		return b, true, nil
	})
	if err != nil {
		var zero R
		return zero, false, errors.Wrapf(err, "compute %s", key)
	}
	if !found {
		var zero R
		return zero, false, nil
	}
	return result, true, nil
}

// List returns up to pageSize values of kind ordered by name, strictly after
// cursor. A page shorter than pageSize is the last one.
func List[T any](ctx context.Context, h SessionHost, sessionID string, kind Kind[T], pageSize int, cursor string) ([]Entry[T], error) {
	raw, err := h.ListValues(ctx, sessionID, kind.name, pageSize, cursor)
	if err != nil {
		return nil, err
	}
	out := make([]Entry[T], 0, len(raw))
	for _, e := range raw {
		v, err := decode[T](e.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "list %s/%s", kind.name, e.Name)
		}
		out = append(out, Entry[T]{Name: e.Name, Value: v})
	}
	return out, nil
}

// WaitCondition evaluates fn and, until it reports ok, re-evaluates it every
// time any value in the session changes. It returns ok=false without error
// when timeout elapses or the session disappears. A non-positive timeout
// waits until ctx ends.
func WaitCondition[T any](ctx context.Context, h SessionHost, sessionID string, timeout time.Duration, fn func(ctx context.Context) (T, bool, error)) (T, bool, error) {
	var zero T
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	timedOut := func() bool {
		return ctx.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded)
	}

	for {
		// Read the counter before evaluating so a change that lands between
		// evaluation and AwaitChange is not missed.
		ver, ok, err := h.Version(waitCtx, sessionID)
		if err != nil {
			if timedOut() {
				return zero, false, nil
			}
			return zero, false, err
		}
		if !ok {
			return zero, false, nil
		}
		v, ok, err := fn(waitCtx)
		if err != nil {
			return zero, false, err
		}
		if ok {
			return v, true, nil
		}
		if err := h.AwaitChange(waitCtx, sessionID, ver); err != nil {
			if timedOut() {
				return zero, false, nil
			}
			return zero, false, err
		}
	}
}
