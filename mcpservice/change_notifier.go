package mcpservice

import "sync"

// ChangeNotifier is an in-process fan-out of "something changed" signals.
// Signals are coalesced: a subscriber that has not yet consumed the previous
// signal does not get a second one.
type ChangeNotifier struct {
	mu     sync.Mutex
	subs   []chan struct{}
	closed bool
}

// ChangeSubscriber is implemented by catalog parts that can signal changes.
type ChangeSubscriber interface {
	Subscriber() <-chan struct{}
}

// Notify signals every subscriber without blocking.
func (cn *ChangeNotifier) Notify() {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	if cn.closed {
		return
	}
	for _, ch := range cn.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscriber returns a new channel that receives a value after each Notify.
// After Close the channel is closed.
func (cn *ChangeNotifier) Subscriber() <-chan struct{} {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	ch := make(chan struct{}, 1)
	if cn.closed {
		close(ch)
		return ch
	}
	cn.subs = append(cn.subs, ch)
	return ch
}

// Close closes every subscriber channel. Further Notify calls are no-ops.
func (cn *ChangeNotifier) Close() {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	if cn.closed {
		return
	}
	cn.closed = true
	for _, ch := range cn.subs {
		close(ch)
	}
	cn.subs = nil
}
