// Package eventbus provides a small fan-out bus for audit events. Live
// observers (status endpoints, tests) subscribe without slowing down the
// producers; delivery is best-effort, the store-backed audit trail is
// written synchronously elsewhere.
package eventbus

import (
	"sync"

	"github.com/vlm-project/vlmcore/core/model"
)

// Bus fans audit entries out to subscribers. Publish never blocks: a
// subscriber whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   []chan model.AuditEntry
	closed bool
}

// New creates a new Bus.
func New() *Bus { return &Bus{} }

// Publish sends the entry to all subscribers. Delivery is non-blocking.
func (b *Bus) Publish(e model.AuditEntry) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe registers a new subscriber and returns its channel.
func (b *Bus) Subscribe() <-chan model.AuditEntry {
	ch := make(chan model.AuditEntry, 16)
	b.mu.Lock()
	if b.closed {
		close(ch)
	} else {
		b.subs = append(b.subs, ch)
	}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus) Unsubscribe(sub <-chan model.AuditEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, ch := range b.subs {
		if ch == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			if !b.closed {
				close(ch)
			}
			return
		}
	}
}

// Close closes all subscriber channels and clears the list.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
	b.mu.Unlock()
}
