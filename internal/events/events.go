// Package events implements the observable stateChange stream (§6):
// a single broadcast topic owned by the manager that subscribers (the
// event-stream publisher, admin SSE endpoints, tests) can tail. This
// generalizes the teacher's single-listener EventPublisher/noopPublisher
// pair in internal/manager into a real multi-subscriber broadcaster.
package events

import "sync"

// StateChange is one lifecycle transition record.
type StateChange struct {
	ModelID   string
	Old       string
	New       string
	UnixNano  int64
}

// Bus is a broadcast channel of StateChange records. The zero value is
// not usable; construct with NewBus.
type Bus struct {
	mu   sync.Mutex
	subs map[chan StateChange]struct{}
}

// NewBus constructs an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[chan StateChange]struct{})}
}

// Subscribe registers a new subscriber and returns its channel and an
// unsubscribe function. The channel is buffered so a slow subscriber
// cannot block a state transition; if its buffer fills, the oldest
// unread event is dropped rather than stalling the publisher.
func (b *Bus) Subscribe(buffer int) (<-chan StateChange, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan StateChange, buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, unsubscribe
}

// Publish broadcasts ev to every current subscriber, non-blockingly.
func (b *Bus) Publish(ev StateChange) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Drop the oldest queued event to make room, then retry once.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}
