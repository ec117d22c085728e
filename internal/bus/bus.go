package bus

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Bus fans store and session notifications out to subscribers, filtered by
// kind prefix. A nil *Bus is valid and discards everything.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]*subscription
	next    int
	closed  bool
	dropped atomic.Int64
}

type subscription struct {
	namespace string
	ch        chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*subscription)}
}

// Publish delivers evt to every subscriber whose namespace prefixes evt.Kind.
// It never blocks: a full subscriber misses the event.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.namespace) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// Emit is shorthand for Publish(NewEvent(kind, payload)).
func (b *Bus) Emit(kind string, payload any) {
	b.Publish(NewEvent(kind, payload))
}

// Subscribe returns a channel receiving events under namespace and a function
// that detaches it. The channel is closed on unsubscribe or Close.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	if b == nil {
		close(ch)
		return ch, func() {}
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespace: namespace, ch: ch}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub.ch)
			}
		})
	}
}

// Subscribers reports how many subscriptions are attached.
func (b *Bus) Subscribers() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() int64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}

// Close detaches and closes every subscription. Later publishes are no-ops.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}
