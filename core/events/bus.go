package events

import "sync"

// busBuffer bounds the number of undelivered events held per subscriber before
// the bus starts dropping the oldest ones.
const busBuffer = 64

// Bus is an in-process emitter that fans events out to channel subscribers.
// Slow subscribers lose the oldest buffered events rather than blocking the
// emitting engine.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan Event
}

// NewBus constructs an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]chan Event)}
}

// Emit implements the Emitter interface.
func (b *Bus) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- evt:
			default:
			}
		}
	}
}

// Subscribe registers a new subscriber and returns its channel together with a
// cancel function that must be called when the subscriber is done.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, busBuffer)
	b.subs[id] = ch
	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
	}
	return ch, cancel
}
