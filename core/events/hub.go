package events

import "sync"

// Hub broadcasts events to any number of subscribers. Slow subscribers lose
// events rather than blocking the emitter.
type Hub struct {
	mu     sync.RWMutex
	next   uint64
	subs   map[uint64]chan Event
	buffer int
}

// NewHub creates a hub whose subscriber channels hold buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{subs: make(map[uint64]chan Event), buffer: buffer}
}

// Emit implements Emitter.
func (h *Hub) Emit(evt Event) {
	if h == nil || evt == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribe registers a new listener. The returned function unsubscribes and
// closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	ch := make(chan Event, h.buffer)
	h.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(ch)
			h.mu.Unlock()
		})
	}
}

// Subscribers returns the number of active listeners.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
