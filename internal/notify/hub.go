package notify

import (
	"sync"

	"go.uber.org/zap"
)

// Hub delivers events to in-process subscribers over buffered channels.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	next   int
	logger *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{subs: make(map[int]chan Event), logger: logger}
}

// Subscribe registers a subscriber. The returned cancel func closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Notify delivers to every subscriber without blocking. A subscriber whose
// buffer is full misses the event and the miss is logged.
func (h *Hub) Notify(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- event:
		default:
			h.logger.Warn("notify subscriber full, event not delivered",
				zap.Int("subscriber", id), zap.String("event", string(event.Type)))
		}
	}
}
