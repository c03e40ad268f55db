package event

import (
	"log/slog"
	"sync"

	"liquidation_go/internal/domain"
)

// DefaultBufferSize is the per-subscriber channel capacity.
const DefaultBufferSize = 1000

// Hub fans committed events out to subscribers. Publish never blocks: a
// subscriber whose buffer is full is dropped and its channel closed.
type Hub struct {
	mu         sync.RWMutex
	subs       map[uint64]chan Envelope
	nextID     uint64
	bufferSize int
	logger     *slog.Logger
}

// NewHub creates a Hub with the given per-subscriber buffer size.
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		subs:       make(map[uint64]chan Envelope),
		bufferSize: bufferSize,
		logger:     slog.Default().With("module", "event_hub"),
	}
}

// Publish implements domain.EventSink.
func (h *Hub) Publish(ev domain.Event) {
	env := Encode(ev)

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- env:
		default:
			h.logger.Warn("Dropping slow subscriber", slog.Uint64("subscriber", id))
			delete(h.subs, id)
			close(ch)
		}
	}
}

// Subscribe registers a subscriber. The returned cancel func unregisters it
// and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe() (<-chan Envelope, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	ch := make(chan Envelope, h.bufferSize)
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
