// Package notify fans session events out to live subscribers such as websocket clients.
package notify

import (
	"sync"
	"time"

	"vaultsync/internal/app/port"
)

// EventType names the payload carried by an Event.
type EventType string

const (
	EventStatus       EventType = "status"
	EventSnapshot     EventType = "snapshot"
	EventSession      EventType = "session"
	EventNotification EventType = "notification"
)

// Event is one published update. Data holds the domain value as published.
type Event struct {
	Type EventType
	Data any
	At   time.Time
}

const defaultSubscriberBuffer = 32

// Hub delivers every published event to all current subscribers. A subscriber whose
// buffer is full misses the event; publishers never block.
type Hub struct {
	mu     sync.Mutex
	subs   map[uint64]chan Event
	nextID uint64
	closed bool
	logger port.Logger
	now    func() time.Time
}

// NewHub creates an empty hub.
func NewHub(logger port.Logger) *Hub {
	return &Hub{
		subs:   make(map[uint64]chan Event),
		logger: logger,
		now:    time.Now,
	}
}

// Publish sends an event to every subscriber.
func (h *Hub) Publish(t EventType, data any) {
	ev := Event{Type: t, Data: data, At: h.now()}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.logger.Warn("Dropping event for slow subscriber", "subscriber", id, "type", t)
		}
	}
}

// Subscribe registers a subscriber with the given buffer size (a default when <= 0).
// The returned cancel func closes the channel and is safe to call more than once.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

// Subscribers returns the number of registered subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close closes every subscriber channel. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
