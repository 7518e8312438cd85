// Package events fans run lifecycle events out to subscribers such as the
// SSE endpoint.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Publisher is the producer side of a Hub.
type Publisher interface {
	Publish(eventType string, data any)
}

// subscriberBuffer is how far a subscriber may fall behind before events
// are dropped for it.
const subscriberBuffer = 128

// Hub is an in-memory pub/sub. The last capacity events are retained so a
// reconnecting client can resume by event id.
type Hub struct {
	mu      sync.Mutex
	lastID  int64
	history []Event // oldest first, at most cap(history)
	subs    map[*subscriber]struct{}
	dropped int64
}

type subscriber struct {
	ch chan Event
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		history: make([]Event, 0, capacity),
		subs:    make(map[*subscriber]struct{}),
	}
}

// Publish assigns the next id and delivers the event. data is encoded as
// JSON; nil becomes {}. Subscribers whose buffer is full miss the event.
func (h *Hub) Publish(eventType string, data any) {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	ev := Event{ID: h.lastID, Type: eventType, At: time.Now().UTC(), Data: payload}
	h.retain(ev)
	for s := range h.subs {
		select {
		case s.ch <- ev:
		default:
			h.dropped++
		}
	}
}

// Follow returns the retained events after lastID together with a channel
// of everything published afterwards. Both are taken under one lock, so no
// event is missed or repeated between them. cancel closes the channel and
// may be called more than once.
func (h *Hub) Follow(lastID int64) ([]Event, <-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := &subscriber{ch: make(chan Event, subscriberBuffer)}
	h.subs[s] = struct{}{}
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, s)
			close(s.ch)
			h.mu.Unlock()
		})
	}
	return h.sinceLocked(lastID), s.ch, cancel
}

// SnapshotSince returns retained events with ID > lastID, oldest first.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sinceLocked(lastID)
}

// Dropped counts deliveries skipped because a subscriber was full.
func (h *Hub) Dropped() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

func (h *Hub) sinceLocked(lastID int64) []Event {
	out := make([]Event, 0, len(h.history))
	for _, ev := range h.history {
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) retain(ev Event) {
	if len(h.history) == cap(h.history) {
		copy(h.history, h.history[1:])
		h.history = h.history[:len(h.history)-1]
	}
	h.history = append(h.history, ev)
}
