package api

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

const subscriberBuffer = 32

// Event is one entry of the control event stream.
type Event struct {
	ID   int64
	Type string
	At   time.Time
	Data []byte // JSON payload
}

type subscriber struct {
	ch   chan Event
	only string
}

func (s *subscriber) wants(ev Event) bool {
	return s.only == "" || s.only == ev.Type
}

// EventHub fans control events out to streaming clients and keeps the most
// recent ones for clients that reconnect with Last-Event-ID. Publish never
// blocks; a full subscriber misses the event and the miss is counted.
type EventHub struct {
	dropped atomic.Int64

	mu      sync.Mutex
	lastID  int64
	backlog []Event
	limit   int
	subs    map[*subscriber]struct{}
}

func NewEventHub(limit int) *EventHub {
	if limit <= 0 {
		limit = 1
	}
	return &EventHub{
		limit: limit,
		subs:  make(map[*subscriber]struct{}),
	}
}

// Publish marshals data, records the event and delivers it to matching
// subscribers. It returns the event ID.
func (h *EventHub) Publish(eventType string, data any) int64 {
	payload := []byte("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	ev := Event{ID: h.lastID, Type: eventType, At: time.Now().UTC(), Data: payload}

	h.backlog = append(h.backlog, ev)
	if over := len(h.backlog) - h.limit; over > 0 {
		h.backlog = append(h.backlog[:0], h.backlog[over:]...)
	}

	for s := range h.subs {
		if !s.wants(ev) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
	return ev.ID
}

// Subscribe registers a subscriber for eventType ("" for all) and returns
// the retained events after ID after. Replay and live channel are taken
// atomically, so no event is missed or seen twice.
func (h *EventHub) Subscribe(eventType string, after int64) ([]Event, <-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := &subscriber{ch: make(chan Event, subscriberBuffer), only: eventType}
	h.subs[s] = struct{}{}

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[s]; ok {
			delete(h.subs, s)
			close(s.ch)
		}
	}
	return h.backlogLocked(eventType, after), s.ch, cancel
}

// Backlog returns retained events of eventType ("" for all) with ID > after,
// oldest first.
func (h *EventHub) Backlog(eventType string, after int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.backlogLocked(eventType, after)
}

func (h *EventHub) backlogLocked(eventType string, after int64) []Event {
	var out []Event
	for _, ev := range h.backlog {
		if ev.ID > after && (eventType == "" || ev.Type == eventType) {
			out = append(out, ev)
		}
	}
	return out
}

// Subscribers is the number of live subscriptions.
func (h *EventHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped counts events a slow subscriber missed.
func (h *EventHub) Dropped() int64 { return h.dropped.Load() }
