package progress

import "sync"

// Hub fans events out to per-run subscribers. Publishing never blocks: a
// subscriber that falls behind its buffer loses intermediate events, which
// is acceptable because the reduced state is re-derivable from job records.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[int]chan Event
	next int
}

const subscriberBuffer = 64

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]chan Event)}
}

// Publish delivers an event to all subscribers of its run.
func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[e.RootID] {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe registers interest in a run's events. The returned cancel
// function detaches the subscriber and closes its channel.
func (h *Hub) Subscribe(rootID string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs[rootID] == nil {
		h.subs[rootID] = make(map[int]chan Event)
	}
	id := h.next
	h.next++
	ch := make(chan Event, subscriberBuffer)
	h.subs[rootID][id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if subs, ok := h.subs[rootID]; ok {
			if c, ok := subs[id]; ok {
				delete(subs, id)
				close(c)
			}
			if len(subs) == 0 {
				delete(h.subs, rootID)
			}
		}
	}
	return ch, cancel
}

// SubscriberCount returns the number of attached subscribers for a run.
func (h *Hub) SubscriberCount(rootID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[rootID])
}
