package store

import "sync"

// subscriberBuffer bounds the events queued for one subscriber. Events carry
// the full record state, so when a subscriber falls behind the oldest queued
// event is discarded in favor of the newest.
const subscriberBuffer = 32

// Hub fans record changes out to in-process subscribers. Every Store
// implementation embeds one.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan Event
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]chan Event)}
}

func hubKey(collection, id string) string {
	return collection + "/" + id
}

// Subscribe registers a subscriber for one record, or for the whole
// collection when id is empty.
func (h *Hub) Subscribe(collection, id string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := hubKey(collection, id)
	h.nextID++
	subID := h.nextID
	ch := make(chan Event, subscriberBuffer)
	if h.subs[key] == nil {
		h.subs[key] = make(map[int]chan Event)
	}
	h.subs[key][subID] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			set := h.subs[key]
			if _, ok := set[subID]; !ok {
				// already closed by closeAll
				return
			}
			delete(set, subID)
			if len(set) == 0 {
				delete(h.subs, key)
			}
			close(ch)
		})
	}
}

// Publish delivers ev to the record's subscribers and to the collection's.
// It never blocks.
func (h *Hub) Publish(ev Event) {
	if ev.Record == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, key := range []string{hubKey(ev.Record.Collection, ev.Record.ID), hubKey(ev.Record.Collection, "")} {
		for _, ch := range h.subs[key] {
			deliver(ch, Event{Action: ev.Action, Record: ev.Record.clone()})
		}
	}
}

func deliver(ch chan Event, ev Event) {
	for {
		select {
		case ch <- ev:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Len returns the number of active subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}

// closeAll closes every subscriber channel.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, set := range h.subs {
		for _, ch := range set {
			close(ch)
		}
		delete(h.subs, key)
	}
}
