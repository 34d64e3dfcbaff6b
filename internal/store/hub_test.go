package store

import "testing"

func TestHubDeliversToRecordAndCollection(t *testing.T) {
	h := NewHub()
	rec, cancelRec := h.Subscribe("projects", "p1")
	coll, cancelColl := h.Subscribe("projects", "")
	other, cancelOther := h.Subscribe("projects", "p2")
	defer cancelRec()
	defer cancelColl()
	defer cancelOther()

	h.Publish(Event{Action: ActionUpdate, Record: &Record{Collection: "projects", ID: "p1"}})

	if ev := <-rec; ev.Record.ID != "p1" {
		t.Fatalf("record subscriber got %s", ev.Record.ID)
	}
	if ev := <-coll; ev.Record.ID != "p1" {
		t.Fatalf("collection subscriber got %s", ev.Record.ID)
	}
	select {
	case ev := <-other:
		t.Fatalf("p2 subscriber got %s", ev.Record.ID)
	default:
	}
}

func TestHubDropsOldestWhenFull(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("projects", "p1")
	defer cancel()

	for i := 0; i < subscriberBuffer+5; i++ {
		h.Publish(Event{Action: ActionUpdate, Record: &Record{Collection: "projects", ID: "p1", Fields: nil}})
	}
	h.Publish(Event{Action: ActionDelete, Record: &Record{Collection: "projects", ID: "p1"}})

	if len(ch) != subscriberBuffer {
		t.Fatalf("queued = %d, want %d", len(ch), subscriberBuffer)
	}
	var last Event
	for len(ch) > 0 {
		last = <-ch
	}
	if last.Action != ActionDelete {
		t.Fatalf("last action = %s, want newest event kept", last.Action)
	}
}

func TestHubUnsubscribeAndCloseAll(t *testing.T) {
	h := NewHub()
	a, cancelA := h.Subscribe("projects", "p1")
	b, cancelB := h.Subscribe("projects", "")
	if h.Len() != 2 {
		t.Fatalf("Len() = %d", h.Len())
	}

	cancelA()
	cancelA()
	if _, ok := <-a; ok {
		t.Fatalf("channel a should be closed")
	}
	if h.Len() != 1 {
		t.Fatalf("Len() after cancel = %d", h.Len())
	}

	h.closeAll()
	if _, ok := <-b; ok {
		t.Fatalf("channel b should be closed")
	}
	// Must not panic on a channel closed by closeAll.
	cancelB()
	if h.Len() != 0 {
		t.Fatalf("Len() after closeAll = %d", h.Len())
	}
}
