package coordinator

import (
	"sync"
	"testing"
	"time"
)

type writeLog struct {
	mu    sync.Mutex
	kinds []string
}

func (w *writeLog) write(kind string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.kinds = append(w.kinds, kind)
}

func (w *writeLog) snapshot() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.kinds...)
}

func TestThrottleFirstRequestWrites(t *testing.T) {
	log := &writeLog{}
	th := NewThrottle(time.Hour, log.write)

	th.Request(false)
	th.Request(false)
	th.Request(false)

	got := log.snapshot()
	if len(got) != 1 || got[0] != writeThrottled {
		t.Fatalf("writes = %v, want one throttled write", got)
	}
	th.Close(nil)
}

func TestThrottleForcedAlwaysWrites(t *testing.T) {
	log := &writeLog{}
	th := NewThrottle(time.Hour, log.write)

	th.Request(false)
	th.Request(false) // schedules a deferred write
	th.Request(true)
	th.Request(true)

	got := log.snapshot()
	want := []string{writeThrottled, writeForced, writeForced}
	if len(got) != len(want) {
		t.Fatalf("writes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("writes = %v, want %v", got, want)
		}
	}
	th.mu.Lock()
	pending := th.timer != nil
	th.mu.Unlock()
	if pending {
		t.Fatalf("forced write left a deferred write scheduled")
	}
	th.Close(nil)
}

func TestThrottleDeferredWrite(t *testing.T) {
	log := &writeLog{}
	th := NewThrottle(20*time.Millisecond, log.write)
	defer th.Close(nil)

	th.Request(false)
	th.Request(false)
	th.Request(false)

	deadline := time.Now().Add(2 * time.Second)
	for len(log.snapshot()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("deferred write never happened: %v", log.snapshot())
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(60 * time.Millisecond)
	if got := log.snapshot(); len(got) != 2 {
		t.Fatalf("writes = %v, want exactly one coalesced deferred write", got)
	}
}

func TestThrottleCloseCancelsPending(t *testing.T) {
	log := &writeLog{}
	th := NewThrottle(30*time.Millisecond, log.write)

	th.Request(false)
	th.Request(false)
	th.Close(func() { log.write(writeFinal) })
	th.Request(true)

	time.Sleep(80 * time.Millisecond)
	got := log.snapshot()
	if len(got) != 2 || got[1] != writeFinal {
		t.Fatalf("writes = %v, want the final write last", got)
	}
}

func TestThrottleFinalWaitsForInFlightWrite(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	log := &writeLog{}
	th := NewThrottle(time.Hour, func(kind string) {
		close(entered)
		<-release
		log.write(kind)
	})

	go th.Request(true)
	<-entered

	closed := make(chan struct{})
	go func() {
		th.Close(func() { log.write(writeFinal) })
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatalf("Close returned while a write was in flight")
	case <-time.After(30 * time.Millisecond):
	}
	close(release)
	<-closed

	got := log.snapshot()
	if len(got) != 2 || got[0] != writeForced || got[1] != writeFinal {
		t.Fatalf("writes = %v", got)
	}
}
