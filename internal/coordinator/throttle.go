package coordinator

import (
	"sync"
	"time"
)

// Persistence kinds, used as metric labels.
const (
	writeInitial   = "initial"
	writeThrottled = "throttled"
	writeForced    = "forced"
	writeFinal     = "final"
)

// DefaultPersistInterval is the minimum spacing of throttled writes.
const DefaultPersistInterval = 300 * time.Millisecond

// Throttle debounces transcript writes for one run. Unforced requests
// inside the interval schedule a single deferred write; forced requests
// write immediately. Writes never overlap, and each one persists the latest
// state, so coalescing never reorders updates.
type Throttle struct {
	interval time.Duration
	write    func(kind string)
	now      func() time.Time

	mu        sync.Mutex
	lastWrite time.Time
	timer     *time.Timer
	closed    bool

	// writeMu serializes writes, including the final one.
	writeMu sync.Mutex
}

// NewThrottle creates a throttle that calls write for every flush.
func NewThrottle(interval time.Duration, write func(kind string)) *Throttle {
	if interval <= 0 {
		interval = DefaultPersistInterval
	}
	return &Throttle{interval: interval, write: write, now: time.Now}
}

// Request asks for a flush. force bypasses the interval.
func (t *Throttle) Request(force bool) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	now := t.now()
	elapsed := now.Sub(t.lastWrite)
	if force || elapsed >= t.interval {
		t.lastWrite = now
		if t.timer != nil {
			// This write covers whatever the timer would have written.
			t.timer.Stop()
			t.timer = nil
		}
		t.mu.Unlock()
		kind := writeThrottled
		if force {
			kind = writeForced
		}
		t.flush(kind)
		return
	}
	if t.timer == nil {
		t.timer = time.AfterFunc(t.interval-elapsed, t.deferred)
	}
	t.mu.Unlock()
}

func (t *Throttle) deferred() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	t.lastWrite = t.now()
	t.mu.Unlock()
	t.flush(writeThrottled)
}

func (t *Throttle) flush(kind string) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return
	}
	t.write(kind)
}

// Close cancels any pending flush and runs final once the write in
// progress, if any, has finished. Later requests are ignored.
func (t *Throttle) Close(final func()) {
	t.mu.Lock()
	t.closed = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if final != nil {
		final()
	}
}
