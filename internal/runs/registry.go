// Package runs tracks which projects have an agent run in flight.
package runs

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry is the process-wide single-flight table for agent runs. It is
// created once at startup and shared by every request handler; entries are
// removed when the holder releases its permit.
type Registry struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

type entry struct {
	token     string
	startedAt time.Time
}

// Permit proves that its holder owns the run slot for one project. Code that
// mutates a run transcript takes a *Permit rather than a bare project id.
type Permit struct {
	registry  *Registry
	projectID string
	token     string
	startedAt time.Time
	once      sync.Once
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// TryAcquire claims the slot for projectID. It returns false when another
// run already holds it; the check and the insert happen under one lock.
func (r *Registry) TryAcquire(projectID string) (*Permit, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, held := r.entries[projectID]; held {
		return nil, false
	}
	e := entry{token: uuid.NewString(), startedAt: r.now()}
	r.entries[projectID] = e
	return &Permit{registry: r, projectID: projectID, token: e.token, startedAt: e.startedAt}, true
}

// Release frees the slot for projectID regardless of who holds it. It is a
// no-op when the slot is free.
func (r *Registry) Release(projectID string) {
	r.mu.Lock()
	delete(r.entries, projectID)
	r.mu.Unlock()
}

// IsRunning reports whether projectID currently holds a slot.
func (r *Registry) IsRunning(projectID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, held := r.entries[projectID]
	return held
}

// Active returns the ids of all projects holding a slot, sorted.
func (r *Registry) Active() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Len returns the number of held slots.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) releaseToken(projectID, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.entries[projectID]; ok && current.token == token {
		delete(r.entries, projectID)
	}
}

// ProjectID returns the project the permit was issued for.
func (p *Permit) ProjectID() string { return p.projectID }

// RunID identifies this particular hold of the slot.
func (p *Permit) RunID() string { return p.token }

// StartedAt is when the slot was acquired.
func (p *Permit) StartedAt() time.Time { return p.startedAt }

// Release gives the slot back. Calling it more than once is safe, and a
// permit never frees a slot that was forcibly released and re-acquired by
// another run in the meantime.
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		p.registry.releaseToken(p.projectID, p.token)
	})
}
