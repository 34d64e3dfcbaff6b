package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used by tests and the "memory" driver.
type MemoryStore struct {
	*Hub

	mu      sync.RWMutex
	records map[string]map[string]*memoryEntry
	seq     int64
	now     func() time.Time
}

type memoryEntry struct {
	record *Record
	seq    int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Hub:     NewHub(),
		records: make(map[string]map[string]*memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) (*Record, error) {
	if collection == "" || id == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.records[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return entry.record.clone(), nil
}

func (s *MemoryStore) Create(ctx context.Context, collection string, fields map[string]any) (*Record, error) {
	if err := validName("collection", collection); err != nil {
		return nil, err
	}
	encoded, err := encodeFields(fields)
	if err != nil {
		return nil, err
	}
	id := idFromFields(fields)
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	if _, exists := s.records[collection][id]; exists {
		s.mu.Unlock()
		return nil, ErrAlreadyExists
	}
	now := s.now().UTC()
	rec := &Record{Collection: collection, ID: id, Fields: encoded, Created: now, Updated: now}
	if s.records[collection] == nil {
		s.records[collection] = make(map[string]*memoryEntry)
	}
	s.seq++
	s.records[collection][id] = &memoryEntry{record: rec, seq: s.seq}
	out := rec.clone()
	s.mu.Unlock()

	s.Publish(Event{Action: ActionCreate, Record: out})
	return out, nil
}

func (s *MemoryStore) Update(ctx context.Context, collection, id string, fields map[string]any) (*Record, error) {
	encoded, err := encodeFields(fields)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	entry, ok := s.records[collection][id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	for k, v := range encoded {
		entry.record.Fields[k] = v
	}
	entry.record.Updated = s.now().UTC()
	out := entry.record.clone()
	s.mu.Unlock()

	s.Publish(Event{Action: ActionUpdate, Record: out})
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	if _, ok := s.records[collection][id]; !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.records[collection], id)
	s.mu.Unlock()

	s.Publish(Event{Action: ActionDelete, Record: &Record{Collection: collection, ID: id}})
	return nil
}

func (s *MemoryStore) List(ctx context.Context, collection string, opts ListOptions) ([]*Record, error) {
	if opts.Field != "" && !fieldNamePattern.MatchString(opts.Field) {
		return nil, ErrInvalidField
	}

	s.mu.RLock()
	entries := make([]*memoryEntry, 0, len(s.records[collection]))
	for _, entry := range s.records[collection] {
		if opts.Field != "" && !fieldEquals(entry.record, opts.Field, opts.Value) {
			continue
		}
		entries = append(entries, entry)
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if opts.Newest {
			return entries[i].seq > entries[j].seq
		}
		return entries[i].seq < entries[j].seq
	})
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}

	out := make([]*Record, len(entries))
	for i, entry := range entries {
		out[i] = entry.record.clone()
	}
	return out, nil
}

func fieldEquals(rec *Record, field, value string) bool {
	raw, ok := rec.Fields[field]
	if !ok {
		return false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false
	}
	return s == value
}

// Close releases subscribers.
func (s *MemoryStore) Close() error {
	s.closeAll()
	return nil
}
