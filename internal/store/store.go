// Package store is the document store behind projects, snapshots and
// settings. Records are schemaless JSON objects grouped into collections;
// writers replace whole top-level fields and the last writer wins.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidField  = errors.New("invalid field name")
)

// Store persists records. Implementations publish every successful write to
// subscribers registered through Subscribe.
type Store interface {
	Get(ctx context.Context, collection, id string) (*Record, error)
	// Create inserts a record. The id is taken from fields["id"] when it is a
	// non-empty string, otherwise a new one is generated.
	Create(ctx context.Context, collection string, fields map[string]any) (*Record, error)
	// Update replaces the given top-level fields and leaves the rest alone.
	Update(ctx context.Context, collection, id string, fields map[string]any) (*Record, error)
	Delete(ctx context.Context, collection, id string) error
	List(ctx context.Context, collection string, opts ListOptions) ([]*Record, error)
	// Subscribe delivers changes to one record, or to the whole collection
	// when id is empty. The returned func unsubscribes and closes the channel.
	Subscribe(collection, id string) (<-chan Event, func())
	Close() error
}

// ListOptions filters and orders List results. Field and Value select
// records whose top-level string field equals Value.
type ListOptions struct {
	Field string
	Value string
	// Newest orders by creation time descending instead of ascending.
	Newest bool
	Limit  int
}

// Record is one stored document.
type Record struct {
	Collection string                     `json:"collection"`
	ID         string                     `json:"id"`
	Fields     map[string]json.RawMessage `json:"fields"`
	Created    time.Time                  `json:"created"`
	Updated    time.Time                  `json:"updated"`
}

// MarshalJSON flattens the record into one object with id, created and
// updated next to the stored fields.
func (r *Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(r.Fields)+3)
	for k, v := range r.Fields {
		out[k] = v
	}
	var err error
	if out["id"], err = json.Marshal(r.ID); err != nil {
		return nil, err
	}
	if out["created"], err = json.Marshal(r.Created); err != nil {
		return nil, err
	}
	if out["updated"], err = json.Marshal(r.Updated); err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// Decode unmarshals the flattened record into v.
func (r *Record) Decode(v any) error {
	payload, err := r.MarshalJSON()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode %s/%s: %w", r.Collection, r.ID, err)
	}
	return nil
}

// Field unmarshals a single stored field into v. A missing field leaves v
// untouched and reports false.
func (r *Record) Field(name string, v any) (bool, error) {
	raw, ok := r.Fields[name]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("decode %s/%s field %s: %w", r.Collection, r.ID, name, err)
	}
	return true, nil
}

func (r *Record) clone() *Record {
	out := *r
	out.Fields = make(map[string]json.RawMessage, len(r.Fields))
	for k, v := range r.Fields {
		out.Fields[k] = append(json.RawMessage(nil), v...)
	}
	return &out
}

// Action describes what happened to a record.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Event is a change notification. Record holds the state after the change;
// for deletes it carries only the collection and id.
type Event struct {
	Action Action  `json:"action"`
	Record *Record `json:"record"`
}

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// reservedFields are derived from record metadata and cannot be written.
var reservedFields = map[string]bool{"created": true, "updated": true, "collection": true}

// encodeFields validates field names and marshals the values.
func encodeFields(fields map[string]any) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(fields))
	for name, value := range fields {
		if name == "id" || reservedFields[name] {
			continue
		}
		if !fieldNamePattern.MatchString(name) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidField, name)
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode field %s: %w", name, err)
		}
		out[name] = raw
	}
	return out, nil
}

func idFromFields(fields map[string]any) string {
	if id, ok := fields["id"].(string); ok {
		return id
	}
	return ""
}

func validName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s is required", kind)
	}
	if len(name) > 128 {
		return fmt.Errorf("%s is too long", kind)
	}
	return nil
}
