package store

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	rec, err := s.Create(ctx, "projects", map[string]any{"id": "p1", "name": "Landing", "agent_status": "idle"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if rec.ID != "p1" {
		t.Fatalf("id = %q", rec.ID)
	}
	if _, ok := rec.Fields["id"]; ok {
		t.Fatalf("id should not be stored as a field")
	}

	if _, err := s.Create(ctx, "projects", map[string]any{"id": "p1"}); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate create error = %v", err)
	}

	updated, err := s.Update(ctx, "projects", "p1", map[string]any{"agent_status": "running"})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	var name, status string
	if _, err := updated.Field("name", &name); err != nil || name != "Landing" {
		t.Fatalf("name = %q, err = %v", name, err)
	}
	if _, err := updated.Field("agent_status", &status); err != nil || status != "running" {
		t.Fatalf("status = %q, err = %v", status, err)
	}

	if err := s.Delete(ctx, "projects", "p1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(ctx, "projects", "p1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after delete error = %v", err)
	}
	if _, err := s.Update(ctx, "projects", "p1", map[string]any{"x": 1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update() missing error = %v", err)
	}
	if err := s.Delete(ctx, "projects", "p1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete() missing error = %v", err)
	}
}

func TestMemoryStoreGeneratesIDs(t *testing.T) {
	s := NewMemoryStore()
	a, err := s.Create(context.Background(), "snapshots", map[string]any{"summary": "a"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Create(context.Background(), "snapshots", map[string]any{"summary": "b"})
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("ids = %q, %q", a.ID, b.ID)
	}
}

func TestMemoryStoreRejectsBadFieldNames(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Create(context.Background(), "projects", map[string]any{"bad-name": 1})
	if !errors.Is(err, ErrInvalidField) {
		t.Fatalf("error = %v, want ErrInvalidField", err)
	}
	if _, err := s.List(context.Background(), "projects", ListOptions{Field: "a.b"}); !errors.Is(err, ErrInvalidField) {
		t.Fatalf("list error = %v", err)
	}
}

func TestMemoryStoreListFilterAndOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, f := range []map[string]any{
		{"id": "s1", "project_id": "p1"},
		{"id": "s2", "project_id": "p2"},
		{"id": "s3", "project_id": "p1"},
		{"id": "s4", "project_id": "p1"},
	} {
		if _, err := s.Create(ctx, "snapshots", f); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name string
		opts ListOptions
		want []string
	}{
		{"all", ListOptions{}, []string{"s1", "s2", "s3", "s4"}},
		{"filtered", ListOptions{Field: "project_id", Value: "p1"}, []string{"s1", "s3", "s4"}},
		{"newest", ListOptions{Field: "project_id", Value: "p1", Newest: true}, []string{"s4", "s3", "s1"}},
		{"limit", ListOptions{Newest: true, Limit: 2}, []string{"s4", "s3"}},
		{"no match", ListOptions{Field: "project_id", Value: "p9"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.List(ctx, "snapshots", tt.opts)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d records, want %d", len(got), len(tt.want))
			}
			for i, rec := range got {
				if rec.ID != tt.want[i] {
					t.Fatalf("record %d = %s, want %s", i, rec.ID, tt.want[i])
				}
			}
		})
	}
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if _, err := s.Create(ctx, "projects", map[string]any{"id": "p1", "name": "a"}); err != nil {
		t.Fatal(err)
	}
	rec, _ := s.Get(ctx, "projects", "p1")
	rec.Fields["name"] = []byte(`"mutated"`)

	again, _ := s.Get(ctx, "projects", "p1")
	if string(again.Fields["name"]) != `"a"` {
		t.Fatalf("stored record was mutated: %s", again.Fields["name"])
	}
}

func TestMemoryStorePublishesChanges(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	events, cancel := s.Subscribe("projects", "p1")
	defer cancel()

	if _, err := s.Create(ctx, "projects", map[string]any{"id": "p1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create(ctx, "projects", map[string]any{"id": "p2"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Update(ctx, "projects", "p1", map[string]any{"name": "x"}); err != nil {
		t.Fatal(err)
	}

	want := []Action{ActionCreate, ActionUpdate}
	for _, action := range want {
		ev := <-events
		if ev.Action != action || ev.Record.ID != "p1" {
			t.Fatalf("event = %s %s, want %s p1", ev.Action, ev.Record.ID, action)
		}
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %s %s", ev.Action, ev.Record.ID)
	default:
	}
}

func TestRecordMarshalFlattens(t *testing.T) {
	s := NewMemoryStore()
	rec, err := s.Create(context.Background(), "projects", map[string]any{"id": "p1", "name": "Landing"})
	if err != nil {
		t.Fatal(err)
	}
	var out struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := rec.Decode(&out); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if out.ID != "p1" || out.Name != "Landing" {
		t.Fatalf("decoded = %+v", out)
	}
}
