// Package projects is the typed view of the "projects" collection.
package projects

import (
	"context"
	"errors"
	"strings"

	"github.com/haasonsaas/vibekit/internal/store"
	"github.com/haasonsaas/vibekit/pkg/models"
)

// Collection is the store collection holding project records.
const Collection = "projects"

var (
	// ErrNotFound is returned when a project does not exist.
	ErrNotFound = store.ErrNotFound

	// ErrNameRequired is returned when a project is created without a name.
	ErrNameRequired = errors.New("project name is required")
)

// Repository reads and writes projects. Writes only touch the fields they
// name, so the run coordinator updating agent_chat and a tool updating files
// do not overwrite each other.
type Repository struct {
	store store.Store
}

// NewRepository creates a repository on top of s.
func NewRepository(s store.Store) *Repository {
	return &Repository{store: s}
}

// CreateInput is the initial content of a new project.
type CreateInput struct {
	ID      string                      `json:"id,omitempty"`
	Name    string                      `json:"name"`
	Files   map[string]string           `json:"files,omitempty"`
	Content map[string]string           `json:"content,omitempty"`
	Design  map[string]string           `json:"design,omitempty"`
	Data    map[string][]map[string]any `json:"data,omitempty"`
	Spec    string                      `json:"spec,omitempty"`
}

// Get loads one project.
func (r *Repository) Get(ctx context.Context, id string) (*models.Project, error) {
	rec, err := r.store.Get(ctx, Collection, id)
	if err != nil {
		return nil, err
	}
	return decode(rec)
}

// Create stores a new idle project with an empty chat.
func (r *Repository) Create(ctx context.Context, in CreateInput) (*models.Project, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrNameRequired
	}
	fields := map[string]any{
		"name":         name,
		"agent_chat":   []models.ChatEntry{},
		"agent_status": models.AgentStatusIdle,
		"files":        nonNil(in.Files),
		"content":      nonNil(in.Content),
		"design":       nonNil(in.Design),
		"data":         nonNilData(in.Data),
		"spec":         in.Spec,
	}
	if in.ID != "" {
		fields["id"] = in.ID
	}
	rec, err := r.store.Create(ctx, Collection, fields)
	if err != nil {
		return nil, err
	}
	return decode(rec)
}

// UpdateChat replaces agent_chat.
func (r *Repository) UpdateChat(ctx context.Context, id string, chat []models.ChatEntry) error {
	if chat == nil {
		chat = []models.ChatEntry{}
	}
	_, err := r.store.Update(ctx, Collection, id, map[string]any{"agent_chat": chat})
	return err
}

// UpdateChatAndStatus replaces agent_chat and agent_status in one write.
func (r *Repository) UpdateChatAndStatus(ctx context.Context, id string, chat []models.ChatEntry, status models.AgentStatus) error {
	if chat == nil {
		chat = []models.ChatEntry{}
	}
	_, err := r.store.Update(ctx, Collection, id, map[string]any{
		"agent_chat":   chat,
		"agent_status": status,
	})
	return err
}

// SetStatus updates agent_status only.
func (r *Repository) SetStatus(ctx context.Context, id string, status models.AgentStatus) error {
	_, err := r.store.Update(ctx, Collection, id, map[string]any{"agent_status": status})
	return err
}

// UpdateFiles replaces the files map.
func (r *Repository) UpdateFiles(ctx context.Context, id string, files map[string]string) error {
	_, err := r.store.Update(ctx, Collection, id, map[string]any{"files": nonNil(files)})
	return err
}

// UpdateContent replaces the content map.
func (r *Repository) UpdateContent(ctx context.Context, id string, content map[string]string) error {
	_, err := r.store.Update(ctx, Collection, id, map[string]any{"content": nonNil(content)})
	return err
}

// UpdateDesign replaces the design token map.
func (r *Repository) UpdateDesign(ctx context.Context, id string, design map[string]string) error {
	_, err := r.store.Update(ctx, Collection, id, map[string]any{"design": nonNil(design)})
	return err
}

// UpdateData replaces the data collections.
func (r *Repository) UpdateData(ctx context.Context, id string, data map[string][]map[string]any) error {
	_, err := r.store.Update(ctx, Collection, id, map[string]any{"data": nonNilData(data)})
	return err
}

// RestoreState writes a captured state back over the project's mutable
// surface. The chat and status are left alone.
func (r *Repository) RestoreState(ctx context.Context, id string, state models.ProjectState) error {
	_, err := r.store.Update(ctx, Collection, id, map[string]any{
		"files":   nonNil(state.Files),
		"content": nonNil(state.Content),
		"design":  nonNil(state.Design),
		"data":    nonNilData(state.Data),
	})
	return err
}

// ListByStatus returns the projects whose agent_status equals status.
func (r *Repository) ListByStatus(ctx context.Context, status models.AgentStatus) ([]*models.Project, error) {
	recs, err := r.store.List(ctx, Collection, store.ListOptions{Field: "agent_status", Value: string(status)})
	if err != nil {
		return nil, err
	}
	out := make([]*models.Project, 0, len(recs))
	for _, rec := range recs {
		p, err := decode(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Subscribe streams changes to one project.
func (r *Repository) Subscribe(id string) (<-chan store.Event, func()) {
	return r.store.Subscribe(Collection, id)
}

// IsNotFound reports whether err means the project does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

func decode(rec *store.Record) (*models.Project, error) {
	var p models.Project
	if err := rec.Decode(&p); err != nil {
		return nil, err
	}
	p.Files = nonNil(p.Files)
	p.Content = nonNil(p.Content)
	p.Design = nonNil(p.Design)
	p.Data = nonNilData(p.Data)
	if p.AgentChat == nil {
		p.AgentChat = []models.ChatEntry{}
	}
	if p.AgentStatus == "" {
		p.AgentStatus = models.AgentStatusIdle
	}
	return &p, nil
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nonNilData(m map[string][]map[string]any) map[string][]map[string]any {
	if m == nil {
		return map[string][]map[string]any{}
	}
	return m
}
