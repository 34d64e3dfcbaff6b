// Package snapshots records point-in-time copies of a project's files,
// content, design tokens and data, and writes them back on restore.
package snapshots

import (
	"context"
	"errors"
	"fmt"

	"github.com/haasonsaas/vibekit/internal/runs"
	"github.com/haasonsaas/vibekit/internal/store"
	"github.com/haasonsaas/vibekit/pkg/models"
)

// Collection is the store collection holding snapshots.
const Collection = "snapshots"

// MaxSummaryChars bounds a snapshot summary.
const MaxSummaryChars = 80

var (
	// ErrNotFound is returned for unknown snapshots, or snapshots that belong
	// to a different project.
	ErrNotFound = errors.New("snapshot not found")

	// ErrProjectRunning rejects a restore while an agent run is active.
	ErrProjectRunning = errors.New("agent is running")
)

// ProjectStore is the part of the project repository snapshots need.
type ProjectStore interface {
	Get(ctx context.Context, id string) (*models.Project, error)
	RestoreState(ctx context.Context, id string, state models.ProjectState) error
}

// RunSlots hands out the per-project run slot. Restore holds the slot while
// it writes so no agent run can start on a half-restored project.
type RunSlots interface {
	TryAcquire(projectID string) (*runs.Permit, bool)
}

// Service creates, lists and restores snapshots.
type Service struct {
	store    store.Store
	projects ProjectStore
	slots    RunSlots
}

// NewService creates a snapshot service. slots may be nil, in which case only
// the persisted agent_status guards restores.
func NewService(s store.Store, projects ProjectStore, slots RunSlots) *Service {
	return &Service{store: s, projects: projects, slots: slots}
}

// Create snapshots the project's current state.
func (s *Service) Create(ctx context.Context, projectID, summary string, toolNames []string) (*models.Snapshot, error) {
	project, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load project %s: %w", projectID, err)
	}
	return s.CreateFromState(ctx, projectID, summary, toolNames, project.State())
}

// CreateFromState stores a snapshot of an already captured state.
func (s *Service) CreateFromState(ctx context.Context, projectID, summary string, toolNames []string, state models.ProjectState) (*models.Snapshot, error) {
	if toolNames == nil {
		toolNames = []string{}
	}
	rec, err := s.store.Create(ctx, Collection, map[string]any{
		"project_id": projectID,
		"summary":    Clamp(summary, MaxSummaryChars),
		"tool_names": toolNames,
		"state":      state,
	})
	if err != nil {
		return nil, fmt.Errorf("create snapshot: %w", err)
	}
	return decode(rec)
}

// List returns a project's snapshots, newest first, without their state.
func (s *Service) List(ctx context.Context, projectID string) ([]*models.Snapshot, error) {
	recs, err := s.store.List(ctx, Collection, store.ListOptions{Field: "project_id", Value: projectID, Newest: true})
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	out := make([]*models.Snapshot, 0, len(recs))
	for _, rec := range recs {
		delete(rec.Fields, "state")
		snap, err := decode(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// Get loads one snapshot including its state.
func (s *Service) Get(ctx context.Context, projectID, snapshotID string) (*models.Snapshot, error) {
	rec, err := s.store.Get(ctx, Collection, snapshotID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	snap, err := decode(rec)
	if err != nil {
		return nil, err
	}
	if snap.ProjectID != projectID {
		return nil, ErrNotFound
	}
	return snap, nil
}

// Restore writes a snapshot's state back to its project.
func (s *Service) Restore(ctx context.Context, projectID, snapshotID string) (*models.Snapshot, error) {
	if s.slots != nil {
		permit, ok := s.slots.TryAcquire(projectID)
		if !ok {
			return nil, ErrProjectRunning
		}
		defer permit.Release()
	}
	project, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.AgentStatus == models.AgentStatusRunning {
		return nil, ErrProjectRunning
	}

	snap, err := s.Get(ctx, projectID, snapshotID)
	if err != nil {
		return nil, err
	}
	if snap.State == nil {
		return nil, fmt.Errorf("snapshot %s has no state", snapshotID)
	}
	if err := s.projects.RestoreState(ctx, projectID, *snap.State); err != nil {
		return nil, fmt.Errorf("restore snapshot %s: %w", snapshotID, err)
	}
	snap.State = nil
	return snap, nil
}

func decode(rec *store.Record) (*models.Snapshot, error) {
	var snap models.Snapshot
	if err := rec.Decode(&snap); err != nil {
		return nil, err
	}
	if snap.ToolNames == nil {
		snap.ToolNames = []string{}
	}
	return &snap, nil
}
