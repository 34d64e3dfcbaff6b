package models

import "time"

// Project is a hosted studio project. Files, Content, Design and Data make
// up the mutable surface that tools edit and snapshots capture.
type Project struct {
	ID          string                      `json:"id"`
	Name        string                      `json:"name"`
	AgentChat   []ChatEntry                 `json:"agent_chat"`
	AgentStatus AgentStatus                 `json:"agent_status"`
	Files       map[string]string           `json:"files"`
	Content     map[string]string           `json:"content"`
	Design      map[string]string           `json:"design"`
	Data        map[string][]map[string]any `json:"data"`
	Spec        string                      `json:"spec,omitempty"`
	CreatedAt   time.Time                   `json:"created"`
	UpdatedAt   time.Time                   `json:"updated"`
}

// ProjectState is the point-in-time copy of a project's mutable surface.
type ProjectState struct {
	Files   map[string]string           `json:"files"`
	Content map[string]string           `json:"content"`
	Design  map[string]string           `json:"design"`
	Data    map[string][]map[string]any `json:"data"`
}

// State returns a copy of the project's mutable surface. Record maps inside
// Data are copied one level deep.
func (p *Project) State() ProjectState {
	return ProjectState{
		Files:   cloneStringMap(p.Files),
		Content: cloneStringMap(p.Content),
		Design:  cloneStringMap(p.Design),
		Data:    cloneData(p.Data),
	}
}

// Snapshot is a labeled copy of a project's state taken at a run boundary.
type Snapshot struct {
	ID        string        `json:"id"`
	ProjectID string        `json:"project_id"`
	Summary   string        `json:"summary"`
	ToolNames []string      `json:"tool_names"`
	State     *ProjectState `json:"state,omitempty"`
	CreatedAt time.Time     `json:"created"`
}

func cloneStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneData(data map[string][]map[string]any) map[string][]map[string]any {
	out := make(map[string][]map[string]any, len(data))
	for collection, records := range data {
		copied := make([]map[string]any, len(records))
		for i, rec := range records {
			r := make(map[string]any, len(rec))
			for k, v := range rec {
				r[k] = v
			}
			copied[i] = r
		}
		out[collection] = copied
	}
	return out
}
