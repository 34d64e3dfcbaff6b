package web

import (
	"errors"
	"net/http"

	"github.com/haasonsaas/vibekit/internal/projects"
	"github.com/haasonsaas/vibekit/internal/snapshots"
	"github.com/haasonsaas/vibekit/internal/store"
	"github.com/haasonsaas/vibekit/pkg/models"
)

// CreateProjectRequest is the body of POST /api/projects.
type CreateProjectRequest struct {
	Name    string                      `json:"name"`
	Files   map[string]string           `json:"files,omitempty"`
	Content map[string]string           `json:"content,omitempty"`
	Design  map[string]string           `json:"design,omitempty"`
	Data    map[string][]map[string]any `json:"data,omitempty"`
	Spec    string                      `json:"spec,omitempty"`
}

// SnapshotListResponse is the body of GET /api/projects/{id}/snapshots.
type SnapshotListResponse struct {
	Snapshots []*models.Snapshot `json:"snapshots"`
}

// apiCreateProject handles POST /api/projects.
func (h *Handler) apiCreateProject(w http.ResponseWriter, r *http.Request) {
	var body CreateProjectRequest
	if err := decodeBody(w, r, &body); err != nil {
		h.jsonError(w, msgInvalidBody, http.StatusBadRequest)
		return
	}
	project, err := h.config.Projects.Create(r.Context(), projects.CreateInput{
		Name:    body.Name,
		Files:   body.Files,
		Content: body.Content,
		Design:  body.Design,
		Data:    body.Data,
		Spec:    body.Spec,
	})
	switch {
	case errors.Is(err, projects.ErrNameRequired):
		h.jsonError(w, "Project name is required", http.StatusBadRequest)
		return
	case errors.Is(err, store.ErrInvalidField):
		h.jsonError(w, msgInvalidBody, http.StatusBadRequest)
		return
	case err != nil:
		h.writeServiceError(w, r, err, "Failed to create project")
		return
	}
	h.jsonStatus(w, http.StatusCreated, project)
}

// apiGetProject handles GET /api/projects/{id}.
func (h *Handler) apiGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := h.config.Projects.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to load project")
		return
	}
	h.jsonResponse(w, project)
}

// apiListSnapshots handles GET /api/projects/{id}/snapshots.
func (h *Handler) apiListSnapshots(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	if _, err := h.config.Projects.Get(r.Context(), projectID); err != nil {
		h.writeServiceError(w, r, err, "Failed to list snapshots")
		return
	}
	list, err := h.config.Snapshots.List(r.Context(), projectID)
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to list snapshots")
		return
	}
	h.jsonResponse(w, SnapshotListResponse{Snapshots: list})
}

// apiRestoreSnapshot handles POST /api/projects/{id}/snapshots/{sid}/restore.
func (h *Handler) apiRestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.config.Snapshots.Restore(r.Context(), r.PathValue("id"), r.PathValue("sid"))
	switch {
	case errors.Is(err, snapshots.ErrNotFound):
		h.jsonError(w, msgSnapshotNotFound, http.StatusNotFound)
		return
	case errors.Is(err, snapshots.ErrProjectRunning):
		h.jsonError(w, "Cannot restore while the agent is running", http.StatusConflict)
		return
	case err != nil:
		h.writeServiceError(w, r, err, "Failed to restore snapshot")
		return
	}
	h.jsonResponse(w, map[string]any{"success": true, "snapshot": snap})
}
