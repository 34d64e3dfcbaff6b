package web

import (
	"net/http"

	"github.com/haasonsaas/vibekit/internal/coordinator"
	"github.com/haasonsaas/vibekit/internal/observability"
	"github.com/haasonsaas/vibekit/pkg/models"
)

// StartAgentRequest is the body of POST /api/projects/{id}/agent.
type StartAgentRequest struct {
	Prompt   string           `json:"prompt,omitempty"`
	Messages []models.Message `json:"messages,omitempty"`
	Spec     string           `json:"spec,omitempty"`
}

// AgentChatResponse is the body of GET /api/projects/{id}/agent.
type AgentChatResponse struct {
	Messages []models.ChatEntry `json:"messages"`
}

// apiGetAgent handles GET /api/projects/{id}/agent.
func (h *Handler) apiGetAgent(w http.ResponseWriter, r *http.Request) {
	project, err := h.config.Projects.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to load agent chat")
		return
	}
	messages := project.AgentChat
	if messages == nil {
		messages = []models.ChatEntry{}
	}
	h.jsonResponse(w, AgentChatResponse{Messages: messages})
}

// apiStartAgent handles POST /api/projects/{id}/agent.
func (h *Handler) apiStartAgent(w http.ResponseWriter, r *http.Request) {
	var body StartAgentRequest
	if err := decodeBody(w, r, &body); err != nil {
		h.jsonError(w, msgInvalidBody, http.StatusBadRequest)
		return
	}

	projectID := r.PathValue("id")
	ctx := observability.WithProjectID(r.Context(), projectID)
	res, err := h.config.Agent.Start(ctx, coordinator.StartRequest{
		ProjectID: projectID,
		Prompt:    body.Prompt,
		Messages:  body.Messages,
		Spec:      body.Spec,
		ClientKey: h.clients.Key(r),
	})
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to start agent")
		return
	}
	h.jsonResponse(w, res)
}

// apiClearAgent handles DELETE /api/projects/{id}/agent.
func (h *Handler) apiClearAgent(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	if h.config.Runs != nil {
		permit, ok := h.config.Runs.TryAcquire(projectID)
		if !ok {
			h.jsonError(w, msgAgentBusy, http.StatusConflict)
			return
		}
		defer permit.Release()
	}
	if err := h.config.Projects.UpdateChat(r.Context(), projectID, []models.ChatEntry{}); err != nil {
		h.writeServiceError(w, r, err, "Failed to clear agent chat")
		return
	}
	h.jsonResponse(w, map[string]bool{"success": true})
}
