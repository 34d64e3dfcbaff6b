package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/haasonsaas/vibekit/internal/settings"
)

// SaveSettingRequest is the body of POST /api/settings.
type SaveSettingRequest struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// apiGetSetting handles GET /api/settings?key=...
func (h *Handler) apiGetSetting(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		h.jsonError(w, "key is required", http.StatusBadRequest)
		return
	}
	value, err := h.config.Settings.GetPublic(r.Context(), key)
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to load setting")
		return
	}
	h.jsonResponse(w, map[string]any{"value": value})
}

// apiSaveSetting handles POST /api/settings.
func (h *Handler) apiSaveSetting(w http.ResponseWriter, r *http.Request) {
	var body SaveSettingRequest
	if err := decodeBody(w, r, &body); err != nil {
		h.jsonError(w, msgInvalidBody, http.StatusBadRequest)
		return
	}
	err := h.config.Settings.Save(r.Context(), strings.TrimSpace(body.Key), body.Value)
	if errors.Is(err, settings.ErrMissingKey) {
		h.jsonError(w, "key is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to save setting")
		return
	}
	h.jsonResponse(w, map[string]bool{"success": true})
}

// apiLLMStatus handles GET /api/settings/llm-status.
func (h *Handler) apiLLMStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.config.Settings.Status(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to load LLM status")
		return
	}
	h.jsonResponse(w, status)
}
