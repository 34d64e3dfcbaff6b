package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/haasonsaas/vibekit/internal/coordinator"
	"github.com/haasonsaas/vibekit/internal/store"
)

// maxBodyBytes bounds request bodies. Project creation carries whole files.
const maxBodyBytes = 8 << 20

// Messages returned to clients.
const (
	msgProjectNotFound  = "Project not found"
	msgSnapshotNotFound = "Snapshot not found"
	msgAgentBusy        = "Agent is already processing a request"
	msgUnconfigured     = "AI not configured. Add your API key in Settings."
	msgInvalidBody      = "Invalid request body"
	msgShuttingDown     = "Server is shutting down"
)

// jsonResponse writes a JSON response with status 200.
func (h *Handler) jsonResponse(w http.ResponseWriter, data any) {
	h.jsonStatus(w, http.StatusOK, data)
}

func (h *Handler) jsonStatus(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.config.Logger.Error("json encode error", "error", err)
	}
}

// jsonError writes a JSON error response.
func (h *Handler) jsonError(w http.ResponseWriter, message string, code int) {
	h.jsonStatus(w, code, map[string]string{"error": message})
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// writeServiceError maps errors from the coordinator and stores onto HTTP
// responses. Unknown errors are logged and reported as 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var verr *coordinator.ValidationError
	var rl *coordinator.RateLimitedError
	switch {
	case errors.As(err, &verr):
		h.jsonError(w, verr.Message, http.StatusBadRequest)
	case errors.Is(err, coordinator.ErrConflict):
		h.jsonError(w, msgAgentBusy, http.StatusConflict)
	case errors.As(err, &rl):
		secs := rl.RetryAfterSeconds()
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		h.jsonError(w, fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", secs), http.StatusTooManyRequests)
	case errors.Is(err, coordinator.ErrProjectNotFound), errors.Is(err, store.ErrNotFound):
		h.jsonError(w, msgProjectNotFound, http.StatusNotFound)
	case errors.Is(err, coordinator.ErrUnconfigured):
		h.config.Logger.WarnContext(r.Context(), "agent start rejected", "error", err)
		h.jsonError(w, msgUnconfigured, http.StatusInternalServerError)
	case errors.Is(err, coordinator.ErrShuttingDown):
		h.jsonError(w, msgShuttingDown, http.StatusServiceUnavailable)
	default:
		h.config.Logger.ErrorContext(r.Context(), fallback, "error", err, "path", r.URL.Path)
		h.jsonError(w, fallback, http.StatusInternalServerError)
	}
}
