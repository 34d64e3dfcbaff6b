package agent

import (
	"encoding/json"
	"io"
	"log/slog"

	"github.com/haasonsaas/vibekit/pkg/models"
)

func toolCall(id, name string) models.ToolCall {
	return models.ToolCall{ID: id, Name: name, Input: json.RawMessage(`{}`)}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
