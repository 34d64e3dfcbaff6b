// Package project provides the tools an agent run uses to edit one project:
// its files, content fields, design tokens and data collections.
package project

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/haasonsaas/vibekit/internal/agent"
	"github.com/haasonsaas/vibekit/pkg/models"
)

// MaxFileSize bounds a single file written by the agent.
const MaxFileSize = 1 << 20

// Projects is the project repository surface the tools need.
type Projects interface {
	Get(ctx context.Context, id string) (*models.Project, error)
	UpdateFiles(ctx context.Context, id string, files map[string]string) error
	UpdateContent(ctx context.Context, id string, content map[string]string) error
	UpdateDesign(ctx context.Context, id string, design map[string]string) error
	UpdateData(ctx context.Context, id string, data map[string][]map[string]any) error
}

// binding ties a tool to one project.
type binding struct {
	projects  Projects
	projectID string
}

func (b binding) load(ctx context.Context) (*models.Project, error) {
	return b.projects.Get(ctx, b.projectID)
}

// Tools returns every project tool bound to projectID, in the order they
// are offered to the model.
func Tools(projects Projects, projectID string) []agent.Tool {
	b := binding{projects: projects, projectID: projectID}
	return []agent.Tool{
		&ListFilesTool{b},
		&ReadFileTool{b},
		&WriteFileTool{b},
		&EditFileTool{b},
		&DeleteFileTool{b},
		&UpdateContentTool{b},
		&UpdateDesignTool{b},
		&InsertRecordsTool{b},
	}
}

// Registry builds a tool registry holding Tools(projects, projectID).
func Registry(projects Projects, projectID string) *agent.ToolRegistry {
	return agent.NewToolRegistry(Tools(projects, projectID)...)
}

// normalizePath turns a model-supplied path into the key used in the files
// map: slash separated, no leading slash, no dot segments.
func normalizePath(p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return "", fmt.Errorf("path is required")
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("path escapes project: %s", p)
		}
	}
	clean := strings.TrimPrefix(path.Clean("/"+p), "/")
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}
	return clean, nil
}

func toolResult(v any) (*agent.ToolResult, error) {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

func toolError(message string) *agent.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &agent.ToolResult{Content: message, IsError: true}
	}
	return &agent.ToolResult{Content: string(payload), IsError: true}
}

func decodeParams(params json.RawMessage, v any) *agent.ToolResult {
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(params, v); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err))
	}
	return nil
}
