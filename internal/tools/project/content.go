package project

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/haasonsaas/vibekit/internal/agent"
)

// UpdateContentTool sets editable content fields such as headings and copy.
type UpdateContentTool struct{ binding }

type updateContentInput struct {
	Fields map[string]string `json:"fields,omitempty" jsonschema:"description=Content keys mapped to their new text"`
	Remove []string          `json:"remove,omitempty" jsonschema:"description=Content keys to delete"`
}

func (t *UpdateContentTool) Name() string { return "update_content" }

func (t *UpdateContentTool) Description() string {
	return "Set or remove content fields (text the site owner can edit without touching code)."
}

func (t *UpdateContentTool) Schema() json.RawMessage { return agent.SchemaFor[updateContentInput]() }

func (t *UpdateContentTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input updateContentInput
	if res := decodeParams(params, &input); res != nil {
		return res, nil
	}
	if len(input.Fields) == 0 && len(input.Remove) == 0 {
		return toolError("fields or remove is required"), nil
	}
	p, err := t.load(ctx)
	if err != nil {
		return toolError(fmt.Sprintf("load project: %v", err)), nil
	}
	changed := applyStringMap(p.Content, input.Fields, input.Remove)
	if err := t.projects.UpdateContent(ctx, t.projectID, p.Content); err != nil {
		return toolError(fmt.Sprintf("update content: %v", err)), nil
	}
	return toolResult(map[string]any{"updated": changed})
}

// UpdateDesignTool sets design tokens such as colors and fonts.
type UpdateDesignTool struct{ binding }

type updateDesignInput struct {
	Tokens map[string]string `json:"tokens,omitempty" jsonschema:"description=Design token names mapped to CSS values"`
	Remove []string          `json:"remove,omitempty" jsonschema:"description=Token names to delete"`
}

func (t *UpdateDesignTool) Name() string { return "update_design" }

func (t *UpdateDesignTool) Description() string {
	return "Set or remove design tokens (colors, fonts, spacing) used by the project's styles."
}

func (t *UpdateDesignTool) Schema() json.RawMessage { return agent.SchemaFor[updateDesignInput]() }

func (t *UpdateDesignTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input updateDesignInput
	if res := decodeParams(params, &input); res != nil {
		return res, nil
	}
	if len(input.Tokens) == 0 && len(input.Remove) == 0 {
		return toolError("tokens or remove is required"), nil
	}
	p, err := t.load(ctx)
	if err != nil {
		return toolError(fmt.Sprintf("load project: %v", err)), nil
	}
	changed := applyStringMap(p.Design, input.Tokens, input.Remove)
	if err := t.projects.UpdateDesign(ctx, t.projectID, p.Design); err != nil {
		return toolError(fmt.Sprintf("update design: %v", err)), nil
	}
	return toolResult(map[string]any{"updated": changed})
}

// applyStringMap writes set into dst, deletes remove, and returns the
// affected keys sorted.
func applyStringMap(dst, set map[string]string, remove []string) []string {
	changed := make([]string, 0, len(set)+len(remove))
	for k, v := range set {
		dst[k] = v
		changed = append(changed, k)
	}
	for _, k := range remove {
		if _, ok := dst[k]; ok {
			delete(dst, k)
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}
