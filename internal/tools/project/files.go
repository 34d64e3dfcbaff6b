package project

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/haasonsaas/vibekit/internal/agent"
)

// ListFilesTool lists the project's file paths.
type ListFilesTool struct{ binding }

type listFilesInput struct {
	Prefix string `json:"prefix,omitempty" jsonschema:"description=Only list paths starting with this prefix"`
}

func (t *ListFilesTool) Name() string { return "list_files" }

func (t *ListFilesTool) Description() string {
	return "List the paths of all files in the project, with their sizes in bytes."
}

func (t *ListFilesTool) Schema() json.RawMessage { return agent.SchemaFor[listFilesInput]() }

func (t *ListFilesTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input listFilesInput
	if res := decodeParams(params, &input); res != nil {
		return res, nil
	}
	p, err := t.load(ctx)
	if err != nil {
		return toolError(fmt.Sprintf("load project: %v", err)), nil
	}

	type entry struct {
		Path string `json:"path"`
		Size int    `json:"size"`
	}
	files := make([]entry, 0, len(p.Files))
	for name, body := range p.Files {
		if input.Prefix != "" && !strings.HasPrefix(name, strings.TrimPrefix(input.Prefix, "/")) {
			continue
		}
		files = append(files, entry{Path: name, Size: len(body)})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return toolResult(map[string]any{"files": files, "count": len(files)})
}

// ReadFileTool returns one file's content.
type ReadFileTool struct{ binding }

type readFileInput struct {
	Path string `json:"path" jsonschema:"description=File path relative to the project root"`
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string { return "Read the full content of a project file." }

func (t *ReadFileTool) Schema() json.RawMessage { return agent.SchemaFor[readFileInput]() }

func (t *ReadFileTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input readFileInput
	if res := decodeParams(params, &input); res != nil {
		return res, nil
	}
	name, err := normalizePath(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}
	p, err := t.load(ctx)
	if err != nil {
		return toolError(fmt.Sprintf("load project: %v", err)), nil
	}
	body, ok := p.Files[name]
	if !ok {
		return toolError(fmt.Sprintf("file not found: %s", name)), nil
	}
	return &agent.ToolResult{Content: body}, nil
}

// WriteFileTool creates or replaces a file.
type WriteFileTool struct{ binding }

type writeFileInput struct {
	Path    string `json:"path" jsonschema:"description=File path relative to the project root"`
	Content string `json:"content" jsonschema:"description=Complete new file content"`
}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "Create a project file or replace its entire content."
}

func (t *WriteFileTool) Schema() json.RawMessage { return agent.SchemaFor[writeFileInput]() }

func (t *WriteFileTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input writeFileInput
	if res := decodeParams(params, &input); res != nil {
		return res, nil
	}
	name, err := normalizePath(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}
	if len(input.Content) > MaxFileSize {
		return toolError(fmt.Sprintf("content exceeds %d bytes", MaxFileSize)), nil
	}
	p, err := t.load(ctx)
	if err != nil {
		return toolError(fmt.Sprintf("load project: %v", err)), nil
	}
	_, existed := p.Files[name]
	p.Files[name] = input.Content
	if err := t.projects.UpdateFiles(ctx, t.projectID, p.Files); err != nil {
		return toolError(fmt.Sprintf("write file: %v", err)), nil
	}
	return toolResult(map[string]any{"path": name, "bytes": len(input.Content), "created": !existed})
}

// EditFileTool applies find/replace edits to a file.
type EditFileTool struct{ binding }

type fileEdit struct {
	OldText    string `json:"old_text" jsonschema:"description=Text to replace"`
	NewText    string `json:"new_text" jsonschema:"description=Replacement text"`
	ReplaceAll bool   `json:"replace_all,omitempty" jsonschema:"description=Replace all occurrences (default: false)"`
}

type editFileInput struct {
	Path  string     `json:"path" jsonschema:"description=File path relative to the project root"`
	Edits []fileEdit `json:"edits" jsonschema:"minItems=1"`
}

func (t *EditFileTool) Name() string { return "edit_file" }

func (t *EditFileTool) Description() string {
	return "Apply one or more find/replace edits to a project file."
}

func (t *EditFileTool) Schema() json.RawMessage { return agent.SchemaFor[editFileInput]() }

func (t *EditFileTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input editFileInput
	if res := decodeParams(params, &input); res != nil {
		return res, nil
	}
	name, err := normalizePath(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}
	if len(input.Edits) == 0 {
		return toolError("edits are required"), nil
	}
	p, err := t.load(ctx)
	if err != nil {
		return toolError(fmt.Sprintf("load project: %v", err)), nil
	}
	content, ok := p.Files[name]
	if !ok {
		return toolError(fmt.Sprintf("file not found: %s", name)), nil
	}

	replacements := 0
	for _, edit := range input.Edits {
		if edit.OldText == "" {
			return toolError("old_text is required"), nil
		}
		if !strings.Contains(content, edit.OldText) {
			return toolError(fmt.Sprintf("old_text not found: %q", edit.OldText)), nil
		}
		if edit.ReplaceAll {
			replacements += strings.Count(content, edit.OldText)
			content = strings.ReplaceAll(content, edit.OldText, edit.NewText)
		} else {
			content = strings.Replace(content, edit.OldText, edit.NewText, 1)
			replacements++
		}
	}
	if len(content) > MaxFileSize {
		return toolError(fmt.Sprintf("content exceeds %d bytes", MaxFileSize)), nil
	}

	p.Files[name] = content
	if err := t.projects.UpdateFiles(ctx, t.projectID, p.Files); err != nil {
		return toolError(fmt.Sprintf("write file: %v", err)), nil
	}
	return toolResult(map[string]any{"path": name, "replacements": replacements})
}

// DeleteFileTool removes a file.
type DeleteFileTool struct{ binding }

type deleteFileInput struct {
	Path string `json:"path" jsonschema:"description=File path relative to the project root"`
}

func (t *DeleteFileTool) Name() string { return "delete_file" }

func (t *DeleteFileTool) Description() string { return "Delete a project file." }

func (t *DeleteFileTool) Schema() json.RawMessage { return agent.SchemaFor[deleteFileInput]() }

func (t *DeleteFileTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input deleteFileInput
	if res := decodeParams(params, &input); res != nil {
		return res, nil
	}
	name, err := normalizePath(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}
	p, err := t.load(ctx)
	if err != nil {
		return toolError(fmt.Sprintf("load project: %v", err)), nil
	}
	if _, ok := p.Files[name]; !ok {
		return toolError(fmt.Sprintf("file not found: %s", name)), nil
	}
	delete(p.Files, name)
	if err := t.projects.UpdateFiles(ctx, t.projectID, p.Files); err != nil {
		return toolError(fmt.Sprintf("delete file: %v", err)), nil
	}
	return toolResult(map[string]any{"path": name, "deleted": true})
}
