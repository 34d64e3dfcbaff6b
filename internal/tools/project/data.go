package project

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/haasonsaas/vibekit/internal/agent"
)

// MaxRecordsPerInsert bounds one insert_records call.
const MaxRecordsPerInsert = 500

var collectionName = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// InsertRecordsTool appends records to a data collection, creating the
// collection when needed.
type InsertRecordsTool struct{ binding }

type insertRecordsInput struct {
	Collection string           `json:"collection" jsonschema:"description=Lowercase collection name such as blog_posts"`
	Records    []map[string]any `json:"records" jsonschema:"description=Records to append; an id is generated when missing,minItems=1"`
}

func (t *InsertRecordsTool) Name() string { return "insert_records" }

func (t *InsertRecordsTool) Description() string {
	return "Append records to one of the project's data collections (e.g. blog posts, products)."
}

func (t *InsertRecordsTool) Schema() json.RawMessage { return agent.SchemaFor[insertRecordsInput]() }

func (t *InsertRecordsTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input insertRecordsInput
	if res := decodeParams(params, &input); res != nil {
		return res, nil
	}
	if !collectionName.MatchString(input.Collection) {
		return toolError(fmt.Sprintf("invalid collection name: %q", input.Collection)), nil
	}
	if len(input.Records) == 0 {
		return toolError("records are required"), nil
	}
	if len(input.Records) > MaxRecordsPerInsert {
		return toolError(fmt.Sprintf("at most %d records per call", MaxRecordsPerInsert)), nil
	}

	p, err := t.load(ctx)
	if err != nil {
		return toolError(fmt.Sprintf("load project: %v", err)), nil
	}
	ids := make([]string, 0, len(input.Records))
	for _, rec := range input.Records {
		id, _ := rec["id"].(string)
		if id == "" {
			id = uuid.NewString()
			rec["id"] = id
		}
		ids = append(ids, id)
	}
	p.Data[input.Collection] = append(p.Data[input.Collection], input.Records...)
	if err := t.projects.UpdateData(ctx, t.projectID, p.Data); err != nil {
		return toolError(fmt.Sprintf("insert records: %v", err)), nil
	}
	return toolResult(map[string]any{
		"collection": input.Collection,
		"inserted":   len(ids),
		"ids":        ids,
		"total":      len(p.Data[input.Collection]),
	})
}
