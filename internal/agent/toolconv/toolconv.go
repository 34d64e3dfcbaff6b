// Package toolconv converts registered agent tools into the function
// declaration formats of the provider SDKs.
package toolconv

import (
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/vibekit/internal/agent"
)

// schemaMap decodes a tool's JSON Schema. An empty schema becomes an object
// without properties so every provider receives a valid declaration.
func schemaMap(tool agent.Tool) (map[string]any, error) {
	raw := tool.Schema()
	if len(raw) == 0 {
		return emptyObjectSchema(), nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name(), err)
	}
	if m == nil {
		return emptyObjectSchema(), nil
	}
	delete(m, "$schema")
	delete(m, "$id")
	return m, nil
}

func emptyObjectSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}
