package toolconv

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/haasonsaas/vibekit/internal/agent"
)

// ToAnthropicTools converts tools to Anthropic tool definitions.
func ToAnthropicTools(tools []agent.Tool) ([]anthropic.ToolUnionParam, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		schema, err := schemaMap(tool)
		if err != nil {
			return nil, err
		}
		// Round-trip through JSON so properties and required land in the
		// typed fields and any remaining keywords in ExtraFields.
		payload, err := json.Marshal(schema)
		if err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name(), err)
		}
		var input anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(payload, &input); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name(), err)
		}

		param := anthropic.ToolUnionParamOfTool(input, tool.Name())
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name())
		}
		param.OfTool.Description = anthropic.String(tool.Description())
		result = append(result, param)
	}
	return result, nil
}
