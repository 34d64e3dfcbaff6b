package toolconv

import (
	"strings"

	"github.com/haasonsaas/vibekit/internal/agent"
	"google.golang.org/genai"
)

// ToGeminiTools converts tools into a single Gemini tool carrying one
// function declaration per registered tool.
func ToGeminiTools(tools []agent.Tool) ([]*genai.Tool, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		schema, err := schemaMap(tool)
		if err != nil {
			return nil, err
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  ToGeminiSchema(schema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}, nil
}

// ToGeminiSchema converts a JSON Schema map to Gemini's Schema type.
// Keywords Gemini does not model, such as additionalProperties, are dropped.
// A ["string", "null"] type list becomes a nullable string.
func ToGeminiSchema(m map[string]any) *genai.Schema {
	if m == nil {
		return nil
	}
	schema := &genai.Schema{}

	switch t := m["type"].(type) {
	case string:
		schema.Type = genai.Type(strings.ToUpper(t))
	case []any:
		for _, v := range t {
			s, _ := v.(string)
			if s == "null" {
				nullable := true
				schema.Nullable = &nullable
				continue
			}
			if s != "" && schema.Type == "" {
				schema.Type = genai.Type(strings.ToUpper(s))
			}
		}
	}

	if desc, ok := m["description"].(string); ok {
		schema.Description = desc
	}
	schema.Enum = stringList(m["enum"])
	schema.Required = stringList(m["required"])

	if props, ok := m["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = ToGeminiSchema(propMap)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		schema.Items = ToGeminiSchema(items)
	}
	return schema
}

func stringList(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
