package toolconv

import (
	"github.com/haasonsaas/vibekit/internal/agent"
	openai "github.com/sashabaranov/go-openai"
)

// ToOpenAITools converts tools to OpenAI function definitions. The same
// format serves the DeepSeek endpoint.
func ToOpenAITools(tools []agent.Tool) ([]openai.Tool, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	result := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		schema, err := schemaMap(tool)
		if err != nil {
			return nil, err
		}
		result = append(result, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  schema,
			},
		})
	}
	return result, nil
}
