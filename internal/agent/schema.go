package agent

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

var toolReflector = &jsonschema.Reflector{
	Anonymous:                 true,
	DoNotReference:            true,
	ExpandedStruct:            true,
	AllowAdditionalProperties: false,
}

// SchemaFor reflects a tool input struct into the JSON Schema sent to the
// provider. Field names come from json tags; `jsonschema` tags add
// descriptions and required markers.
func SchemaFor[T any]() json.RawMessage {
	var zero T
	schema := toolReflector.Reflect(&zero)
	schema.Version = ""
	data, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return data
}
