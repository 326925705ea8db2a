package tool

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// SchemaFor generates a map[string]interface{} JSON Schema for T from its
// struct tags, sparing tool authors from hand-authoring the schema maps
// model.ToolSpec.Schema expects.
//
// Supported tags mirror encoding/json plus jsonschema's own:
//
//	type Input struct {
//	    Query string `json:"query" jsonschema:"required,description=search query"`
//	    Limit int    `json:"limit,omitempty" jsonschema:"description=max results"`
//	}
func SchemaFor[T any]() map[string]interface{} {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]interface{}{}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]interface{}{}
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out
}
