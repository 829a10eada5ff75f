package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ElementsSchema describes the array the model must return.
var ElementsSchema = map[string]any{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type":    "array",
	"items": map[string]any{
		"type":     "object",
		"required": []string{"type", "text"},
		"properties": map[string]any{
			"page": map[string]any{"type": []string{"integer", "null"}, "minimum": 1},
			"type": map[string]any{
				"type": "string",
				"enum": []string{"Title", "NarrativeText", "ListItem", "Table", "Text", "Header", "Footer"},
			},
			"text": map[string]any{"type": "string"},
			"coords": map[string]any{
				"type":     []string{"array", "null"},
				"items":    map[string]any{"type": "number"},
				"minItems": 4,
				"maxItems": 4,
			},
		},
	},
}

var (
	elementsOnce   sync.Once
	elementsSchema *jsonschema.Schema
	elementsErr    error
)

// ValidateElements checks data against ElementsSchema. The schema is compiled once.
func ValidateElements(data []byte) error {
	elementsOnce.Do(func() {
		elementsSchema, elementsErr = compile(ElementsSchema)
	})
	if elementsErr != nil {
		return elementsErr
	}
	return validate(elementsSchema, data)
}

// ValidateJSONAgainstSchema validates "data" against "schemaMap".
func ValidateJSONAgainstSchema(schemaMap map[string]any, data []byte) error {
	schema, err := compile(schemaMap)
	if err != nil {
		return err
	}
	return validate(schema, data)
}

func compile(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

func validate(schema *jsonschema.Schema, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
