// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

package plugin

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

var (
	schemaOnce   sync.Once
	schemaCached *jschema.Schema
	schemaErr    error
)

// GenerateSchema generates a JSON Schema from the Manifest struct, for
// editor tooling and the `quilt validate --schema` command.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference: true,
	}
	schema := r.Reflect(&Manifest{})

	schema.ID = jsonschema.ID(SchemaID())
	schema.Title = "Quilt Plugin Manifest"
	schema.Description = "Schema for plugin manifest documents"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}

// ValidateSchema validates YAML manifest data against the generated schema.
// This catches structural problems (wrong types, unexpected shapes) before
// semantic validation runs.
func ValidateSchema(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("manifest data is empty")
	}

	var yamlData any
	if err := yaml.Unmarshal(data, &yamlData); err != nil {
		return fmt.Errorf("invalid YAML: %w", err)
	}

	sch, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("failed to compile schema: %w", err)
	}

	if err := sch.Validate(convertToJSONTypes(yamlData)); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// SchemaID returns the schema $id for use in manifest documents.
func SchemaID() string {
	return "https://quiltchat.dev/schemas/plugin.schema.json"
}

// FormatSchemaError strips the wrapping prefix for display.
func FormatSchemaError(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimPrefix(err.Error(), "schema validation failed: ")
}

func compiledSchema() (*jschema.Schema, error) {
	schemaOnce.Do(func() {
		schemaBytes, err := GenerateSchema()
		if err != nil {
			schemaErr = err
			return
		}

		var schemaData any
		if err := json.Unmarshal(schemaBytes, &schemaData); err != nil {
			schemaErr = fmt.Errorf("failed to parse schema JSON: %w", err)
			return
		}

		c := jschema.NewCompiler()
		if err := c.AddResource("schema.json", schemaData); err != nil {
			schemaErr = fmt.Errorf("failed to add schema resource: %w", err)
			return
		}
		schemaCached, schemaErr = c.Compile("schema.json")
	})
	return schemaCached, schemaErr
}

// convertToJSONTypes converts YAML-parsed data to JSON-compatible types so
// the schema validator sees plain maps, slices, and scalars.
func convertToJSONTypes(v any) any {
	switch val := v.(type) {
	case map[string]any:
		result := make(map[string]any, len(val))
		for k, item := range val {
			result[k] = convertToJSONTypes(item)
		}
		return result
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = convertToJSONTypes(item)
		}
		return result
	default:
		return val
	}
}
