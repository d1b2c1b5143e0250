// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

package plugin_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiltchat/quilt/internal/plugin"
)

func TestGenerateSchema(t *testing.T) {
	data, err := plugin.GenerateSchema()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))

	assert.Equal(t, plugin.SchemaID(), schema["$id"])
	assert.Equal(t, "Quilt Plugin Manifest", schema["title"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	for _, field := range []string{"id", "name", "version", "entry", "permissions", "events", "integrity"} {
		assert.Contains(t, props, field)
	}
}

func TestValidateSchema(t *testing.T) {
	valid := `
id: demo.echo
name: Echo
version: 1.0.0
entry: main.lua
`
	assert.NoError(t, plugin.ValidateSchema([]byte(valid)))
}

func TestValidateSchema_WrongTypes(t *testing.T) {
	wrongType := `
id: demo.echo
name: Echo
version: 1.0.0
entry: main.lua
events: not-a-list
`
	err := plugin.ValidateSchema([]byte(wrongType))
	require.Error(t, err)
	assert.NotEmpty(t, plugin.FormatSchemaError(err))
}

func TestValidateSchema_EmptyInput(t *testing.T) {
	assert.Error(t, plugin.ValidateSchema(nil))
}
