// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

package plugin_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiltchat/quilt/internal/plugin"
	"github.com/quiltchat/quilt/pkg/errutil"
)

func TestParseManifest_Valid(t *testing.T) {
	yaml := `
id: demo.echo
name: Echo
version: 1.0.0
entry: main.lua
permissions:
  - send-text-message
  - storage-access
events:
  - message
  - reaction
integrity: sha256-0000000000000000000000000000000000000000000000000000000000000000
`
	m, err := plugin.ParseManifest([]byte(yaml))
	require.NoError(t, err)

	assert.Equal(t, "demo.echo", m.ID)
	assert.Equal(t, "Echo", m.Name)
	assert.Equal(t, "1.0.0", m.Version)
	assert.Equal(t, "main.lua", m.Entry)
	assert.Len(t, m.Permissions, 2)
	assert.Len(t, m.Events, 2)
}

func TestParseManifest_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "empty document",
			yaml:    "",
			wantErr: "empty",
		},
		{
			name: "uppercase id",
			yaml: `
id: Demo.Echo
name: Echo
version: 1.0.0
entry: main.lua
`,
			wantErr: "id",
		},
		{
			name: "id starting with digit",
			yaml: `
id: 9echo
name: Echo
version: 1.0.0
entry: main.lua
`,
			wantErr: "id",
		},
		{
			name: "id ending with separator",
			yaml: `
id: demo.echo.
name: Echo
version: 1.0.0
entry: main.lua
`,
			wantErr: "id",
		},
		{
			name: "missing name",
			yaml: `
id: demo.echo
version: 1.0.0
entry: main.lua
`,
			wantErr: "name",
		},
		{
			name: "bad semver",
			yaml: `
id: demo.echo
name: Echo
version: one-point-oh
entry: main.lua
`,
			wantErr: "semver",
		},
		{
			name: "missing entry",
			yaml: `
id: demo.echo
name: Echo
version: 1.0.0
`,
			wantErr: "entry",
		},
		{
			name: "unknown permission",
			yaml: `
id: demo.echo
name: Echo
version: 1.0.0
entry: main.lua
permissions:
  - launch-missiles
`,
			wantErr: "launch-missiles",
		},
		{
			name: "unknown event",
			yaml: `
id: demo.echo
name: Echo
version: 1.0.0
entry: main.lua
events:
  - telepathy
`,
			wantErr: "telepathy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := plugin.ParseManifest([]byte(tt.yaml))
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, plugin.CodeValidationFailed)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseManifest_ErrorNamesOffendingPermission(t *testing.T) {
	yaml := `
id: demo.echo
name: Echo
version: 1.0.0
entry: main.lua
permissions:
  - send-text-message
  - not-a-permission
`
	_, err := plugin.ParseManifest([]byte(yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not-a-permission")
	assert.Contains(t, err.Error(), "demo.echo")
}

func TestManifest_IDLength(t *testing.T) {
	longID := "a" + strings.Repeat("b", 200)
	m := &plugin.Manifest{ID: longID, Name: "x", Version: "1.0.0", Entry: "main.lua"}

	err := m.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "128")
}

func TestParseRegistryDocument(t *testing.T) {
	yaml := `
plugins:
  - id: demo.echo
    name: Echo
    version: 1.0.0
    entry: main.lua
  - id: demo.poll
    name: Poll
    version: 0.3.1
    entry: https://plugins.example.org/poll.lua
`
	doc, err := plugin.ParseRegistryDocument([]byte(yaml))
	require.NoError(t, err)
	require.Len(t, doc.Plugins, 2)
	assert.Equal(t, "demo.poll", doc.Plugins[1].ID)
}

func TestParseRegistryDocument_OneBadManifestFailsAll(t *testing.T) {
	yaml := `
plugins:
  - id: demo.echo
    name: Echo
    version: 1.0.0
    entry: main.lua
  - id: demo.broken
    name: Broken
    version: nope
    entry: main.lua
`
	_, err := plugin.ParseRegistryDocument([]byte(yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "demo.broken")
}
