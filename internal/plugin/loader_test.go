// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

package plugin_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiltchat/quilt/internal/plugin"
)

// writePlugin lays out one on-disk plugin directory with a matching manifest.
func writePlugin(t *testing.T, root, id, source string) {
	t.Helper()

	dir := filepath.Join(root, id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.lua"), []byte(source), 0o600))

	manifest := fmt.Sprintf(`id: %s
name: %s
version: 1.0.0
entry: main.lua
integrity: %s
`, id, id, plugin.IntegrityReference([]byte(source)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.yaml"), []byte(manifest), 0o600))
}

func TestLoader_Discover(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "demo.a", `x = 1`)
	writePlugin(t, root, "demo.b", `x = 2`)

	// Noise the loader must skip: a bare file, a dir without a manifest,
	// and a dir with a broken manifest.
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("hi"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "broken"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "broken", "plugin.yaml"), []byte("{{{"), 0o600))

	f := newHostFixture(t)
	loader := plugin.NewLoader(f.host, nil)

	discovered, err := loader.Discover(root)
	require.NoError(t, err)
	require.Len(t, discovered, 2)

	ids := []string{discovered[0].Manifest.ID, discovered[1].Manifest.ID}
	assert.ElementsMatch(t, []string{"demo.a", "demo.b"}, ids)
}

func TestLoader_DiscoverMissingDir(t *testing.T) {
	f := newHostFixture(t)
	loader := plugin.NewLoader(f.host, nil)

	discovered, err := loader.Discover(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, discovered)
}

func TestLoader_LoadDir(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "demo.good", `x = 1`)
	writePlugin(t, root, "demo.dead", `error("refuses to start")`)

	f := newHostFixture(t)
	loader := plugin.NewLoader(f.host, nil)

	// One broken plugin must not keep the rest from loading.
	require.NoError(t, loader.LoadDir(context.Background(), root))

	assert.ElementsMatch(t, []string{"demo.dead", "demo.good"}, f.host.PluginIDs())
	assert.Equal(t, []string{"demo.dead"}, f.host.FailedPlugins())
}

func TestLoader_LoadRejectsTamperedEntry(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "demo.tampered", `x = 1`)
	// Modify the code after the manifest's hash was computed.
	require.NoError(t, os.WriteFile(
		filepath.Join(root, "demo.tampered", "main.lua"), []byte(`x = 666`), 0o600))

	f := newHostFixture(t)
	loader := plugin.NewLoader(f.host, nil)

	discovered, err := loader.Discover(root)
	require.NoError(t, err)
	require.Len(t, discovered, 1)

	err = loader.Load(context.Background(), discovered[0])
	require.Error(t, err)
	assert.Empty(t, f.host.PluginIDs())
}
