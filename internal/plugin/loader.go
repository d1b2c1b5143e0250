// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

package plugin

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

// manifestFileName is the per-plugin manifest inside a plugin directory.
const manifestFileName = "plugin.yaml"

// DiscoveredPlugin pairs a parsed manifest with the directory it came from.
type DiscoveredPlugin struct {
	Manifest *Manifest
	Dir      string
}

// Loader discovers plugin directories and registers them with a host.
type Loader struct {
	host    *Host
	fetcher *EntryFetcher
	logger  *slog.Logger
}

// NewLoader creates a loader for the given host.
func NewLoader(host *Host, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		host:    host,
		fetcher: &EntryFetcher{},
		logger:  logger,
	}
}

// Discover finds plugin directories under dir. Directories without a parsable
// manifest are logged and skipped; a missing dir is not an error.
func (l *Loader) Discover(dir string) ([]*DiscoveredPlugin, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, oops.With("dir", dir).Wrapf(err, "read plugins directory")
	}

	var plugins []*DiscoveredPlugin
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		pluginDir := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(filepath.Join(pluginDir, manifestFileName)) //nolint:gosec // path from ReadDir entries
		if err != nil {
			l.logger.Warn("skipping plugin without manifest", "dir", entry.Name(), "error", err)
			continue
		}

		manifest, err := ParseManifest(data)
		if err != nil {
			l.logger.Warn("skipping plugin with invalid manifest", "dir", entry.Name(), "error", err)
			continue
		}

		plugins = append(plugins, &DiscoveredPlugin{Manifest: manifest, Dir: pluginDir})
	}
	return plugins, nil
}

// LoadDir discovers and registers every plugin under dir. Individual plugin
// failures are logged and skipped so one broken plugin cannot keep the rest
// from loading.
func (l *Loader) LoadDir(ctx context.Context, dir string) error {
	discovered, err := l.Discover(dir)
	if err != nil {
		return err
	}

	for _, dp := range discovered {
		if err := l.Load(ctx, dp); err != nil {
			l.logger.Error("failed to load plugin", "plugin", dp.Manifest.ID, "error", err)
			continue
		}
	}
	return nil
}

// Load fetches one discovered plugin's entry and registers it.
func (l *Loader) Load(ctx context.Context, dp *DiscoveredPlugin) error {
	source, err := l.fetcher.Fetch(ctx, dp.Dir, dp.Manifest.Entry)
	if err != nil {
		return oops.With("plugin", dp.Manifest.ID).Wrapf(err, "fetch entry")
	}
	return l.host.RegisterPlugin(ctx, dp.Manifest, source)
}
