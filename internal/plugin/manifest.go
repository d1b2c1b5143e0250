// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

// Package plugin provides the plugin host: manifest validation, integrity
// verification, capability resolution, and the coordinator that owns every
// live plugin handle.
package plugin

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// Manifest is a plugin's declared identity and capability request.
// Immutable once accepted; re-installation with the same id replaces it.
type Manifest struct {
	// ID is globally unique across the host instance (e.g., "demo.echo").
	ID string `yaml:"id" json:"id"`
	// Name is the human-readable plugin name.
	Name string `yaml:"name" json:"name"`
	// Version must parse as semver.
	Version string `yaml:"version" json:"version"`
	// Entry resolves to the plugin's executable code: a path relative to
	// the manifest's directory, or an http(s) URL.
	Entry string `yaml:"entry" json:"entry"`
	// Permissions is the ordered list of requested permissions.
	Permissions []Permission `yaml:"permissions,omitempty" json:"permissions,omitempty"`
	// Events lists the event names the plugin wishes to receive.
	Events []string `yaml:"events,omitempty" json:"events,omitempty"`
	// Integrity is the content hash of the entry code, canonically
	// "sha256-<64 hex>". Required before any code is executed.
	Integrity string `yaml:"integrity,omitempty" json:"integrity,omitempty"`
}

// RegistryDocument is a collection of manifests as fetched by the embedding
// application from a plugin registry.
type RegistryDocument struct {
	Plugins []Manifest `yaml:"plugins" json:"plugins"`
}

// maxIDLength bounds plugin ids.
const maxIDLength = 128

// idPattern validates plugin ids: lowercase, digits, dots and hyphens,
// starting with a letter and not ending with a separator.
var idPattern = regexp.MustCompile(`^[a-z]([a-z0-9.-]*[a-z0-9])?$`)

// ParseManifest parses and validates a single manifest document.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, ErrValidation("", "manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, ErrValidation("", fmt.Sprintf("invalid YAML: %v", err))
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// ParseRegistryDocument parses a registry document and validates every
// manifest in it. One bad manifest fails the whole document; callers wanting
// graceful degradation validate entries individually.
func ParseRegistryDocument(data []byte) (*RegistryDocument, error) {
	if len(data) == 0 {
		return nil, ErrValidation("", "registry document is empty")
	}

	var doc RegistryDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, ErrValidation("", fmt.Sprintf("invalid YAML: %v", err))
	}

	for i := range doc.Plugins {
		if err := doc.Plugins[i].Validate(); err != nil {
			return nil, err
		}
	}
	return &doc, nil
}

// Validate checks manifest constraints. Validation is all-or-nothing: a
// failure here never partially registers a plugin.
func (m *Manifest) Validate() error {
	if m.ID == "" || !idPattern.MatchString(m.ID) {
		return ErrValidation(m.ID,
			fmt.Sprintf("id %q must start with a-z and contain only a-z, 0-9, dots, and hyphens", m.ID))
	}
	if len(m.ID) > maxIDLength {
		return ErrValidation(m.ID,
			fmt.Sprintf("id must be %d characters or less, got %d", maxIDLength, len(m.ID)))
	}

	if m.Name == "" {
		return ErrValidation(m.ID, "name is required")
	}

	if m.Version == "" {
		return ErrValidation(m.ID, "version is required")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return ErrValidation(m.ID, fmt.Sprintf("version %q is not valid semver", m.Version))
	}

	if m.Entry == "" {
		return ErrValidation(m.ID, "entry is required")
	}

	for _, p := range m.Permissions {
		if !KnownPermission(p) {
			return ErrValidation(m.ID, fmt.Sprintf("unknown permission %q", p))
		}
	}

	for _, name := range m.Events {
		if !KnownEvent(name) {
			return ErrValidation(m.ID, fmt.Sprintf("unknown event %q", name))
		}
	}

	if m.Integrity != "" && strings.TrimSpace(m.Integrity) == "" {
		return ErrValidation(m.ID, "integrity reference must be a non-empty string")
	}

	return nil
}
