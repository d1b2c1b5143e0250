// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

package command

import (
	"sort"
	"strings"
	"sync"
)

// Registry maps case-folded command names and aliases to their definitions.
// Registration is exclusive: while an owner holds a name or alias, a second
// registration of the same case-folded spelling fails. Thread-safe.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]*Definition // case-folded name or alias -> definition
	byPlugin map[string][]string    // plugin id -> case-folded names it owns
}

// NewRegistry creates an empty command registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:   make(map[string]*Definition),
		byPlugin: make(map[string][]string),
	}
}

// fold canonicalizes a command spelling for dispatch.
func fold(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register adds a definition under its name and all aliases. If any spelling
// collides with an existing registration the whole call fails and nothing is
// registered.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return ErrInvalidCommand("name is required")
	}
	if def.Owner == "" {
		return ErrInvalidCommand("owner is required")
	}
	if def.Handler == nil {
		return ErrInvalidCommand("handler is required")
	}

	spellings := make([]string, 0, 1+len(def.Aliases))
	spellings = append(spellings, fold(def.Name))
	for _, alias := range def.Aliases {
		if alias == "" {
			return ErrInvalidCommand("empty alias")
		}
		spellings = append(spellings, fold(alias))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Check every spelling before mutating (all-or-nothing).
	for _, s := range spellings {
		if existing, ok := r.byName[s]; ok {
			return ErrDuplicateCommand(s, existing.Owner)
		}
	}

	stored := def
	for _, s := range spellings {
		r.byName[s] = &stored
	}
	r.byPlugin[def.Owner] = append(r.byPlugin[def.Owner], spellings...)
	return nil
}

// Resolve looks up a command by name or alias, case-insensitively.
func (r *Registry) Resolve(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.byName[fold(name)]
	if !ok {
		return Definition{}, false
	}
	return *def, true
}

// RemoveOwner drops every name and alias owned by a plugin. Unknown owners
// are a no-op.
func (r *Registry) RemoveOwner(pluginID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.byPlugin[pluginID] {
		delete(r.byName, s)
	}
	delete(r.byPlugin, pluginID)
}

// All returns the canonical definitions, deduplicated and ordered by name.
func (r *Registry) All() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[*Definition]bool)
	out := make([]Definition, 0, len(r.byName))
	for _, def := range r.byName {
		if seen[def] {
			continue
		}
		seen[def] = true
		out = append(out, *def)
	}
	sort.Slice(out, func(i, j int) bool { return fold(out[i].Name) < fold(out[j].Name) })
	return out
}
