// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

// Package capability enforces a plugin's resolved permission set at runtime.
//
// A grant set holds two allow-lists: action patterns (what the plugin may ask
// the host to do) and event names (what the host may deliver to it). Action
// patterns use gobwas/glob with '.' as the segment separator:
//   - '*' matches a single segment (does not cross '.')
//   - '**' matches zero or more segments (crosses '.')
//
// Examples:
//   - "storage.*" matches "storage.get" but not "storage.get.raw"
//   - "message.send" matches exactly
package capability

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gobwas/glob"
)

// compiledPattern holds a pattern and its compiled glob.
type compiledPattern struct {
	pattern string
	glob    glob.Glob
}

// GrantSet is the resolved allow-list for one plugin instance.
type GrantSet struct {
	actions []compiledPattern
	events  map[string]bool
}

// Enforcer checks plugin authorizations at runtime. Grants are set once at
// registration and never widened afterward; revocation happens by removing
// the plugin and registering it again.
//
// Enforcer is safe for concurrent use.
type Enforcer struct {
	mu     sync.RWMutex
	grants map[string]*GrantSet // plugin id -> grants
}

// NewEnforcer creates a capability enforcer.
func NewEnforcer() *Enforcer {
	return &Enforcer{
		grants: make(map[string]*GrantSet),
	}
}

// SetGrants installs the resolved allow-lists for a plugin. All action
// patterns are compiled before any state changes, so a bad pattern leaves the
// enforcer untouched (all-or-nothing). Calling SetGrants again for the same
// plugin replaces its grants.
func (e *Enforcer) SetGrants(pluginID string, actions, events []string) error {
	if pluginID == "" {
		return errors.New("plugin id cannot be empty")
	}

	compiled := make([]compiledPattern, len(actions))
	for i, pattern := range actions {
		if pattern == "" {
			return fmt.Errorf("action %d: empty pattern", i)
		}
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return fmt.Errorf("action %d (%q): %w", i, pattern, err)
		}
		compiled[i] = compiledPattern{pattern: pattern, glob: g}
	}

	eventSet := make(map[string]bool, len(events))
	for i, name := range events {
		if name == "" {
			return fmt.Errorf("event %d: empty name", i)
		}
		eventSet[name] = true
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.grants[pluginID] = &GrantSet{actions: compiled, events: eventSet}
	return nil
}

// RemoveGrants unregisters a plugin. Safe to call for unknown plugins.
func (e *Enforcer) RemoveGrants(pluginID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.grants, pluginID)
}

// IsRegistered reports whether a plugin has grants installed. This
// distinguishes "plugin not registered" from "plugin lacks capability".
func (e *Enforcer) IsRegistered(pluginID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, ok := e.grants[pluginID]
	return ok
}

// Actions returns a copy of a plugin's action patterns, or nil when the
// plugin is not registered.
func (e *Enforcer) Actions(pluginID string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	gs, ok := e.grants[pluginID]
	if !ok {
		return nil
	}
	patterns := make([]string, len(gs.actions))
	for i, p := range gs.actions {
		patterns[i] = p.pattern
	}
	return patterns
}

// Events returns a copy of a plugin's permitted event names, or nil when the
// plugin is not registered.
func (e *Enforcer) Events(pluginID string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	gs, ok := e.grants[pluginID]
	if !ok {
		return nil
	}
	events := make([]string, 0, len(gs.events))
	for name := range gs.events {
		events = append(events, name)
	}
	return events
}

// CheckAction returns true if the plugin may invoke the named action.
// Deny by default: empty inputs and unknown plugins check false.
func (e *Enforcer) CheckAction(pluginID, action string) bool {
	if action == "" {
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	gs, ok := e.grants[pluginID]
	if !ok {
		return false
	}
	for _, p := range gs.actions {
		if p.glob.Match(action) {
			return true
		}
	}
	return false
}

// CheckEvent returns true if the host may deliver the named event to the
// plugin. Deny by default.
func (e *Enforcer) CheckEvent(pluginID, event string) bool {
	if event == "" {
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	gs, ok := e.grants[pluginID]
	if !ok {
		return false
	}
	return gs.events[event]
}
