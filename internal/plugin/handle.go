// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

package plugin

import (
	"time"

	"github.com/quiltchat/quilt/internal/plugin/sandbox"
)

// Handle is the host's record of one registered plugin: its validated
// manifest, the permission set resolved at registration, and the bridge
// owning its execution context. The permission set never changes after
// registration.
type Handle struct {
	manifest *Manifest
	actions  []string
	events   []string
	bridge   *sandbox.Bridge
	loadedAt time.Time

	// failure is set when activation failed; the handle is then inert but
	// retained so the failure is inspectable.
	failure error

	// dispose unregisters the plugin from its host, releasing grants,
	// commands, and timers along with the context.
	dispose func()
}

// Dispose releases the plugin through its host. Idempotent; disposing a
// handle whose plugin is already gone does nothing.
func (h *Handle) Dispose() {
	if h.dispose != nil {
		h.dispose()
	}
}

// ID returns the plugin identifier.
func (h *Handle) ID() string {
	return h.manifest.ID
}

// Manifest returns the validated manifest.
func (h *Handle) Manifest() *Manifest {
	return h.manifest
}

// State returns the plugin's lifecycle state.
func (h *Handle) State() sandbox.State {
	if h.bridge == nil {
		return sandbox.StateFailed
	}
	return h.bridge.State()
}

// Failure returns why activation failed, or nil.
func (h *Handle) Failure() error {
	return h.failure
}

// Actions returns the resolved action allow-list patterns.
func (h *Handle) Actions() []string {
	out := make([]string, len(h.actions))
	copy(out, h.actions)
	return out
}

// Events returns the event names the plugin may subscribe to.
func (h *Handle) Events() []string {
	out := make([]string, len(h.events))
	copy(out, h.events)
	return out
}

// LoadedAt returns when the plugin finished activation.
func (h *Handle) LoadedAt() time.Time {
	return h.loadedAt
}
