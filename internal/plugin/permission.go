// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

package plugin

import "github.com/quiltchat/quilt/internal/plugin/sandbox"

// Permission is a named capability grant a manifest may request.
type Permission string

// The closed permission enumeration. Manifests requesting anything outside
// this set fail validation.
const (
	PermSendTextMessage Permission = "send-text-message"
	PermSendEvent       Permission = "send-arbitrary-event"
	PermRedactEvent     Permission = "redact-event"
	PermStorage         Permission = "storage-access"
	PermScheduler       Permission = "scheduler-access"
	PermReadRoomState   Permission = "read-room-state"
)

// Event names plugins may subscribe to. Closed set.
const (
	EventMessage        = "message"
	EventReaction       = "reaction"
	EventRedaction      = "redaction"
	EventMembership     = "membership"
	EventRoomState      = "room-state"
	EventAccount        = "account"
	EventTimer          = "timer"
	EventCommandInvoked = "command-invoked"
)

// Action names are defined by the sandbox protocol; the table below refers
// to them by their canonical names.

// permissionGrant is one row of the permission-to-action mapping.
type permissionGrant struct {
	actions []string // glob patterns over action names
	events  []string // event names unlocked in addition to subscriptions
}

// PermissionTableVersion identifies the mapping below. New actions for an
// existing permission bump this version; existing manifests keep working.
const PermissionTableVersion = 1

// permissionTable maps each permission to the concrete actions and events it
// unlocks. Consulted once per plugin at registration; treat as versioned
// configuration rather than logic.
var permissionTable = map[Permission]permissionGrant{
	PermSendTextMessage: {actions: []string{sandbox.ActionSendMessage}},
	PermSendEvent:       {actions: []string{sandbox.ActionSendEvent}},
	PermRedactEvent:     {actions: []string{sandbox.ActionRedactEvent}},
	PermStorage:         {actions: []string{"storage.*"}},
	PermScheduler:       {actions: []string{"timer.*"}, events: []string{EventTimer}},
	PermReadRoomState:   {actions: []string{"matrix.*"}},
}

// baselineActions are granted to every plugin regardless of manifest.
var baselineActions = []string{sandbox.ActionRegisterCommand}

// knownEvents is the subscription enumeration.
var knownEvents = map[string]bool{
	EventMessage:        true,
	EventReaction:       true,
	EventRedaction:      true,
	EventMembership:     true,
	EventRoomState:      true,
	EventAccount:        true,
	EventTimer:          true,
	EventCommandInvoked: true,
}

// KnownPermission reports membership in the permission enumeration.
func KnownPermission(p Permission) bool {
	_, ok := permissionTable[p]
	return ok
}

// KnownEvent reports membership in the event enumeration.
func KnownEvent(name string) bool {
	return knownEvents[name]
}

// ResolvePermissions derives the action allow-list and permitted event set
// for a manifest. The result is fixed for the lifetime of the handle; it is
// never widened after registration.
func ResolvePermissions(m *Manifest) (actions, events []string) {
	actions = append(actions, baselineActions...)

	seen := make(map[string]bool)
	for _, name := range m.Events {
		if !seen[name] {
			seen[name] = true
			events = append(events, name)
		}
	}

	for _, p := range m.Permissions {
		grant, ok := permissionTable[p]
		if !ok {
			// Validation rejects unknown permissions before resolution.
			continue
		}
		actions = append(actions, grant.actions...)
		for _, name := range grant.events {
			if !seen[name] {
				seen[name] = true
				events = append(events, name)
			}
		}
	}
	return actions, events
}
