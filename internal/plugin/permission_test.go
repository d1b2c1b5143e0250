// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

package plugin_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiltchat/quilt/internal/plugin"
	"github.com/quiltchat/quilt/internal/plugin/capability"
	"github.com/quiltchat/quilt/internal/plugin/sandbox"
)

func TestResolvePermissions_BaselineOnly(t *testing.T) {
	m := &plugin.Manifest{ID: "demo.bare"}

	actions, events := plugin.ResolvePermissions(m)

	// Every plugin may register commands, nothing else.
	assert.Equal(t, []string{sandbox.ActionRegisterCommand}, actions)
	assert.Empty(t, events)
}

func TestResolvePermissions_Table(t *testing.T) {
	tests := []struct {
		name        string
		permissions []plugin.Permission
		events      []string
		wantAllowed []string
		wantDenied  []string
	}{
		{
			name:        "send text only",
			permissions: []plugin.Permission{plugin.PermSendTextMessage},
			wantAllowed: []string{sandbox.ActionSendMessage, sandbox.ActionRegisterCommand},
			wantDenied:  []string{sandbox.ActionSendEvent, sandbox.ActionRedactEvent, sandbox.ActionStorageGet},
		},
		{
			name:        "storage unlocks the whole namespace",
			permissions: []plugin.Permission{plugin.PermStorage},
			wantAllowed: []string{sandbox.ActionStorageGet, sandbox.ActionStorageSet, sandbox.ActionStorageDelete},
			wantDenied:  []string{sandbox.ActionSendMessage, "storage.get.raw"},
		},
		{
			name:        "scheduler unlocks timers",
			permissions: []plugin.Permission{plugin.PermScheduler},
			wantAllowed: []string{sandbox.ActionTimerSchedule, sandbox.ActionTimerCancel},
			wantDenied:  []string{sandbox.ActionSendMessage},
		},
		{
			name:        "room state unlocks read queries",
			permissions: []plugin.Permission{plugin.PermReadRoomState},
			wantAllowed: []string{sandbox.ActionMatrixMembers, sandbox.ActionMatrixState},
			wantDenied:  []string{sandbox.ActionSendEvent},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &plugin.Manifest{ID: "demo.t", Permissions: tt.permissions, Events: tt.events}
			actions, events := plugin.ResolvePermissions(m)

			enforcer := capability.NewEnforcer()
			require.NoError(t, enforcer.SetGrants(m.ID, actions, events))

			for _, action := range tt.wantAllowed {
				assert.True(t, enforcer.CheckAction(m.ID, action), "want %s allowed", action)
			}
			for _, action := range tt.wantDenied {
				assert.False(t, enforcer.CheckAction(m.ID, action), "want %s denied", action)
			}
		})
	}
}

func TestResolvePermissions_SchedulerAddsTimerEvent(t *testing.T) {
	m := &plugin.Manifest{
		ID:          "demo.t",
		Permissions: []plugin.Permission{plugin.PermScheduler},
		Events:      []string{plugin.EventMessage},
	}
	_, events := plugin.ResolvePermissions(m)

	assert.ElementsMatch(t, []string{plugin.EventMessage, plugin.EventTimer}, events)
}

func TestResolvePermissions_EventsDeduplicated(t *testing.T) {
	m := &plugin.Manifest{
		ID:          "demo.t",
		Permissions: []plugin.Permission{plugin.PermScheduler},
		Events:      []string{plugin.EventTimer, plugin.EventTimer},
	}
	_, events := plugin.ResolvePermissions(m)

	assert.Equal(t, []string{plugin.EventTimer}, events)
}

func TestKnownPermissionAndEvent(t *testing.T) {
	assert.True(t, plugin.KnownPermission(plugin.PermSendTextMessage))
	assert.False(t, plugin.KnownPermission("root-access"))
	assert.True(t, plugin.KnownEvent(plugin.EventCommandInvoked))
	assert.False(t, plugin.KnownEvent("heartbeat"))
}
