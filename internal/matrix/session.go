// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

// Package matrix provides the messaging-client surface the plugin host
// performs privileged operations through. The host never hands a Session to
// plugin code; plugins reach it only via authorized action requests.
package matrix

import (
	"context"
	"encoding/json"
)

// Session is an authenticated client bound to one Matrix account.
//
// Implementations must be safe for concurrent use: the plugin host invokes
// privileged operations from per-plugin delivery goroutines.
type Session interface {
	// UserID returns the fully-qualified Matrix user ID
	// (e.g., "@ada:example.org").
	UserID() string

	// Close releases any resources held by the session. Idempotent.
	Close() error

	// SendMessage sends an m.room.message event. Returns the event ID.
	SendMessage(ctx context.Context, roomID string, content MessageContent) (string, error)

	// SendEvent sends an event of any type to a room. Returns the event ID.
	SendEvent(ctx context.Context, roomID, eventType string, content any) (string, error)

	// RedactEvent redacts a previously sent event. Returns the ID of the
	// redaction event.
	RedactEvent(ctx context.Context, roomID, eventID, reason string) (string, error)

	// RoomMembers returns the members of a room. Read-only; exposed to
	// plugins holding the read-room-state permission.
	RoomMembers(ctx context.Context, roomID string) ([]RoomMember, error)

	// StateEvent fetches one state event's content from a room. Read-only.
	StateEvent(ctx context.Context, roomID, eventType, stateKey string) (json.RawMessage, error)
}
