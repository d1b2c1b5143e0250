// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

package matrix

import "encoding/json"

// Event types used by the host when performing privileged sends.
const (
	EventTypeMessage   = "m.room.message"
	EventTypeRedaction = "m.room.redaction"
)

// Message msgtypes.
const (
	MsgTypeText   = "m.text"
	MsgTypeNotice = "m.notice"
)

// FormatHTML is the only formatted-body format the client-server API defines.
const FormatHTML = "org.matrix.custom.html"

// MessageContent is the content of an m.room.message event.
type MessageContent struct {
	MsgType       string `json:"msgtype"`
	Body          string `json:"body"`
	Format        string `json:"format,omitempty"`
	FormattedBody string `json:"formatted_body,omitempty"`
}

// NewTextMessage creates a plain-text message.
func NewTextMessage(body string) MessageContent {
	return MessageContent{
		MsgType: MsgTypeText,
		Body:    body,
	}
}

// NewFormattedMessage creates a message with an HTML formatted body alongside
// the plain-text fallback.
func NewFormattedMessage(body, html string) MessageContent {
	return MessageContent{
		MsgType:       MsgTypeText,
		Body:          body,
		Format:        FormatHTML,
		FormattedBody: html,
	}
}

// RedactionContent is the content of an m.room.redaction event.
type RedactionContent struct {
	Reason string `json:"reason,omitempty"`
}

// TimelineEvent is a raw timeline event as received from a sync stream.
// The embedding application forwards these into the plugin host.
type TimelineEvent struct {
	EventID   string          `json:"event_id"`
	RoomID    string          `json:"room_id"`
	Sender    string          `json:"sender"`
	Type      string          `json:"type"`
	Timestamp int64           `json:"origin_server_ts"`
	Content   json.RawMessage `json:"content"`
}

// RoomMember describes one member of a room.
type RoomMember struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	Membership  string `json:"membership"`
}

// sendResponse is the body returned by the send and redact endpoints.
type sendResponse struct {
	EventID string `json:"event_id"`
}

// errorResponse is the standard Matrix error body.
type errorResponse struct {
	Code    string `json:"errcode"`
	Message string `json:"error"`
}
