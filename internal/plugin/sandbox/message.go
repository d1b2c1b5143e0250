// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

// Package sandbox owns the isolated execution context for one plugin
// instance and the structured message protocol spoken with it. The Bridge is
// the only component that exchanges messages with a context; it enforces the
// plugin's resolved action allow-list before any host call.
package sandbox

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the message union.
type Kind string

// The fixed set of message kinds. Unknown kinds are a defined, logged no-op.
const (
	// KindInit carries the entry source and permitted event names into a
	// freshly created context (host -> context).
	KindInit Kind = "init"
	// KindReady acknowledges activation (context -> host).
	KindReady Kind = "ready"
	// KindSubscribe starts delivery of one event name (context -> host).
	KindSubscribe Kind = "subscribe"
	// KindEvent delivers an event payload (host -> context).
	KindEvent Kind = "event"
	// KindActionRequest asks the host to perform a privileged action
	// (context -> host).
	KindActionRequest Kind = "action_request"
	// KindActionResponse answers one action request (host -> context).
	KindActionResponse Kind = "action_response"
	// KindStorageRequest / KindStorageResponse follow the action pattern,
	// scoped to the plugin's storage namespace.
	KindStorageRequest  Kind = "storage_request"
	KindStorageResponse Kind = "storage_response"
	// KindMatrixRequest / KindMatrixResponse follow the action pattern,
	// scoped to read-only protocol-client queries.
	KindMatrixRequest  Kind = "matrix_request"
	KindMatrixResponse Kind = "matrix_response"
	// KindDispose terminates the context (host -> context).
	KindDispose Kind = "dispose"
)

// Action names carried by request messages. The bridge authorizes these
// against the plugin's resolved allow-list; the plugin host maps them to
// privileged operations.
const (
	ActionSendMessage     = "message.send"
	ActionSendEvent       = "event.send"
	ActionRedactEvent     = "event.redact"
	ActionStorageGet      = "storage.get"
	ActionStorageSet      = "storage.set"
	ActionStorageDelete   = "storage.delete"
	ActionMatrixMembers   = "matrix.members"
	ActionMatrixState     = "matrix.state"
	ActionTimerSchedule   = "timer.schedule"
	ActionTimerCancel     = "timer.cancel"
	ActionRegisterCommand = "command.register"
)

// Message is the wire-level unit exchanged between host and context.
// Exactly one payload shape is populated per kind; Decode enforces the
// per-kind required fields.
type Message struct {
	Kind Kind `json:"type"`

	// init
	Entry         string   `json:"entry,omitempty"`
	AllowedEvents []string `json:"allowed_events,omitempty"`

	// subscribe, event
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// requests and responses, correlated by RequestID. Ids are chosen by
	// the context and unique within one plugin instance.
	RequestID int64           `json:"request_id,omitempty"`
	Action    string          `json:"action,omitempty"`
	Success   bool            `json:"success,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// isResponse reports whether the kind is one of the response kinds.
func (k Kind) isResponse() bool {
	return k == KindActionResponse || k == KindStorageResponse || k == KindMatrixResponse
}

// responseKind maps a request kind to its response kind.
func responseKind(k Kind) Kind {
	switch k {
	case KindActionRequest:
		return KindActionResponse
	case KindStorageRequest:
		return KindStorageResponse
	case KindMatrixRequest:
		return KindMatrixResponse
	default:
		return KindActionResponse
	}
}

// Decode parses a wire message and validates the fields its kind requires.
// Unknown kinds produce an error so callers can log and drop them rather
// than misinterpret.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("malformed sandbox message: %w", err)
	}

	switch m.Kind {
	case KindInit:
		if m.Entry == "" {
			return Message{}, fmt.Errorf("init message missing entry")
		}
	case KindReady, KindDispose:
		// No payload.
	case KindSubscribe:
		if m.Event == "" {
			return Message{}, fmt.Errorf("subscribe message missing event")
		}
	case KindEvent:
		if m.Event == "" {
			return Message{}, fmt.Errorf("event message missing event name")
		}
	case KindActionRequest, KindStorageRequest, KindMatrixRequest:
		if m.RequestID == 0 {
			return Message{}, fmt.Errorf("%s missing request_id", m.Kind)
		}
		if m.Action == "" {
			return Message{}, fmt.Errorf("%s missing action", m.Kind)
		}
	case KindActionResponse, KindStorageResponse, KindMatrixResponse:
		if m.RequestID == 0 {
			return Message{}, fmt.Errorf("%s missing request_id", m.Kind)
		}
	default:
		return Message{}, fmt.Errorf("unknown sandbox message kind %q", m.Kind)
	}
	return m, nil
}

// Encode serializes a message for the wire.
func Encode(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode sandbox message: %w", err)
	}
	return data, nil
}
