// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

// Package command provides the plugin-owned chat command registry and the
// execution result types surfaced to the embedding application.
package command

import "context"

// Handler is the function signature for command handlers. It is supplied by
// the owning plugin's bridge and runs host-side.
type Handler func(ctx context.Context, inv Invocation) (string, error)

// Definition describes one command a plugin registers: a canonical name plus
// zero or more aliases. Names and aliases are case-folded for dispatch.
type Definition struct {
	Name    string   // canonical name (e.g., "/echo")
	Aliases []string // alternative spellings (e.g., "/e")
	Help    string   // one-line description shown in command pickers
	Usage   string   // usage pattern (e.g., "/echo <message>")
	Owner   string   // owning plugin id
	Handler Handler
}

// Invocation is one command execution request from the embedding application.
// It also crosses the sandbox boundary as the command event payload, so the
// JSON field names are part of the plugin-facing API.
type Invocation struct {
	Command   string `json:"command"`    // as typed, including leading slash
	Args      string `json:"args"`       // raw argument string after the command word
	AccountID string `json:"account_id"` // account the command was typed under
	RoomID    string `json:"room_id"`    // room the command was typed in
}

// Status classifies the outcome of an execution.
type Status string

// Execution outcomes.
const (
	StatusOK           Status = "ok"
	StatusNotFound     Status = "not_found"
	StatusNotAvailable Status = "not_available"
	StatusError        Status = "error"
)

// ExecutionResult is what ExecuteCommand returns to the caller.
type ExecutionResult struct {
	Status  Status
	Message string // optional handler message, or error description
}
