// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

package plugin

import (
	"github.com/samber/oops"
)

// Error codes for plugin lifecycle and authorization failures.
const (
	CodeValidationFailed    = "VALIDATION_FAILED"
	CodeIntegrityMismatch   = "INTEGRITY_MISMATCH"
	CodeDuplicatePlugin     = "DUPLICATE_PLUGIN"
	CodeAuthorizationDenied = "AUTHORIZATION_DENIED"
	CodeAccountNotFound     = "ACCOUNT_NOT_FOUND"
	CodeContextFailure      = "CONTEXT_FAILURE"
	CodeHostClosed          = "HOST_CLOSED"
	CodePluginNotLoaded     = "PLUGIN_NOT_LOADED"
	CodeUnknownAction       = "UNKNOWN_ACTION"
)

// ErrValidation creates an error for a malformed or over-privileged manifest.
func ErrValidation(pluginID, reason string) error {
	return oops.Code(CodeValidationFailed).
		With("plugin", pluginID).
		Errorf("invalid manifest: %s", reason)
}

// ErrIntegrity creates an error for a failed integrity check. The plugin's
// code must never execute after this is returned.
func ErrIntegrity(pluginID, reason string) error {
	return oops.Code(CodeIntegrityMismatch).
		With("plugin", pluginID).
		Errorf("integrity verification failed: %s", reason)
}

// ErrDuplicatePlugin creates an error for registering an id that already has
// a live handle.
func ErrDuplicatePlugin(pluginID string) error {
	return oops.Code(CodeDuplicatePlugin).
		With("plugin", pluginID).
		Errorf("plugin %s is already registered", pluginID)
}

// ErrAccountNotFound creates an error for a privileged action referencing an
// unknown account id.
func ErrAccountNotFound(accountID string) error {
	return oops.Code(CodeAccountNotFound).
		With("account", accountID).
		Errorf("account not found: %s", accountID)
}

// ErrContextFailure creates an error for an isolated context that failed to
// activate or died at runtime.
func ErrContextFailure(pluginID string, cause error) error {
	builder := oops.Code(CodeContextFailure).With("plugin", pluginID)
	if cause != nil {
		return builder.Wrapf(cause, "isolated context failure")
	}
	return builder.Errorf("isolated context failure")
}

// ErrHostClosed creates an error for operations on a closed host.
func ErrHostClosed() error {
	return oops.Code(CodeHostClosed).Errorf("plugin host is closed")
}

// ErrUnknownAction creates an error for an action name no privileged
// operation maps to.
func ErrUnknownAction(action string) error {
	return oops.Code(CodeUnknownAction).
		With("action", action).
		Errorf("unknown action: %s", action)
}
