// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

package command

import (
	"github.com/samber/oops"
)

// Error codes for command registry failures.
const (
	CodeDuplicateCommand = "DUPLICATE_COMMAND"
	CodeInvalidCommand   = "INVALID_COMMAND"
)

// ErrDuplicateCommand creates an error for a name or alias that is already
// owned by a registered plugin.
func ErrDuplicateCommand(name, owner string) error {
	return oops.Code(CodeDuplicateCommand).
		With("command", name).
		With("owner", owner).
		Errorf("command %s is already registered by %s", name, owner)
}

// ErrInvalidCommand creates an error for a malformed command definition.
func ErrInvalidCommand(reason string) error {
	return oops.Code(CodeInvalidCommand).
		Errorf("invalid command definition: %s", reason)
}
