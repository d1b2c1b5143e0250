// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Quilt CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quilt",
		Short: "Quilt - sandboxed plugin host for Matrix clients",
		Long: `Quilt hosts sandboxed plugins for a Matrix messaging client:
manifests are validated and integrity-checked, plugin code runs in isolated
contexts, and every privileged operation is authorized against the plugin's
declared permissions.`,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewValidateCmd())
	cmd.AddCommand(NewAccountsCmd())

	return cmd
}
