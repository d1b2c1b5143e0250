// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quiltchat/quilt/internal/plugin"
)

// NewValidateCmd creates the validate subcommand.
func NewValidateCmd() *cobra.Command {
	var (
		printSchema bool
		entryFile   string
	)

	cmd := &cobra.Command{
		Use:   "validate [manifest.yaml]",
		Short: "Validate a plugin manifest",
		Long: `Validate a plugin manifest against the schema and the semantic rules
(id format, semver, known permissions and events). With --entry, the entry
file is also checked against the manifest's integrity hash.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if printSchema {
				schema, err := plugin.GenerateSchema()
				if err != nil {
					return err
				}
				cmd.Println(string(schema))
				return nil
			}
			if len(args) == 0 {
				return fmt.Errorf("manifest path is required (or use --schema)")
			}
			return validateManifest(cmd, args[0], entryFile)
		},
	}

	cmd.Flags().BoolVar(&printSchema, "schema", false, "print the manifest JSON schema and exit")
	cmd.Flags().StringVar(&entryFile, "entry", "", "entry file to verify against the manifest's integrity hash")

	return cmd
}

func validateManifest(cmd *cobra.Command, manifestPath, entryFile string) error {
	data, err := os.ReadFile(manifestPath) //nolint:gosec // CLI argument path
	if err != nil {
		return err
	}

	if err := plugin.ValidateSchema(data); err != nil {
		return fmt.Errorf("%s: %s", manifestPath, plugin.FormatSchemaError(err))
	}

	m, err := plugin.ParseManifest(data)
	if err != nil {
		return err
	}

	if entryFile != "" {
		code, err := os.ReadFile(entryFile) //nolint:gosec // CLI argument path
		if err != nil {
			return err
		}
		if err := plugin.VerifyIntegrity(m, code); err != nil {
			return err
		}
		cmd.Printf("%s: ok (integrity verified, %s)\n", m.ID, plugin.IntegrityReference(code))
		return nil
	}

	cmd.Printf("%s: ok\n", m.ID)
	return nil
}
