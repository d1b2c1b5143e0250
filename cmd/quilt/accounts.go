// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quiltchat/quilt/internal/account"
	"github.com/quiltchat/quilt/internal/config"
)

// NewAccountsCmd creates the accounts subcommand group.
func NewAccountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage saved account credentials",
	}

	cmd.AddCommand(newAccountsListCmd())
	cmd.AddCommand(newAccountsAddCmd())
	cmd.AddCommand(newAccountsRemoveCmd())

	return cmd
}

func credentialStore() (*account.CredentialStore, error) {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return nil, err
	}
	if cfg.Accounts.CredentialsFile == "" {
		return nil, fmt.Errorf("no credentials file configured (set accounts.credentials_file)")
	}
	return account.NewCredentialStore(cfg.Accounts.CredentialsFile), nil
}

func newAccountsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := credentialStore()
			if err != nil {
				return err
			}
			accounts, err := store.Load()
			if err != nil {
				return err
			}
			if len(accounts) == 0 {
				cmd.Println("no saved accounts")
				return nil
			}
			for _, sa := range accounts {
				cmd.Printf("%s\t%s\n", sa.Key, sa.UserID)
			}
			return nil
		},
	}
}

func newAccountsAddCmd() *cobra.Command {
	var creds account.Credentials

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Save an account's credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := credentialStore()
			if err != nil {
				return err
			}
			if err := store.Save(creds); err != nil {
				return err
			}
			cmd.Printf("saved %s\n", account.Key(creds.HomeserverURL, creds.UserID))
			return nil
		},
	}

	cmd.Flags().StringVar(&creds.HomeserverURL, "homeserver", "", "homeserver URL")
	cmd.Flags().StringVar(&creds.UserID, "user", "", "fully-qualified user ID")
	cmd.Flags().StringVar(&creds.AccessToken, "token", "", "access token")
	_ = cmd.MarkFlagRequired("homeserver")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("token")

	return cmd
}

func newAccountsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <key>",
		Short: "Remove a saved account by store key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := credentialStore()
			if err != nil {
				return err
			}
			if err := store.Clear(args[0]); err != nil {
				return err
			}
			cmd.Printf("removed %s\n", args[0])
			return nil
		},
	}
}
