// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quiltchat/quilt/internal/account"
	"github.com/quiltchat/quilt/internal/config"
	"github.com/quiltchat/quilt/internal/logging"
	"github.com/quiltchat/quilt/internal/matrix"
	"github.com/quiltchat/quilt/internal/observability"
	"github.com/quiltchat/quilt/internal/plugin"
	"github.com/quiltchat/quilt/internal/storage"
	"github.com/quiltchat/quilt/pkg/errutil"
)

// NewRunCmd creates the run subcommand: the long-lived plugin host process.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the plugin host",
		Long: `Run the plugin host: load saved accounts, discover and activate the
plugins under the configured directory, and serve until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return runHost(cmd.Context(), cfg)
		},
	}

	// Dotted flag names override the matching config keys.
	cmd.Flags().String("log.level", "", "log level (debug, info, warn, error)")
	cmd.Flags().String("log.format", "", "log format (json, text)")
	cmd.Flags().String("plugins.dir", "", "plugins directory")
	cmd.Flags().String("storage.dir", "", "plugin storage directory")
	cmd.Flags().Bool("observability.enabled", false, "serve /metrics and health probes")
	cmd.Flags().String("observability.addr", "", "observability listen address")

	return cmd
}

func runHost(ctx context.Context, cfg config.Config) error {
	logging.SetDefault("quilt", version, logging.Options{
		Format: cfg.Log.Format,
		Level:  parseLevel(cfg.Log.Level),
	})
	logger := slog.Default()

	var store storage.KV
	if cfg.Storage.Dir != "" {
		fs, err := storage.NewFileStore(cfg.Storage.Dir)
		if err != nil {
			errutil.LogError(logger, "failed to open plugin storage", err)
			return err
		}
		store = fs
	} else {
		store = storage.NewMemory()
	}

	accounts := account.NewRegistry()
	if cfg.Accounts.CredentialsFile != "" {
		if err := restoreAccounts(accounts, cfg.Accounts.CredentialsFile, logger); err != nil {
			errutil.LogError(logger, "failed to restore accounts", err)
			return err
		}
	}

	host, err := plugin.NewHost(plugin.HostConfig{
		Accounts:          accounts,
		Storage:           store,
		Logger:            logger,
		ActivationTimeout: cfg.Plugins.ActivationTimeout,
		Metrics:           cfg.Observability.Enabled,
	})
	if err != nil {
		errutil.LogError(logger, "failed to create plugin host", err)
		return err
	}
	defer host.Close()

	var obs *observability.Server
	if cfg.Observability.Enabled {
		obs = observability.NewServer(cfg.Observability.Addr, func() bool { return true })
		plugin.RegisterMetrics(obs.Registry())
		if _, err := obs.Start(); err != nil {
			errutil.LogError(logger, "failed to start observability server", err)
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Stop(sctx) //nolint:errcheck // shutdown is best effort
		}()
	}

	loader := plugin.NewLoader(host, logger)
	if err := loader.LoadDir(ctx, cfg.Plugins.Dir); err != nil {
		errutil.LogError(logger, "plugin discovery failed", err)
		return err
	}

	logger.Info("plugin host running",
		"plugins", len(host.PluginIDs()),
		"failed", len(host.FailedPlugins()),
		"accounts", len(host.Accounts()))

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	logger.Info("shutting down")
	return nil
}

// restoreAccounts rebuilds the account registry from saved credentials. Each
// stored login becomes a live HTTP session keyed by its store key.
func restoreAccounts(accounts *account.Registry, path string, logger *slog.Logger) error {
	credStore := account.NewCredentialStore(path)
	stored, err := credStore.Load()
	if err != nil {
		return err
	}

	for _, sa := range stored {
		session, err := matrix.NewHTTPSession(matrix.HTTPSessionConfig{
			HomeserverURL: sa.HomeserverURL,
			UserID:        sa.UserID,
			AccessToken:   sa.AccessToken,
		})
		if err != nil {
			logger.Warn("skipping stored account", "key", sa.Key, "error", err)
			continue
		}
		accounts.Register(account.Metadata{
			ID:         sa.Key,
			UserID:     sa.UserID,
			Homeserver: account.NormalizeHomeserver(sa.HomeserverURL),
		}, session)
	}
	return nil
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
