// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

// Package config loads host configuration from an optional YAML file with
// command-line flag overrides. Flags win over the file; the file wins over
// defaults.
package config

import (
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Config is the full host configuration.
type Config struct {
	Log           LogConfig           `koanf:"log"`
	Observability ObservabilityConfig `koanf:"observability"`
	Plugins       PluginsConfig       `koanf:"plugins"`
	Storage       StorageConfig       `koanf:"storage"`
	Accounts      AccountsConfig      `koanf:"accounts"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`
	// Format is "json" or "text".
	Format string `koanf:"format"`
}

// ObservabilityConfig controls the metrics and health endpoint server.
type ObservabilityConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// PluginsConfig controls plugin discovery and activation.
type PluginsConfig struct {
	// Dir is scanned for plugin directories, each holding a plugin.yaml.
	Dir string `koanf:"dir"`
	// ActivationTimeout bounds the init/ready handshake per plugin.
	ActivationTimeout time.Duration `koanf:"activation_timeout"`
}

// StorageConfig controls plugin key-value storage.
type StorageConfig struct {
	// Dir holds one JSON file per plugin namespace. Empty means in-memory.
	Dir string `koanf:"dir"`
}

// AccountsConfig controls persisted account credentials.
type AccountsConfig struct {
	// CredentialsFile is the JSON credential store path.
	CredentialsFile string `koanf:"credentials_file"`
}

// Default returns the configuration used when nothing else is supplied.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Observability: ObservabilityConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9400",
		},
		Plugins: PluginsConfig{
			Dir:               "plugins",
			ActivationTimeout: 10 * time.Second,
		},
	}
}

// Load reads path (when non-empty) and applies set flags on top. Flags use
// dotted names matching the koanf keys (e.g., --log.level).
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.With("path", path).Wrapf(err, "load config file")
		}
	}
	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return Config{}, oops.Wrapf(err, "apply flag overrides")
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.Wrapf(err, "decode config")
	}
	return cfg, nil
}
