// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

// Package storage provides namespaced key-value storage for plugins.
// Namespaces are keyed by plugin id; a plugin can never read or write
// another plugin's namespace because the sandbox bridge supplies the
// namespace itself, not the plugin.
package storage

import "context"

// KV provides namespaced key-value storage.
//
// Get returns nil (with a nil error) for missing keys.
type KV interface {
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Set(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace, key string) error
	// Keys returns all keys in a namespace, sorted.
	Keys(ctx context.Context, namespace string) ([]string, error)
	// DropNamespace removes a namespace and all its keys.
	DropNamespace(ctx context.Context, namespace string) error
}
