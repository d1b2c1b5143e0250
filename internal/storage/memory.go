// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

package storage

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-memory KV, used in tests and as a fallback when no
// data directory is configured.
type Memory struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

// Compile-time interface check.
var _ KV = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string][]byte)}
}

// Get returns the value for a key, or nil if absent.
func (m *Memory) Get(_ context.Context, namespace, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ns, ok := m.data[namespace]
	if !ok {
		return nil, nil
	}
	value, ok := ns[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Set stores a value under a key.
func (m *Memory) Set(_ context.Context, namespace, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ns, ok := m.data[namespace]
	if !ok {
		ns = make(map[string][]byte)
		m.data[namespace] = ns
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	ns[key] = stored
	return nil
}

// Delete removes a key. Missing keys are a no-op.
func (m *Memory) Delete(_ context.Context, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ns, ok := m.data[namespace]; ok {
		delete(ns, key)
	}
	return nil
}

// Keys returns all keys in a namespace, sorted.
func (m *Memory) Keys(_ context.Context, namespace string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ns := m.data[namespace]
	keys := make([]string, 0, len(ns))
	for k := range ns {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// DropNamespace removes a namespace and all its keys.
func (m *Memory) DropNamespace(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, namespace)
	return nil
}
