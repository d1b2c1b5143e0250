// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
)

// namespacePattern restricts namespaces to plugin-id-shaped strings so a
// namespace can never traverse outside the data directory.
var namespacePattern = regexp.MustCompile(`^[a-z][a-z0-9.-]*[a-z0-9]$`)

// FileStore is a KV backed by one JSON file per namespace under a data
// directory. Values are stored as base64 by encoding/json's []byte handling.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// Compile-time interface check.
var _ KV = (*FileStore)(nil)

// NewFileStore creates a store rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Get returns the value for a key, or nil if absent.
func (f *FileStore) Get(_ context.Context, namespace, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ns, err := f.read(namespace)
	if err != nil {
		return nil, err
	}
	return ns[key], nil
}

// Set stores a value under a key.
func (f *FileStore) Set(_ context.Context, namespace, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	ns, err := f.read(namespace)
	if err != nil {
		return err
	}
	ns[key] = value
	return f.write(namespace, ns)
}

// Delete removes a key. Missing keys are a no-op.
func (f *FileStore) Delete(_ context.Context, namespace, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	ns, err := f.read(namespace)
	if err != nil {
		return err
	}
	if _, ok := ns[key]; !ok {
		return nil
	}
	delete(ns, key)
	return f.write(namespace, ns)
}

// Keys returns all keys in a namespace, sorted.
func (f *FileStore) Keys(_ context.Context, namespace string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ns, err := f.read(namespace)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(ns))
	for k := range ns {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// DropNamespace removes a namespace file. Missing namespaces are a no-op.
func (f *FileStore) DropNamespace(_ context.Context, namespace string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	path, err := f.namespacePath(namespace)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("drop namespace %s: %w", namespace, err)
	}
	return nil
}

func (f *FileStore) namespacePath(namespace string) (string, error) {
	if !namespacePattern.MatchString(namespace) {
		return "", fmt.Errorf("invalid storage namespace %q", namespace)
	}
	return filepath.Join(f.dir, namespace+".json"), nil
}

func (f *FileStore) read(namespace string) (map[string][]byte, error) {
	path, err := f.namespacePath(namespace)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path) //nolint:gosec // path validated by namespacePattern
	if err != nil {
		if os.IsNotExist(err) {
			return map[string][]byte{}, nil
		}
		return nil, fmt.Errorf("read namespace %s: %w", namespace, err)
	}

	var ns map[string][]byte
	if err := json.Unmarshal(data, &ns); err != nil {
		return nil, fmt.Errorf("corrupt namespace %s: %w", namespace, err)
	}
	return ns, nil
}

func (f *FileStore) write(namespace string, ns map[string][]byte) error {
	path, err := f.namespacePath(namespace)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(ns, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal namespace %s: %w", namespace, err)
	}

	tmp, err := os.CreateTemp(f.dir, "."+namespace+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()        //nolint:errcheck,gosec // best-effort cleanup
		os.Remove(tmpName) //nolint:errcheck,gosec // best-effort cleanup
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck,gosec // best-effort cleanup
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName) //nolint:errcheck,gosec // best-effort cleanup
		return fmt.Errorf("replace namespace file: %w", err)
	}
	return nil
}
