// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

package account

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Credentials is one saved login.
type Credentials struct {
	HomeserverURL string `json:"homeserver_url"`
	UserID        string `json:"user_id"`
	AccessToken   string `json:"access_token"`
}

// StoredAccount is a saved login together with its store key.
type StoredAccount struct {
	Key string `json:"key"`
	Credentials
}

// CredentialStore persists account credentials in a single JSON file,
// keyed by "<normalized homeserver>/<user id>". Safe for concurrent use.
type CredentialStore struct {
	path string
	mu   sync.Mutex
}

// NewCredentialStore creates a store backed by the given file path. The file
// is created on first save; its parent directory must exist or be creatable.
func NewCredentialStore(path string) *CredentialStore {
	return &CredentialStore{path: path}
}

// NormalizeHomeserver trims whitespace and any trailing slash so that two
// spellings of the same homeserver produce the same store key.
func NormalizeHomeserver(url string) string {
	return strings.TrimRight(strings.TrimSpace(url), "/")
}

// Key derives the store key for a homeserver/user pair.
func Key(homeserverURL, userID string) string {
	return NormalizeHomeserver(homeserverURL) + "/" + userID
}

// Save adds or updates one account. Saving the same homeserver/user pair
// twice overwrites the previous token.
func (s *CredentialStore) Save(creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.read()
	if err != nil {
		return err
	}
	accounts[Key(creds.HomeserverURL, creds.UserID)] = creds
	return s.write(accounts)
}

// Load returns all saved accounts, ordered by key.
func (s *CredentialStore) Load() ([]StoredAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.read()
	if err != nil {
		return nil, err
	}

	out := make([]StoredAccount, 0, len(accounts))
	for key, creds := range accounts {
		out = append(out, StoredAccount{Key: key, Credentials: creds})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Clear removes one account by key, or every account when key is empty.
func (s *CredentialStore) Clear(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key == "" {
		return s.write(map[string]Credentials{})
	}

	accounts, err := s.read()
	if err != nil {
		return err
	}
	delete(accounts, key)
	return s.write(accounts)
}

func (s *CredentialStore) read() (map[string]Credentials, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Credentials{}, nil
		}
		return nil, fmt.Errorf("read credential store: %w", err)
	}

	var accounts map[string]Credentials
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("corrupt credential store: %w", err)
	}
	return accounts, nil
}

// write persists atomically: marshal to a temp file in the same directory,
// then rename over the store file.
func (s *CredentialStore) write(accounts map[string]Credentials) error {
	data, err := json.MarshalIndent(accounts, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credential store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create credential store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()          //nolint:errcheck,gosec // best-effort cleanup
		os.Remove(tmpName)   //nolint:errcheck,gosec // best-effort cleanup
		return fmt.Errorf("write temp store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck,gosec // best-effort cleanup
		return fmt.Errorf("close temp store file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName) //nolint:errcheck,gosec // best-effort cleanup
		return fmt.Errorf("chmod store file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName) //nolint:errcheck,gosec // best-effort cleanup
		return fmt.Errorf("replace store file: %w", err)
	}
	return nil
}
