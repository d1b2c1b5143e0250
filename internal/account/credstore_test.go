// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

package account_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiltchat/quilt/internal/account"
)

func TestNormalizeHomeserver(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://matrix.example.org", "https://matrix.example.org"},
		{"https://matrix.example.org/", "https://matrix.example.org"},
		{"https://matrix.example.org///", "https://matrix.example.org"},
		{"  https://matrix.example.org/ ", "https://matrix.example.org"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, account.NormalizeHomeserver(tt.in))
	}
}

func TestKey(t *testing.T) {
	// Two spellings of the same homeserver yield one key.
	a := account.Key("https://hs.example.org/", "@ada:example.org")
	b := account.Key("https://hs.example.org", "@ada:example.org")
	assert.Equal(t, a, b)
	assert.Equal(t, "https://hs.example.org/@ada:example.org", a)
}

func TestCredentialStore_SaveLoadClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	store := account.NewCredentialStore(path)

	// Empty store loads as empty, not as an error.
	accounts, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, accounts)

	require.NoError(t, store.Save(account.Credentials{
		HomeserverURL: "https://hs.example.org/",
		UserID:        "@ada:example.org",
		AccessToken:   "tok-ada",
	}))
	require.NoError(t, store.Save(account.Credentials{
		HomeserverURL: "https://hs.example.org",
		UserID:        "@bob:example.org",
		AccessToken:   "tok-bob",
	}))

	accounts, err = store.Load()
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "@ada:example.org", accounts[0].UserID)
	assert.Equal(t, "tok-ada", accounts[0].AccessToken)

	// Saving the same pair again overwrites rather than duplicates.
	require.NoError(t, store.Save(account.Credentials{
		HomeserverURL: "https://hs.example.org",
		UserID:        "@ada:example.org",
		AccessToken:   "tok-ada-2",
	}))
	accounts, err = store.Load()
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "tok-ada-2", accounts[0].AccessToken)

	require.NoError(t, store.Clear(accounts[0].Key))
	accounts, err = store.Load()
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "@bob:example.org", accounts[0].UserID)

	require.NoError(t, store.Clear(""))
	accounts, err = store.Load()
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestCredentialStore_FileMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	store := account.NewCredentialStore(path)
	require.NoError(t, store.Save(account.Credentials{
		HomeserverURL: "https://hs.example.org",
		UserID:        "@ada:example.org",
		AccessToken:   "secret",
	}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestCredentialStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	store := account.NewCredentialStore(path)
	_, err := store.Load()
	assert.Error(t, err)
}
