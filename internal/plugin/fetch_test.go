// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

package plugin_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiltchat/quilt/internal/plugin"
)

func TestFetch_Local(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.lua"), []byte(`x = 1`), 0o600))

	var f plugin.EntryFetcher
	code, err := f.Fetch(context.Background(), dir, "main.lua")
	require.NoError(t, err)
	assert.Equal(t, `x = 1`, string(code))
}

func TestFetch_LocalSubdirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "main.lua"), []byte(`x = 2`), 0o600))

	var f plugin.EntryFetcher
	code, err := f.Fetch(context.Background(), dir, "src/main.lua")
	require.NoError(t, err)
	assert.Equal(t, `x = 2`, string(code))
}

func TestFetch_LocalEscapeRejected(t *testing.T) {
	dir := t.TempDir()
	outside := filepath.Join(filepath.Dir(dir), "outside.lua")
	require.NoError(t, os.WriteFile(outside, []byte(`evil = true`), 0o600))
	t.Cleanup(func() { os.Remove(outside) })

	var f plugin.EntryFetcher
	for _, entry := range []string{
		"../outside.lua",
		"src/../../outside.lua",
	} {
		_, err := f.Fetch(context.Background(), dir, entry)
		require.Error(t, err, "entry %q", entry)
		assert.Contains(t, err.Error(), "escapes")
	}
}

func TestFetch_LocalMissing(t *testing.T) {
	var f plugin.EntryFetcher
	_, err := f.Fetch(context.Background(), t.TempDir(), "absent.lua")
	assert.Error(t, err)
}

func TestFetch_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`remote = true`))
	}))
	defer srv.Close()

	var f plugin.EntryFetcher
	code, err := f.Fetch(context.Background(), "", srv.URL+"/main.lua")
	require.NoError(t, err)
	assert.Equal(t, `remote = true`, string(code))
}

func TestFetch_HTTPRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`ok = true`))
	}))
	defer srv.Close()

	var f plugin.EntryFetcher
	code, err := f.Fetch(context.Background(), "", srv.URL+"/main.lua")
	require.NoError(t, err)
	assert.Equal(t, `ok = true`, string(code))
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetch_HTTPNotFoundIsPermanent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	var f plugin.EntryFetcher
	_, err := f.Fetch(context.Background(), "", srv.URL+"/main.lua")
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
}
