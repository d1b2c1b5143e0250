// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

package plugin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// maxEntrySize bounds fetched plugin code at 4 MiB.
const maxEntrySize = 4 << 20

// EntryFetcher resolves a manifest's entry reference to the bytes of the
// plugin's code. Fetching never executes anything; integrity verification
// runs on the returned bytes before instantiation.
type EntryFetcher struct {
	// HTTPClient is used for http(s) entries. If nil, a client with a 30s
	// timeout is used.
	HTTPClient *http.Client
}

// Fetch resolves entry against baseDir (for relative paths) or over HTTP.
// Remote fetches retry transient failures with exponential backoff.
func (f *EntryFetcher) Fetch(ctx context.Context, baseDir, entry string) ([]byte, error) {
	if strings.HasPrefix(entry, "http://") || strings.HasPrefix(entry, "https://") {
		return f.fetchHTTP(ctx, entry)
	}
	return fetchLocal(baseDir, entry)
}

func fetchLocal(baseDir, entry string) ([]byte, error) {
	path := filepath.Clean(filepath.Join(baseDir, entry))
	rel, err := filepath.Rel(baseDir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("entry %q escapes the plugin directory", entry)
	}

	code, err := os.ReadFile(path) //nolint:gosec // containment checked above
	if err != nil {
		return nil, fmt.Errorf("read entry %s: %w", entry, err)
	}
	if len(code) > maxEntrySize {
		return nil, fmt.Errorf("entry %s exceeds %d bytes", entry, maxEntrySize)
	}
	return code, nil
}

func (f *EntryFetcher) fetchHTTP(ctx context.Context, entryURL string) ([]byte, error) {
	client := f.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))

	var code []byte
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, entryURL, nil)
		if err != nil {
			return err
		}

		resp, err := client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close() //nolint:errcheck // read-side close

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return retry.RetryableError(fmt.Errorf("fetch %s: HTTP %d", entryURL, resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("fetch %s: HTTP %d", entryURL, resp.StatusCode)
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxEntrySize+1))
		if err != nil {
			return retry.RetryableError(err)
		}
		if len(data) > maxEntrySize {
			return fmt.Errorf("entry %s exceeds %d bytes", entryURL, maxEntrySize)
		}
		code = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return code, nil
}
