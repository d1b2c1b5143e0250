// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
)

// HTTPSessionConfig holds configuration for creating an HTTPSession.
type HTTPSessionConfig struct {
	// HomeserverURL is the base URL of the Matrix homeserver
	// (e.g., "https://matrix.example.org"). A trailing slash is stripped.
	HomeserverURL string
	// UserID is the fully-qualified Matrix user ID the token belongs to.
	UserID string
	// AccessToken authenticates every request.
	AccessToken string
	// HTTPClient is used for all requests. If nil, a client with a 30s
	// timeout is used.
	HTTPClient *http.Client
}

// HTTPSession is a Session backed by the Matrix client-server HTTP API.
//
// Transient failures (HTTP 429 and 5xx) are retried with exponential
// backoff before being reported to the caller.
type HTTPSession struct {
	baseURL    string
	userID     string
	token      string
	httpClient *http.Client
	txnCounter atomic.Int64
}

// Compile-time check: *HTTPSession implements Session.
var _ Session = (*HTTPSession)(nil)

// NewHTTPSession creates a session from an already-authenticated access token.
func NewHTTPSession(config HTTPSessionConfig) (*HTTPSession, error) {
	if config.HomeserverURL == "" {
		return nil, fmt.Errorf("matrix: HomeserverURL is required")
	}
	if _, err := url.Parse(config.HomeserverURL); err != nil {
		return nil, fmt.Errorf("matrix: invalid HomeserverURL %q: %w", config.HomeserverURL, err)
	}
	if config.UserID == "" {
		return nil, fmt.Errorf("matrix: UserID is required")
	}
	if config.AccessToken == "" {
		return nil, fmt.Errorf("matrix: AccessToken is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &HTTPSession{
		baseURL:    strings.TrimRight(config.HomeserverURL, "/"),
		userID:     config.UserID,
		token:      config.AccessToken,
		httpClient: httpClient,
	}, nil
}

// UserID returns the fully-qualified Matrix user ID.
func (s *HTTPSession) UserID() string {
	return s.userID
}

// Close releases idle connections. Idempotent.
func (s *HTTPSession) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

// SendMessage sends an m.room.message event. Returns the event ID.
func (s *HTTPSession) SendMessage(ctx context.Context, roomID string, content MessageContent) (string, error) {
	return s.SendEvent(ctx, roomID, EventTypeMessage, content)
}

// SendEvent sends an event of any type to a room. Returns the event ID.
func (s *HTTPSession) SendEvent(ctx context.Context, roomID, eventType string, content any) (string, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/%s/%s",
		url.PathEscape(roomID), url.PathEscape(eventType), s.nextTxnID())

	body, err := s.doRequest(ctx, http.MethodPut, path, content)
	if err != nil {
		return "", fmt.Errorf("matrix: send %s failed: %w", eventType, err)
	}

	var response sendResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("matrix: failed to parse send response: %w", err)
	}
	return response.EventID, nil
}

// RedactEvent redacts a previously sent event.
func (s *HTTPSession) RedactEvent(ctx context.Context, roomID, eventID, reason string) (string, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/redact/%s/%s",
		url.PathEscape(roomID), url.PathEscape(eventID), s.nextTxnID())

	body, err := s.doRequest(ctx, http.MethodPut, path, RedactionContent{Reason: reason})
	if err != nil {
		return "", fmt.Errorf("matrix: redact failed: %w", err)
	}

	var response sendResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("matrix: failed to parse redact response: %w", err)
	}
	return response.EventID, nil
}

// RoomMembers returns the members of a room.
func (s *HTTPSession) RoomMembers(ctx context.Context, roomID string) ([]RoomMember, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/joined_members", url.PathEscape(roomID))

	body, err := s.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("matrix: room members failed: %w", err)
	}

	var response struct {
		Joined map[string]struct {
			DisplayName string `json:"display_name"`
		} `json:"joined"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("matrix: failed to parse members response: %w", err)
	}

	members := make([]RoomMember, 0, len(response.Joined))
	for userID, m := range response.Joined {
		members = append(members, RoomMember{
			UserID:      userID,
			DisplayName: m.DisplayName,
			Membership:  "join",
		})
	}
	return members, nil
}

// StateEvent fetches one state event's content from a room.
func (s *HTTPSession) StateEvent(ctx context.Context, roomID, eventType, stateKey string) (json.RawMessage, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/state/%s/%s",
		url.PathEscape(roomID), url.PathEscape(eventType), url.PathEscape(stateKey))

	body, err := s.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("matrix: state event failed: %w", err)
	}
	return json.RawMessage(body), nil
}

// nextTxnID returns a transaction ID unique within this session. Matrix
// deduplicates PUT sends by (access token, txn id), so a monotonic counter
// with a time prefix is sufficient.
func (s *HTTPSession) nextTxnID() string {
	return fmt.Sprintf("quilt-%d-%d", time.Now().UnixMilli(), s.txnCounter.Add(1))
}

// doRequest performs an authenticated request and returns the response body.
// Requests are retried on 429 and 5xx with capped exponential backoff.
func (s *HTTPSession) doRequest(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reqBody []byte
	if payload != nil {
		var err error
		reqBody, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	backoff := retry.WithMaxRetries(4, retry.NewExponential(250*time.Millisecond))

	var respBody []byte
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var bodyReader io.Reader
		if reqBody != nil {
			bodyReader = bytes.NewReader(reqBody)
		}

		req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bodyReader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+s.token)
		if reqBody != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close() //nolint:errcheck // read-side close

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(err)
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return retry.RetryableError(httpError(resp.StatusCode, data))
		}
		if resp.StatusCode >= 400 {
			return httpError(resp.StatusCode, data)
		}

		respBody = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return respBody, nil
}

// httpError turns a Matrix error body into a Go error.
func httpError(status int, body []byte) error {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Code != "" {
		return fmt.Errorf("HTTP %d: %s: %s", status, e.Code, e.Message)
	}
	return fmt.Errorf("HTTP %d: %s", status, strings.TrimSpace(string(body)))
}
