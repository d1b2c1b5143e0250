// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

package matrix_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiltchat/quilt/internal/matrix"
)

func newTestSession(t *testing.T, handler http.Handler) *matrix.HTTPSession {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	session, err := matrix.NewHTTPSession(matrix.HTTPSessionConfig{
		HomeserverURL: server.URL,
		UserID:        "@ada:example.org",
		AccessToken:   "tok",
		HTTPClient:    server.Client(),
	})
	require.NoError(t, err)
	return session
}

func TestNewHTTPSession_Validation(t *testing.T) {
	_, err := matrix.NewHTTPSession(matrix.HTTPSessionConfig{UserID: "@a:b", AccessToken: "t"})
	assert.Error(t, err)
	_, err = matrix.NewHTTPSession(matrix.HTTPSessionConfig{HomeserverURL: "https://hs", AccessToken: "t"})
	assert.Error(t, err)
	_, err = matrix.NewHTTPSession(matrix.HTTPSessionConfig{HomeserverURL: "https://hs", UserID: "@a:b"})
	assert.Error(t, err)
}

func TestSendMessage(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody matrix.MessageContent

	session := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]string{"event_id": "$ev1"})
	}))

	eventID, err := session.SendMessage(context.Background(), "!room:example.org", matrix.NewTextMessage("hi"))
	require.NoError(t, err)

	assert.Equal(t, "$ev1", eventID)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.True(t, strings.HasPrefix(gotPath, "/_matrix/client/v3/rooms/"), gotPath)
	assert.Contains(t, gotPath, "/send/m.room.message/")
	assert.Equal(t, "m.text", gotBody.MsgType)
	assert.Equal(t, "hi", gotBody.Body)
}

func TestSendEvent_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32

	session := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"event_id": "$ev2"})
	}))

	eventID, err := session.SendEvent(context.Background(), "!r:x", "com.example.custom", map[string]string{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, "$ev2", eventID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSendEvent_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32

	session := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"errcode": "M_FORBIDDEN",
			"error":   "not in room",
		})
	}))

	_, err := session.SendEvent(context.Background(), "!r:x", "m.room.message", matrix.NewTextMessage("hi"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "M_FORBIDDEN")
	assert.Equal(t, int32(1), calls.Load())
}

func TestRedactEvent(t *testing.T) {
	session := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/redact/")
		var content matrix.RedactionContent
		require.NoError(t, json.NewDecoder(r.Body).Decode(&content))
		assert.Equal(t, "spam", content.Reason)
		_ = json.NewEncoder(w).Encode(map[string]string{"event_id": "$redaction"})
	}))

	redactionID, err := session.RedactEvent(context.Background(), "!r:x", "$target", "spam")
	require.NoError(t, err)
	assert.Equal(t, "$redaction", redactionID)
}

func TestRoomMembers(t *testing.T) {
	session := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/joined_members")
		_, _ = w.Write([]byte(`{"joined": {
			"@ada:example.org": {"display_name": "Ada"},
			"@bob:example.org": {}
		}}`))
	}))

	members, err := session.RoomMembers(context.Background(), "!r:x")
	require.NoError(t, err)
	require.Len(t, members, 2)
	for _, m := range members {
		assert.Equal(t, "join", m.Membership)
	}
}

func TestStateEvent(t *testing.T) {
	session := newTestSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/state/m.room.topic/")
		_, _ = w.Write([]byte(`{"topic": "plugins"}`))
	}))

	content, err := session.StateEvent(context.Background(), "!r:x", "m.room.topic", "")
	require.NoError(t, err)

	var topic struct {
		Topic string `json:"topic"`
	}
	require.NoError(t, json.Unmarshal(content, &topic))
	assert.Equal(t, "plugins", topic.Topic)
}
