// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

package account_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiltchat/quilt/internal/account"
	"github.com/quiltchat/quilt/internal/matrix"
)

// stubSession is a minimal Session for registry tests.
type stubSession struct {
	userID string
}

func (s *stubSession) UserID() string { return s.userID }
func (s *stubSession) Close() error   { return nil }
func (s *stubSession) SendMessage(context.Context, string, matrix.MessageContent) (string, error) {
	return "", nil
}
func (s *stubSession) SendEvent(context.Context, string, string, any) (string, error) {
	return "", nil
}
func (s *stubSession) RedactEvent(context.Context, string, string, string) (string, error) {
	return "", nil
}
func (s *stubSession) RoomMembers(context.Context, string) ([]matrix.RoomMember, error) {
	return nil, nil
}
func (s *stubSession) StateEvent(context.Context, string, string, string) (json.RawMessage, error) {
	return nil, nil
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := account.NewRegistry()
	r.Register(account.Metadata{ID: "acct-1", UserID: "@ada:example.org"}, &stubSession{userID: "@ada:example.org"})

	session, ok := r.Session("acct-1")
	require.True(t, ok)
	assert.Equal(t, "@ada:example.org", session.UserID())

	meta, ok := r.Get("acct-1")
	require.True(t, ok)
	assert.Equal(t, "@ada:example.org", meta.UserID)

	_, ok = r.Session("ghost")
	assert.False(t, ok)
}

func TestRegistry_UpdateOnlyExisting(t *testing.T) {
	r := account.NewRegistry()
	r.Register(account.Metadata{ID: "acct-1", UserID: "@ada:example.org"}, &stubSession{})

	assert.True(t, r.Update(account.Metadata{ID: "acct-1", UserID: "@ada:example.org", DisplayName: "Ada"}))
	meta, _ := r.Get("acct-1")
	assert.Equal(t, "Ada", meta.DisplayName)

	assert.False(t, r.Update(account.Metadata{ID: "ghost"}))
}

func TestRegistry_UnregisterAndList(t *testing.T) {
	r := account.NewRegistry()
	r.Register(account.Metadata{ID: "b"}, &stubSession{})
	r.Register(account.Metadata{ID: "a"}, &stubSession{})

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)

	r.Unregister("a")
	r.Unregister("never-there")
	list = r.List()
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].ID)
}
