// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

// Package account maintains the registry of connected accounts: each entry
// binds identity metadata to an authenticated messaging session.
package account

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/quiltchat/quilt/internal/matrix"
)

// Metadata is the identity bound to one messaging client.
type Metadata struct {
	// ID uniquely identifies the account within this host instance.
	ID string `json:"id"`
	// UserID is the protocol-level user identifier (e.g., "@ada:example.org").
	UserID string `json:"user_id"`
	// Homeserver is the server origin the account belongs to.
	Homeserver string `json:"homeserver"`
	// DisplayName is optional.
	DisplayName string `json:"display_name,omitempty"`
	// AvatarURL is optional.
	AvatarURL string `json:"avatar_url,omitempty"`
	// Extra carries opaque host-supplied data.
	Extra json.RawMessage `json:"extra,omitempty"`
}

// binding pairs metadata with its live session.
type binding struct {
	meta    Metadata
	session matrix.Session
}

// Registry holds the live account bindings. Safe for concurrent use.
// Only the plugin host mutates it; sandbox bridges read through the host.
type Registry struct {
	mu       sync.RWMutex
	accounts map[string]*binding
}

// NewRegistry creates an empty account registry.
func NewRegistry() *Registry {
	return &Registry{
		accounts: make(map[string]*binding),
	}
}

// Register binds metadata to a session. Registering an ID that already has a
// binding replaces it; the previous session is not closed, as the embedding
// application owns session lifecycle.
func (r *Registry) Register(meta Metadata, session matrix.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.accounts[meta.ID] = &binding{meta: meta, session: session}
}

// Update replaces the metadata of an existing binding in place. Updating an
// unknown account is a no-op and returns false.
func (r *Registry) Update(meta Metadata) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.accounts[meta.ID]
	if !ok {
		return false
	}
	b.meta = meta
	return true
}

// Unregister detaches an account. Unknown IDs are a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.accounts, id)
}

// Session returns the session bound to an account id.
func (r *Registry) Session(id string) (matrix.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.accounts[id]
	if !ok {
		return nil, false
	}
	return b.session, true
}

// Get returns the metadata for an account id.
func (r *Registry) Get(id string) (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.accounts[id]
	if !ok {
		return Metadata{}, false
	}
	return b.meta, true
}

// List returns all registered account metadata, ordered by account id.
func (r *Registry) List() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Metadata, 0, len(r.accounts))
	for _, b := range r.accounts {
		out = append(out, b.meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
