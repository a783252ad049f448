// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-konnektor.
//
// go-konnektor is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package userid derives a stable, anonymous user id per card. The ICCSN is
// hashed and mapped to a random UUID the first time a card is seen.
package userid

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrEmptyICCSN is returned for cards without serial number.
var ErrEmptyICCSN = errors.New("userid: empty ICCSN")

// Store persists hashed ICCSN to user id mappings.
type Store interface {
	// Get returns the user id stored under key.
	Get(key string) (id string, ok bool, err error)

	// Put stores id under key.
	Put(key, id string) error
}

// Key returns the store key of iccsn: the hex SHA-256 of its bytes.
func Key(iccsn string) string {
	sum := sha256.Sum256([]byte(iccsn))
	return hex.EncodeToString(sum[:])
}

// Resolver hands out user ids. It implements cardauth.UserIDs.
type Resolver struct {
	mu    sync.Mutex
	store Store
	newID func() string
}

// NewResolver creates a resolver over store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store, newID: uuid.NewString}
}

// UserID returns the id stored for iccsn, creating and persisting a new one
// on first use.
func (r *Resolver) UserID(_ context.Context, iccsn string) (string, error) {
	if iccsn == "" {
		return "", ErrEmptyICCSN
	}
	key := Key(iccsn)

	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok, err := r.store.Get(key)
	if err != nil {
		return "", fmt.Errorf("userid: read: %w", err)
	}
	if ok {
		return id, nil
	}
	id = r.newID()
	if err := r.store.Put(key, id); err != nil {
		return "", fmt.Errorf("userid: write: %w", err)
	}
	return id, nil
}

// MemoryStore keeps mappings for the lifetime of the process.
type MemoryStore struct {
	mu  sync.RWMutex
	ids map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ids: make(map[string]string)}
}

// Get implements Store.
func (m *MemoryStore) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.ids[key]
	return id, ok, nil
}

// Put implements Store.
func (m *MemoryStore) Put(key, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids[key] = id
	return nil
}
