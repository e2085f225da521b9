// Package apikey issues and validates the opaque bearer credentials that
// gate every HTTP and websocket surface.
package apikey

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/trcoder/trcoder/pkg/storage"
	"github.com/trcoder/trcoder/pkg/types"
)

// ErrInvalidToken is returned for unknown or revoked credentials
var ErrInvalidToken = errors.New("invalid api key")

// Manager issues and validates API keys. Keys are persisted in the store and
// cached in memory; validation on the hot path hits the cache first.
type Manager struct {
	store storage.Store

	mu    sync.RWMutex
	cache map[string]*types.APIKey
}

// NewManager creates an API key manager
func NewManager(store storage.Store) *Manager {
	return &Manager{
		store: store,
		cache: make(map[string]*types.APIKey),
	}
}

// Create mints a new key for an identity and persists it
func (m *Manager) Create(identity types.Identity) (*types.APIKey, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	key := &types.APIKey{
		Token:     "trc_" + hex.EncodeToString(bytes),
		Identity:  identity,
		CreatedAt: time.Now(),
	}

	if err := m.store.PutAPIKey(key); err != nil {
		return nil, fmt.Errorf("failed to persist api key: %w", err)
	}

	m.mu.Lock()
	m.cache[key.Token] = key
	m.mu.Unlock()

	return key, nil
}

// Authorize resolves a bearer token to its identity. Satisfies the runner
// bridge's Authorizer.
func (m *Manager) Authorize(token string) (*types.Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	m.mu.RLock()
	key, ok := m.cache[token]
	m.mu.RUnlock()
	if ok {
		identity := key.Identity
		return &identity, nil
	}

	key, err := m.store.GetAPIKey(token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	m.mu.Lock()
	m.cache[token] = key
	m.mu.Unlock()

	identity := key.Identity
	return &identity, nil
}

// Revoke deletes a key. Subsequent Authorize calls for it fail.
func (m *Manager) Revoke(token string) error {
	m.mu.Lock()
	delete(m.cache, token)
	m.mu.Unlock()

	if err := m.store.DeleteAPIKey(token); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}
