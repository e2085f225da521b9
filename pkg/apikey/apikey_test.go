package apikey

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trcoder/trcoder/pkg/storage"
	"github.com/trcoder/trcoder/pkg/types"
)

func newManager(t *testing.T) (*Manager, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewManager(store), store
}

// TestCreateAndAuthorize tests the mint-then-validate cycle
func TestCreateAndAuthorize(t *testing.T) {
	m, _ := newManager(t)

	key, err := m.Create(types.Identity{OrgID: "org-1", UserID: "user-1", BillingPlan: "standard"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key.Token, "trc_"))
	assert.Len(t, key.Token, 4+64, "prefix plus 32 hex-encoded bytes")

	identity, err := m.Authorize(key.Token)
	require.NoError(t, err)
	assert.Equal(t, "org-1", identity.OrgID)
	assert.Equal(t, "standard", identity.BillingPlan)
}

// TestTokensAreUnique tests that consecutive keys never collide
func TestTokensAreUnique(t *testing.T) {
	m, _ := newManager(t)

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		key, err := m.Create(types.Identity{OrgID: "org-1"})
		require.NoError(t, err)
		assert.False(t, seen[key.Token])
		seen[key.Token] = true
	}
}

// TestAuthorizeRejectsUnknownTokens tests the invalid-token paths
func TestAuthorizeRejectsUnknownTokens(t *testing.T) {
	m, _ := newManager(t)

	_, err := m.Authorize("")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.Authorize("trc_nope")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

// TestAuthorizeSurvivesRestart tests cache-miss fallback to storage
func TestAuthorizeSurvivesRestart(t *testing.T) {
	m, store := newManager(t)
	key, err := m.Create(types.Identity{OrgID: "org-1"})
	require.NoError(t, err)

	// A fresh manager with a cold cache reads the persisted key.
	fresh := NewManager(store)
	identity, err := fresh.Authorize(key.Token)
	require.NoError(t, err)
	assert.Equal(t, "org-1", identity.OrgID)
}

// TestRevoke tests that revoked tokens stop authorizing everywhere
func TestRevoke(t *testing.T) {
	m, store := newManager(t)
	key, err := m.Create(types.Identity{OrgID: "org-1"})
	require.NoError(t, err)

	require.NoError(t, m.Revoke(key.Token))

	_, err = m.Authorize(key.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// A cold-cache manager cannot resurrect it either.
	fresh := NewManager(store)
	_, err = fresh.Authorize(key.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Revoking twice is harmless.
	assert.NoError(t, m.Revoke(key.Token))
}
