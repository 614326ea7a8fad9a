package keys

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"issuer/internal/storage"
)

func newTestManager(t *testing.T) (*Manager, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	m, err := NewManager(context.Background(), store, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return m, store
}

func TestManager_ProvisionsOnFirstUse(t *testing.T) {
	m, _ := newTestManager(t)

	signing := m.SigningKey()
	require.NotNil(t, signing.Private)
	assert.Equal(t, SigningAlgorithm, signing.Algorithm)
	assert.NotEmpty(t, signing.ID)

	encryption := m.EncryptionKey()
	require.NotNil(t, encryption.Private)
	assert.NotEqual(t, signing.ID, encryption.ID)

	assert.Len(t, m.SigningKeys(), 1)
	assert.Len(t, m.EncryptionKeys(), 1)
}

func TestManager_InstancesConvergeThroughStorage(t *testing.T) {
	m1, store := newTestManager(t)

	m2, err := NewManager(context.Background(), store, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	assert.Equal(t, m1.SigningKey().ID, m2.SigningKey().ID,
		"a second instance must adopt the provisioned key, not mint its own")
	assert.Equal(t, m1.EncryptionKey().ID, m2.EncryptionKey().ID)
}

func TestManager_RotateSigning(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	before := m.SigningKey()
	require.NoError(t, m.RotateSigning(ctx, time.Hour))

	after := m.SigningKey()
	assert.NotEqual(t, before.ID, after.ID)

	all := m.SigningKeys()
	require.Len(t, all, 2, "the rotated-out key stays in the set")

	ids := map[string]bool{}
	for _, k := range all {
		ids[k.ID] = true
	}
	assert.True(t, ids[before.ID], "previous key remains available for verification")
	assert.True(t, ids[after.ID])
}

func TestManager_JWKSCoversRotation(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	first := m.SigningKey()
	require.NoError(t, m.RotateSigning(ctx, time.Hour))
	second := m.SigningKey()

	set, err := m.JWKS()
	require.NoError(t, err)

	entries, ok := set["keys"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, entries, 2, "no gap: a just-signed token's kid must be published")

	kids := map[string]map[string]any{}
	for _, e := range entries {
		kids[e["kid"].(string)] = e
	}
	require.Contains(t, kids, first.ID)
	require.Contains(t, kids, second.ID)

	// The rotated-out key advertises its expiry.
	assert.NotNil(t, kids[first.ID]["exp"])
	assert.Nil(t, kids[second.ID]["exp"])
	assert.Equal(t, "RS256", kids[second.ID]["alg"])
	assert.Equal(t, "sig", kids[second.ID]["use"])
}

func TestManager_PurgeExpired(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	old := m.SigningKey()
	require.NoError(t, m.RotateSigning(ctx, -time.Minute))

	require.NoError(t, m.PurgeExpired(ctx))

	for _, k := range m.SigningKeys() {
		assert.NotEqual(t, old.ID, k.ID, "expired key must be purged")
	}
	require.Len(t, m.SigningKeys(), 1)
}

func TestManager_ConcurrentReload(t *testing.T) {
	m, _ := newTestManager(t)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error { return m.Reload(context.Background()) })
	}
	require.NoError(t, g.Wait())
	assert.Len(t, m.SigningKeys(), 1, "singleflight keeps concurrent reloads from multiplying keys")
}
