package keys

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"issuer/internal/storage"
)

const rsaKeyBits = 2048

var (
	signingNamespace    = []string{"signing", "key"}
	encryptionNamespace = []string{"encryption", "key"}
)

// Manager loads, lazily provisions, and rotates the signing and encryption
// key sets. Concurrent provisioning within a process is deduplicated with
// singleflight; across instances the storage façade's last-write-wins
// semantics are sufficient because every generated key gets its own record
// and "current" is simply the newest.
type Manager struct {
	store  storage.Store
	logger *slog.Logger
	group  singleflight.Group

	mu         sync.RWMutex
	signing    []Key // newest first
	encryption []Key // newest first
}

// NewManager loads both key sets, generating them if the store is empty.
// A provisioning failure is returned so the caller can fail startup: the
// server must never run without keys.
func NewManager(ctx context.Context, store storage.Store, logger *slog.Logger) (*Manager, error) {
	m := &Manager{store: store, logger: logger}
	if err := m.Reload(ctx); err != nil {
		return nil, fmt.Errorf("provision key material: %w", err)
	}
	return m, nil
}

// Reload re-reads both key sets from storage, provisioning any empty set.
// Called at startup and when another instance may have rotated.
func (m *Manager) Reload(ctx context.Context) error {
	_, err, _ := m.group.Do("reload", func() (any, error) {
		signing, err := m.loadOrProvision(ctx, signingNamespace, SigningAlgorithm)
		if err != nil {
			return nil, err
		}
		encryption, err := m.loadOrProvision(ctx, encryptionNamespace, "")
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		m.signing = signing
		m.encryption = encryption
		m.mu.Unlock()
		return nil, nil
	})
	return err
}

// SigningKey returns the current signing key: the newest non-expired entry.
func (m *Manager) SigningKey() Key {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return current(m.signing)
}

// SigningKeys returns every non-purged signing key, newest first. All of them
// appear in the published JWKS so tokens signed just before a rotation remain
// verifiable.
func (m *Manager) SigningKeys() []Key {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Key(nil), m.signing...)
}

// EncryptionKey returns the current encryption key.
func (m *Manager) EncryptionKey() Key {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return current(m.encryption)
}

// EncryptionKeys returns every non-purged encryption key, newest first.
// Cookies sealed under a prior key stay readable until that key is purged.
func (m *Manager) EncryptionKeys() []Key {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Key(nil), m.encryption...)
}

// RotateSigning generates a fresh signing key and stamps the previous current
// key with an expiry of now+grace. The old key stays in the set (and in the
// JWKS) until purged, so outstanding tokens verify for their whole lifetime
// as long as grace covers the access TTL.
func (m *Manager) RotateSigning(ctx context.Context, grace time.Duration) error {
	m.mu.RLock()
	prev := current(m.signing)
	m.mu.RUnlock()

	if prev.Private != nil && prev.Expires == nil {
		expires := time.Now().Add(grace)
		prev.Expires = &expires
		key := append(append([]string(nil), signingNamespace...), prev.ID)
		if err := storage.SetJSON(ctx, m.store, key, fromKey(prev), 0); err != nil {
			return fmt.Errorf("expire signing key %s: %w", prev.ID, err)
		}
	}

	if _, err := m.generate(ctx, signingNamespace, SigningAlgorithm); err != nil {
		return err
	}

	m.logger.InfoContext(ctx, "rotated signing key", "previous_kid", prev.ID)
	return m.Reload(ctx)
}

// PurgeExpired removes keys past their expiry from storage and the cache.
func (m *Manager) PurgeExpired(ctx context.Context) error {
	now := time.Now()
	for _, ns := range [][]string{signingNamespace, encryptionNamespace} {
		keys, err := m.loadSet(ctx, ns)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if !k.Expired(now) {
				continue
			}
			if err := m.store.Remove(ctx, append(append([]string(nil), ns...), k.ID)); err != nil {
				return fmt.Errorf("purge key %s: %w", k.ID, err)
			}
			m.logger.InfoContext(ctx, "purged expired key", "kid", k.ID)
		}
	}
	return m.Reload(ctx)
}

// current picks the newest key that has not expired. Expired keys are still
// listed for verification but never used for new operations.
func current(keys []Key) Key {
	now := time.Now()
	for _, k := range keys {
		if !k.Expired(now) {
			return k
		}
	}
	if len(keys) > 0 {
		return keys[0]
	}
	return Key{}
}

func (m *Manager) loadOrProvision(ctx context.Context, namespace []string, algorithm string) ([]Key, error) {
	keys, err := m.loadSet(ctx, namespace)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		generated, err := m.generate(ctx, namespace, algorithm)
		if err != nil {
			return nil, err
		}
		keys = []Key{generated}
	}
	return keys, nil
}

func (m *Manager) loadSet(ctx context.Context, namespace []string) ([]Key, error) {
	ids, err := m.store.List(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("list %v keys: %w", namespace, err)
	}

	keys := make([]Key, 0, len(ids))
	for _, suffix := range ids {
		key := append(append([]string(nil), namespace...), suffix...)
		stored, err := storage.GetJSON[storedKey](ctx, m.store, key)
		if err != nil {
			// A concurrent purge between List and Get is benign.
			continue
		}
		k, err := stored.toKey()
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].Created.After(keys[j].Created) })
	return keys, nil
}

func (m *Manager) generate(ctx context.Context, namespace []string, algorithm string) (Key, error) {
	private, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return Key{}, fmt.Errorf("generate rsa key: %w", err)
	}

	k := Key{
		ID:        uuid.NewString(),
		Algorithm: algorithm,
		Created:   time.Now(),
		Private:   private,
	}

	key := append(append([]string(nil), namespace...), k.ID)
	if err := storage.SetJSON(ctx, m.store, key, fromKey(k), 0); err != nil {
		return Key{}, fmt.Errorf("persist key %s: %w", k.ID, err)
	}
	return k, nil
}
