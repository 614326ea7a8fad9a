package storage

import (
	"context"
	"strings"
	"sync"
	"time"
)

// DefaultCleanupInterval is how often the in-memory store sweeps expired
// entries.
const DefaultCleanupInterval = time.Minute

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore keeps the façade in process memory. It favors clarity over
// performance and is the implementation used by tests and single-node
// development setups.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	cleanupDone     chan struct{}
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithCleanupInterval overrides the expiry sweep interval.
func WithCleanupInterval(interval time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.cleanupInterval = interval
	}
}

// NewMemoryStore constructs an empty in-memory store and starts its
// background expiry sweep.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		entries:         make(map[string]memoryEntry),
		cleanupInterval: DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop()
	return s
}

// Close stops the background sweep and waits for it to finish.
func (s *MemoryStore) Close() error {
	close(s.stopCleanup)
	<-s.cleanupDone
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key []string) ([]byte, error) {
	flat := JoinKey(key)
	now := time.Now()

	s.mu.RLock()
	entry, ok := s.entries[flat]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if entry.expired(now) {
		// Expired entries behave as absent; the sweep reclaims them.
		return nil, ErrNotFound
	}

	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

func (s *MemoryStore) Set(_ context.Context, key []string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	s.mu.Lock()
	s.entries[JoinKey(key)] = entry
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, key []string) error {
	s.mu.Lock()
	delete(s.entries, JoinKey(key))
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Take(_ context.Context, key []string) ([]byte, error) {
	flat := JoinKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[flat]
	if !ok || entry.expired(time.Now()) {
		return nil, ErrNotFound
	}
	delete(s.entries, flat)
	return entry.value, nil
}

func (s *MemoryStore) List(_ context.Context, prefix []string) ([][]string, error) {
	flatPrefix := JoinKey(prefix) + Separator
	now := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out [][]string
	for flat, entry := range s.entries {
		if !strings.HasPrefix(flat, flatPrefix) {
			continue
		}
		if entry.expired(now) {
			continue
		}
		out = append(out, SplitKey(strings.TrimPrefix(flat, flatPrefix)))
	}
	return out, nil
}

// Health is a no-op for in-memory storage since it is always available.
func (*MemoryStore) Health(_ context.Context) error {
	return nil
}

func (s *MemoryStore) cleanupLoop() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanupExpired()
		}
	}
}

func (s *MemoryStore) cleanupExpired() {
	now := time.Now()

	s.mu.RLock()
	var expired []string
	for flat, entry := range s.entries {
		if entry.expired(now) {
			expired = append(expired, flat)
		}
	}
	s.mu.RUnlock()

	if len(expired) == 0 {
		return
	}

	s.mu.Lock()
	for _, flat := range expired {
		if entry, ok := s.entries[flat]; ok && entry.expired(now) {
			delete(s.entries, flat)
		}
	}
	s.mu.Unlock()
}

var _ Store = (*MemoryStore)(nil)
