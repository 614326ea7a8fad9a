// Package storage is a thin façade over an external namespaced TTL key-value
// store. It holds pending authorization codes, refresh-token chains, and key
// material so that multiple server instances converge on the same state.
package storage

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Separator joins key segments into a single flat key. The unit separator
// cannot appear in any segment this server generates (hex codes, subject
// hashes, client ids), so joined keys are unambiguous.
const Separator = "\x1f"

// Store is the façade contract. All operations are idempotent and safe for
// concurrent use on the same key: Set is last-write-wins, Remove of an absent
// key is a no-op. Implementations must honor ctx cancellation.
type Store interface {
	// Get returns the raw value under key, or sentinel.ErrNotFound
	// (possibly wrapped) when the key is absent or expired.
	Get(ctx context.Context, key []string) ([]byte, error)

	// Set writes value under key. A ttl <= 0 means no expiry.
	Set(ctx context.Context, key []string, value []byte, ttl time.Duration) error

	// Remove deletes the key. Removing an absent key is not an error.
	Remove(ctx context.Context, key []string) error

	// Take atomically reads and deletes the key. Exactly one concurrent
	// caller observes the value; every other caller gets
	// sentinel.ErrNotFound. Used for single-use records such as pending
	// authorization codes.
	Take(ctx context.Context, key []string) ([]byte, error)

	// List returns the key suffixes (segments after the prefix) of every
	// live key under prefix. Used for subject-wide refresh invalidation
	// and key-set enumeration.
	List(ctx context.Context, prefix []string) ([][]string, error)

	// Health reports whether the backing store is reachable.
	Health(ctx context.Context) error
}

// JoinKey flattens key segments for backends that store flat keys.
func JoinKey(key []string) string {
	return strings.Join(key, Separator)
}

// SplitKey undoes JoinKey.
func SplitKey(flat string) []string {
	return strings.Split(flat, Separator)
}

// GetJSON reads key and unmarshals it into T.
func GetJSON[T any](ctx context.Context, s Store, key []string) (T, error) {
	var out T
	raw, err := s.Get(ctx, key)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

// TakeJSON atomically consumes key and unmarshals its value into T.
func TakeJSON[T any](ctx context.Context, s Store, key []string) (T, error) {
	var out T
	raw, err := s.Take(ctx, key)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

// SetJSON marshals value and writes it under key.
func SetJSON(ctx context.Context, s Store, key []string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, raw, ttl)
}
