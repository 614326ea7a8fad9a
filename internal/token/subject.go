package token

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Subject derives the stable subject identifier for a profile payload: the
// first 16 hex characters of a SHA-1 digest over the canonical serialization
// of properties.
//
// SHA-1 is deliberate: the subject is a correlation key, not a secret, so
// collision resistance is not required. Canonicalization sorts object keys at
// every depth so the hash is stable regardless of how the provider ordered
// its JSON.
func Subject(properties json.RawMessage) (string, error) {
	var decoded any
	if err := json.Unmarshal(properties, &decoded); err != nil {
		return "", fmt.Errorf("decode properties: %w", err)
	}

	var b strings.Builder
	if err := writeCanonical(&b, decoded); err != nil {
		return "", err
	}

	sum := sha1.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:16], nil
}

// writeCanonical emits JSON with lexicographically sorted object keys.
// encoding/json already sorts map keys when marshaling, so each value can be
// delegated to it; objects are walked manually to keep nested maps sorted
// through interface{} round-trips as well.
func writeCanonical(b *strings.Builder, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			encodedKey, err := json.Marshal(k)
			if err != nil {
				return err
			}
			b.Write(encodedKey)
			b.WriteByte(':')
			if err := writeCanonical(b, val[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
		return nil
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonical(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
		return nil
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			return err
		}
		b.Write(encoded)
		return nil
	}
}
