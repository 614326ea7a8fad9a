package keys

import (
	"encoding/json"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"
)

// JWKS renders every non-purged signing key's public half as a JSON Web Key
// Set. Rotated-out keys carry an "exp" member derived from their scheduled
// expiry so relying parties that cache the set know when to drop them.
func (m *Manager) JWKS() (map[string]any, error) {
	signing := m.SigningKeys()

	rendered := make([]map[string]any, 0, len(signing))
	for _, k := range signing {
		jwk := jose.JSONWebKey{
			Key:       k.Private.Public(),
			KeyID:     k.ID,
			Algorithm: k.Algorithm,
			Use:       "sig",
		}
		raw, err := jwk.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("marshal jwk %s: %w", k.ID, err)
		}

		var entry map[string]any
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, fmt.Errorf("render jwk %s: %w", k.ID, err)
		}
		if k.Expires != nil {
			entry["exp"] = k.Expires.Unix()
		}
		rendered = append(rendered, entry)
	}

	return map[string]any{"keys": rendered}, nil
}
