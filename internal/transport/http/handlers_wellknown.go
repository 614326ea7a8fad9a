package httptransport

import (
	"encoding/json"
	"net/http"
	"strings"

	"issuer/pkg/oautherr"
)

// handleJWKS publishes the public half of every non-purged signing key. Keys
// retired by rotation stay listed until purged so relying parties with cached
// sets can still verify recently signed tokens.
func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	set, err := s.keys.JWKS()
	if err != nil {
		s.writeError(w, r, oautherr.Wrap(err, oautherr.CodeServerError, "build key set"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(set)
}

func (s *Server) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	base := strings.TrimSuffix(s.cfg.Issuer, "/")
	if s.cfg.PathPrefix != "" && s.cfg.PathPrefix != "/" {
		base += s.cfg.PathPrefix
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"issuer":                                s.cfg.Issuer,
		"authorization_endpoint":                base + "/authorize",
		"token_endpoint":                        base + "/token",
		"jwks_uri":                              base + "/.well-known/jwks.json",
		"response_types_supported":              []string{"code", "token"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"code_challenge_methods_supported":      []string{"S256"},
		"token_endpoint_auth_methods_supported": []string{"none"},
	})
}
