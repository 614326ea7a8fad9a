package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const githubUserURL = "https://api.github.com/user"

// GitHub builds an adapter for GitHub's OAuth2 login. Properties are resolved
// from the user API since GitHub does not issue ID tokens.
func GitHub(clientID, clientSecret, redirectURL string) *OAuth2Provider {
	return &OAuth2Provider{
		TypeName: "github",
		Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     endpoints.GitHub,
			Scopes:       []string{"read:user", "user:email"},
		},
		Exchange: githubExchange,
	}
}

func githubExchange(ctx context.Context, cfg *oauth2.Config, tok *oauth2.Token) (Properties, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, githubUserURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := cfg.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch github user: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch github user: unexpected status %d", resp.StatusCode)
	}

	var user struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("decode github user: %w", err)
	}

	return json.Marshal(map[string]any{
		"provider": "github",
		"id":       fmt.Sprintf("%d", user.ID),
		"login":    user.Login,
		"name":     user.Name,
		"email":    user.Email,
		"avatar":   user.AvatarURL,
	})
}
