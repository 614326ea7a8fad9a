package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"issuer/internal/audit"
	"issuer/internal/keys"
	"issuer/internal/pkce"
	"issuer/internal/provider"
	"issuer/internal/storage"
	"issuer/internal/token"
)

var (
	keyManagerOnce sync.Once
	keyManager     *keys.Manager
)

// sharedKeys amortizes RSA generation across the suite. Key state lives in
// its own store, separate from each fixture's.
func sharedKeys(t *testing.T) *keys.Manager {
	t.Helper()
	keyManagerOnce.Do(func() {
		store := storage.NewMemoryStore()
		km, err := keys.NewManager(context.Background(), store, slog.New(slog.DiscardHandler))
		if err != nil {
			t.Fatalf("provision keys: %v", err)
		}
		keyManager = km
	})
	return keyManager
}

type fakeProvider struct {
	name       string
	properties []byte
}

func (p fakeProvider) Type() string { return p.name }

func (p fakeProvider) Init(r chi.Router, opts provider.Options) error {
	r.Get("/authorize", func(w http.ResponseWriter, r *http.Request) {
		opts.Success(w, r, p.properties, nil)
	})
	r.Get("/fail", func(w http.ResponseWriter, r *http.Request) {
		opts.Failure(w, r, errors.New("upstream refused the login"))
	})
	return nil
}

type fixture struct {
	t      *testing.T
	router chi.Router
	store  *storage.MemoryStore
	audit  *audit.MemoryPublisher
}

func newFixture(t *testing.T, reuseWindow time.Duration) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	km := sharedKeys(t)
	auditor := audit.NewMemoryPublisher()
	logger := slog.New(slog.DiscardHandler)

	tokens := token.NewService(token.Config{
		Issuer:      "http://issuer.example.com",
		ReuseWindow: reuseWindow,
	}, store, km, auditor, logger)

	srv, err := NewServer(Config{
		Issuer: "http://issuer.example.com",
		TTL:    token.TTL{Access: time.Minute, Refresh: time.Hour},
	}, store, km, tokens,
		[]provider.Provider{fakeProvider{name: "github", properties: []byte(`{"login":"alice"}`)}},
		auditor, logger)
	require.NoError(t, err)

	router, err := srv.Router()
	require.NoError(t, err)
	return &fixture{t: t, router: router, store: store, audit: auditor}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

const authorizeQuery = "provider=github&response_type=code&redirect_uri=https%3A%2F%2Fapp.example.com%2Fcb&client_id=c1&state=s1"

// login drives authorize + provider success and returns the code delivered
// to the client's redirect_uri.
func (f *fixture) login(extraQuery string) string {
	f.t.Helper()
	rec := f.do(httptest.NewRequest(http.MethodGet, "http://issuer.example.com/authorize?"+authorizeQuery+extraQuery, nil))
	require.Equal(f.t, http.StatusFound, rec.Code)
	require.Equal(f.t, "/github/authorize", rec.Header().Get("Location"))
	cookies := rec.Result().Cookies()
	require.Len(f.t, cookies, 1)
	require.Equal(f.t, authorizationCookie, cookies[0].Name)

	req := httptest.NewRequest(http.MethodGet, "http://issuer.example.com/github/authorize", nil)
	req.AddCookie(cookies[0])
	rec = f.do(req)
	require.Equal(f.t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(f.t, err)
	require.Equal(f.t, "app.example.com", loc.Host)
	require.Equal(f.t, "s1", loc.Query().Get("state"))
	require.NotEmpty(f.t, loc.Query().Get("code"))
	return loc.Query().Get("code")
}

func (f *fixture) postToken(form url.Values) (*httptest.ResponseRecorder, map[string]any) {
	f.t.Helper()
	req := httptest.NewRequest(http.MethodPost, "http://issuer.example.com/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := f.do(req)
	var body map[string]any
	require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func codeExchangeForm(code string) url.Values {
	return url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {"https://app.example.com/cb"},
		"client_id":    {"c1"},
	}
}

func TestAuthorize_RejectsInvalidRequest(t *testing.T) {
	f := newFixture(t, time.Minute)

	rec := f.do(httptest.NewRequest(http.MethodGet, "http://issuer.example.com/authorize?provider=nope&response_type=code", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "invalid_request", body.Error)
	assert.Contains(t, body.InputErrors, "provider")
	assert.Contains(t, body.InputErrors, "redirect_uri")
	assert.Contains(t, body.InputErrors, "client_id")
	assert.Empty(t, rec.Result().Cookies())
}

func TestAuthorize_RejectsUntrustedRedirect(t *testing.T) {
	f := newFixture(t, time.Minute)

	rec := f.do(httptest.NewRequest(http.MethodGet,
		"http://issuer.example.com/authorize?provider=github&response_type=code&redirect_uri=https%3A%2F%2Fevil.com%2Fcb&client_id=c1", nil))

	require.Equal(t, http.StatusForbidden, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unauthorized_client", body.Error)
	// No cookie minted for an untrusted target.
	assert.Empty(t, rec.Result().Cookies())
}

func TestAuthorize_HonoursForwardedHost(t *testing.T) {
	f := newFixture(t, time.Minute)

	req := httptest.NewRequest(http.MethodGet,
		"http://internal-lb:8080/authorize?provider=github&response_type=code&redirect_uri=https%3A%2F%2Fapp.example.com%2Fcb&client_id=c1", nil)
	req.Header.Set("X-Forwarded-Host", "login.example.com")
	rec := f.do(req)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/github/authorize", rec.Header().Get("Location"))
}

func TestProviderCallback_WithoutCookieIsPlain400(t *testing.T) {
	f := newFixture(t, time.Minute)

	rec := f.do(httptest.NewRequest(http.MethodGet, "http://issuer.example.com/github/authorize", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotContains(t, rec.Header().Get("Content-Type"), "application/json")
	assert.Contains(t, rec.Body.String(), "unknown state")
}

func TestCodeFlow_EndToEnd(t *testing.T) {
	f := newFixture(t, time.Minute)
	code := f.login("")

	rec, body := f.postToken(codeExchangeForm(code))
	require.Equal(t, http.StatusOK, rec.Code)
	access, _ := body["access_token"].(string)
	refresh, _ := body["refresh_token"].(string)
	require.NotEmpty(t, access)
	require.NotEmpty(t, refresh)

	claims := jwt.MapClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(access, claims)
	require.NoError(t, err)
	assert.Equal(t, "http://issuer.example.com", claims["iss"])
	aud, err := claims.GetAudience()
	require.NoError(t, err)
	assert.Equal(t, jwt.ClaimStrings{"c1"}, aud)
	props, _ := claims["properties"].(map[string]any)
	assert.Equal(t, "alice", props["login"])

	// Replaying the code fails closed.
	rec, body = f.postToken(codeExchangeForm(code))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", body["error"])
}

func TestCodeFlow_ConcurrentRedemptionSingleSuccess(t *testing.T) {
	f := newFixture(t, time.Minute)
	code := f.login("")

	const racers = 8
	statuses := make(chan int, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			form := codeExchangeForm(code)
			req := httptest.NewRequest(http.MethodPost, "http://issuer.example.com/token", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			statuses <- f.do(req).Code
		}()
	}
	wg.Wait()
	close(statuses)

	var succeeded, rejected int
	for status := range statuses {
		switch status {
		case http.StatusOK:
			succeeded++
		case http.StatusBadRequest:
			rejected++
		default:
			t.Errorf("unexpected status %d", status)
		}
	}
	assert.Equal(t, 1, succeeded, "one redemption wins the code")
	assert.Equal(t, racers-1, rejected, "the rest get invalid_grant")
}

func TestCodeFlow_RejectsMismatches(t *testing.T) {
	f := newFixture(t, time.Minute)

	form := codeExchangeForm(f.login(""))
	form.Set("redirect_uri", "https://app.example.com/other")
	rec, body := f.postToken(form)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_redirect_uri", body["error"])

	form = codeExchangeForm(f.login(""))
	form.Set("client_id", "someone-else")
	rec, body = f.postToken(form)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "unauthorized_client", body["error"])

	// The mismatching attempts consumed their codes.
	form = codeExchangeForm(form.Get("code"))
	rec, body = f.postToken(form)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", body["error"])
}

func TestCodeFlow_PKCE(t *testing.T) {
	f := newFixture(t, time.Minute)
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge := pkce.ComputeChallenge(verifier)

	code := f.login("&code_challenge=" + challenge + "&code_challenge_method=S256")
	form := codeExchangeForm(code)
	rec, body := f.postToken(form)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", body["error"])

	code = f.login("&code_challenge=" + challenge + "&code_challenge_method=S256")
	form = codeExchangeForm(code)
	form.Set("code_verifier", "wrong-verifier-wrong-verifier-wrong-verifier")
	rec, body = f.postToken(form)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", body["error"])

	code = f.login("&code_challenge=" + challenge + "&code_challenge_method=S256")
	form = codeExchangeForm(code)
	form.Set("code_verifier", verifier)
	rec, body = f.postToken(form)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, body["access_token"])
}

func TestTokenFlow_ImplicitFragmentRedirect(t *testing.T) {
	f := newFixture(t, time.Minute)

	rec := f.do(httptest.NewRequest(http.MethodGet,
		"http://issuer.example.com/authorize?provider=github&response_type=token&redirect_uri=https%3A%2F%2Fapp.example.com%2Fcb&client_id=c1&state=s9", nil))
	require.Equal(t, http.StatusFound, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "http://issuer.example.com/github/authorize", nil)
	req.AddCookie(rec.Result().Cookies()[0])
	rec = f.do(req)
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	fragment, err := url.ParseQuery(loc.Fragment)
	require.NoError(t, err)
	assert.NotEmpty(t, fragment.Get("access_token"))
	assert.NotEmpty(t, fragment.Get("refresh_token"))
	assert.Equal(t, "s9", fragment.Get("state"))
	assert.Empty(t, loc.RawQuery)
}

func TestRefreshFlow_GraceWindowThenInvalidation(t *testing.T) {
	f := newFixture(t, 80*time.Millisecond)
	_, body := f.postToken(codeExchangeForm(f.login("")))
	issued, _ := body["refresh_token"].(string)
	require.NotEmpty(t, issued)

	refreshForm := url.Values{"grant_type": {"refresh_token"}, "refresh_token": {issued}}

	rec, first := f.postToken(refreshForm)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, second := f.postToken(refreshForm)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first["refresh_token"], second["refresh_token"])

	time.Sleep(120 * time.Millisecond)
	rec, body = f.postToken(refreshForm)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", body["error"])

	// The whole family is revoked, successor included.
	successor, _ := first["refresh_token"].(string)
	rec, body = f.postToken(url.Values{"grant_type": {"refresh_token"}, "refresh_token": {successor}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", body["error"])
}

func TestToken_UnknownGrantType(t *testing.T) {
	f := newFixture(t, time.Minute)

	rec, body := f.postToken(url.Values{"grant_type": {"password"}})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", body["error"])
}

func TestToken_AcceptsJSONBody(t *testing.T) {
	f := newFixture(t, time.Minute)
	code := f.login("")

	payload, err := json.Marshal(map[string]string{
		"grant_type":   "authorization_code",
		"code":         code,
		"redirect_uri": "https://app.example.com/cb",
		"client_id":    "c1",
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "http://issuer.example.com/token", strings.NewReader(string(payload)))
	req.Header.Set("Content-Type", "application/json")
	rec := f.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestJWKS_ContainsSigningKey(t *testing.T) {
	f := newFixture(t, time.Minute)
	_, body := f.postToken(codeExchangeForm(f.login("")))
	access, _ := body["access_token"].(string)
	require.NotEmpty(t, access)

	tok, _, err := jwt.NewParser().ParseUnverified(access, jwt.MapClaims{})
	require.NoError(t, err)
	kid, _ := tok.Header["kid"].(string)
	require.NotEmpty(t, kid)

	rec := f.do(httptest.NewRequest(http.MethodGet, "http://issuer.example.com/.well-known/jwks.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var set struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &set))
	kids := make([]string, 0, len(set.Keys))
	for _, k := range set.Keys {
		kids = append(kids, k["kid"].(string))
	}
	assert.Contains(t, kids, kid)
}

func TestDiscoveryDocument(t *testing.T) {
	f := newFixture(t, time.Minute)

	rec := f.do(httptest.NewRequest(http.MethodGet, "http://issuer.example.com/.well-known/oauth-authorization-server", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "http://issuer.example.com", doc["issuer"])
	assert.Equal(t, "http://issuer.example.com/token", doc["token_endpoint"])
	assert.Equal(t, "http://issuer.example.com/.well-known/jwks.json", doc["jwks_uri"])
}

func TestProviderFailure_RedirectsWithError(t *testing.T) {
	f := newFixture(t, time.Minute)

	rec := f.do(httptest.NewRequest(http.MethodGet, "http://issuer.example.com/authorize?"+authorizeQuery, nil))
	require.Equal(t, http.StatusFound, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "http://issuer.example.com/github/fail", nil)
	req.AddCookie(rec.Result().Cookies()[0])
	rec = f.do(req)

	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "app.example.com", loc.Host)
	assert.Equal(t, "server_error", loc.Query().Get("error"))
	assert.Equal(t, "s1", loc.Query().Get("state"))
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, time.Minute)

	rec := f.do(httptest.NewRequest(http.MethodGet, "http://issuer.example.com/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPathPrefixMount(t *testing.T) {
	store := storage.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	km := sharedKeys(t)
	logger := slog.New(slog.DiscardHandler)
	tokens := token.NewService(token.Config{Issuer: "http://issuer.example.com"}, store, km, nil, logger)

	srv, err := NewServer(Config{
		Issuer:     "http://issuer.example.com",
		PathPrefix: "/identity",
		TTL:        token.TTL{Access: time.Minute, Refresh: time.Hour},
	}, store, km, tokens,
		[]provider.Provider{fakeProvider{name: "github", properties: []byte(`{"login":"bob"}`)}},
		nil, logger)
	require.NoError(t, err)
	router, err := srv.Router()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"http://issuer.example.com/identity/authorize?"+authorizeQuery, nil))
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/identity/github/authorize", rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"http://issuer.example.com/identity/.well-known/oauth-authorization-server", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "http://issuer.example.com/identity/token", doc["token_endpoint"])
}

func TestCookieCodec_RoundTripAndTamper(t *testing.T) {
	codec := &cookieCodec{keys: sharedKeys(t)}

	sealed, err := codec.Seal([]byte(`{"client_id":"c1"}`))
	require.NoError(t, err)
	assert.NotContains(t, sealed, "c1")

	opened, err := codec.Open(sealed)
	require.NoError(t, err)
	assert.JSONEq(t, `{"client_id":"c1"}`, string(opened))

	_, err = codec.Open(sealed[:len(sealed)-4] + "AAAA")
	require.Error(t, err)
}

func TestAuditTrailAcrossCodeFlow(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.postToken(codeExchangeForm(f.login("")))

	actions := make([]audit.Action, 0)
	for _, e := range f.audit.Events() {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, audit.ActionLoginSucceeded)
	assert.Contains(t, actions, audit.ActionCodeIssued)
	assert.Contains(t, actions, audit.ActionCodeRedeemed)
}
