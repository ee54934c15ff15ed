package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/celsiusnarhwal/takagi/pkg/config"
	"github.com/celsiusnarhwal/takagi/pkg/keyset"
	"github.com/celsiusnarhwal/takagi/pkg/storage"
	"github.com/celsiusnarhwal/takagi/pkg/tokens"
	"github.com/celsiusnarhwal/takagi/pkg/upstream"
)

const (
	testClientID     = "test-client"
	testClientSecret = "test-secret"
	testHost         = "localhost"
	testIssuer       = "http://localhost"
	testDestination  = "https://app.example/cb"
	testRedirectURI  = testIssuer + "/r/" + testDestination
)

// testKeyset is generated once; RSA generation per test would dominate the
// suite's runtime.
var (
	testKeysetOnce sync.Once
	testKeysetJSON string
)

func testKeys(t *testing.T) *keyset.Provider {
	t.Helper()
	testKeysetOnce.Do(func() {
		ks, err := keyset.Generate()
		if err != nil {
			panic(err)
		}
		data, err := ks.JSON()
		if err != nil {
			panic(err)
		}
		testKeysetJSON = string(data)
	})
	keys, err := keyset.Load(keyset.LoadOptions{KeysetJSON: testKeysetJSON})
	require.NoError(t, err)
	return keys
}

// fakeUpstream is a hand-written upstream.Provider for handler tests.
type fakeUpstream struct {
	exchangeToken *upstream.Token
	exchangeErr   error
	refreshToken  *upstream.Token
	refreshErr    error
	identity      *upstream.Identity
	identityErr   error
	revokeErr     error

	capturedAuthRequest upstream.AuthorizationRequest
	capturedCreds       upstream.Credentials
	capturedCode        string
	capturedVerifier    string
	capturedRedirectURI string
	capturedScopes      []string
	revokedTokens       []string
}

var _ upstream.Provider = (*fakeUpstream)(nil)

func newFakeUpstream() *fakeUpstream {
	email := "alice@example.com"
	updatedAt := int64(1700000000)
	return &fakeUpstream{
		exchangeToken: &upstream.Token{AccessToken: "upstream-access", TokenType: "bearer"},
		refreshToken:  &upstream.Token{AccessToken: "upstream-access-2", TokenType: "bearer"},
		identity: &upstream.Identity{
			ID:            "12345",
			Username:      "alice",
			Name:          "Alice Example",
			AvatarURL:     "https://avatars.example/alice.png",
			ProfileURL:    "https://upstream.example/alice",
			UpdatedAt:     &updatedAt,
			Email:         &email,
			EmailVerified: true,
			Groups:        []string{"999"},
		},
	}
}

func (*fakeUpstream) Name() string { return "fake" }

func (f *fakeUpstream) AuthorizationURL(req upstream.AuthorizationRequest) string {
	f.capturedAuthRequest = req
	params := url.Values{
		"client_id":    {req.ClientID},
		"redirect_uri": {req.RedirectURI},
		"state":        {req.State},
	}
	return "https://upstream.example/authorize?" + params.Encode()
}

func (f *fakeUpstream) Exchange(_ context.Context, creds upstream.Credentials, code, verifier, redirectURI string) (*upstream.Token, error) {
	f.capturedCreds = creds
	f.capturedCode = code
	f.capturedVerifier = verifier
	f.capturedRedirectURI = redirectURI
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return f.exchangeToken, nil
}

func (f *fakeUpstream) Refresh(_ context.Context, creds upstream.Credentials, _ string) (*upstream.Token, error) {
	f.capturedCreds = creds
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.refreshToken, nil
}

func (f *fakeUpstream) FetchIdentity(_ context.Context, _ string, scopes []string) (*upstream.Identity, error) {
	f.capturedScopes = scopes
	if f.identityErr != nil {
		return nil, f.identityErr
	}
	return f.identity, nil
}

func (f *fakeUpstream) Revoke(_ context.Context, creds upstream.Credentials, accessToken string) error {
	f.capturedCreds = creds
	f.revokedTokens = append(f.revokedTokens, accessToken)
	return f.revokeErr
}

func (*fakeUpstream) ConvertScopes(scopes []string) []string { return scopes }

func testSettings() *config.Settings {
	return &config.Settings{
		Service:               config.Takagi,
		AllowedHosts:          config.HostPatterns{"localhost", "127.0.0.1", "::1", "takagi.example"},
		AllowedClients:        []string{"*"},
		TokenLifetime:         time.Hour,
		TransactionTTL:        10 * time.Minute,
		RootRedirect:          config.RootRedirectRepo,
		TreatLoopbackAsSecure: true,
		AllowedWebfingerHosts: config.HostPatterns{"allowed.example", "*.wild.example"},
	}
}

// testHandler bundles one handler with the fakes behind it.
type testHandler struct {
	handler  *Handler
	router   http.Handler
	settings *config.Settings
	keys     *keyset.Provider
	tokens   *tokens.Service
	store    storage.Storage
	upstream *fakeUpstream
}

func newTestHandler(t *testing.T, mutate ...func(*config.Settings)) *testHandler {
	t.Helper()

	settings := testSettings()
	for _, m := range mutate {
		m(settings)
	}

	keys := testKeys(t)
	tokenService := tokens.NewService(keys, settings.TokenLifetime)
	store := storage.NewMemoryStorage(storage.DefaultConfig())
	t.Cleanup(func() { _ = store.Close() })
	fake := newFakeUpstream()

	h := NewHandler(settings, keys, tokenService, store, fake)
	return &testHandler{
		handler:  h,
		router:   h.Router(),
		settings: settings,
		keys:     keys,
		tokens:   tokenService,
		store:    store,
		upstream: fake,
	}
}

func (th *testHandler) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	th.router.ServeHTTP(rec, req)
	return rec
}

// authorize runs a valid /authorize request and returns the state reference
// sent to the upstream provider.
func (th *testHandler) authorize(t *testing.T, extraQuery url.Values) string {
	t.Helper()

	query := url.Values{
		"client_id":     {testClientID},
		"response_type": {"code"},
		"redirect_uri":  {testRedirectURI},
		"scope":         {"openid profile email"},
	}
	for key, values := range extraQuery {
		query[key] = values
	}

	req := httptest.NewRequest(http.MethodGet, testIssuer+"/authorize?"+query.Encode(), nil)
	rec := th.do(req)
	require.Equal(t, http.StatusFound, rec.Code, "authorize failed: %s", rec.Body.String())

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := location.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

// callback simulates the upstream redirect back and returns the code issued
// to the relying party.
func (th *testHandler) callback(t *testing.T, state string) string {
	t.Helper()

	callbackURL := testRedirectURI + "?" + url.Values{"state": {state}, "code": {"upstream-code"}}.Encode()
	req := httptest.NewRequest(http.MethodGet, callbackURL, nil)
	rec := th.do(req)
	require.Equal(t, http.StatusFound, rec.Code, "callback failed: %s", rec.Body.String())

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(location.String(), testDestination), "unexpected destination %s", location)
	code := location.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

// tokenRequest posts form values to /token with form client credentials.
func (th *testHandler) tokenRequest(t *testing.T, form url.Values) *httptest.ResponseRecorder {
	t.Helper()

	if form.Get("client_id") == "" {
		form.Set("client_id", testClientID)
	}
	if form.Get("client_secret") == "" {
		form.Set("client_secret", testClientSecret)
	}
	req := httptest.NewRequest(http.MethodPost, testIssuer+"/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return th.do(req)
}

// redeemCode runs the full authorize → callback → token flow and returns the
// decoded token response.
func (th *testHandler) redeemCode(t *testing.T, authorizeQuery, tokenForm url.Values) tokenResponse {
	t.Helper()

	state := th.authorize(t, authorizeQuery)
	code := th.callback(t, state)

	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {testRedirectURI},
	}
	for key, values := range tokenForm {
		form[key] = values
	}

	rec := th.tokenRequest(t, form)
	require.Equal(t, http.StatusOK, rec.Code, "token request failed: %s", rec.Body.String())
	return decodeTokenResponse(t, rec)
}
