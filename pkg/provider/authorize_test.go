package provider

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celsiusnarhwal/takagi/pkg/config"
)

func TestAuthorizeRedirectsUpstream(t *testing.T) {
	t.Parallel()
	th := newTestHandler(t)

	state := th.authorize(t, url.Values{"nonce": {"n-1"}, "prompt": {"consent"}})

	captured := th.upstream.capturedAuthRequest
	assert.Equal(t, testClientID, captured.ClientID)
	assert.Equal(t, testRedirectURI, captured.RedirectURI)
	assert.Equal(t, state, captured.State)
	assert.Equal(t, []string{"openid", "profile", "email"}, captured.Scopes)
	assert.NotEmpty(t, captured.CodeChallenge)

	// Unrecognized query parameters pass through to the upstream provider;
	// the OIDC ones stay here.
	assert.Equal(t, "consent", captured.Extra.Get("prompt"))
	assert.Empty(t, captured.Extra.Get("nonce"))
	assert.Empty(t, captured.Extra.Get("client_id"))
}

func TestAuthorizeValidation(t *testing.T) {
	t.Parallel()

	valid := func() url.Values {
		return url.Values{
			"client_id":     {testClientID},
			"response_type": {"code"},
			"redirect_uri":  {testRedirectURI},
			"scope":         {"openid"},
		}
	}

	tests := []struct {
		name      string
		mutate    func(url.Values)
		settings  func(*config.Settings)
		wantError string
	}{
		{
			name:      "missing client_id",
			mutate:    func(q url.Values) { q.Del("client_id") },
			wantError: errInvalidRequest,
		},
		{
			name:   "client not allowed",
			mutate: func(url.Values) {},
			settings: func(s *config.Settings) {
				s.AllowedClients = []string{"someone-else"}
			},
			wantError: errUnauthorizedClient,
		},
		{
			name:      "missing redirect_uri",
			mutate:    func(q url.Values) { q.Del("redirect_uri") },
			wantError: errInvalidRequest,
		},
		{
			name: "insecure redirect_uri",
			mutate: func(q url.Values) {
				q.Set("redirect_uri", "http://app.example/cb")
			},
			wantError: errInvalidRequest,
		},
		{
			name: "redirect_uri outside the callback endpoint",
			mutate: func(q url.Values) {
				q.Set("redirect_uri", testDestination)
			},
			wantError: errInvalidRequest,
		},
		{
			name:      "wrong response_type",
			mutate:    func(q url.Values) { q.Set("response_type", "token") },
			wantError: errUnsupportedResponseType,
		},
		{
			name:      "missing openid scope",
			mutate:    func(q url.Values) { q.Set("scope", "profile email") },
			wantError: errInvalidScope,
		},
		{
			name:      "unknown scope",
			mutate:    func(q url.Values) { q.Set("scope", "openid admin") },
			wantError: errInvalidScope,
		},
		{
			name: "unknown code_challenge_method",
			mutate: func(q url.Values) {
				q.Set("code_challenge", "challenge")
				q.Set("code_challenge_method", "S512")
			},
			wantError: errInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var mutators []func(*config.Settings)
			if tt.settings != nil {
				mutators = append(mutators, tt.settings)
			}
			th := newTestHandler(t, mutators...)

			query := valid()
			tt.mutate(query)

			req := httptest.NewRequest(http.MethodGet, testIssuer+"/authorize?"+query.Encode(), nil)
			rec := th.do(req)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantError, errorCode(t, rec))
		})
	}
}

func TestAuthorizeFixesRedirectURIs(t *testing.T) {
	t.Parallel()
	th := newTestHandler(t, func(s *config.Settings) {
		s.FixRedirectURIs = true
	})

	query := url.Values{
		"client_id":     {testClientID},
		"response_type": {"code"},
		"redirect_uri":  {testDestination},
		"scope":         {"openid"},
	}
	req := httptest.NewRequest(http.MethodGet, testIssuer+"/authorize?"+query.Encode(), nil)
	rec := th.do(req)
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())

	// The bare destination is rewritten onto the callback endpoint before it
	// goes upstream or into the transaction.
	assert.Equal(t, testRedirectURI, th.upstream.capturedAuthRequest.RedirectURI)
}
