// SPDX-License-Identifier: MIT

package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/celsiusnarhwal/takagi/pkg/logger"
	"github.com/celsiusnarhwal/takagi/pkg/networking"
)

// Local rate limit applied to upstream calls. GitHub allows 5,000
// requests/hour per token; limiting locally keeps a misbehaving relying
// party from burning the budget.
const (
	upstreamRateLimit = 100
	upstreamRateBurst = 200
)

// baseProvider implements the OAuth2 legs shared by GitHub and Discord:
// authorization URL construction, code exchange, and token refresh against
// explicit endpoints, with per-request client credentials.
type baseProvider struct {
	authorizeEndpoint string
	tokenEndpoint     string
	apiBaseURL        string
	client            networking.HTTPClient
	limiter           *rate.Limiter
}

func newBaseProvider(authorizeEndpoint, tokenEndpoint, apiBaseURL string) baseProvider {
	return baseProvider{
		authorizeEndpoint: authorizeEndpoint,
		tokenEndpoint:     tokenEndpoint,
		apiBaseURL:        apiBaseURL,
		client:            networking.NewHttpClientBuilder().Build(),
		limiter:           rate.NewLimiter(upstreamRateLimit, upstreamRateBurst),
	}
}

// Option configures a provider.
type Option func(*baseProvider)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client networking.HTTPClient) Option {
	return func(p *baseProvider) {
		p.client = client
	}
}

// WithEndpoints overrides the authorization and token endpoints. Used by
// tests to point a provider at a local server.
func WithEndpoints(authorizeEndpoint, tokenEndpoint string) Option {
	return func(p *baseProvider) {
		p.authorizeEndpoint = authorizeEndpoint
		p.tokenEndpoint = tokenEndpoint
	}
}

// WithAPIBaseURL overrides the API base URL. Used by tests.
func WithAPIBaseURL(baseURL string) Option {
	return func(p *baseProvider) {
		p.apiBaseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// authorizationURL assembles the upstream authorize URL. upstreamScopes must
// already be in the provider's vocabulary.
func (p *baseProvider) authorizationURL(req AuthorizationRequest, upstreamScopes []string) string {
	params := url.Values{
		"response_type": {"code"},
		"client_id":     {req.ClientID},
		"redirect_uri":  {req.RedirectURI},
		"state":         {req.State},
	}

	if len(upstreamScopes) > 0 {
		params.Set("scope", strings.Join(upstreamScopes, " "))
	}

	// Providers that do not implement PKCE ignore these.
	if req.CodeChallenge != "" {
		params.Set("code_challenge", req.CodeChallenge)
		params.Set("code_challenge_method", "S256")
	}

	for key, values := range req.Extra {
		for _, value := range values {
			params.Add(key, value)
		}
	}

	return p.authorizeEndpoint + "?" + params.Encode()
}

// exchange redeems an authorization code at the upstream token endpoint.
func (p *baseProvider) exchange(ctx context.Context, creds Credentials, code, verifier, redirectURI string) (*Token, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"client_id":     {creds.ClientID},
		"client_secret": {creds.ClientSecret},
	}
	if verifier != "" {
		form.Set("code_verifier", verifier)
	}

	logger.Debugw("exchanging upstream authorization code",
		"token_endpoint", p.tokenEndpoint,
		"client_id", creds.ClientID,
		"has_pkce_verifier", verifier != "",
	)

	return p.tokenRequest(ctx, form)
}

// refresh redeems a refresh token at the upstream token endpoint.
func (p *baseProvider) refresh(ctx context.Context, creds Credentials, refreshToken string) (*Token, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {creds.ClientID},
		"client_secret": {creds.ClientSecret},
	}

	logger.Debugw("refreshing upstream token",
		"token_endpoint", p.tokenEndpoint,
		"client_id", creds.ClientID,
	)

	return p.tokenRequest(ctx, form)
}

// tokenWire is the upstream token endpoint's response body. GitHub reports
// failures with a 200 and an error field, so both shapes share one struct.
type tokenWire struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
	ExpiresIn    int64  `json:"expires_in"`

	ErrorCode        string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorURI         string `json:"error_uri"`
}

func (p *baseProvider) tokenRequest(ctx context.Context, form url.Values) (*Token, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	result, err := networking.FetchJSONWithForm[tokenWire](ctx, p.client, p.tokenEndpoint, form,
		networking.WithErrorHandler(decodeOAuthError),
	)
	if err != nil {
		return nil, fmt.Errorf("upstream token request failed: %w", err)
	}

	wire := result.Data
	if wire.ErrorCode != "" {
		return nil, &Error{Code: wire.ErrorCode, Description: wire.ErrorDescription, URI: wire.ErrorURI}
	}
	if wire.AccessToken == "" {
		return nil, fmt.Errorf("upstream token response contained no access token")
	}

	token := &Token{
		AccessToken:  wire.AccessToken,
		TokenType:    wire.TokenType,
		RefreshToken: wire.RefreshToken,
		Scope:        wire.Scope,
	}
	if wire.ExpiresIn > 0 {
		token.ExpiresAt = time.Now().Add(time.Duration(wire.ExpiresIn) * time.Second).Unix()
	}
	return token, nil
}

// decodeOAuthError turns a non-2xx token endpoint response into an *Error
// when the body carries an OAuth2 error document.
func decodeOAuthError(resp *http.Response, body []byte) error {
	var oauthErr Error
	if err := json.Unmarshal(body, &oauthErr); err == nil && oauthErr.Code != "" {
		return &oauthErr
	}
	requestURL := ""
	if resp.Request != nil && resp.Request.URL != nil {
		requestURL = resp.Request.URL.String()
	}
	return &networking.HTTPError{
		StatusCode: resp.StatusCode,
		Body:       string(body),
		URL:        requestURL,
	}
}

// apiGET fetches a JSON resource from the provider's API with a bearer token.
func apiGET[T any](ctx context.Context, p *baseProvider, path, accessToken string) (T, error) {
	var zero T
	if err := p.limiter.Wait(ctx); err != nil {
		return zero, fmt.Errorf("rate limit wait failed: %w", err)
	}

	result, err := networking.FetchJSON[T](ctx, p.client, p.apiBaseURL+path,
		networking.WithHeader("Authorization", "Bearer "+accessToken),
	)
	if err != nil {
		return zero, err
	}
	return result.Data, nil
}

// doRevoke issues a revocation request and accepts any 2xx as success.
// Revocation endpoints return empty bodies, so this bypasses the JSON fetch
// helpers.
func (p *baseProvider) doRevoke(ctx context.Context, req *http.Request) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait failed: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("upstream revocation request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, networking.DefaultErrorPreviewSize))
		return &networking.HTTPError{
			StatusCode: resp.StatusCode,
			Body:       string(preview),
			URL:        req.URL.String(),
		}
	}
	return nil
}
