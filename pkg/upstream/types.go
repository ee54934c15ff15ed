// SPDX-License-Identifier: MIT

package upstream

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// tokenExpirationBuffer is the time buffer before actual expiration to
// consider a token expired. This accounts for clock skew and network latency.
const tokenExpirationBuffer = 30 * time.Second

// Token is a token set issued by an upstream provider. It round-trips
// through the encrypted claims of locally-issued tokens, so the field names
// are part of the sealed payload format.
type Token struct {
	// AccessToken is the upstream access token.
	AccessToken string `json:"access_token"`

	// TokenType is the upstream token type, usually "bearer".
	TokenType string `json:"token_type,omitempty"`

	// RefreshToken is the upstream refresh token, when the provider
	// issued one.
	RefreshToken string `json:"refresh_token,omitempty"`

	// Scope is the scope string as the provider reported it. Informational;
	// claim projection is driven by the relying party's OIDC scopes.
	Scope string `json:"scope,omitempty"`

	// ExpiresAt is when the access token expires, in Unix seconds. Zero
	// means the provider did not report an expiry; GitHub OAuth app tokens
	// do not expire by default.
	ExpiresAt int64 `json:"expires_at,omitempty"`
}

// IsExpired reports whether the access token has expired or will expire
// within the buffer period. Tokens without a reported expiry never expire.
func (t *Token) IsExpired() bool {
	if t == nil {
		return true
	}
	if t.ExpiresAt == 0 {
		return false
	}
	return time.Now().Add(tokenExpirationBuffer).Unix() >= t.ExpiresAt
}

// Identity is the normalized snapshot of an upstream user account. Pointer
// and zero-valued fields mark claims the provider did not supply; those are
// omitted from tokens and userinfo rather than emitted as null.
type Identity struct {
	// ID is the stable upstream user ID, as a string.
	ID string

	// Username is the login or handle.
	Username string

	// Name is the display name. May be empty.
	Name string

	// AvatarURL points at the user's avatar image.
	AvatarURL string

	// ProfileURL points at the user's public profile.
	ProfileURL string

	// Locale is the user's locale when the provider reports one.
	Locale string

	// UpdatedAt is when the profile last changed, in Unix seconds. Nil when
	// the provider does not track it.
	UpdatedAt *int64

	// Email is the user's email address. Nil when the account has none
	// visible under the granted scopes.
	Email *string

	// EmailVerified reports whether Email is verified. Meaningless when
	// Email is nil.
	EmailVerified bool

	// Groups holds the IDs of the organizations or guilds the user belongs
	// to. Nil when the groups scope was not granted or the lookup failed.
	Groups []string
}

// Credentials are a relying party's upstream application credentials. They
// arrive on each /token request and are never stored in plaintext.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// AuthorizationRequest carries everything needed to build the upstream
// authorization URL for one transaction.
type AuthorizationRequest struct {
	// ClientID is the relying party's upstream application client ID.
	ClientID string

	// RedirectURI is the callback URL on this service.
	RedirectURI string

	// State is the opaque transaction reference.
	State string

	// Scopes are the OIDC scopes the relying party requested; the provider
	// converts them to its own scope vocabulary.
	Scopes []string

	// CodeChallenge is the S256 challenge for the upstream leg. Providers
	// that ignore PKCE simply drop it.
	CodeChallenge string

	// Extra carries passthrough query parameters, such as GitHub's
	// allow_signup or Discord's prompt.
	Extra url.Values
}

// Provider is one upstream identity provider.
type Provider interface {
	// Name identifies the provider in logs and errors.
	Name() string

	// AuthorizationURL builds the URL the end user is redirected to.
	AuthorizationURL(req AuthorizationRequest) string

	// Exchange redeems an upstream authorization code.
	Exchange(ctx context.Context, creds Credentials, code, verifier, redirectURI string) (*Token, error)

	// Refresh redeems an upstream refresh token.
	Refresh(ctx context.Context, creds Credentials, refreshToken string) (*Token, error)

	// FetchIdentity retrieves the identity snapshot the granted scopes
	// allow. Failures on non-mandatory subresources drop the affected
	// claims instead of failing the fetch.
	FetchIdentity(ctx context.Context, accessToken string, scopes []string) (*Identity, error)

	// Revoke invalidates an upstream access token.
	Revoke(ctx context.Context, creds Credentials, accessToken string) error

	// ConvertScopes maps OIDC scopes onto the provider's scope vocabulary.
	ConvertScopes(scopes []string) []string
}

// Error is an OAuth2 error the upstream token endpoint returned. The code
// passes through to relying parties so they see what upstream saw.
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	URI         string `json:"error_uri,omitempty"`
}

func (e *Error) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("upstream returned %s", e.Code)
	}
	return fmt.Sprintf("upstream returned %s: %s", e.Code, e.Description)
}

// scopeMapping pairs an OIDC scope with the upstream scope that grants it.
type scopeMapping struct {
	oidc     string
	upstream string
}

// convertScopes maps requested OIDC scopes through a provider's scope table,
// preserving the table's order so scope strings are deterministic.
func convertScopes(table []scopeMapping, requested []string) []string {
	set := make(map[string]struct{}, len(requested))
	for _, s := range requested {
		set[s] = struct{}{}
	}
	var out []string
	for _, m := range table {
		if _, ok := set[m.oidc]; ok && m.upstream != "" {
			out = append(out, m.upstream)
		}
	}
	return out
}
