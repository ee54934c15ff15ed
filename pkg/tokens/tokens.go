// SPDX-License-Identifier: MIT

// Package tokens mints and verifies the JWTs this service issues: RS256
// ID tokens, access tokens whose token claim seals the upstream token in a
// JWE, and single-use refresh tokens sealing enough state to re-mint the
// pair. Signing and encryption go through the keyset; verification resolves
// keys by kid, so a keyset rotation invalidates everything issued before it.
package tokens

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/celsiusnarhwal/takagi/pkg/keyset"
	"github.com/celsiusnarhwal/takagi/pkg/upstream"
)

// MaxExpiry is 9999-12-31T23:59:59Z in Unix seconds. JWTs must carry an
// expiry, so tokens minted without a configured lifetime use the latest
// four-digit-year instant as the closest thing to never.
const MaxExpiry = 253402300799

// DefaultRefreshTokenLifetime applies to refresh tokens when a token
// lifetime is configured; they outlive their access tokens so sessions can
// be re-minted after expiry.
const DefaultRefreshTokenLifetime = 30 * 24 * time.Hour

// AccessInfo is the sealed payload inside an access token's token claim.
// It is JWE-encrypted under the keyset's symmetric key and opaque to
// relying parties.
type AccessInfo struct {
	// Token is the upstream token the access token stands in for.
	Token *upstream.Token `json:"token"`

	// ClientID identifies the relying party the token was minted for.
	ClientID string `json:"client_id"`

	// Scopes are the OIDC scopes granted at authorization.
	Scopes []string `json:"scopes"`

	// Username is the upstream login, carried for introspection.
	Username string `json:"username,omitempty"`
}

// RefreshInfo is the sealed payload inside a refresh token. It carries the
// upstream token set (including any upstream refresh token) plus the state
// needed to re-mint the pair.
type RefreshInfo struct {
	Token    *upstream.Token `json:"token"`
	ClientID string          `json:"client_id"`
	Scopes   []string        `json:"scopes"`
	Nonce    string          `json:"nonce,omitempty"`
	Username string          `json:"username,omitempty"`
}

// MintRequest carries everything Mint needs. URLs are the ones observed on
// the request triggering the mint; nothing is read from configuration.
type MintRequest struct {
	Identity    *upstream.Identity
	ClientID    string
	Scopes      []string
	Nonce       string
	Issuer      string
	UserinfoURL string
	TokenURL    string
	Now         time.Time
	Upstream    *upstream.Token
}

// TokenSet is one minted ID + access + refresh token triple.
type TokenSet struct {
	IDToken      string
	AccessToken  string
	RefreshToken string

	// ExpiresAt is the access and ID token expiry in Unix seconds.
	ExpiresAt int64
}

// Service mints and verifies tokens against the current keyset.
type Service struct {
	keys     *keyset.Provider
	lifetime time.Duration
}

// NewService returns a token service. A zero lifetime means tokens get the
// MaxExpiry sentinel instead of a real expiry.
func NewService(keys *keyset.Provider, lifetime time.Duration) *Service {
	return &Service{keys: keys, lifetime: lifetime}
}

// Mint issues an ID, access, and refresh token for one authorization.
func (s *Service) Mint(req MintRequest) (*TokenSet, error) {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	iat := now.Unix()

	exp := int64(MaxExpiry)
	refreshExp := int64(MaxExpiry)
	if s.lifetime > 0 {
		exp = now.Add(s.lifetime).Unix()
		refreshExp = now.Add(DefaultRefreshTokenLifetime).Unix()
	}

	ks := s.keys.Current()

	idClaims := map[string]any{
		"iss": req.Issuer,
		"aud": req.ClientID,
		"iat": iat,
		"exp": exp,
	}
	maps.Copy(idClaims, ProjectClaims(req.Identity, req.Scopes))
	if req.Nonce != "" {
		idClaims["nonce"] = req.Nonce
	}

	idToken, err := signClaims(ks, idClaims)
	if err != nil {
		return nil, fmt.Errorf("failed to sign ID token: %w", err)
	}

	accessSeal, err := seal(ks, AccessInfo{
		Token:    req.Upstream,
		ClientID: req.ClientID,
		Scopes:   req.Scopes,
		Username: req.Identity.Username,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to seal access info: %w", err)
	}

	accessToken, err := signClaims(ks, map[string]any{
		"iss":   req.Issuer,
		"sub":   req.Identity.ID,
		"aud":   req.UserinfoURL,
		"iat":   iat,
		"exp":   exp,
		"token": accessSeal,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refreshSeal, err := seal(ks, RefreshInfo{
		Token:    req.Upstream,
		ClientID: req.ClientID,
		Scopes:   req.Scopes,
		Nonce:    req.Nonce,
		Username: req.Identity.Username,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to seal refresh info: %w", err)
	}

	refreshToken, err := signClaims(ks, map[string]any{
		"iss":   req.Issuer,
		"sub":   req.Identity.ID,
		"aud":   req.TokenURL,
		"iat":   iat,
		"exp":   refreshExp,
		"jti":   uuid.NewString(),
		"token": refreshSeal,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return &TokenSet{
		IDToken:      idToken,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    exp,
	}, nil
}

func signClaims(ks *keyset.Keyset, claims map[string]any) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to marshal claims: %w", err)
	}
	return ks.Sign(payload)
}

func seal(ks *keyset.Keyset, payload any) (string, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal sealed payload: %w", err)
	}
	return ks.Encrypt(plaintext)
}
