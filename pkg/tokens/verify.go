// SPDX-License-Identifier: MIT

package tokens

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/golang-jwt/jwt/v5"

	"github.com/celsiusnarhwal/takagi/pkg/keyset"
)

var (
	// ErrTokenInvalid covers every verification failure a caller can treat
	// uniformly: bad signature, unknown key, expiry, issuer or audience
	// mismatch.
	ErrTokenInvalid = errors.New("token is invalid")

	// ErrNotAccessToken marks a JWS that verified against our keys but has
	// no sealed token claim. An ID token presented as a bearer credential
	// lands here; userinfo must reject it without treating it as
	// unauthenticated.
	ErrNotAccessToken = errors.New("token is not an access token")
)

// sealedTokenClaims are the registered claims plus the sealed token claim
// shared by access and refresh tokens.
type sealedTokenClaims struct {
	jwt.RegisteredClaims
	Token string `json:"token"`
}

// VerifiedAccessToken is a successfully verified access token.
type VerifiedAccessToken struct {
	Subject   string
	Issuer    string
	Audience  string
	IssuedAt  int64
	ExpiresAt int64
	Info      AccessInfo
}

// VerifiedRefreshToken is a successfully verified refresh token.
type VerifiedRefreshToken struct {
	ID        string
	Subject   string
	ExpiresAt int64
	Info      RefreshInfo
}

// VerifyAccessToken verifies a bearer access token against the current
// keyset and the issuer and userinfo URL observed on the request, then
// decrypts its sealed payload. It returns ErrNotAccessToken when the JWS is
// ours but carries no sealed claim.
func (s *Service) VerifyAccessToken(raw, issuer, userinfoURL string) (*VerifiedAccessToken, error) {
	claims, err := s.parseSigned(raw)
	if err != nil {
		return nil, err
	}

	if claims.Issuer != issuer {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrTokenInvalid)
	}
	if claims.Token == "" {
		return nil, ErrNotAccessToken
	}
	if !slices.Contains(claims.Audience, userinfoURL) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrTokenInvalid)
	}

	var info AccessInfo
	if err := s.unseal(claims.Token, &info); err != nil {
		return nil, err
	}

	verified := &VerifiedAccessToken{
		Subject: claims.Subject,
		Issuer:  claims.Issuer,
		Info:    info,
	}
	if len(claims.Audience) > 0 {
		verified.Audience = claims.Audience[0]
	}
	if claims.IssuedAt != nil {
		verified.IssuedAt = claims.IssuedAt.Unix()
	}
	if claims.ExpiresAt != nil {
		verified.ExpiresAt = claims.ExpiresAt.Unix()
	}
	return verified, nil
}

// VerifyRefreshToken verifies a refresh token against the current keyset
// and the issuer and token URL observed on the request, then decrypts its
// sealed payload. Single-use enforcement happens in storage, keyed by the
// returned ID.
func (s *Service) VerifyRefreshToken(raw, issuer, tokenURL string) (*VerifiedRefreshToken, error) {
	claims, err := s.parseSigned(raw)
	if err != nil {
		return nil, err
	}

	if claims.Issuer != issuer {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrTokenInvalid)
	}
	if claims.Token == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: not a refresh token", ErrTokenInvalid)
	}
	if !slices.Contains(claims.Audience, tokenURL) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrTokenInvalid)
	}

	var info RefreshInfo
	if err := s.unseal(claims.Token, &info); err != nil {
		return nil, err
	}

	verified := &VerifiedRefreshToken{
		ID:      claims.ID,
		Subject: claims.Subject,
		Info:    info,
	}
	if claims.ExpiresAt != nil {
		verified.ExpiresAt = claims.ExpiresAt.Unix()
	}
	return verified, nil
}

// parseSigned verifies the JWS signature and expiry, resolving the
// verification key by kid against the current keyset.
func (s *Service) parseSigned(raw string) (*sealedTokenClaims, error) {
	claims := &sealedTokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, s.verificationKey,
		jwt.WithValidMethods([]string{string(keyset.SigningAlgorithm)}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	return claims, nil
}

func (s *Service) verificationKey(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("token has no key ID")
	}
	return s.keys.Current().VerificationKey(kid)
}

func (s *Service) unseal(sealed string, into any) error {
	plaintext, err := s.keys.Current().Decrypt(sealed)
	if err != nil {
		return fmt.Errorf("%w: failed to decrypt sealed payload", ErrTokenInvalid)
	}
	if err := json.Unmarshal(plaintext, into); err != nil {
		return fmt.Errorf("%w: malformed sealed payload", ErrTokenInvalid)
	}
	return nil
}
