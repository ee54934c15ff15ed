// SPDX-License-Identifier: MIT

// Package storage persists the short-lived server-side state of in-flight
// authorizations: transactions awaiting their upstream callback, single-use
// authorization codes, and the replay ledger for redeemed refresh-token IDs.
// Two backends exist — in-memory for single-replica deployments and Redis
// for shared state — behind one interface.
package storage

import (
	"context"
	"errors"
	"time"
)

// Storage errors.
var (
	// ErrNotFound is returned when a record does not exist or has expired.
	ErrNotFound = errors.New("record not found")

	// ErrCodeConsumed is returned when an authorization code is redeemed a
	// second time.
	ErrCodeConsumed = errors.New("authorization code already redeemed")

	// ErrAlreadyExists is returned when a refresh-token ID is marked used
	// twice.
	ErrAlreadyExists = errors.New("record already exists")
)

// Transaction is an authorization in flight between /authorize and the
// upstream callback, keyed by the opaque state reference sent upstream.
type Transaction struct {
	// ClientID is the relying party's upstream application client ID.
	ClientID string `json:"client_id"`

	// Scopes are the granted OIDC scopes (openid always present).
	Scopes []string `json:"scopes"`

	// RedirectURI is the authoritative destination, after any
	// FIX_REDIRECT_URIS rewrite. The callback trusts only this value.
	RedirectURI string `json:"redirect_uri"`

	// State is the relying party's own state value, replayed verbatim on
	// every redirect back to it.
	State string `json:"state,omitempty"`

	// Nonce is echoed into the ID token when present.
	Nonce string `json:"nonce,omitempty"`

	// CodeChallenge and CodeChallengeMethod hold the relying party's PKCE
	// parameters for verification at /token.
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`

	// Referer is the page that initiated the authorization, used by the
	// deny + return-to-referrer path.
	Referer string `json:"referer,omitempty"`

	// ReturnToReferrer records the per-request return override combined
	// with the global default.
	ReturnToReferrer bool `json:"return_to_referrer,omitempty"`

	// Issuer is the scheme+host+base-path observed at /authorize.
	Issuer string `json:"issuer"`

	// UpstreamVerifier is the PKCE verifier for the upstream leg; its
	// challenge was sent with the upstream authorize redirect.
	UpstreamVerifier string `json:"upstream_verifier,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// AuthorizationCode is the server-side record behind a code handed to the
// relying party. It carries everything /token needs to finish the exchange.
type AuthorizationCode struct {
	// UpstreamCode is the not-yet-exchanged upstream authorization code.
	UpstreamCode string `json:"upstream_code"`

	// UpstreamVerifier is replayed to the upstream token endpoint.
	UpstreamVerifier string `json:"upstream_verifier,omitempty"`

	ClientID    string   `json:"client_id"`
	RedirectURI string   `json:"redirect_uri"`
	Scopes      []string `json:"scopes"`
	Nonce       string   `json:"nonce,omitempty"`

	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Storage is the backend interface. Consume operations are take-once: under
// concurrent redemption of the same key, exactly one caller succeeds.
type Storage interface {
	// StoreTransaction records an in-flight authorization under its state
	// reference.
	StoreTransaction(ctx context.Context, ref string, txn *Transaction) error

	// ConsumeTransaction removes and returns the transaction for ref.
	// Unknown or expired refs return ErrNotFound.
	ConsumeTransaction(ctx context.Context, ref string) (*Transaction, error)

	// StoreAuthorizationCode records a code issued to a relying party.
	StoreAuthorizationCode(ctx context.Context, code string, record *AuthorizationCode) error

	// ConsumeAuthorizationCode removes and returns the record for code.
	// A second redemption returns ErrCodeConsumed for as long as the
	// consumed mark is retained; unknown codes return ErrNotFound.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// MarkRefreshTokenUsed records a redeemed refresh-token ID for ttl.
	// Marking the same ID twice returns ErrAlreadyExists.
	MarkRefreshTokenUsed(ctx context.Context, jti string, ttl time.Duration) error

	// Close releases backend resources.
	Close() error
}
