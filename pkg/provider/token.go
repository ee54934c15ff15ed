// SPDX-License-Identifier: MIT

package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/celsiusnarhwal/takagi/pkg/logger"
	"github.com/celsiusnarhwal/takagi/pkg/provider/crypto"
	"github.com/celsiusnarhwal/takagi/pkg/storage"
	"github.com/celsiusnarhwal/takagi/pkg/tokens"
	"github.com/celsiusnarhwal/takagi/pkg/upstream"
)

// errBothCredentials marks a request presenting HTTP Basic and form client
// credentials at the same time.
var errBothCredentials = errors.New("client credentials were supplied via both form fields and HTTP Basic authentication")

// tokenResponse is the token endpoint's success body. It carries expires_at,
// an absolute instant, rather than the more common expires_in.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresAt    int64  `json:"expires_at"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// clientCredentials extracts the relying party's upstream application
// credentials from HTTP Basic authentication or form fields. Presenting both
// at once is rejected outright.
func clientCredentials(req *http.Request) (upstream.Credentials, error) {
	basicID, basicSecret, hasBasic := req.BasicAuth()
	formID := req.PostFormValue("client_id")
	formSecret := req.PostFormValue("client_secret")

	if hasBasic && (formID != "" || formSecret != "") {
		return upstream.Credentials{}, errBothCredentials
	}
	if hasBasic {
		return upstream.Credentials{ClientID: basicID, ClientSecret: basicSecret}, nil
	}
	return upstream.Credentials{ClientID: formID, ClientSecret: formSecret}, nil
}

// TokenHandler handles POST /token for the authorization_code and
// refresh_token grants. The service holds no client registry: the client
// secret is validated by the upstream provider during the exchange, which is
// the authority that issued it.
func (h *Handler) TokenHandler(w http.ResponseWriter, req *http.Request) {
	if err := req.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "malformed request body")
		return
	}

	creds, err := clientCredentials(req)
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, err.Error())
		return
	}
	if creds.ClientID == "" {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "client_id is required")
		return
	}
	if creds.ClientSecret == "" {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "client_secret is required")
		return
	}
	if !h.settings.ClientAllowed(creds.ClientID) {
		writeOAuthError(w, http.StatusBadRequest, errInvalidClient,
			fmt.Sprintf("client ID %s is not allowed", creds.ClientID))
		return
	}

	switch grantType := req.PostFormValue("grant_type"); grantType {
	case "authorization_code":
		h.authorizationCodeGrant(w, req, creds)
	case "refresh_token":
		h.refreshTokenGrant(w, req, creds)
	case "":
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "grant_type is required")
	default:
		writeOAuthError(w, http.StatusBadRequest, errUnsupportedGrantType,
			fmt.Sprintf("grant type %q is not supported", grantType))
	}
}

// authorizationCodeGrant redeems a single-use authorization code: PKCE and
// redirect-URI checks, the upstream code exchange, an identity fetch, and a
// fresh token triple.
func (h *Handler) authorizationCodeGrant(w http.ResponseWriter, req *http.Request, creds upstream.Credentials) {
	rc := h.context(req)
	ctx := req.Context()

	code := req.PostFormValue("code")
	if code == "" {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "code is required")
		return
	}

	record, err := h.store.ConsumeAuthorizationCode(ctx, code)
	switch {
	case errors.Is(err, storage.ErrCodeConsumed):
		writeOAuthError(w, http.StatusBadRequest, errInvalidGrant, "authorization code was already redeemed")
		return
	case errors.Is(err, storage.ErrNotFound):
		writeOAuthError(w, http.StatusBadRequest, errInvalidGrant, "unknown or expired authorization code")
		return
	case err != nil:
		writeServerError(w, fmt.Errorf("failed to consume authorization code: %w", err))
		return
	}

	if record.ClientID != creds.ClientID {
		writeOAuthError(w, http.StatusBadRequest, errInvalidGrant,
			"authorization code was issued to another client")
		return
	}

	if record.RedirectURI != "" {
		redirectURI := req.PostFormValue("redirect_uri")
		if redirectURI == "" {
			writeOAuthError(w, http.StatusBadRequest, errInvalidRequest,
				"redirect_uri is required since it was sent at authorization")
			return
		}
		if fixRedirectURI(rc, redirectURI) != record.RedirectURI {
			writeOAuthError(w, http.StatusBadRequest, errInvalidGrant,
				"redirect URI does not match what was sent at authorization")
			return
		}
	}

	if record.CodeChallenge != "" {
		verifier := req.PostFormValue("code_verifier")
		if verifier == "" {
			writeOAuthError(w, http.StatusBadRequest, errInvalidRequest,
				"code_verifier is required since a code_challenge was sent at authorization")
			return
		}
		if err := crypto.VerifyPKCE(verifier, record.CodeChallenge, record.CodeChallengeMethod); err != nil {
			writeOAuthError(w, http.StatusBadRequest, errInvalidGrant, err.Error())
			return
		}
	}

	upstreamToken, err := h.upstream.Exchange(ctx, creds, record.UpstreamCode, record.UpstreamVerifier, record.RedirectURI)
	if err != nil {
		h.writeUpstreamError(w, "code exchange", err)
		return
	}

	h.mintAndRespond(w, req, rc, tokens.MintRequest{
		ClientID: creds.ClientID,
		Scopes:   record.Scopes,
		Nonce:    record.Nonce,
		Upstream: upstreamToken,
	})
}

// refreshTokenGrant rotates a refresh token: single-use enforcement through
// the jti ledger, an upstream refresh when the sealed token has expired, and
// a re-minted triple.
func (h *Handler) refreshTokenGrant(w http.ResponseWriter, req *http.Request, creds upstream.Credentials) {
	rc := h.context(req)
	ctx := req.Context()

	raw := req.PostFormValue("refresh_token")
	if raw == "" {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "refresh_token is required")
		return
	}

	verified, err := h.tokens.VerifyRefreshToken(raw, rc.Issuer(), rc.TokenURL())
	if err != nil {
		writeOAuthError(w, http.StatusBadRequest, errInvalidGrant, "refresh token is invalid")
		return
	}

	// Refresh tokens are bound to the client they were minted for.
	if verified.Info.ClientID != creds.ClientID {
		writeOAuthError(w, http.StatusBadRequest, errInvalidGrant,
			"refresh token was issued to another client")
		return
	}

	ttl := time.Until(time.Unix(verified.ExpiresAt, 0))
	err = h.store.MarkRefreshTokenUsed(ctx, verified.ID, ttl)
	switch {
	case errors.Is(err, storage.ErrAlreadyExists):
		writeOAuthError(w, http.StatusBadRequest, errInvalidGrant, "refresh token was already used")
		return
	case err != nil:
		writeServerError(w, fmt.Errorf("failed to mark refresh token used: %w", err))
		return
	}

	upstreamToken := verified.Info.Token
	if upstreamToken.IsExpired() {
		if upstreamToken == nil || upstreamToken.RefreshToken == "" {
			writeOAuthError(w, http.StatusBadRequest, errInvalidGrant,
				"the upstream token has expired and cannot be refreshed")
			return
		}
		upstreamToken, err = h.upstream.Refresh(ctx, creds, upstreamToken.RefreshToken)
		if err != nil {
			h.writeUpstreamError(w, "token refresh", err)
			return
		}
	}

	h.mintAndRespond(w, req, rc, tokens.MintRequest{
		ClientID: creds.ClientID,
		Scopes:   verified.Info.Scopes,
		Nonce:    verified.Info.Nonce,
		Upstream: upstreamToken,
	})
}

// mintAndRespond fetches a fresh identity snapshot, mints the token triple,
// and writes the token response. The request's observed URLs become the
// issuer and audiences.
func (h *Handler) mintAndRespond(w http.ResponseWriter, req *http.Request, rc RequestContext, mint tokens.MintRequest) {
	identity, err := h.upstream.FetchIdentity(req.Context(), mint.Upstream.AccessToken, mint.Scopes)
	if err != nil {
		writeServerError(w, fmt.Errorf("failed to fetch upstream identity: %w", err))
		return
	}

	mint.Identity = identity
	mint.Issuer = rc.Issuer()
	mint.UserinfoURL = rc.UserinfoURL()
	mint.TokenURL = rc.TokenURL()
	mint.Now = rc.Now

	set, err := h.tokens.Mint(mint)
	if err != nil {
		writeServerError(w, fmt.Errorf("failed to mint tokens: %w", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	if err := json.NewEncoder(w).Encode(tokenResponse{
		AccessToken:  set.AccessToken,
		TokenType:    "Bearer",
		ExpiresAt:    set.ExpiresAt,
		IDToken:      set.IDToken,
		RefreshToken: set.RefreshToken,
		Scope:        strings.Join(mint.Scopes, " "),
	}); err != nil {
		logger.Errorw("failed to encode token response", "error", err)
	}
}

// writeUpstreamError maps an upstream token-endpoint failure onto the local
// response: OAuth2 rejections surface as invalid_grant with the upstream's
// own description, anything else is an internal failure.
func (h *Handler) writeUpstreamError(w http.ResponseWriter, op string, err error) {
	var upstreamErr *upstream.Error
	if errors.As(err, &upstreamErr) {
		writeOAuthError(w, http.StatusBadRequest, errInvalidGrant,
			fmt.Sprintf("upstream %s failed: %s", op, upstreamErr.Error()))
		return
	}
	writeServerError(w, fmt.Errorf("upstream %s failed: %w", op, err))
}
