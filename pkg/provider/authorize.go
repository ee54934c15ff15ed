// SPDX-License-Identifier: MIT

package provider

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/celsiusnarhwal/takagi/pkg/logger"
	"github.com/celsiusnarhwal/takagi/pkg/provider/crypto"
	"github.com/celsiusnarhwal/takagi/pkg/storage"
	"github.com/celsiusnarhwal/takagi/pkg/upstream"
)

// oidcAuthorizeParams are consumed by the authorize endpoint itself; every
// other query parameter passes through to the upstream authorize URL.
var oidcAuthorizeParams = []string{
	"client_id", "response_type", "redirect_uri", "scope",
	"state", "nonce", "code_challenge", "code_challenge_method", "return",
}

// upstreamAuthSecrets holds the values generated for the upstream leg of one
// authorization.
type upstreamAuthSecrets struct {
	// State is the opaque transaction reference sent upstream, correlating
	// the callback.
	State string
	// PKCEVerifier is the code_verifier for upstream PKCE (RFC 7636).
	PKCEVerifier string
	// PKCEChallenge is the code_challenge derived from PKCEVerifier.
	PKCEChallenge string
}

func newUpstreamAuthSecrets() upstreamAuthSecrets {
	verifier := crypto.GeneratePKCEVerifier()
	return upstreamAuthSecrets{
		State:         rand.Text(),
		PKCEVerifier:  verifier,
		PKCEChallenge: crypto.ComputePKCEChallenge(verifier),
	}
}

// AuthorizeHandler handles GET /authorize. It validates the relying party's
// request, records the transaction, and redirects the browser to the
// upstream provider. Validation failures respond directly; nothing is ever
// redirected to a destination that has not passed the redirect-URI policy.
func (h *Handler) AuthorizeHandler(w http.ResponseWriter, req *http.Request) {
	rc := h.context(req)
	query := req.URL.Query()

	clientID := query.Get("client_id")
	if clientID == "" {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "client_id is required")
		return
	}
	if !h.settings.ClientAllowed(clientID) {
		writeOAuthError(w, http.StatusBadRequest, errUnauthorizedClient,
			fmt.Sprintf("client ID %s is not allowed", clientID))
		return
	}

	redirectURI := query.Get("redirect_uri")
	if redirectURI == "" {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "redirect_uri is required")
		return
	}
	if !h.isSecureURL(redirectURI) {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest,
			fmt.Sprintf("redirect URI %s is insecure; redirect URIs must be HTTPS or loopback", redirectURI))
		return
	}

	fixed := fixRedirectURI(rc, redirectURI)
	if fixed != redirectURI {
		if !h.settings.FixRedirectURIs {
			writeOAuthError(w, http.StatusBadRequest, errInvalidRequest,
				fmt.Sprintf("redirect URI must be a subpath of %s/ (e.g., %s)", rc.RedirectBaseURL(), fixed))
			return
		}
		redirectURI = fixed
	}

	if responseType := query.Get("response_type"); responseType != "code" {
		writeOAuthError(w, http.StatusBadRequest, errUnsupportedResponseType,
			fmt.Sprintf("response_type must be code, got %q", responseType))
		return
	}

	scopes := strings.Fields(query.Get("scope"))
	if !slices.Contains(scopes, "openid") {
		writeOAuthError(w, http.StatusBadRequest, errInvalidScope, "openid scope is required")
		return
	}
	for _, scope := range scopes {
		if !slices.Contains(SupportedScopes, scope) {
			writeOAuthError(w, http.StatusBadRequest, errInvalidScope,
				fmt.Sprintf("scope %q is not supported", scope))
			return
		}
	}

	codeChallenge := query.Get("code_challenge")
	codeChallengeMethod := query.Get("code_challenge_method")
	if codeChallenge != "" {
		switch codeChallengeMethod {
		case crypto.PKCEChallengeMethodS256, crypto.PKCEChallengeMethodPlain:
		case "":
			// RFC 7636 defaults an absent method to plain.
			codeChallengeMethod = crypto.PKCEChallengeMethodPlain
		default:
			writeOAuthError(w, http.StatusBadRequest, errInvalidRequest,
				fmt.Sprintf("code_challenge_method must be S256 or plain, got %q", codeChallengeMethod))
			return
		}
	}

	returnToReferrer := h.settings.ReturnToReferrer
	if raw := query.Get("return"); raw != "" {
		if parsed, err := strconv.ParseBool(raw); err == nil {
			returnToReferrer = parsed
		}
	}

	secrets := newUpstreamAuthSecrets()

	txn := &storage.Transaction{
		ClientID:            clientID,
		Scopes:              scopes,
		RedirectURI:         redirectURI,
		State:               query.Get("state"),
		Nonce:               query.Get("nonce"),
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: codeChallengeMethod,
		Referer:             rc.Referer,
		ReturnToReferrer:    returnToReferrer,
		Issuer:              rc.Issuer(),
		UpstreamVerifier:    secrets.PKCEVerifier,
		CreatedAt:           time.Now(),
	}

	if err := h.store.StoreTransaction(req.Context(), secrets.State, txn); err != nil {
		writeServerError(w, fmt.Errorf("failed to store transaction: %w", err))
		return
	}

	extra := url.Values{}
	for key, values := range query {
		if slices.Contains(oidcAuthorizeParams, key) {
			continue
		}
		extra[key] = values
	}

	upstreamURL := h.upstream.AuthorizationURL(upstream.AuthorizationRequest{
		ClientID:      clientID,
		RedirectURI:   redirectURI,
		State:         secrets.State,
		Scopes:        scopes,
		CodeChallenge: secrets.PKCEChallenge,
		Extra:         extra,
	})

	logger.Debugw("redirecting to upstream",
		"provider", h.upstream.Name(),
		"client_id", clientID,
		"scopes", strings.Join(scopes, " "),
	)

	http.Redirect(w, req, upstreamURL, http.StatusFound)
}
