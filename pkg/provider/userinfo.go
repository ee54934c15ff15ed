// SPDX-License-Identifier: MIT

package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/celsiusnarhwal/takagi/pkg/logger"
	"github.com/celsiusnarhwal/takagi/pkg/networking"
	"github.com/celsiusnarhwal/takagi/pkg/tokens"
)

// bearerToken extracts the bearer credential from the Authorization header.
func bearerToken(req *http.Request) string {
	auth := req.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}

// writeUnauthorized responds 401 with a WWW-Authenticate challenge per
// RFC 6750 Section 3.
func writeUnauthorized(w http.ResponseWriter, description string) {
	challenge := `Bearer`
	if description != "" {
		challenge = fmt.Sprintf(`Bearer error=%q, error_description=%q`, errInvalidToken, description)
	}
	w.Header().Set("WWW-Authenticate", challenge)
	writeOAuthError(w, http.StatusUnauthorized, errInvalidToken, description)
}

// UserinfoHandler handles GET and POST /userinfo. It verifies the bearer
// access token against the observed issuer and userinfo URL, fetches a fresh
// identity snapshot with the sealed upstream token, and returns the claims
// the token's scopes permit. Absent claims are omitted, never null; the
// registered claims (iss, aud, iat, exp, nonce) never appear here.
func (h *Handler) UserinfoHandler(w http.ResponseWriter, req *http.Request) {
	rc := h.context(req)

	raw := bearerToken(req)
	if raw == "" {
		writeUnauthorized(w, "")
		return
	}

	verified, err := h.tokens.VerifyAccessToken(raw, rc.Issuer(), rc.UserinfoURL())
	switch {
	case errors.Is(err, tokens.ErrNotAccessToken):
		// An ID token presented as a bearer credential: authenticated-looking
		// but wrong, so a 400 rather than a challenge.
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest,
			"the bearer credential is an ID token; userinfo requires an access token")
		return
	case err != nil:
		writeUnauthorized(w, "access token verification failed")
		return
	}

	identity, err := h.upstream.FetchIdentity(req.Context(), verified.Info.Token.AccessToken, verified.Info.Scopes)
	if err != nil {
		if networking.IsHTTPError(err, http.StatusUnauthorized) || networking.IsHTTPError(err, http.StatusForbidden) {
			writeUnauthorized(w, "the upstream provider rejected the token")
			return
		}
		writeServerError(w, fmt.Errorf("failed to fetch upstream identity: %w", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(tokens.ProjectClaims(identity, verified.Info.Scopes)); err != nil {
		logger.Errorw("failed to encode userinfo response", "error", err)
	}
}
