// SPDX-License-Identifier: MIT

package provider

import (
	"net/http"

	"github.com/celsiusnarhwal/takagi/pkg/logger"
)

// RevokeHandler handles POST /revoke per RFC 7009. The sealed upstream token
// is revoked at the provider; per the RFC, a token that is unknown, invalid,
// or already dead still yields 200 so clients cannot probe token state.
func (h *Handler) RevokeHandler(w http.ResponseWriter, req *http.Request) {
	rc := h.context(req)

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

	raw := req.PostFormValue("token")
	if raw == "" {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "token is required")
		return
	}

	verified, err := h.tokens.VerifyAccessToken(raw, rc.Issuer(), rc.UserinfoURL())
	if err != nil {
		// Unknown or foreign tokens are not an error per RFC 7009 Section 2.2.
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.upstream.Revoke(req.Context(), creds, verified.Info.Token.AccessToken); err != nil {
		logger.Warnw("upstream revocation failed",
			"provider", h.upstream.Name(),
			"error", err,
		)
	}

	w.WriteHeader(http.StatusOK)
}
