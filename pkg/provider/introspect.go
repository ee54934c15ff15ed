// SPDX-License-Identifier: MIT

package provider

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/celsiusnarhwal/takagi/pkg/logger"
)

// introspectionResponse is the RFC 7662 response body. Inactive tokens get
// the bare {"active": false}; everything else is omitted for them.
type introspectionResponse struct {
	Active    bool   `json:"active"`
	ClientID  string `json:"client_id,omitempty"`
	Username  string `json:"username,omitempty"`
	Scope     string `json:"scope,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Subject   string `json:"sub,omitempty"`
	Issuer    string `json:"iss,omitempty"`
	Audience  string `json:"aud,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
}

// IntrospectHandler handles POST /introspect per RFC 7662. Tokens that fail
// verification for any reason report active=false rather than an error; the
// sub of an active token is the upstream user ID, never the client ID.
func (h *Handler) IntrospectHandler(w http.ResponseWriter, req *http.Request) {
	rc := h.context(req)

	if err := req.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "malformed request body")
		return
	}
	raw := req.PostFormValue("token")
	if raw == "" {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "token is required")
		return
	}

	verified, err := h.tokens.VerifyAccessToken(raw, rc.Issuer(), rc.UserinfoURL())
	if err != nil {
		writeIntrospection(w, introspectionResponse{Active: false})
		return
	}

	response := introspectionResponse{
		Active:    true,
		ClientID:  verified.Info.ClientID,
		Scope:     strings.Join(verified.Info.Scopes, " "),
		TokenType: "Bearer",
		Subject:   verified.Subject,
		Issuer:    verified.Issuer,
		Audience:  verified.Audience,
		IssuedAt:  verified.IssuedAt,
		ExpiresAt: verified.ExpiresAt,
	}
	if slices.Contains(verified.Info.Scopes, "profile") {
		response.Username = verified.Info.Username
	}

	writeIntrospection(w, response)
}

func writeIntrospection(w http.ResponseWriter, response introspectionResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Errorw("failed to encode introspection response", "error", err)
	}
}
