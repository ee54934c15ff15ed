// SPDX-License-Identifier: MIT

package provider

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/celsiusnarhwal/takagi/pkg/logger"
)

// OAuth2 error codes surfaced by this package, per RFC 6749 Section 5.2 and
// OIDC Core 1.0 Section 3.1.2.6.
const (
	errInvalidRequest          = "invalid_request"
	errInvalidClient           = "invalid_client"
	errInvalidGrant            = "invalid_grant"
	errInvalidScope            = "invalid_scope"
	errInvalidToken            = "invalid_token"
	errUnauthorizedClient      = "unauthorized_client"
	errUnsupportedGrantType    = "unsupported_grant_type"
	errUnsupportedResponseType = "unsupported_response_type"
	errServerError             = "server_error"
)

// oauthError is the JSON error envelope every failing endpoint returns.
type oauthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// writeOAuthError responds directly with an OAuth2 error object. Used before
// a redirect URI has been validated; after that point errors travel to the
// relying party via redirectError instead.
func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(oauthError{Code: code, Description: description}); err != nil {
		logger.Errorw("failed to encode error response", "error", err)
	}
}

// writeServerError logs an unexpected failure and maps it to server_error
// without leaking internals to the client.
func writeServerError(w http.ResponseWriter, err error) {
	logger.Errorw("internal error", "error", err)
	writeOAuthError(w, http.StatusInternalServerError, errServerError, "an internal error occurred")
}

// redirectError bounces the browser to an already-validated destination with
// error and error_description query parameters, re-attaching the relying
// party's state when it sent one.
func redirectError(w http.ResponseWriter, req *http.Request, destination, state, code, description string) {
	params := url.Values{"error": {code}}
	if description != "" {
		params.Set("error_description", description)
	}
	if state != "" {
		params.Set("state", state)
	}
	http.Redirect(w, req, appendQuery(destination, params), http.StatusFound)
}

// appendQuery merges params into a URL that may already carry a query string.
func appendQuery(rawURL string, params url.Values) string {
	if len(params) == 0 {
		return rawURL
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		// The destination was validated earlier; fall back to naive
		// concatenation rather than dropping the redirect.
		sep := "?"
		if len(rawURL) > 0 && (rawURL[len(rawURL)-1] == '?' || rawURL[len(rawURL)-1] == '&') {
			sep = ""
		}
		return rawURL + sep + params.Encode()
	}
	query := parsed.Query()
	for key, values := range params {
		for _, value := range values {
			query.Add(key, value)
		}
	}
	parsed.RawQuery = query.Encode()
	return parsed.String()
}
