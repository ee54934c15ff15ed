// SPDX-License-Identifier: MIT

package provider

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/celsiusnarhwal/takagi/pkg/logger"
	"github.com/celsiusnarhwal/takagi/pkg/storage"
)

// CallbackHandler handles GET /r/{destination}, the redirect endpoint the
// upstream provider calls back. It consumes the transaction named by the
// state parameter, issues a single-use authorization code, and bounces the
// browser to the relying party. The destination is always recovered from the
// stored transaction; the path of the callback URL is only checked against
// it, never followed.
func (h *Handler) CallbackHandler(w http.ResponseWriter, req *http.Request) {
	rc := h.context(req)
	query := req.URL.Query()

	stateRef := query.Get("state")
	if stateRef == "" {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest, "state is required")
		return
	}

	txn, err := h.store.ConsumeTransaction(req.Context(), stateRef)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest,
			"unknown or expired state; restart the authorization")
		return
	case err != nil:
		writeServerError(w, fmt.Errorf("failed to consume transaction: %w", err))
		return
	}

	observed := rc.RedirectBaseURL() + "/" + chi.URLParam(req, "*")
	if observed != txn.RedirectURI {
		writeOAuthError(w, http.StatusBadRequest, errInvalidRequest,
			"redirect URI does not match what was sent at authorization")
		return
	}

	destination := destinationFromRedirectURI(txn.RedirectURI)

	if upstreamErr := query.Get("error"); upstreamErr != "" {
		if upstreamErr == "access_denied" && txn.ReturnToReferrer && txn.Referer != "" {
			http.Redirect(w, req, txn.Referer, http.StatusFound)
			return
		}
		redirectError(w, req, destination, txn.State, upstreamErr, query.Get("error_description"))
		return
	}

	upstreamCode := query.Get("code")
	if upstreamCode == "" {
		redirectError(w, req, destination, txn.State, errServerError,
			"upstream returned neither a code nor an error")
		return
	}

	code := rand.Text()
	record := &storage.AuthorizationCode{
		UpstreamCode:        upstreamCode,
		UpstreamVerifier:    txn.UpstreamVerifier,
		ClientID:            txn.ClientID,
		RedirectURI:         txn.RedirectURI,
		Scopes:              txn.Scopes,
		Nonce:               txn.Nonce,
		CodeChallenge:       txn.CodeChallenge,
		CodeChallengeMethod: txn.CodeChallengeMethod,
		CreatedAt:           time.Now(),
	}
	if err := h.store.StoreAuthorizationCode(req.Context(), code, record); err != nil {
		logger.Errorw("failed to store authorization code", "error", err)
		redirectError(w, req, destination, txn.State, errServerError,
			"failed to record the authorization")
		return
	}

	// Forward any extra upstream query parameters, replacing its state and
	// code with ours.
	params := url.Values{}
	for key, values := range query {
		if key == "state" || key == "code" {
			continue
		}
		params[key] = values
	}
	params.Set("code", code)
	if txn.State != "" {
		params.Set("state", txn.State)
	}

	http.Redirect(w, req, appendQuery(destination, params), http.StatusFound)
}
