// SPDX-License-Identifier: MIT

package provider

import (
	"encoding/json"
	"net/http"
	"net/mail"
	"strings"

	"github.com/celsiusnarhwal/takagi/pkg/logger"
)

// oidcIssuerRel is the link relation relying parties use to discover an
// issuer through WebFinger (OIDC Discovery 1.0 Section 2).
const oidcIssuerRel = "http://openid.net/specs/connect/1.0/issuer"

type webFingerLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

type webFingerResponse struct {
	Subject string          `json:"subject"`
	Links   []webFingerLink `json:"links"`
}

// WebFingerHandler handles GET /.well-known/webfinger. Only acct: resources
// naming an email whose domain passes the WebFinger allowlist exist here;
// everything else is 404, indistinguishable from a host with no WebFinger
// data at all.
func (h *Handler) WebFingerHandler(w http.ResponseWriter, req *http.Request) {
	rc := h.context(req)
	query := req.URL.Query()

	resource := query.Get("resource")
	email, ok := parseAcctResource(resource)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	domain := email[strings.LastIndexByte(email, '@')+1:]
	if !h.settings.AllowedWebfingerHosts.Matches(domain) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	response := webFingerResponse{
		Subject: "acct:" + email,
		Links:   []webFingerLink{},
	}
	rel := oidcIssuerRel
	if values, present := query["rel"]; present && len(values) > 0 {
		rel = values[0]
	}
	if rel == oidcIssuerRel {
		response.Links = append(response.Links, webFingerLink{Rel: rel, Href: rc.Issuer()})
	}

	w.Header().Set("Content-Type", "application/jrd+json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Errorw("failed to encode webfinger response", "error", err)
	}
}

// parseAcctResource accepts acct:<email> with a syntactically valid email
// and returns the normalized address.
func parseAcctResource(resource string) (string, bool) {
	raw, found := strings.CutPrefix(resource, "acct:")
	if !found || raw == "" {
		return "", false
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return "", false
	}
	if !strings.Contains(raw, "@") {
		return "", false
	}
	return addr.Address, true
}
