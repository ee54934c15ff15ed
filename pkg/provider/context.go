// SPDX-License-Identifier: MIT

package provider

import (
	"net/http"
	"strings"
	"time"
)

// RequestContext captures what one request observed about how it reached the
// service. Issued-token issuers, discovery URLs, and audience checks all
// derive from it, so two requests arriving through different hostnames get
// coherent but different documents.
type RequestContext struct {
	// Scheme is the observed URL scheme, honoring X-Forwarded-Proto.
	Scheme string

	// Host is the observed host (possibly host:port), honoring
	// X-Forwarded-Host.
	Host string

	// BasePath is the configured mount prefix, "" or "/prefix".
	BasePath string

	// Now is when the request was observed.
	Now time.Time

	// Referer is the page that linked here, when the browser sent one.
	Referer string
}

// NewRequestContext derives the context for one request. Forwarded headers
// are honored unconditionally; deployments that cannot trust them must strip
// them at the proxy.
func NewRequestContext(req *http.Request, basePath string) RequestContext {
	scheme := "http"
	if req.TLS != nil {
		scheme = "https"
	}
	if proto := req.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.ToLower(firstForwarded(proto))
	}

	host := req.Host
	if forwarded := req.Header.Get("X-Forwarded-Host"); forwarded != "" {
		host = firstForwarded(forwarded)
	}

	return RequestContext{
		Scheme:   scheme,
		Host:     host,
		BasePath: basePath,
		Now:      time.Now(),
		Referer:  req.Referer(),
	}
}

// Issuer is the scheme+host+base-path this request observed, without a
// trailing slash. It is the iss of every token minted for this request.
func (rc RequestContext) Issuer() string {
	return rc.Scheme + "://" + rc.Host + rc.BasePath
}

// URLFor resolves a service path ("/token", "/userinfo", ...) against the
// observed issuer.
func (rc RequestContext) URLFor(path string) string {
	return rc.Issuer() + path
}

// AuthorizeURL is the observed authorization endpoint.
func (rc RequestContext) AuthorizeURL() string { return rc.URLFor("/authorize") }

// TokenURL is the observed token endpoint.
func (rc RequestContext) TokenURL() string { return rc.URLFor("/token") }

// UserinfoURL is the observed userinfo endpoint; it is the audience of every
// access token minted for this issuer.
func (rc RequestContext) UserinfoURL() string { return rc.URLFor("/userinfo") }

// RedirectBaseURL is the observed callback prefix; relying-party redirect
// URIs must live under it.
func (rc RequestContext) RedirectBaseURL() string { return rc.URLFor("/r") }

// firstForwarded takes the first element of a comma-separated forwarded
// header, the value set by the proxy closest to the client.
func firstForwarded(value string) string {
	if idx := strings.IndexByte(value, ','); idx >= 0 {
		value = value[:idx]
	}
	return strings.TrimSpace(value)
}
