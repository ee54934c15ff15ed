// SPDX-License-Identifier: MIT

package provider

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/celsiusnarhwal/takagi/pkg/config"
	"github.com/celsiusnarhwal/takagi/pkg/keyset"
	"github.com/celsiusnarhwal/takagi/pkg/networking"
	"github.com/celsiusnarhwal/takagi/pkg/storage"
	"github.com/celsiusnarhwal/takagi/pkg/tokens"
	"github.com/celsiusnarhwal/takagi/pkg/upstream"
)

// requestTimeout bounds one request end to end, upstream calls included.
const requestTimeout = 30 * time.Second

// SupportedScopes are the OIDC scopes relying parties may request.
var SupportedScopes = []string{"openid", "profile", "email", "groups"}

// Handler provides the HTTP handlers for every endpoint the service exposes.
type Handler struct {
	settings *config.Settings
	keys     *keyset.Provider
	tokens   *tokens.Service
	store    storage.Storage
	upstream upstream.Provider
}

// NewHandler creates a Handler with the given dependencies.
func NewHandler(
	settings *config.Settings,
	keys *keyset.Provider,
	tokenService *tokens.Service,
	store storage.Storage,
	up upstream.Provider,
) *Handler {
	return &Handler{
		settings: settings,
		keys:     keys,
		tokens:   tokenService,
		store:    store,
		upstream: up,
	}
}

// Router assembles the service's routes and middleware. The caller mounts the
// result under the configured base path.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(h.requestLogger)
	r.Use(h.trustedHost)
	r.Use(h.secureTransport)

	r.Get("/", h.RootHandler)
	r.Get("/health", h.HealthHandler)

	r.Get("/authorize", h.AuthorizeHandler)
	r.Get("/r", h.redirectRootHandler)
	r.Get("/r/*", h.CallbackHandler)
	r.Post("/token", h.TokenHandler)
	r.Get("/userinfo", h.UserinfoHandler)
	r.Post("/userinfo", h.UserinfoHandler)
	r.Post("/introspect", h.IntrospectHandler)
	r.Post("/revoke", h.RevokeHandler)

	r.Get("/.well-known/openid-configuration", h.DiscoveryHandler)
	r.Get("/.well-known/jwks.json", h.JWKSHandler)
	r.Get("/.well-known/webfinger", h.WebFingerHandler)

	r.Get("/docs", h.DocsHandler)
	r.Get("/openapi.json", h.OpenAPIHandler)

	return r
}

// context derives the per-request context from the configured base path.
func (h *Handler) context(req *http.Request) RequestContext {
	return NewRequestContext(req, h.settings.BasePath)
}

// fixRedirectURI rewrites a redirect URI that is not already under the /r/
// callback prefix into its /r/-prefixed form. URIs already under the prefix
// pass through unchanged.
func fixRedirectURI(rc RequestContext, redirectURI string) string {
	if redirectURI == "" {
		return redirectURI
	}
	base := rc.RedirectBaseURL() + "/"
	if strings.HasPrefix(redirectURI, base) {
		return redirectURI
	}
	return base + redirectURI
}

// destinationFromRedirectURI recovers the relying party's real destination
// from a stored /r/-prefixed redirect URI. The stored value is authoritative;
// the callback URL itself is never trusted for this.
func destinationFromRedirectURI(redirectURI string) string {
	if idx := strings.Index(redirectURI, "/r/"); idx >= 0 {
		return redirectURI[idx+len("/r/"):]
	}
	return redirectURI
}

// isSecureURL reports whether a URL is HTTPS, or loopback when plain HTTP on
// loopback is configured as secure.
func (h *Handler) isSecureURL(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if parsed.Scheme == networking.HttpsScheme {
		return true
	}
	return h.settings.TreatLoopbackAsSecure && networking.IsLocalhost(parsed.Host)
}

// redirectRootHandler answers GET /r, which only exists as the prefix under
// which real callbacks live.
func (*Handler) redirectRootHandler(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, "not found", http.StatusNotFound)
}
