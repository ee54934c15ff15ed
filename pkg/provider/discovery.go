// SPDX-License-Identifier: MIT

package provider

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/celsiusnarhwal/takagi/pkg/logger"
	"github.com/celsiusnarhwal/takagi/pkg/provider/crypto"
)

// Cache-Control max-age for the discovery and JWKS documents (1 hour); long
// enough to be useful, short enough that a keyset rotation propagates.
const discoveryCacheMaxAge = 3600

// discoveryDocument is the OIDC Discovery 1.0 metadata this service serves.
type discoveryDocument struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	UserinfoEndpoint                  string   `json:"userinfo_endpoint"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	ClaimsSupported                   []string `json:"claims_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	ScopesSupported                   []string `json:"scopes_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	ServiceDocumentation              string   `json:"service_documentation"`
}

// discoveryInfo builds the discovery document against the observed request
// context. No URL in it comes from configuration.
func (h *Handler) discoveryInfo(rc RequestContext) discoveryDocument {
	return discoveryDocument{
		Issuer:                rc.Issuer(),
		AuthorizationEndpoint: rc.AuthorizeURL(),
		TokenEndpoint:         rc.TokenURL(),
		RevocationEndpoint:    rc.URLFor("/revoke"),
		UserinfoEndpoint:      rc.UserinfoURL(),
		IntrospectionEndpoint: rc.URLFor("/introspect"),
		JWKSURI:               rc.URLFor("/.well-known/jwks.json"),
		ClaimsSupported: []string{
			"sub", "preferred_username", "name", "nickname", "locale", "picture",
			"profile", "updated_at", "email", "email_verified", "groups",
		},
		GrantTypesSupported:              []string{"authorization_code", "refresh_token"},
		IDTokenSigningAlgValuesSupported: []string{"RS256"},
		TokenEndpointAuthMethodsSupported: []string{
			"client_secret_basic", "client_secret_post",
		},
		ResponseTypesSupported: []string{"code"},
		SubjectTypesSupported:  []string{"public"},
		ScopesSupported:        SupportedScopes,
		CodeChallengeMethodsSupported: []string{
			crypto.PKCEChallengeMethodS256, crypto.PKCEChallengeMethodPlain,
		},
		ServiceDocumentation: h.settings.Service.RepoURL,
	}
}

// DiscoveryHandler handles GET /.well-known/openid-configuration.
func (h *Handler) DiscoveryHandler(w http.ResponseWriter, req *http.Request) {
	writeCachedJSON(w, h.discoveryInfo(h.context(req)))
}

// JWKSHandler handles GET /.well-known/jwks.json. It serves the public
// parameters of the signing key and nothing else: never the encryption key,
// never private material.
func (h *Handler) JWKSHandler(w http.ResponseWriter, _ *http.Request) {
	writeCachedJSON(w, h.keys.Current().PublicJWKS())
}

func writeCachedJSON(w http.ResponseWriter, document any) {
	data, err := json.Marshal(document)
	if err != nil {
		logger.Errorw("failed to encode well-known document", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", discoveryCacheMaxAge))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	_, _ = w.Write(data)
}
