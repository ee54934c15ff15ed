// SPDX-License-Identifier: MIT

package provider

import (
	"net/http"
)

// OpenAPIHandler handles GET /openapi.json, gated by ENABLE_DOCS. The
// document is assembled by hand against the observed server URL; the surface
// is small enough that a generator would cost more than it saves.
func (h *Handler) OpenAPIHandler(w http.ResponseWriter, req *http.Request) {
	if !h.settings.EnableDocs {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	rc := h.context(req)
	writeCachedJSON(w, h.openAPIDocument(rc))
}

func (h *Handler) openAPIDocument(rc RequestContext) map[string]any {
	service := h.settings.Service

	jsonResponse := func(description string) map[string]any {
		return map[string]any{
			"description": description,
			"content":     map[string]any{"application/json": map[string]any{}},
		}
	}
	errorResponse := jsonResponse("OAuth2 error")

	queryParam := func(name, description string, required bool) map[string]any {
		return map[string]any{
			"name": name, "in": "query", "required": required,
			"description": description,
			"schema":      map[string]any{"type": "string"},
		}
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title": service.Name,
			"description": service.Name + " lets you use " + h.upstream.Name() +
				" as an OpenID Connect provider. " + service.RepoURL,
			"version": "2.0.0",
			"license": map[string]any{
				"name": "MIT License",
				"url":  service.RepoURL + "/blob/main/LICENSE.md",
			},
		},
		"servers": []map[string]any{{"url": rc.Issuer()}},
		"paths": map[string]any{
			"/authorize": map[string]any{
				"get": map[string]any{
					"summary": "Authorization",
					"parameters": []map[string]any{
						queryParam("client_id", "The relying party's upstream application client ID.", true),
						queryParam("response_type", "Must be `code`.", true),
						queryParam("redirect_uri", "Must be a subpath of the `/r/` callback endpoint.", true),
						queryParam("scope", "Supported scopes are `openid`, `profile`, `email`, and `groups`. Only `openid` is required.", true),
						queryParam("state", "Opaque value replayed on the redirect back.", false),
						queryParam("nonce", "Echoed into the ID token.", false),
						queryParam("code_challenge", "PKCE code challenge.", false),
						queryParam("code_challenge_method", "`S256` or `plain`.", false),
					},
					"responses": map[string]any{
						"302": map[string]any{"description": "Redirect to the upstream provider"},
						"400": errorResponse,
					},
				},
			},
			"/r/{redirect_uri}": map[string]any{
				"get": map[string]any{
					"summary": "Callback",
					"parameters": []map[string]any{
						{"name": "redirect_uri", "in": "path", "required": true,
							"schema": map[string]any{"type": "string"}},
					},
					"responses": map[string]any{
						"302": map[string]any{"description": "Redirect to the relying party"},
						"400": errorResponse,
					},
				},
			},
			"/token": map[string]any{
				"post": map[string]any{
					"summary": "Token",
					"responses": map[string]any{
						"200": jsonResponse("Token response"),
						"400": errorResponse,
					},
				},
			},
			"/userinfo": map[string]any{
				"get": map[string]any{
					"summary": "User Info",
					"responses": map[string]any{
						"200": jsonResponse("Claims for the authorized user"),
						"401": errorResponse,
					},
				},
				"post": map[string]any{
					"summary": "User Info",
					"responses": map[string]any{
						"200": jsonResponse("Claims for the authorized user"),
						"401": errorResponse,
					},
				},
			},
			"/introspect": map[string]any{
				"post": map[string]any{
					"summary": "Introspection",
					"responses": map[string]any{
						"200": jsonResponse("Introspection response"),
					},
				},
			},
			"/revoke": map[string]any{
				"post": map[string]any{
					"summary": "Revocation",
					"responses": map[string]any{
						"200": map[string]any{"description": "Revoked"},
					},
				},
			},
			"/health": map[string]any{
				"get": map[string]any{
					"summary": "Healthcheck",
					"responses": map[string]any{
						"200": map[string]any{"description": "Empty response"},
					},
				},
			},
			"/.well-known/openid-configuration": map[string]any{
				"get": map[string]any{
					"summary": "Discovery",
					"responses": map[string]any{
						"200": jsonResponse("OIDC discovery document"),
					},
				},
			},
			"/.well-known/jwks.json": map[string]any{
				"get": map[string]any{
					"summary": "JWKS",
					"responses": map[string]any{
						"200": jsonResponse("Public JSON Web Key Set"),
					},
				},
			},
			"/.well-known/webfinger": map[string]any{
				"get": map[string]any{
					"summary": "WebFinger",
					"parameters": []map[string]any{
						queryParam("resource", "An email address prepended with `acct:`.", true),
						queryParam("rel", "Link relation; `links` is empty for anything but the OIDC issuer relation.", false),
					},
					"responses": map[string]any{
						"200": jsonResponse("WebFinger response"),
						"404": errorResponse,
					},
				},
			},
		},
	}
}
