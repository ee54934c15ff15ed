// SPDX-License-Identifier: MIT

// Package provider implements the OIDC provider surface: the authorization
// code flow with PKCE and refresh tokens, the userinfo, introspection, and
// revocation endpoints, and the discovery, JWKS, and WebFinger documents.
// Every URL in every response is derived from the scheme, host, and base path
// observed on the request; the service has no configured hostname.
package provider
