// SPDX-License-Identifier: MIT

package tokens

import (
	"slices"

	"github.com/celsiusnarhwal/takagi/pkg/upstream"
)

// ProjectClaims maps an identity snapshot onto OIDC claims, gated by the
// granted scopes. A claim appears only when its gating scope was granted and
// the underlying value is present; absent values are omitted entirely, never
// emitted as null. The same projection feeds ID tokens and the userinfo
// endpoint.
func ProjectClaims(identity *upstream.Identity, scopes []string) map[string]any {
	claims := map[string]any{
		"sub": identity.ID,
	}

	if slices.Contains(scopes, "profile") {
		claims["preferred_username"] = identity.Username
		if identity.Name != "" {
			claims["name"] = identity.Name
			claims["nickname"] = identity.Name
		}
		if identity.Locale != "" {
			claims["locale"] = identity.Locale
		}
		if identity.AvatarURL != "" {
			claims["picture"] = identity.AvatarURL
		}
		if identity.ProfileURL != "" {
			claims["profile"] = identity.ProfileURL
		}
		if identity.UpdatedAt != nil {
			claims["updated_at"] = *identity.UpdatedAt
		}
	}

	if slices.Contains(scopes, "email") && identity.Email != nil {
		claims["email"] = *identity.Email
		claims["email_verified"] = identity.EmailVerified
	}

	if slices.Contains(scopes, "groups") && len(identity.Groups) > 0 {
		claims["groups"] = identity.Groups
	}

	return claims
}
