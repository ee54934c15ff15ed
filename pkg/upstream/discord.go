// SPDX-License-Identifier: MIT

package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/oauth2/endpoints"
	"golang.org/x/sync/errgroup"

	"github.com/celsiusnarhwal/takagi/pkg/logger"
	"github.com/celsiusnarhwal/takagi/pkg/networking"
)

const (
	discordAPIBaseURL = "https://discord.com/api/v10"
	discordCDNBaseURL = "https://cdn.discordapp.com"
)

// discordScopeTable maps OIDC scopes onto Discord OAuth2 scopes.
var discordScopeTable = []scopeMapping{
	{oidc: "profile", upstream: "identify"},
	{oidc: "email", upstream: "email"},
	{oidc: "groups", upstream: "guilds"},
}

// Discord adapts Discord's OAuth2 API.
type Discord struct {
	baseProvider
}

var _ Provider = (*Discord)(nil)

// NewDiscord returns a Discord provider wired to discord.com.
func NewDiscord(opts ...Option) *Discord {
	p := &Discord{
		baseProvider: newBaseProvider(endpoints.Discord.AuthURL, endpoints.Discord.TokenURL, discordAPIBaseURL),
	}
	for _, opt := range opts {
		opt(&p.baseProvider)
	}
	return p
}

// Name returns the provider name.
func (*Discord) Name() string {
	return "discord"
}

// ConvertScopes maps OIDC scopes onto Discord scopes. Discord rejects
// authorization requests with no scopes at all, so identify is injected when
// the relying party asked only for openid.
func (*Discord) ConvertScopes(scopes []string) []string {
	converted := convertScopes(discordScopeTable, scopes)
	if len(converted) == 0 {
		return []string{"identify"}
	}
	return converted
}

// AuthorizationURL builds the URL on discord.com the end user is sent to.
func (d *Discord) AuthorizationURL(req AuthorizationRequest) string {
	return d.authorizationURL(req, d.ConvertScopes(req.Scopes))
}

// Exchange redeems an upstream authorization code.
func (d *Discord) Exchange(ctx context.Context, creds Credentials, code, verifier, redirectURI string) (*Token, error) {
	return d.exchange(ctx, creds, code, verifier, redirectURI)
}

// Refresh redeems an upstream refresh token.
func (d *Discord) Refresh(ctx context.Context, creds Credentials, refreshToken string) (*Token, error) {
	return d.refresh(ctx, creds, refreshToken)
}

type discordUser struct {
	ID            string  `json:"id"`
	Username      string  `json:"username"`
	GlobalName    string  `json:"global_name"`
	Discriminator string  `json:"discriminator"`
	Avatar        string  `json:"avatar"`
	Email         *string `json:"email"`
	Verified      bool    `json:"verified"`
	Locale        string  `json:"locale"`
}

type discordGuild struct {
	ID string `json:"id"`
}

// FetchIdentity reads /users/@me, and /users/@me/guilds when the groups
// scope was granted. A failed guild lookup drops the groups claim instead of
// failing the whole fetch. Discord does not track profile update times, so
// UpdatedAt stays nil.
func (d *Discord) FetchIdentity(ctx context.Context, accessToken string, scopes []string) (*Identity, error) {
	wantGroups := slices.Contains(scopes, "groups")

	var (
		user   discordUser
		guilds []discordGuild
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		fetched, err := apiGET[discordUser](egCtx, &d.baseProvider, "/users/@me", accessToken)
		if err != nil {
			return fmt.Errorf("failed to fetch Discord user: %w", err)
		}
		user = fetched
		return nil
	})
	if wantGroups {
		eg.Go(func() error {
			fetched, err := apiGET[[]discordGuild](egCtx, &d.baseProvider, "/users/@me/guilds", accessToken)
			if err != nil {
				logger.Warnf("Discord guild lookup failed, dropping groups claim: %v", err)
				return nil
			}
			guilds = fetched
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	name := user.GlobalName
	if name == "" {
		name = user.Username
	}

	identity := &Identity{
		ID:         user.ID,
		Username:   user.Username,
		Name:       name,
		AvatarURL:  discordAvatarURL(user),
		ProfileURL: "https://discord.com/users/" + user.ID,
		Locale:     user.Locale,
	}

	if user.Email != nil && *user.Email != "" {
		email := *user.Email
		identity.Email = &email
		identity.EmailVerified = user.Verified
	}

	if wantGroups && len(guilds) > 0 {
		groups := make([]string, 0, len(guilds))
		for _, guild := range guilds {
			groups = append(groups, guild.ID)
		}
		identity.Groups = groups
	}

	return identity, nil
}

// discordAvatarURL resolves the CDN URL for a user's avatar, falling back to
// the deterministic default avatar Discord assigns accounts without one.
func discordAvatarURL(user discordUser) string {
	if user.Avatar != "" {
		ext := "png"
		if strings.HasPrefix(user.Avatar, "a_") {
			ext = "gif"
		}
		return fmt.Sprintf("%s/avatars/%s/%s.%s", discordCDNBaseURL, user.ID, user.Avatar, ext)
	}

	var index uint64
	if user.Discriminator != "" && user.Discriminator != "0" {
		if legacy, err := strconv.ParseUint(user.Discriminator, 10, 64); err == nil {
			index = legacy % 5
		}
	} else if id, err := strconv.ParseUint(user.ID, 10, 64); err == nil {
		index = (id >> 22) % 6
	}
	return fmt.Sprintf("%s/embed/avatars/%d.png", discordCDNBaseURL, index)
}

// Revoke invalidates an access token through Discord's RFC 7009 endpoint.
func (d *Discord) Revoke(ctx context.Context, creds Credentials, accessToken string) error {
	form := url.Values{
		"token":           {accessToken},
		"token_type_hint": {"access_token"},
		"client_id":       {creds.ClientID},
		"client_secret":   {creds.ClientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.tokenEndpoint+"/revoke", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create revocation request: %w", err)
	}
	req.Header.Set("Content-Type", networking.ContentTypeFormURLEncoded)

	return d.doRevoke(ctx, req)
}
