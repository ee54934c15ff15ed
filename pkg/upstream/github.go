// SPDX-License-Identifier: MIT

package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"golang.org/x/oauth2/endpoints"
	"golang.org/x/sync/errgroup"

	"github.com/celsiusnarhwal/takagi/pkg/logger"
	"github.com/celsiusnarhwal/takagi/pkg/networking"
)

const githubAPIBaseURL = "https://api.github.com"

// githubScopeTable maps OIDC scopes onto GitHub OAuth scopes. GitHub ignores
// scopes it does not recognize, and the base profile is readable without any.
var githubScopeTable = []scopeMapping{
	{oidc: "profile", upstream: "profile"},
	{oidc: "email", upstream: "user:email"},
	{oidc: "groups", upstream: "read:org"},
}

// GitHub adapts GitHub.com's OAuth2 API. GitHub Enterprise Server is not
// supported.
type GitHub struct {
	baseProvider
}

var _ Provider = (*GitHub)(nil)

// NewGitHub returns a GitHub provider wired to GitHub.com.
func NewGitHub(opts ...Option) *GitHub {
	p := &GitHub{
		baseProvider: newBaseProvider(endpoints.GitHub.AuthURL, endpoints.GitHub.TokenURL, githubAPIBaseURL),
	}
	for _, opt := range opts {
		opt(&p.baseProvider)
	}
	return p
}

// Name returns the provider name.
func (*GitHub) Name() string {
	return "github"
}

// ConvertScopes maps OIDC scopes onto GitHub OAuth scopes.
func (*GitHub) ConvertScopes(scopes []string) []string {
	return convertScopes(githubScopeTable, scopes)
}

// AuthorizationURL builds the URL on github.com the end user is sent to.
func (g *GitHub) AuthorizationURL(req AuthorizationRequest) string {
	return g.authorizationURL(req, g.ConvertScopes(req.Scopes))
}

// Exchange redeems an upstream authorization code.
func (g *GitHub) Exchange(ctx context.Context, creds Credentials, code, verifier, redirectURI string) (*Token, error) {
	return g.exchange(ctx, creds, code, verifier, redirectURI)
}

// Refresh redeems an upstream refresh token. Only GitHub Apps with token
// expiration enabled issue refresh tokens.
func (g *GitHub) Refresh(ctx context.Context, creds Credentials, refreshToken string) (*Token, error) {
	return g.refresh(ctx, creds, refreshToken)
}

type githubUser struct {
	ID        int64   `json:"id"`
	Login     string  `json:"login"`
	Name      string  `json:"name"`
	AvatarURL string  `json:"avatar_url"`
	HTMLURL   string  `json:"html_url"`
	Email     *string `json:"email"`
	UpdatedAt string  `json:"updated_at"`
}

type githubOrg struct {
	ID int64 `json:"id"`
}

// FetchIdentity reads /user, and /user/orgs when the groups scope was
// granted. The two calls run concurrently; a failed organization lookup
// drops the groups claim instead of failing the whole fetch.
func (g *GitHub) FetchIdentity(ctx context.Context, accessToken string, scopes []string) (*Identity, error) {
	wantGroups := slices.Contains(scopes, "groups")

	var (
		user githubUser
		orgs []githubOrg
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		fetched, err := apiGET[githubUser](egCtx, &g.baseProvider, "/user", accessToken)
		if err != nil {
			return fmt.Errorf("failed to fetch GitHub user: %w", err)
		}
		user = fetched
		return nil
	})
	if wantGroups {
		eg.Go(func() error {
			fetched, err := apiGET[[]githubOrg](egCtx, &g.baseProvider, "/user/orgs", accessToken)
			if err != nil {
				logger.Warnf("GitHub organization lookup failed, dropping groups claim: %v", err)
				return nil
			}
			orgs = fetched
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	identity := &Identity{
		ID:         strconv.FormatInt(user.ID, 10),
		Username:   user.Login,
		Name:       user.Name,
		AvatarURL:  user.AvatarURL,
		ProfileURL: user.HTMLURL,
	}

	if parsed, err := time.Parse(time.RFC3339, user.UpdatedAt); err == nil {
		epoch := parsed.Unix()
		identity.UpdatedAt = &epoch
	}

	// GitHub only exposes verified addresses through /user.
	if user.Email != nil && *user.Email != "" {
		email := *user.Email
		identity.Email = &email
		identity.EmailVerified = true
	}

	if wantGroups && len(orgs) > 0 {
		groups := make([]string, 0, len(orgs))
		for _, org := range orgs {
			groups = append(groups, strconv.FormatInt(org.ID, 10))
		}
		identity.Groups = groups
	}

	return identity, nil
}

// Revoke invalidates an access token through GitHub's application token API.
func (g *GitHub) Revoke(ctx context.Context, creds Credentials, accessToken string) error {
	endpoint := fmt.Sprintf("%s/applications/%s/token", g.apiBaseURL, url.PathEscape(creds.ClientID))

	body, err := json.Marshal(map[string]string{"access_token": accessToken})
	if err != nil {
		return fmt.Errorf("failed to marshal revocation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create revocation request: %w", err)
	}
	req.Header.Set("Content-Type", networking.ContentTypeJSON)
	req.Header.Set("Accept", networking.ContentTypeJSON)
	req.SetBasicAuth(creds.ClientID, creds.ClientSecret)

	return g.doRevoke(ctx, req)
}
