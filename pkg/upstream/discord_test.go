package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscordConvertScopes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		scopes   []string
		expected []string
	}{
		{
			name:     "openid only injects identify",
			scopes:   []string{"openid"},
			expected: []string{"identify"},
		},
		{
			name:     "all scopes",
			scopes:   []string{"openid", "profile", "email", "groups"},
			expected: []string{"identify", "email", "guilds"},
		},
		{
			name:     "email alone",
			scopes:   []string{"openid", "email"},
			expected: []string{"email"},
		},
	}

	provider := NewDiscord()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, provider.ConvertScopes(tt.scopes))
		})
	}
}

const discordUserBody = `{
	"id": "80351110224678912",
	"username": "nozomikasaki",
	"global_name": "Nozomi Kasaki",
	"discriminator": "0",
	"avatar": "8342729096ea3675442027381ff50dfe",
	"email": "nozomi@example.com",
	"verified": true,
	"locale": "en-US"
}`

func TestDiscordFetchIdentity(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/users/@me", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer disc_token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(discordUserBody))
	})
	mux.HandleFunc("/users/@me/guilds", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id": "197038439483310086"}, {"id": "197038439483310087"}]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	provider := NewDiscord(WithAPIBaseURL(srv.URL))
	identity, err := provider.FetchIdentity(context.Background(), "disc_token",
		[]string{"openid", "profile", "email", "groups"})
	require.NoError(t, err)

	assert.Equal(t, "80351110224678912", identity.ID)
	assert.Equal(t, "nozomikasaki", identity.Username)
	assert.Equal(t, "Nozomi Kasaki", identity.Name)
	assert.Equal(t, "https://cdn.discordapp.com/avatars/80351110224678912/8342729096ea3675442027381ff50dfe.png", identity.AvatarURL)
	assert.Equal(t, "https://discord.com/users/80351110224678912", identity.ProfileURL)
	assert.Equal(t, "en-US", identity.Locale)
	assert.Nil(t, identity.UpdatedAt)

	require.NotNil(t, identity.Email)
	assert.Equal(t, "nozomi@example.com", *identity.Email)
	assert.True(t, identity.EmailVerified)

	assert.Equal(t, []string{"197038439483310086", "197038439483310087"}, identity.Groups)
}

func TestDiscordFetchIdentityFallsBackToUsername(t *testing.T) {
	t.Parallel()

	userBody := `{"id": "4194304", "username": "wanderer", "global_name": "", "discriminator": "0", "avatar": "", "verified": false}`
	mux := http.NewServeMux()
	mux.HandleFunc("/users/@me", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(userBody))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	provider := NewDiscord(WithAPIBaseURL(srv.URL))
	identity, err := provider.FetchIdentity(context.Background(), "disc_token", []string{"openid", "profile"})
	require.NoError(t, err)

	assert.Equal(t, "wanderer", identity.Name)
	assert.Nil(t, identity.Email)
}

func TestDiscordAvatarURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		user     discordUser
		expected string
	}{
		{
			name:     "uploaded avatar",
			user:     discordUser{ID: "80351110224678912", Avatar: "8342729096ea3675442027381ff50dfe"},
			expected: "https://cdn.discordapp.com/avatars/80351110224678912/8342729096ea3675442027381ff50dfe.png",
		},
		{
			name:     "animated avatar",
			user:     discordUser{ID: "80351110224678912", Avatar: "a_e19e60fe933fe984b27b0a1671d60f02"},
			expected: "https://cdn.discordapp.com/avatars/80351110224678912/a_e19e60fe933fe984b27b0a1671d60f02.gif",
		},
		{
			name:     "default avatar from user ID",
			user:     discordUser{ID: "4194304", Discriminator: "0"},
			expected: "https://cdn.discordapp.com/embed/avatars/1.png",
		},
		{
			name:     "default avatar from legacy discriminator",
			user:     discordUser{ID: "80351110224678912", Discriminator: "1337"},
			expected: "https://cdn.discordapp.com/embed/avatars/2.png",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, discordAvatarURL(tt.user))
		})
	}
}

func TestDiscordFetchIdentityDropsGroupsOnGuildFailure(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/users/@me", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(discordUserBody))
	})
	mux.HandleFunc("/users/@me/guilds", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	provider := NewDiscord(WithAPIBaseURL(srv.URL))
	identity, err := provider.FetchIdentity(context.Background(), "disc_token", []string{"openid", "groups"})
	require.NoError(t, err)
	assert.Equal(t, "80351110224678912", identity.ID)
	assert.Nil(t, identity.Groups)
}

func TestDiscordRevoke(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/token/revoke", r.URL.Path)

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "disc_token", r.PostForm.Get("token"))
		assert.Equal(t, "access_token", r.PostForm.Get("token_type_hint"))
		assert.Equal(t, "client-id", r.PostForm.Get("client_id"))
		assert.Equal(t, "client-secret", r.PostForm.Get("client_secret"))

		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	provider := NewDiscord(WithEndpoints(srv.URL+"/authorize", srv.URL+"/token"))
	err := provider.Revoke(context.Background(),
		Credentials{ClientID: "client-id", ClientSecret: "client-secret"}, "disc_token")
	require.NoError(t, err)
}
