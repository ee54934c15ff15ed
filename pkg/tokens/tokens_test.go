package tokens

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celsiusnarhwal/takagi/pkg/keyset"
	"github.com/celsiusnarhwal/takagi/pkg/upstream"
)

func newTestService(t *testing.T, lifetime time.Duration) (*Service, *keyset.Provider) {
	t.Helper()

	provider, err := keyset.Load(keyset.LoadOptions{DataDir: t.TempDir()})
	require.NoError(t, err)
	return NewService(provider, lifetime), provider
}

func testIdentity() *upstream.Identity {
	email := "koumae@example.com"
	updated := int64(1705314600)
	return &upstream.Identity{
		ID:            "6043588",
		Username:      "koumae",
		Name:          "Kumiko Oumae",
		AvatarURL:     "https://avatars.githubusercontent.com/u/6043588",
		ProfileURL:    "https://github.com/koumae",
		UpdatedAt:     &updated,
		Email:         &email,
		EmailVerified: true,
		Groups:        []string{"9919", "9920"},
	}
}

func testMintRequest() MintRequest {
	return MintRequest{
		Identity:    testIdentity(),
		ClientID:    "Iv1.8a61f9b3a7aba766",
		Scopes:      []string{"openid", "profile", "email", "groups"},
		Nonce:       "rp-nonce",
		Issuer:      "https://takagi.example.com",
		UserinfoURL: "https://takagi.example.com/userinfo",
		TokenURL:    "https://takagi.example.com/token",
		Upstream: &upstream.Token{
			AccessToken:  "gho_abc123",
			TokenType:    "bearer",
			RefreshToken: "ghr_refresh",
		},
	}
}

func decodeJWT(t *testing.T, provider *keyset.Provider, raw string) map[string]any {
	t.Helper()

	payload, err := provider.Current().Verify(raw)
	require.NoError(t, err)

	var claims map[string]any
	require.NoError(t, json.Unmarshal(payload, &claims))
	return claims
}

func TestMintIDTokenClaims(t *testing.T) {
	t.Parallel()

	svc, provider := newTestService(t, 0)
	set, err := svc.Mint(testMintRequest())
	require.NoError(t, err)

	claims := decodeJWT(t, provider, set.IDToken)
	assert.Equal(t, "https://takagi.example.com", claims["iss"])
	assert.Equal(t, "Iv1.8a61f9b3a7aba766", claims["aud"])
	assert.Equal(t, "6043588", claims["sub"])
	assert.Equal(t, "rp-nonce", claims["nonce"])
	assert.Equal(t, "koumae", claims["preferred_username"])
	assert.Equal(t, "Kumiko Oumae", claims["name"])
	assert.Equal(t, "Kumiko Oumae", claims["nickname"])
	assert.Equal(t, "https://avatars.githubusercontent.com/u/6043588", claims["picture"])
	assert.Equal(t, "https://github.com/koumae", claims["profile"])
	assert.EqualValues(t, 1705314600, claims["updated_at"])
	assert.Equal(t, "koumae@example.com", claims["email"])
	assert.Equal(t, true, claims["email_verified"])
	assert.Equal(t, []any{"9919", "9920"}, claims["groups"])

	// Without a configured lifetime the expiry pins to the sentinel.
	assert.EqualValues(t, MaxExpiry, claims["exp"])
	assert.EqualValues(t, MaxExpiry, set.ExpiresAt)
}

func TestMintOmitsNonceWhenAbsent(t *testing.T) {
	t.Parallel()

	svc, provider := newTestService(t, 0)
	req := testMintRequest()
	req.Nonce = ""

	set, err := svc.Mint(req)
	require.NoError(t, err)

	claims := decodeJWT(t, provider, set.IDToken)
	assert.NotContains(t, claims, "nonce")
}

func TestMintHonorsConfiguredLifetime(t *testing.T) {
	t.Parallel()

	svc, provider := newTestService(t, time.Hour)
	req := testMintRequest()
	req.Now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	set, err := svc.Mint(req)
	require.NoError(t, err)

	wantExp := req.Now.Add(time.Hour).Unix()
	assert.Equal(t, wantExp, set.ExpiresAt)

	accessClaims := decodeJWT(t, provider, set.AccessToken)
	assert.EqualValues(t, wantExp, accessClaims["exp"])
	assert.EqualValues(t, req.Now.Unix(), accessClaims["iat"])

	refreshClaims := decodeJWT(t, provider, set.RefreshToken)
	assert.EqualValues(t, req.Now.Add(DefaultRefreshTokenLifetime).Unix(), refreshClaims["exp"])
}

func TestMintAccessTokenShape(t *testing.T) {
	t.Parallel()

	svc, provider := newTestService(t, 0)
	set, err := svc.Mint(testMintRequest())
	require.NoError(t, err)

	claims := decodeJWT(t, provider, set.AccessToken)
	assert.Equal(t, "https://takagi.example.com", claims["iss"])
	assert.Equal(t, "https://takagi.example.com/userinfo", claims["aud"])
	assert.Equal(t, "6043588", claims["sub"])
	require.Contains(t, claims, "token")

	// The sealed claim is a five-part compact JWE, not plaintext.
	sealed, ok := claims["token"].(string)
	require.True(t, ok)
	assert.NotContains(t, sealed, "gho_abc123")

	plaintext, err := provider.Current().Decrypt(sealed)
	require.NoError(t, err)

	var info AccessInfo
	require.NoError(t, json.Unmarshal(plaintext, &info))
	assert.Equal(t, "gho_abc123", info.Token.AccessToken)
	assert.Equal(t, "Iv1.8a61f9b3a7aba766", info.ClientID)
	assert.Equal(t, []string{"openid", "profile", "email", "groups"}, info.Scopes)
	assert.Equal(t, "koumae", info.Username)
}

func TestVerifyAccessTokenRoundTrip(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, 0)
	req := testMintRequest()
	set, err := svc.Mint(req)
	require.NoError(t, err)

	verified, err := svc.VerifyAccessToken(set.AccessToken, req.Issuer, req.UserinfoURL)
	require.NoError(t, err)

	assert.Equal(t, "6043588", verified.Subject)
	assert.Equal(t, req.Issuer, verified.Issuer)
	assert.Equal(t, req.UserinfoURL, verified.Audience)
	assert.Equal(t, int64(MaxExpiry), verified.ExpiresAt)
	assert.Equal(t, "gho_abc123", verified.Info.Token.AccessToken)
	assert.Equal(t, "ghr_refresh", verified.Info.Token.RefreshToken)
	assert.Equal(t, req.Scopes, verified.Info.Scopes)
}

func TestVerifyAccessTokenRejections(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, 0)
	req := testMintRequest()
	set, err := svc.Mint(req)
	require.NoError(t, err)

	tests := []struct {
		name        string
		raw         string
		issuer      string
		userinfoURL string
		wantErr     error
	}{
		{
			name:        "issuer mismatch",
			raw:         set.AccessToken,
			issuer:      "https://evil.example.com",
			userinfoURL: req.UserinfoURL,
			wantErr:     ErrTokenInvalid,
		},
		{
			name:        "audience mismatch",
			raw:         set.AccessToken,
			issuer:      req.Issuer,
			userinfoURL: "https://other.example.com/userinfo",
			wantErr:     ErrTokenInvalid,
		},
		{
			name:        "ID token presented as bearer",
			raw:         set.IDToken,
			issuer:      req.Issuer,
			userinfoURL: req.UserinfoURL,
			wantErr:     ErrNotAccessToken,
		},
		{
			name:        "garbage",
			raw:         "not-a-jwt",
			issuer:      req.Issuer,
			userinfoURL: req.UserinfoURL,
			wantErr:     ErrTokenInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := svc.VerifyAccessToken(tt.raw, tt.issuer, tt.userinfoURL)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestVerifyAccessTokenExpired(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, time.Minute)
	req := testMintRequest()
	req.Now = time.Now().Add(-time.Hour)

	set, err := svc.Mint(req)
	require.NoError(t, err)

	_, err = svc.VerifyAccessToken(set.AccessToken, req.Issuer, req.UserinfoURL)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyRefreshTokenRoundTrip(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, 0)
	req := testMintRequest()
	set, err := svc.Mint(req)
	require.NoError(t, err)

	verified, err := svc.VerifyRefreshToken(set.RefreshToken, req.Issuer, req.TokenURL)
	require.NoError(t, err)

	assert.NotEmpty(t, verified.ID)
	assert.Equal(t, "6043588", verified.Subject)
	assert.Equal(t, "ghr_refresh", verified.Info.Token.RefreshToken)
	assert.Equal(t, "rp-nonce", verified.Info.Nonce)
	assert.Equal(t, "Iv1.8a61f9b3a7aba766", verified.Info.ClientID)

	// Each mint gets a fresh token ID.
	second, err := svc.Mint(req)
	require.NoError(t, err)
	verifiedSecond, err := svc.VerifyRefreshToken(second.RefreshToken, req.Issuer, req.TokenURL)
	require.NoError(t, err)
	assert.NotEqual(t, verified.ID, verifiedSecond.ID)
}

func TestVerifyRefreshTokenRejectsAccessToken(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, 0)
	req := testMintRequest()
	set, err := svc.Mint(req)
	require.NoError(t, err)

	_, err = svc.VerifyRefreshToken(set.AccessToken, req.Issuer, req.TokenURL)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestRotationInvalidatesIssuedTokens(t *testing.T) {
	t.Parallel()

	svc, provider := newTestService(t, 0)
	req := testMintRequest()
	set, err := svc.Mint(req)
	require.NoError(t, err)

	_, err = provider.Rotate()
	require.NoError(t, err)

	_, err = svc.VerifyAccessToken(set.AccessToken, req.Issuer, req.UserinfoURL)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = svc.VerifyRefreshToken(set.RefreshToken, req.Issuer, req.TokenURL)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}
