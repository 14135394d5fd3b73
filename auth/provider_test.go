package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func userPassPayload(user, pass string) []byte {
	buf := append([]byte(user), 0)
	buf = append(buf, []byte(pass)...)
	buf = append(buf, 0)
	return buf
}

func TestDecodeUserPassSplitsOnNulBytes(t *testing.T) {
	user, pass, err := DecodeUserPass(userPassPayload("alice", "hunter2"))
	require.NoError(t, err)
	require.Equal(t, "alice", user)
	require.Equal(t, "hunter2", pass)
}

func TestDecodeUserPassRejectsMalformedPayload(t *testing.T) {
	_, _, err := DecodeUserPass([]byte("no-nul-bytes-here"))
	require.Error(t, err)
}

func TestStaticProviderAcceptsMatchingCredentials(t *testing.T) {
	p := NewStaticProvider(map[string]string{"alice": "hunter2"})
	result, err := p.Authenticate(context.Background(), userPassPayload("alice", "hunter2"))
	require.NoError(t, err)
	require.Equal(t, "alice", result.Username)
	require.Equal(t, "static", result.Method)
}

func TestStaticProviderRejectsWrongPassword(t *testing.T) {
	p := NewStaticProvider(map[string]string{"alice": "hunter2"})
	_, err := p.Authenticate(context.Background(), userPassPayload("alice", "wrong"))
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestStaticProviderRejectsUnknownUser(t *testing.T) {
	p := NewStaticProvider(map[string]string{"alice": "hunter2"})
	_, err := p.Authenticate(context.Background(), userPassPayload("bob", "hunter2"))
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestStaticProviderSetAndRemoveUser(t *testing.T) {
	p := NewStaticProvider(nil)
	p.SetPassword("carol", "s3cret")

	result, err := p.Authenticate(context.Background(), userPassPayload("carol", "s3cret"))
	require.NoError(t, err)
	require.Equal(t, "carol", result.Username)

	p.RemoveUser("carol")
	_, err = p.Authenticate(context.Background(), userPassPayload("carol", "s3cret"))
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestStaticProviderTableIsCopiedOnConstruction(t *testing.T) {
	input := map[string]string{"alice": "hunter2"}
	p := NewStaticProvider(input)
	input["alice"] = "mutated"

	result, err := p.Authenticate(context.Background(), userPassPayload("alice", "hunter2"))
	require.NoError(t, err)
	require.Equal(t, "alice", result.Username)
}

func TestOIDCCallbackProviderAcceptsValidToken(t *testing.T) {
	secret := []byte("test-signing-secret")
	claims := jwt.MapClaims{
		"sub": "alice@example.com",
		"iss": "https://idp.example.com/",
		"aud": "corevpn",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	require.NoError(t, err)

	p := &OIDCCallbackProvider{
		KeyFunc:      func(*jwt.Token) (interface{}, error) { return secret, nil },
		Issuer:       "https://idp.example.com/",
		Audience:     "corevpn",
		ValidMethods: []string{"HS256"},
	}

	result, err := p.Authenticate(context.Background(), userPassPayload("ignored", signed))
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", result.Username)
	require.Equal(t, "oidc", result.Method)
}

func TestOIDCCallbackProviderRejectsExpiredToken(t *testing.T) {
	secret := []byte("test-signing-secret")
	claims := jwt.MapClaims{
		"sub": "alice@example.com",
		"iss": "https://idp.example.com/",
		"aud": "corevpn",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	require.NoError(t, err)

	p := &OIDCCallbackProvider{
		KeyFunc:      func(*jwt.Token) (interface{}, error) { return secret, nil },
		Issuer:       "https://idp.example.com/",
		Audience:     "corevpn",
		ValidMethods: []string{"HS256"},
	}

	_, err = p.Authenticate(context.Background(), userPassPayload("ignored", signed))
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestOIDCCallbackProviderRejectsWrongAudience(t *testing.T) {
	secret := []byte("test-signing-secret")
	claims := jwt.MapClaims{
		"sub": "alice@example.com",
		"iss": "https://idp.example.com/",
		"aud": "someone-else",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	require.NoError(t, err)

	p := &OIDCCallbackProvider{
		KeyFunc:      func(*jwt.Token) (interface{}, error) { return secret, nil },
		Issuer:       "https://idp.example.com/",
		Audience:     "corevpn",
		ValidMethods: []string{"HS256"},
	}

	_, err = p.Authenticate(context.Background(), userPassPayload("ignored", signed))
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestOIDCCallbackProviderUsesCustomUsernameClaim(t *testing.T) {
	secret := []byte("test-signing-secret")
	claims := jwt.MapClaims{
		"email": "alice@example.com",
		"iss":   "https://idp.example.com/",
		"aud":   "corevpn",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	require.NoError(t, err)

	p := &OIDCCallbackProvider{
		KeyFunc:       func(*jwt.Token) (interface{}, error) { return secret, nil },
		Issuer:        "https://idp.example.com/",
		Audience:      "corevpn",
		UsernameClaim: "email",
		ValidMethods:  []string{"HS256"},
	}

	result, err := p.Authenticate(context.Background(), userPassPayload("ignored", signed))
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", result.Username)
}
