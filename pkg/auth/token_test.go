package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{Subject: "adele@contoso.com"}
	if !exp.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestExpiresAt(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	got, err := ExpiresAt(signedToken(t, exp))
	require.NoError(t, err)
	assert.True(t, exp.Equal(got))

	_, err = ExpiresAt(signedToken(t, time.Time{}))
	assert.ErrorIs(t, err, ErrNoExpiry)

	_, err = ExpiresAt("not-a-jwt")
	assert.Error(t, err)
}

func TestIsTokenValid(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{name: "valid", token: signedToken(t, now.Add(time.Hour)), want: true},
		{name: "expired", token: signedToken(t, now.Add(-time.Minute)), want: false},
		{name: "inside skew", token: signedToken(t, now.Add(10*time.Second)), want: false},
		{name: "no exp", token: signedToken(t, time.Time{}), want: false},
		{name: "malformed", token: "abc.def", want: false},
		{name: "empty", token: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTokenValid(tt.token, now))
		})
	}
}

func TestNewToken(t *testing.T) {
	exp := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	jwtTok := newToken(&oauth2.Token{AccessToken: signedToken(t, exp), RefreshToken: "r", Expiry: time.Now().Add(time.Minute)})
	assert.True(t, exp.Equal(jwtTok.ExpiresAt), "exp claim wins over expires_in")
	assert.Equal(t, "r", jwtTok.RefreshToken)

	expiry := time.Now().Add(time.Hour)
	opaque := newToken(&oauth2.Token{AccessToken: "opaque", Expiry: expiry})
	assert.Equal(t, expiry, opaque.ExpiresAt)
	assert.True(t, opaque.Valid(time.Now()))

	var missing *Token
	assert.False(t, missing.Valid(time.Now()))
}

func TestEndpoint(t *testing.T) {
	ep := endpoint("", "")
	assert.Equal(t, "https://login.microsoftonline.com/common/oauth2/v2.0/authorize", ep.AuthURL)
	assert.Equal(t, "https://login.microsoftonline.com/common/oauth2/v2.0/token", ep.TokenURL)

	ep = endpoint("http://127.0.0.1:8080/", "contoso")
	assert.Equal(t, "http://127.0.0.1:8080/contoso/oauth2/v2.0/token", ep.TokenURL)

	assert.Equal(t, "https://graph.microsoft.com/.default", defaultScope("https://graph.microsoft.com/"))
}
