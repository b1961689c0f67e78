package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// DefaultAuthority is the Entra ID login host.
const DefaultAuthority = "https://login.microsoftonline.com"

// expirySkew treats tokens as expired slightly early.
const expirySkew = 30 * time.Second

// ErrNoExpiry is returned for JWTs without an exp claim.
var ErrNoExpiry = errors.New("token has no exp claim")

// Token is a cached token set for one resource.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Valid reports whether the access token can still be used at now.
func (t *Token) Valid(now time.Time) bool {
	return t != nil && t.AccessToken != "" && now.Add(expirySkew).Before(t.ExpiresAt)
}

// newToken takes the expiry from the JWT exp claim, falling back to the
// expires_in of the token response for opaque tokens.
func newToken(tok *oauth2.Token) *Token {
	t := &Token{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken, ExpiresAt: tok.Expiry}
	if exp, err := ExpiresAt(tok.AccessToken); err == nil {
		t.ExpiresAt = exp
	}
	return t
}

// ExpiresAt returns the exp claim of a JWT without verifying its signature.
func ExpiresAt(token string) (time.Time, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrNoExpiry
	}
	return claims.ExpiresAt.Time, nil
}

// IsTokenValid reports whether a JWT is unexpired at now, allowing for
// clock skew. Malformed tokens are never valid.
func IsTokenValid(token string, now time.Time) bool {
	exp, err := ExpiresAt(token)
	if err != nil {
		return false
	}
	return now.Add(expirySkew).Before(exp)
}

func endpoint(authority, tenant string) oauth2.Endpoint {
	if authority == "" {
		authority = DefaultAuthority
	}
	if tenant == "" {
		tenant = "common"
	}
	base := strings.TrimRight(authority, "/") + "/" + tenant + "/oauth2/v2.0"
	return oauth2.Endpoint{
		AuthURL:   base + "/authorize",
		TokenURL:  base + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

func defaultScope(resource string) string {
	return strings.TrimRight(resource, "/") + "/.default"
}
