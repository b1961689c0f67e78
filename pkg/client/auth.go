package client

import (
	"context"
	"fmt"
	"net/url"

	"github.com/Sternrassler/m365-client/pkg/dedupe"
	"github.com/Sternrassler/m365-client/pkg/logging"
	"github.com/rs/zerolog"
)

// tokenKeyTemplate keys in-flight token acquisitions by resource.
const tokenKeyTemplate = "access-token-{0}"

// TokenProvider acquires bearer tokens for a resource URI such as
// "https://graph.microsoft.com".
type TokenProvider interface {
	AccessToken(ctx context.Context, resource string) (string, error)
}

// AuthConfig configures an AuthClient.
type AuthConfig struct {
	// Resource is the token audience. When empty the scheme and host of
	// each request URL are used.
	Resource string
}

// AuthClient adds a bearer token to every request of an inner HTTPClient.
// Concurrent requests for the same resource share one token acquisition.
type AuthClient struct {
	RequestFunc

	inner    HTTPClient
	tokens   TokenProvider
	config   AuthConfig
	inflight dedupe.Group[string]
	logger   zerolog.Logger
}

// NewAuthClient wraps inner with bearer authentication.
func NewAuthClient(tokens TokenProvider, inner HTTPClient, cfg AuthConfig) *AuthClient {
	c := &AuthClient{
		inner:  inner,
		tokens: tokens,
		config: cfg,
		logger: logging.NewLogger("auth-client"),
	}
	c.RequestFunc = c.do
	return c
}

func (c *AuthClient) resourceFor(rawURL string) (string, error) {
	if c.config.Resource != "" {
		return c.config.Resource, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("derive token resource from %q: absolute url required", rawURL)
	}
	return u.Scheme + "://" + u.Host, nil
}

func (c *AuthClient) do(ctx context.Context, method, rawURL string, opts *RequestOptions) (*Response, error) {
	resource, err := c.resourceFor(rawURL)
	if err != nil {
		return nil, err
	}

	token, err := c.inflight.Do(ctx, dedupe.Key(tokenKeyTemplate, resource), func(ctx context.Context) (string, error) {
		return c.tokens.AccessToken(ctx, resource)
	})
	if err != nil {
		c.logger.Error().Err(err).Str("resource", resource).Msg("Token acquisition failed")
		return nil, fmt.Errorf("acquire token for %s: %w", resource, err)
	}

	authed := opts.Clone()
	authed.Header.Set("Authorization", "Bearer "+token)
	return Send(ctx, c.inner, method, rawURL, authed)
}
