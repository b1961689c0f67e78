package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/m365-client/pkg/dedupe"
	"github.com/Sternrassler/m365-client/pkg/logging"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2/clientcredentials"
)

// AppOnlyConfig configures an AppOnlyService.
type AppOnlyConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string

	// Authority defaults to DefaultAuthority.
	Authority string
}

// AppOnlyService acquires application tokens with client credentials.
type AppOnlyService struct {
	config   AppOnlyConfig
	tokenURL string
	logger   zerolog.Logger
	now      func() time.Time

	inflight dedupe.Group[string]

	mu     sync.Mutex
	tokens map[string]*Token
}

// NewAppOnlyService creates a client credentials token service.
func NewAppOnlyService(cfg AppOnlyConfig) (*AppOnlyService, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("client id is required")
	}
	if cfg.ClientSecret == "" {
		return nil, errors.New("client secret is required")
	}
	if cfg.TenantID == "" {
		return nil, errors.New("tenant id is required")
	}
	return &AppOnlyService{
		config:   cfg,
		tokenURL: endpoint(cfg.Authority, cfg.TenantID).TokenURL,
		logger:   logging.NewLogger("auth").With().Str("flow", "app-only").Logger(),
		now:      time.Now,
		tokens:   make(map[string]*Token),
	}, nil
}

// AccessToken implements client.TokenProvider.
func (s *AppOnlyService) AccessToken(ctx context.Context, resource string) (string, error) {
	return s.inflight.Do(ctx, dedupe.Key("access-token-{0}", resource), func(ctx context.Context) (string, error) {
		s.mu.Lock()
		tok := s.tokens[resource]
		s.mu.Unlock()
		if tok.Valid(s.now()) {
			return tok.AccessToken, nil
		}

		cc := clientcredentials.Config{
			ClientID:     s.config.ClientID,
			ClientSecret: s.config.ClientSecret,
			TokenURL:     s.tokenURL,
			Scopes:       []string{defaultScope(resource)},
		}
		raw, err := cc.Token(ctx)
		if err != nil {
			s.logger.Error().Err(err).Str("resource", resource).Msg("Client credentials grant failed")
			return "", fmt.Errorf("acquire app-only token for %s: %w", resource, err)
		}

		tok = newToken(raw)
		s.mu.Lock()
		s.tokens[resource] = tok
		s.mu.Unlock()
		s.logger.Debug().Str("resource", resource).Time("expires_at", tok.ExpiresAt).Msg("Token acquired")
		return tok.AccessToken, nil
	})
}
