package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Sternrassler/m365-client/pkg/cache"
	"github.com/Sternrassler/m365-client/pkg/dedupe"
	"github.com/Sternrassler/m365-client/pkg/logging"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// codeRevoked is the Entra ID error code for an expired or revoked refresh
// token.
const codeRevoked = 700084

// Authorizer performs the interactive part of the sign-in: it sends the user
// to authURL and returns the authorization code from the redirect.
type Authorizer interface {
	Authorize(ctx context.Context, authURL string) (code string, err error)
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, authURL string) (string, error)

func (f AuthorizerFunc) Authorize(ctx context.Context, authURL string) (string, error) {
	return f(ctx, authURL)
}

// DelegatedConfig configures a DelegatedService.
type DelegatedConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Authority defaults to DefaultAuthority.
	Authority string

	// Cache persists token sets across service instances. Defaults to an
	// in-memory store.
	Cache cache.Service
}

// DelegatedService acquires user tokens with the authorization code flow.
type DelegatedService struct {
	config     DelegatedConfig
	endpoint   oauth2.Endpoint
	authorizer Authorizer
	cache      cache.Service
	logger     zerolog.Logger
	now        func() time.Time

	inflight dedupe.Group[string]

	mu     sync.Mutex
	tokens map[string]*Token
}

// NewDelegatedService creates a delegated token service.
func NewDelegatedService(cfg DelegatedConfig, authorizer Authorizer) (*DelegatedService, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("client id is required")
	}
	if cfg.RedirectURL == "" {
		return nil, errors.New("redirect url is required")
	}
	if authorizer == nil {
		return nil, errors.New("authorizer is required")
	}
	store := cfg.Cache
	if store == nil {
		store = cache.NewMemoryStore(0)
	}
	return &DelegatedService{
		config:     cfg,
		endpoint:   endpoint(cfg.Authority, cfg.TenantID),
		authorizer: authorizer,
		cache:      store,
		logger:     logging.NewLogger("auth").With().Str("flow", "delegated").Logger(),
		now:        time.Now,
		tokens:     make(map[string]*Token),
	}, nil
}

// AccessToken implements client.TokenProvider.
func (s *DelegatedService) AccessToken(ctx context.Context, resource string) (string, error) {
	return s.inflight.Do(ctx, dedupe.Key("access-token-{0}", resource), func(ctx context.Context) (string, error) {
		s.mu.Lock()
		tok := s.tokens[resource]
		s.mu.Unlock()
		if tok.Valid(s.now()) {
			return tok.AccessToken, nil
		}

		tok, err := s.tokenSet(ctx, resource)
		if err != nil {
			return "", err
		}
		return tok.AccessToken, nil
	})
}

func (s *DelegatedService) cacheKey(resource string) string {
	return fmt.Sprintf("auth.%s.%s.token", s.config.ClientID, resource)
}

func (s *DelegatedService) oauthConfig(resource string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     s.config.ClientID,
		ClientSecret: s.config.ClientSecret,
		RedirectURL:  s.config.RedirectURL,
		Endpoint:     s.endpoint,
		Scopes:       []string{defaultScope(resource), "openid", "profile", "offline_access"},
	}
}

// tokenSet returns a usable token set: cached, refreshed or from a new
// sign-in, in that order.
func (s *DelegatedService) tokenSet(ctx context.Context, resource string) (*Token, error) {
	logger := s.logger.With().Str("resource", resource).Logger()
	key := s.cacheKey(resource)

	var cached Token
	found, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		logger.Warn().Err(err).Str("cache_key", key).Msg("Failed to read cached token")
		found = false
	}

	if found {
		if cached.Valid(s.now()) {
			logger.Debug().Msg("Using cached token")
			s.remember(resource, &cached)
			return &cached, nil
		}
		if cached.RefreshToken != "" {
			tok, err := s.refresh(ctx, resource, cached.RefreshToken)
			switch {
			case err == nil:
				return s.store(ctx, resource, tok), nil
			case isRevoked(err):
				logger.Info().Msg("Refresh token revoked, signing in again")
				s.evict(ctx, resource)
			default:
				return nil, fmt.Errorf("refresh token for %s: %w", resource, err)
			}
		}
	}

	tok, err := s.login(ctx, resource)
	if err != nil {
		return nil, err
	}
	return s.store(ctx, resource, tok), nil
}

func (s *DelegatedService) refresh(ctx context.Context, resource, refreshToken string) (*oauth2.Token, error) {
	src := s.oauthConfig(resource).TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, err
	}
	s.logger.Debug().Str("resource", resource).Msg("Token refreshed")
	return tok, nil
}

func (s *DelegatedService) login(ctx context.Context, resource string) (*oauth2.Token, error) {
	conf := s.oauthConfig(resource)
	verifier := oauth2.GenerateVerifier()
	state, err := randomState()
	if err != nil {
		return nil, err
	}

	authURL := conf.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("response_mode", "query"),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
	code, err := s.authorizer.Authorize(ctx, authURL)
	if err != nil {
		return nil, fmt.Errorf("authorize %s: %w", resource, err)
	}

	tok, err := conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("exchange code for %s: %w", resource, err)
	}
	s.logger.Info().Str("resource", resource).Msg("Signed in")
	return tok, nil
}

func (s *DelegatedService) store(ctx context.Context, resource string, tok *oauth2.Token) *Token {
	t := newToken(tok)
	s.remember(resource, t)
	if err := s.cache.Set(ctx, s.cacheKey(resource), t); err != nil {
		s.logger.Warn().Err(err).Str("resource", resource).Msg("Failed to persist token")
	}
	return t
}

func (s *DelegatedService) remember(resource string, t *Token) {
	s.mu.Lock()
	s.tokens[resource] = t
	s.mu.Unlock()
}

func (s *DelegatedService) evict(ctx context.Context, resource string) {
	s.mu.Lock()
	delete(s.tokens, resource)
	s.mu.Unlock()
	if err := s.cache.Remove(ctx, s.cacheKey(resource)); err != nil {
		s.logger.Warn().Err(err).Str("resource", resource).Msg("Failed to evict cached token")
	}
}

// isRevoked reports a token endpoint rejection carrying error code 700084.
func isRevoked(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return false
	}
	var body struct {
		ErrorCodes []int `json:"error_codes"`
	}
	if json.Unmarshal(re.Body, &body) != nil {
		return false
	}
	return slices.Contains(body.ErrorCodes, codeRevoked)
}

func randomState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
