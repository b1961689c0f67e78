package content

import (
	"context"

	"github.com/Sternrassler/m365-client/pkg/cache"
	"github.com/Sternrassler/m365-client/pkg/client"
	"github.com/Sternrassler/m365-client/pkg/logging"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Entry is the cached form of one item. Hash and content are written
// together so a failed fetch never leaves a hash without its content.
type Entry struct {
	Hash string `json:"hash"`
	// ContentBase64 is a data URI, "data:{type};base64,{payload}".
	ContentBase64 string `json:"contentBase64"`
}

// CachedService serves content from cache while the remote hash still
// matches the cached one.
type CachedService struct {
	base   Service
	cache  cache.Service
	logger zerolog.Logger
}

// NewCachedService decorates base with store.
func NewCachedService(base Service, store cache.Service) *CachedService {
	return &CachedService{
		base:   base,
		cache:  store,
		logger: logging.NewLogger("content-cache"),
	}
}

// CacheKey returns the cache key of ref.
func CacheKey(ref ItemRef) (string, error) {
	path, err := ref.APIPath()
	if err != nil {
		return "", err
	}
	return "drive-content:" + path, nil
}

// Content returns the item's bytes. Every call checks the remote hash once
// a cached copy exists; the body is only downloaded on a miss or when the
// hash changed.
func (s *CachedService) Content(ctx context.Context, ref ItemRef) (*client.Blob, error) {
	key, err := CacheKey(ref)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With().Str("cache_key", key).Logger()

	var cached Entry
	found, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to read cached content")
		found = false
	}

	if !found || cached.Hash == "" {
		logger.Debug().Msg("Content cache miss")
		var (
			blob *client.Blob
			hash string
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			blob, err = s.base.Content(gctx, ref)
			return err
		})
		g.Go(func() error {
			var err error
			hash, err = s.base.Hash(gctx, ref)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		s.store(ctx, key, hash, blob)
		fetchesTotal.WithLabelValues("remote").Inc()
		return blob, nil
	}

	hash, err := s.base.Hash(ctx, ref)
	if err != nil {
		return nil, err
	}

	if hash == cached.Hash {
		blob, err := client.ParseDataURI(cached.ContentBase64)
		if err == nil {
			logger.Debug().Msg("Content cache hit")
			fetchesTotal.WithLabelValues("cache").Inc()
			return blob, nil
		}
		logger.Warn().Err(err).Msg("Cached content is corrupt, downloading again")
	} else {
		logger.Debug().Str("cached_hash", cached.Hash).Str("hash", hash).Msg("Content changed")
	}

	blob, err := s.base.Content(ctx, ref)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, hash, blob)
	fetchesTotal.WithLabelValues("remote").Inc()
	return blob, nil
}

// Hash delegates to the wrapped service.
func (s *CachedService) Hash(ctx context.Context, ref ItemRef) (string, error) {
	return s.base.Hash(ctx, ref)
}

func (s *CachedService) store(ctx context.Context, key, hash string, blob *client.Blob) {
	entry := Entry{Hash: hash, ContentBase64: blob.DataURI()}
	if err := s.cache.Set(ctx, key, entry); err != nil {
		s.logger.Warn().Err(err).Str("cache_key", key).Msg("Failed to cache content")
	}
}
