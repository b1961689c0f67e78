// Command m365-proxy serves authenticated, batched and cached Microsoft
// Graph access over plain HTTP.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/m365-client/pkg/auth"
	"github.com/Sternrassler/m365-client/pkg/batch"
	"github.com/Sternrassler/m365-client/pkg/cache"
	"github.com/Sternrassler/m365-client/pkg/client"
	"github.com/Sternrassler/m365-client/pkg/config"
	"github.com/Sternrassler/m365-client/pkg/logging"
	"github.com/Sternrassler/m365-client/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load(os.Getenv("M365_CONFIG_FILE"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Logging.Level),
		Pretty: cfg.Logging.Pretty,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, redisClient, closeStore, err := openCache(ctx, cfg.Cache)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.Cache.Backend).Msg("Failed to open cache")
	}
	defer closeStore()

	tokens, err := auth.NewAppOnlyService(auth.AppOnlyConfig{
		TenantID:     cfg.Auth.TenantID,
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
		Authority:    cfg.Auth.Authority,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create token service")
	}

	graph, download, err := buildStack(cfg, tokens, redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build client stack")
	}

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: newServer(graph, download, store, cfg).routes(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Shutdown failed")
		}
	}()

	logger.Info().
		Str("addr", cfg.Server.ListenAddr).
		Str("cache_backend", cfg.Cache.Backend).
		Str("batch_url", cfg.Graph.BatchURL).
		Msg("Starting m365 proxy")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

// buildStack returns the batched Graph client and the unauthenticated
// client used for pre-signed download URLs.
func buildStack(cfg *config.Config, tokens client.TokenProvider, redisClient *redis.Client) (client.HTTPClient, client.HTTPClient, error) {
	tracker := ratelimit.NewTracker(ratelimit.Config{
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
		Burst:             cfg.HTTP.Burst,
		Redis:             redisClient,
	}, logging.NewLogger("ratelimit"))

	transport, err := client.New(client.Config{
		BaseURL:        cfg.Graph.BaseURL,
		UserAgent:      cfg.HTTP.UserAgent,
		Timeout:        cfg.HTTP.Timeout,
		MaxRetries:     cfg.HTTP.MaxRetries,
		InitialBackoff: cfg.HTTP.InitialBackoff,
		MaxBackoff:     cfg.HTTP.MaxBackoff,
		RateLimiter:    tracker,
	})
	if err != nil {
		return nil, nil, err
	}

	authed := client.NewAuthClient(tokens, transport, client.AuthConfig{Resource: cfg.Auth.Resource})

	batched, err := batch.New(authed, batch.Config{
		Codec:          batch.JSONCodec{URL: cfg.Graph.BatchURL},
		WaitTime:       cfg.Batch.WaitTime,
		SplitThreshold: cfg.Batch.SplitThreshold,
		MaxRetries:     cfg.Batch.MaxRetries,
		RetryDelay:     cfg.Batch.RetryDelay,
	})
	if err != nil {
		return nil, nil, err
	}
	return batched, transport, nil
}

// openCache opens the configured backend. The Redis client is returned so
// throttle windows can be shared through it as well.
func openCache(ctx context.Context, cfg config.CacheConfig) (cache.Service, *redis.Client, func(), error) {
	switch cfg.Backend {
	case config.BackendRedis:
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rc.Ping(ctx).Err(); err != nil {
			_ = rc.Close()
			return nil, nil, nil, err
		}
		return cache.NewRedisStore(rc, cfg.TTL), rc, func() { _ = rc.Close() }, nil
	case config.BackendSQLite:
		s, err := cache.OpenSQLiteStore(ctx, cfg.SQLitePath, cfg.TTL)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, nil, func() { _ = s.Close() }, nil
	default:
		return cache.NewMemoryStore(cfg.TTL), nil, func() {}, nil
	}
}
