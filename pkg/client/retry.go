package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "m365_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "m365_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "m365_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ForErrorClass adjusts the base configuration for an error class.
// Throttling starts from a longer backoff than server errors.
func (c RetryConfig) ForErrorClass(errorClass ErrorClass) RetryConfig {
	if errorClass == ErrorClassRateLimit && c.InitialBackoff > 0 {
		c.InitialBackoff *= 2
		if c.InitialBackoff > c.MaxBackoff {
			c.InitialBackoff = c.MaxBackoff
		}
	}
	return c
}

// retryWithBackoff executes fn with exponential backoff. fn reports the
// class of its failure; only retryable classes are attempted again. A
// Retry-After carried by an *HTTPError extends the wait.
func retryWithBackoff(ctx context.Context, base RetryConfig, logger zerolog.Logger, fn func() (ErrorClass, error)) error {
	var lastErr error
	var lastClass ErrorClass
	var backoff time.Duration

	for attempt := 1; attempt <= base.MaxAttempts; attempt++ {
		class, err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info().
					Str("error_class", string(lastClass)).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		lastErr = err
		if !shouldRetry(class) {
			return err
		}

		cfg := base.ForErrorClass(class)
		if class != lastClass || backoff == 0 {
			backoff = cfg.InitialBackoff
		}
		lastClass = class

		if attempt >= cfg.MaxAttempts {
			break
		}

		retriesTotal.WithLabelValues(string(class)).Inc()

		// ±20% jitter
		wait := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		var herr *HTTPError
		if errors.As(err, &herr) && herr.RetryAfter > wait {
			wait = herr.RetryAfter
		}
		retryBackoffSeconds.WithLabelValues(string(class)).Observe(wait.Seconds())

		logger.Debug().
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Retrying request after backoff")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Warn().
				Str("error_class", string(class)).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * cfg.BackoffMultiplier)
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	retryExhaustedTotal.WithLabelValues(string(lastClass)).Inc()
	logger.Error().
		Str("error_class", string(lastClass)).
		Int("max_attempts", base.MaxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, base.MaxAttempts, lastErr)
}
