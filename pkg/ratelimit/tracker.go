package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	throttleWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "m365_throttle_waits_total",
		Help: "Requests delayed because a throttle window was active",
	})

	throttledResponsesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "m365_throttled_responses_total",
		Help: "Responses with status 429 or 503 recorded as throttle windows",
	})
)

// Config holds tracker configuration.
type Config struct {
	// RequestsPerSecond paces outbound calls. Zero or negative disables pacing.
	RequestsPerSecond float64

	// Burst is the token bucket size.
	Burst int

	// Redis shares throttle windows across processes. Optional.
	Redis *redis.Client
}

// DefaultConfig returns conservative pacing for Graph and SharePoint.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 20,
		Burst:             10,
	}
}

// Tracker gates requests on local pacing and server throttle windows.
type Tracker struct {
	limiter *rate.Limiter
	redis   *redis.Client
	logger  zerolog.Logger

	mu    sync.Mutex
	local ThrottleState
}

// NewTracker creates a tracker.
func NewTracker(cfg Config, logger zerolog.Logger) *Tracker {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Tracker{
		limiter: rate.NewLimiter(limit, burst),
		redis:   cfg.Redis,
		logger:  logger,
	}
}

// GetState returns the current throttle window. Without Redis the state is
// process-local.
func (t *Tracker) GetState(ctx context.Context) (*ThrottleState, error) {
	if t.redis == nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		state := t.local
		return &state, nil
	}

	ms, err := t.redis.Get(ctx, RedisKeyRetryAt).Int64()
	if err == redis.Nil {
		return &ThrottleState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get retry-at: %w", err)
	}
	return &ThrottleState{RetryAt: time.UnixMilli(ms), LastUpdate: time.Now()}, nil
}

// UpdateFromResponse records a throttle window when status signals throttling.
func (t *Tracker) UpdateFromResponse(ctx context.Context, status int, header http.Header) error {
	if !IsThrottleStatus(status) {
		return nil
	}
	throttledResponsesTotal.Inc()

	now := time.Now()
	wait, ok := ParseRetryAfter(header.Get("Retry-After"), now)
	if !ok {
		wait = DefaultRetryAfter
	}
	state := ThrottleState{RetryAt: now.Add(wait), LastUpdate: now}

	t.logger.Warn().
		Int("status", status).
		Dur("retry_after", wait).
		Msg("Service throttled requests")

	if t.redis == nil {
		t.mu.Lock()
		if state.RetryAt.After(t.local.RetryAt) {
			t.local = state
		}
		t.mu.Unlock()
		return nil
	}

	if wait <= 0 {
		return nil
	}
	if err := t.redis.Set(ctx, RedisKeyRetryAt, state.RetryAt.UnixMilli(), wait).Err(); err != nil {
		return fmt.Errorf("store retry-at in redis: %w", err)
	}
	return nil
}

// Wait blocks until an active throttle window has passed and the pacing
// limiter admits one more request.
func (t *Tracker) Wait(ctx context.Context) error {
	state, err := t.GetState(ctx)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Throttle state unavailable, continuing with local pacing")
	} else if state.IsThrottled() {
		d := state.TimeUntilRetry()
		throttleWaitsTotal.Inc()
		t.logger.Debug().Dur("wait", d).Msg("Waiting for throttle window")

		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return t.limiter.Wait(ctx)
}
