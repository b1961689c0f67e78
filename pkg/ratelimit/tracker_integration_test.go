//go:build integration

package ratelimit

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/Sternrassler/m365-client/internal/testutil"
	"github.com/rs/zerolog"
)

func TestTracker_Integration_SharedWindow(t *testing.T) {
	redisClient := testutil.StartRedis(t)

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	cfg := Config{Redis: redisClient}
	first := NewTracker(cfg, logger)
	second := NewTracker(cfg, logger)
	ctx := context.Background()

	state, err := second.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state.IsThrottled() {
		t.Fatal("empty Redis should not report a throttle window")
	}

	if err := first.UpdateFromResponse(ctx, http.StatusTooManyRequests, http.Header{"Retry-After": {"5"}}); err != nil {
		t.Fatalf("UpdateFromResponse() error = %v", err)
	}

	state, err = second.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if !state.IsThrottled() {
		t.Fatal("second tracker should observe the shared throttle window")
	}

	ttl, err := redisClient.TTL(ctx, RedisKeyRetryAt).Result()
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	if ttl <= 0 || ttl > 5*time.Second {
		t.Errorf("TTL = %v, want (0, 5s]", ttl)
	}
}

func TestTracker_Integration_WaitHonoursSharedWindow(t *testing.T) {
	redisClient := testutil.StartRedis(t)

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(Config{Redis: redisClient}, logger)
	ctx := context.Background()

	if err := tracker.UpdateFromResponse(ctx, http.StatusServiceUnavailable, http.Header{"Retry-After": {"1"}}); err != nil {
		t.Fatalf("UpdateFromResponse() error = %v", err)
	}

	start := time.Now()
	if err := tracker.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 500*time.Millisecond {
		t.Errorf("Wait() returned after %v, want ~1s", elapsed)
	}
}
