// Package ratelimit paces outbound Microsoft 365 requests and tracks the
// throttling windows the service announces through 429/503 responses.
//
// Pacing is local (token bucket). Throttle windows can be shared across
// processes through Redis so that every instance backs off together.
package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RedisKeyRetryAt stores the shared "blocked until" instant in Unix milliseconds.
const RedisKeyRetryAt = "m365:throttle:retry_at"

// DefaultRetryAfter is applied when a throttled response carries no usable Retry-After.
const DefaultRetryAfter = 10 * time.Second

// ThrottleState is the current server-imposed throttle window.
type ThrottleState struct {
	// RetryAt is the earliest time a new request may be sent.
	RetryAt time.Time `json:"retry_at"`

	// LastUpdate is when the window was last recorded.
	LastUpdate time.Time `json:"last_update"`
}

// IsThrottled reports whether requests must still wait.
func (s *ThrottleState) IsThrottled() bool {
	return time.Now().Before(s.RetryAt)
}

// TimeUntilRetry returns the remaining wait, or 0 once the window has passed.
func (s *ThrottleState) TimeUntilRetry() time.Duration {
	d := time.Until(s.RetryAt)
	if d < 0 {
		return 0
	}
	return d
}

// IsStale returns true if the state is older than maxAge.
func (s *ThrottleState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// IsThrottleStatus reports whether a status code signals server throttling.
func IsThrottleStatus(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

// ParseRetryAfter reads a Retry-After value given either in seconds or as an
// HTTP date.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
