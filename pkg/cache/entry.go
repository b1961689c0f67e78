package cache

import (
	"encoding/json"
	"fmt"
	"time"
)

// Entry is the stored envelope around a JSON-encoded value.
type Entry struct {
	// Data is the JSON-encoded value
	Data json.RawMessage `json:"data"`

	// Expires is when the entry becomes stale. Zero means no expiry.
	Expires time.Time `json:"expires,omitempty"`

	// CachedAt is when the value was written
	CachedAt time.Time `json:"cached_at"`
}

// newEntry encodes value with the given TTL relative to now.
func newEntry(value any, ttl time.Duration, now time.Time) (*Entry, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal cache value: %w", err)
	}
	e := &Entry{Data: data, CachedAt: now}
	if ttl > 0 {
		e.Expires = now.Add(ttl)
	}
	return e, nil
}

// IsExpired reports whether the entry is stale at now.
func (e *Entry) IsExpired(now time.Time) bool {
	return !e.Expires.IsZero() && !now.Before(e.Expires)
}

// TTL returns the time until expiration, 0 if already expired and -1 for
// entries that never expire.
func (e *Entry) TTL(now time.Time) time.Duration {
	if e.Expires.IsZero() {
		return -1
	}
	ttl := e.Expires.Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Decode unmarshals the value into dest.
func (e *Entry) Decode(dest any) error {
	if err := json.Unmarshal(e.Data, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return nil
}
