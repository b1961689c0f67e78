// Package cache provides the key/value cache used by the SDK's caching
// decorators and token services.
//
// Three stores implement Service:
//
//   - MemoryStore: process-local map with optional TTL
//   - RedisStore: shared Redis backend, TTL enforced by Redis
//   - SQLiteStore: persistent file-backed store (modernc.org/sqlite)
//
// Values are JSON-encoded, so any serialisable type can be stored and read
// back into a destination of the same shape:
//
//	store := cache.NewMemoryStore(10 * time.Minute)
//
//	key := cache.Key{Namespace: "drive-content", Parts: []string{driveID, itemID}}.String()
//	if err := store.Set(ctx, key, entry); err != nil {
//		return err
//	}
//
//	var cached content.Entry
//	found, err := store.Get(ctx, key, &cached)
//
// Stores may be shared between components. Callers keep keys apart with a
// namespace prefix (see Key).
//
// # Helpers
//
// Deferred returns the cached value immediately and refreshes it in the
// background. Debouncer collapses bursts of keyed calls into the last one.
//
// # Metrics
//
//   - m365_cache_hits_total{layer}
//   - m365_cache_misses_total{layer}
//   - m365_cache_errors_total{layer,operation}
package cache
