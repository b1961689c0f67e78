package cache

import (
	"context"

	"github.com/Sternrassler/m365-client/pkg/logging"
)

// Result carries the outcome of a background refresh.
type Result[T any] struct {
	Value T
	Err   error
}

// Deferred serves the cached value for key immediately and refreshes it in
// the background. The returned channel delivers exactly one Result once
// fetch has finished and, on success, the value has been written back.
//
// A cache read error is logged and treated as a miss.
func Deferred[T any](ctx context.Context, svc Service, key string, fetch func(context.Context) (T, error)) (T, bool, <-chan Result[T]) {
	logger := logging.NewLogger("cache")

	var cached T
	found, err := svc.Get(ctx, key, &cached)
	if err != nil {
		logger.Warn().Err(err).Str("cache_key", key).Msg("Deferred read failed, treating as miss")
		found = false
	}

	out := make(chan Result[T], 1)
	go func() {
		defer close(out)

		value, err := fetch(ctx)
		if err != nil {
			out <- Result[T]{Err: err}
			return
		}
		if err := svc.Set(ctx, key, value); err != nil {
			logger.Warn().Err(err).Str("cache_key", key).Msg("Deferred write-back failed")
		}
		out <- Result[T]{Value: value}
	}()

	return cached, found, out
}
