// Package dedupe collapses concurrent calls that share a key into a single
// in-flight operation.
//
// A Group registers the pending call before the operation starts, so every
// caller that arrives while it is running receives the same result (value or
// error). Once the operation settles the key is forgotten and the next call
// starts a fresh invocation.
//
//	var tokens dedupe.Group[string]
//	tok, err := tokens.Do(ctx, dedupe.Key("access-token-{0}", resource), fetch)
package dedupe

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

var dedupeCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "m365_dedupe_calls_total",
	Help: "Deduplicated calls by whether the result was shared with other callers",
}, []string{"shared"})

// Group deduplicates calls per key. The zero value is ready to use.
type Group[T any] struct {
	flight singleflight.Group
}

// Do runs fn once per key for all callers that overlap with an in-flight call.
//
// fn receives a context detached from the caller's cancellation: one waiter
// giving up must not fail the others. A caller whose ctx is done stops
// waiting and gets ctx.Err(); the shared call keeps running.
func (g *Group[T]) Do(ctx context.Context, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	ch := g.flight.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		dedupeCallsTotal.WithLabelValues(strconv.FormatBool(res.Shared)).Inc()
		if res.Err != nil {
			return zero, res.Err
		}
		v, ok := res.Val.(T)
		if !ok {
			return zero, fmt.Errorf("dedupe: unexpected result type %T", res.Val)
		}
		return v, nil
	}
}

// Forget drops an in-flight key so the next call starts a new operation.
func (g *Group[T]) Forget(key string) {
	g.flight.Forget(key)
}

// Key substitutes positional placeholders {0}, {1}, ... in template with args.
func Key(template string, args ...any) string {
	if len(args) == 0 {
		return template
	}
	pairs := make([]string, 0, len(args)*2)
	for i, arg := range args {
		pairs = append(pairs, "{"+strconv.Itoa(i)+"}", fmt.Sprint(arg))
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// Wrap decorates fn so concurrent calls with the same argument share one
// invocation. The key is built from template with the argument as {0}.
func Wrap[A any, T any](template string, fn func(ctx context.Context, arg A) (T, error)) func(ctx context.Context, arg A) (T, error) {
	var g Group[T]
	return func(ctx context.Context, arg A) (T, error) {
		return g.Do(ctx, Key(template, arg), func(ctx context.Context) (T, error) {
			return fn(ctx, arg)
		})
	}
}
