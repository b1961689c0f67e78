package cache

import (
	"context"
	"errors"
)

var (
	// ErrInvalidEntry indicates the stored value could not be decoded
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Service is the cache contract consumed by the SDK.
//
// Get decodes the stored value into dest and reports whether it was found.
// A miss is (false, nil). Set overwrites. Remove of an absent key is not an
// error.
type Service interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Remove(ctx context.Context, key string) error
}
