//go:build integration

package cache

import (
	"testing"

	"github.com/Sternrassler/m365-client/internal/testutil"
)

func TestRedisStore_Integration(t *testing.T) {
	runRedisStoreSuite(t, testutil.StartRedis(t))
}
