//go:build integration

package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Sternrassler/m365-client/internal/testutil"
	"github.com/Sternrassler/m365-client/pkg/cache"
	"github.com/Sternrassler/m365-client/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProxy_Integration_RedisBackend(t *testing.T) {
	ctx := context.Background()
	addr := testutil.StartRedis(t).Options().Addr

	mock := testutil.NewMockServer()
	defer mock.Close()
	mock.EnableJSONBatch("/v1.0/$batch", "/v1.0")
	mock.SetResponse("/v1.0/drives/d1/items/i1/content", testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       "quarterly numbers",
		Headers:    map[string]string{"Content-Type": "text/csv"},
	})
	mock.SetJSON("/v1.0/drives/d1/items/i1/file/hashes/quickXorHash", http.StatusOK, map[string]string{"value": "h1"})

	cfg := config.Default()
	cfg.Graph.BaseURL = mock.URL()
	cfg.Graph.BatchURL = mock.URL() + "/v1.0/$batch"
	cfg.Batch.WaitTime = 20 * time.Millisecond
	cfg.HTTP.MaxRetries = 1
	cfg.HTTP.InitialBackoff = time.Millisecond
	cfg.HTTP.MaxBackoff = time.Millisecond
	cfg.Cache = config.CacheConfig{Backend: config.BackendRedis, RedisAddr: addr, TTL: time.Minute}

	store, rc, closeStore, err := openCache(ctx, cfg.Cache)
	require.NoError(t, err)
	defer closeStore()
	require.NotNil(t, rc)
	assert.IsType(t, &cache.RedisStore{}, store)

	graph, download, err := buildStack(&cfg, staticTokens{}, rc)
	require.NoError(t, err)

	srv := httptest.NewServer(newServer(graph, download, store, &cfg).routes())
	defer srv.Close()

	for i := 0; i < 2; i++ {
		resp, err := http.Get(srv.URL + "/drives/d1/items/i1/content")
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "quarterly numbers", string(body))
	}

	assert.Equal(t, 1, mock.PathCount("/v1.0/drives/d1/items/i1/content"))

	n, err := rc.Exists(ctx, "drive-content:/v1.0/drives/d1/items/i1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestOpenCache_Integration_RedisUnavailable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, _, _, err := openCache(ctx, config.CacheConfig{Backend: config.BackendRedis, RedisAddr: "127.0.0.1:1"})
	assert.Error(t, err)
}
