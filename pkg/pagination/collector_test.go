package pagination

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/m365-client/pkg/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollector_Defaults(t *testing.T) {
	c := NewCollector[item](CollectorConfig{})
	assert.Equal(t, 4, c.config.MaxConcurrency)
	assert.Equal(t, 30*time.Second, c.config.Timeout)
}

func TestCollector_CollectAll(t *testing.T) {
	fake := newFakeHTTP(odataDataset(t, 230))
	e, err := NewODataEnumerator(fake.client(), ODataConfig[item]{Resource: "https://api.example.com/items", PageSize: 25})
	require.NoError(t, err)

	all, err := NewCollector[item](DefaultCollectorConfig()).CollectAll(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, idRange(0, 230), ids(all))
	assert.Equal(t, 0, e.CurrentPageIndex(), "cursor stays put")
	assert.Equal(t, 230, e.TotalCount())

	seen := map[string]int{}
	for _, u := range fake.urls() {
		if path, _, _ := strings.Cut(u, "?"); !strings.HasSuffix(path, "/$count") {
			seen[u]++
		}
	}
	assert.Len(t, seen, 10)
	for u, n := range seen {
		assert.Equal(t, 1, n, "page fetched more than once: %s", u)
	}
}

func TestCollector_StartedEnumerationRefetchesNothingTwice(t *testing.T) {
	fake := newFakeHTTP(odataDataset(t, 60))
	e, err := NewODataEnumerator(fake.client(), ODataConfig[item]{Resource: "https://api.example.com/items", PageSize: 25})
	require.NoError(t, err)
	_, err = e.FirstPage(context.Background())
	require.NoError(t, err)
	fake.reset()

	all, err := NewCollector[item](DefaultCollectorConfig()).CollectAll(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, idRange(0, 60), ids(all))
	assert.Len(t, fake.urls(), 3, "a caller-started enumeration is collected from page 0")
}

func TestCollector_Search(t *testing.T) {
	fake := newFakeHTTP(func(method, u string, opts *client.RequestOptions) *client.Response {
		return jsonResponse(t, http.StatusOK, searchResult(3, []map[string]any{hit("a")}, nil))
	})
	e, err := NewSearchEnumerator(fake.client(), SearchConfig[doc]{PageSize: 1})
	require.NoError(t, err)

	all, err := NewCollector[doc](DefaultCollectorConfig()).CollectAll(context.Background(), e.Enumerator)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestCollector_Error(t *testing.T) {
	dataset := odataDataset(t, 100)
	var calls atomic.Int32
	fake := newFakeHTTP(func(method, u string, opts *client.RequestOptions) *client.Response {
		calls.Add(1)
		if strings.Contains(u, "$skip=50") {
			return textResponse(http.StatusInternalServerError, "boom")
		}
		return dataset(method, u, opts)
	})
	e, err := NewODataEnumerator(fake.client(), ODataConfig[item]{Resource: "https://api.example.com/items", PageSize: 25})
	require.NoError(t, err)

	_, err = NewCollector[item](CollectorConfig{MaxConcurrency: 2}).CollectAll(context.Background(), e)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestCollector_Unsupported(t *testing.T) {
	fake := newFakeHTTP(graphDataset(t))
	e, err := NewGraphEnumerator(fake.client(), GraphConfig[item]{Resource: "https://graph.microsoft.com/v1.0/users"})
	require.NoError(t, err)

	_, err = NewCollector[item](DefaultCollectorConfig()).CollectAll(context.Background(), e)
	assert.ErrorIs(t, err, ErrJumpUnsupported)

	skip, err := NewODataEnumerator(fake.client(), ODataConfig[item]{Resource: "https://api.example.com/items", SkipCount: true})
	require.NoError(t, err)
	fake.handler = odataDataset(t, 10)
	_, err = NewCollector[item](DefaultCollectorConfig()).CollectAll(context.Background(), skip)
	assert.ErrorIs(t, err, ErrCountRequired)
}
