package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/Sternrassler/m365-client/pkg/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewODataEnumerator_Validation(t *testing.T) {
	fake := newFakeHTTP(odataDataset(t, 0))

	_, err := NewODataEnumerator(fake.client(), ODataConfig[item]{})
	assert.ErrorIs(t, err, ErrResourceRequired)

	_, err = NewODataEnumerator(fake.client(), ODataConfig[item]{Resource: "https://api.example.com/items", PageSize: -1})
	assert.ErrorIs(t, err, ErrInvalidPageSize)

	e, err := NewODataEnumerator(fake.client(), ODataConfig[item]{Resource: "https://api.example.com/items"})
	require.NoError(t, err)
	assert.Equal(t, DefaultPageSize, e.PageSize())
	assert.Equal(t, -1, e.CurrentPageIndex())
	assert.Equal(t, CountUnknown, e.TotalCount())
	assert.False(t, e.HasNextPage())
	assert.False(t, e.HasPreviousPage())
}

func TestODataEnumerator_FirstPageURLs(t *testing.T) {
	fake := newFakeHTTP(odataDataset(t, 100))
	e, err := NewODataEnumerator(fake.client(), ODataConfig[item]{Resource: "https://api.example.com/items", PageSize: 25})
	require.NoError(t, err)

	_, err = e.FirstPage(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"https://api.example.com/items?$top=25",
		"https://api.example.com/items/$count",
	}, fake.urls())

	fake.reset()
	e.SetFilter("x eq 1")
	assert.Equal(t, "x eq 1", e.Filter())
	_, err = e.FirstPage(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"https://api.example.com/items?$top=25&$filter=x eq 1",
		"https://api.example.com/items/$count?$filter=x eq 1",
	}, fake.urls())
}

func TestODataEnumerator_QueryOptions(t *testing.T) {
	fake := newFakeHTTP(odataDataset(t, 100))
	e, err := NewODataEnumerator(fake.client(), ODataConfig[item]{
		Resource:  "https://api.example.com/items",
		Expand:    "Author",
		Select:    "Id,Title",
		SkipCount: true,
		PageSize:  10,
	})
	require.NoError(t, err)
	e.SetOrder("Title", Desc)
	e.SetFilter("Status eq 'Open'")

	_, err = e.FirstPage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://api.example.com/items?$top=10&$orderby=Title desc&$filter=Status eq 'Open'&$expand=Author&$select=Id,Title",
	}, fake.urls())
	assert.Equal(t, CountUnbounded, e.TotalCount())

	_, err = e.NextPage(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(fake.last().url, "&$skip=10"))
}

func TestODataEnumerator_RoundTrip(t *testing.T) {
	fake := newFakeHTTP(odataDataset(t, 60))
	e, err := NewODataEnumerator(fake.client(), ODataConfig[item]{Resource: "https://api.example.com/items", PageSize: 25})
	require.NoError(t, err)
	ctx := context.Background()

	first, err := e.FirstPage(ctx)
	require.NoError(t, err)
	assert.Equal(t, idRange(0, 25), ids(first))
	assert.Equal(t, 60, e.TotalCount())
	assert.True(t, e.HasNextPage())
	assert.False(t, e.HasPreviousPage())

	second, err := e.NextPage(ctx)
	require.NoError(t, err)
	assert.Equal(t, idRange(25, 50), ids(second))
	assert.Equal(t, 1, e.CurrentPageIndex())

	back, err := e.PreviousPage(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids(first), ids(back))
	assert.Equal(t, 0, e.CurrentPageIndex())
	assert.Equal(t, "https://api.example.com/items?$top=25", fake.last().url, "page 0 is rebuilt without $skip")

	empty, err := e.PreviousPage(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.Equal(t, 0, e.CurrentPageIndex())
}

func TestODataEnumerator_LastPageBoundary(t *testing.T) {
	fake := newFakeHTTP(odataDataset(t, 50))
	e, err := NewODataEnumerator(fake.client(), ODataConfig[item]{Resource: "https://api.example.com/items", PageSize: 25})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = e.FirstPage(ctx)
	require.NoError(t, err)
	_, err = e.NextPage(ctx)
	require.NoError(t, err)

	assert.False(t, e.HasNextPage(), "50 items / 25 per page ends on index 1")
	calls := len(fake.urls())

	next, err := e.NextPage(ctx)
	require.NoError(t, err)
	assert.Empty(t, next)
	assert.Len(t, fake.urls(), calls, "no request past the last page")
	assert.Equal(t, 1, e.CurrentPageIndex())
}

func TestODataEnumerator_CapturedLinkTakesPrecedence(t *testing.T) {
	const link = "https://api.example.com/items?$skiptoken=Paged%3dTRUE%26p_ID%3d25"
	fake := newFakeHTTP(func(method, u string, _ *client.RequestOptions) *client.Response {
		switch {
		case strings.HasSuffix(u, "/$count"):
			return textResponse(http.StatusOK, "40")
		case u == link:
			return jsonResponse(t, http.StatusOK, map[string]any{"value": makeItems(25, 40)})
		default:
			return jsonResponse(t, http.StatusOK, map[string]any{
				"value":           makeItems(0, 25),
				"@odata.nextLink": link,
			})
		}
	})
	e, err := NewODataEnumerator(fake.client(), ODataConfig[item]{Resource: "https://api.example.com/items", PageSize: 25})
	require.NoError(t, err)

	_, err = e.FirstPage(context.Background())
	require.NoError(t, err)

	page, err := e.NextPage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, link, fake.last().url)
	assert.Equal(t, idRange(25, 40), ids(page))
}

func TestODataEnumerator_SkipCountEndsOnEmptyPage(t *testing.T) {
	fake := newFakeHTTP(odataDataset(t, 30))
	e, err := NewODataEnumerator(fake.client(), ODataConfig[item]{
		Resource:  "https://api.example.com/items",
		PageSize:  15,
		SkipCount: true,
	})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = e.FirstPage(ctx)
	require.NoError(t, err)
	for _, u := range fake.urls() {
		assert.NotContains(t, u, "$count")
	}

	_, err = e.NextPage(ctx)
	require.NoError(t, err)
	assert.True(t, e.HasNextPage(), "unbounded enumeration assumes more")

	empty, err := e.NextPage(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.False(t, e.HasNextPage())
	assert.True(t, e.HasPreviousPage())
}

func TestODataEnumerator_FailureKeepsCursor(t *testing.T) {
	fail := true
	dataset := odataDataset(t, 60)
	fake := newFakeHTTP(func(method, u string, opts *client.RequestOptions) *client.Response {
		if fail && strings.Contains(u, "$skip=25") {
			return textResponse(http.StatusInternalServerError, `{"error":"boom"}`)
		}
		return dataset(method, u, opts)
	})
	e, err := NewODataEnumerator(fake.client(), ODataConfig[item]{Resource: "https://api.example.com/items", PageSize: 25})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = e.FirstPage(ctx)
	require.NoError(t, err)

	_, err = e.NextPage(ctx)
	require.Error(t, err)
	assert.Equal(t, `{"error":"boom"}`, err.Error())
	var herr *client.HTTPError
	assert.True(t, errors.As(err, &herr))
	assert.Equal(t, 0, e.CurrentPageIndex())

	fail = false
	page, err := e.NextPage(ctx)
	require.NoError(t, err)
	assert.Equal(t, idRange(25, 50), ids(page))
	assert.Equal(t, 1, e.CurrentPageIndex())
}

func TestODataEnumerator_FirstPageCountFailure(t *testing.T) {
	fake := newFakeHTTP(func(method, u string, _ *client.RequestOptions) *client.Response {
		if strings.HasSuffix(u, "/$count") {
			return textResponse(http.StatusBadRequest, "count not supported")
		}
		return jsonResponse(t, http.StatusOK, map[string]any{"value": makeItems(0, 5)})
	})
	e, err := NewODataEnumerator(fake.client(), ODataConfig[item]{Resource: "https://api.example.com/items"})
	require.NoError(t, err)

	_, err = e.FirstPage(context.Background())
	assert.EqualError(t, err, "count not supported")
	assert.Equal(t, -1, e.CurrentPageIndex())
}

func TestODataEnumerator_StaleCursor(t *testing.T) {
	fake := newFakeHTTP(odataDataset(t, 100))
	e, err := NewODataEnumerator(fake.client(), ODataConfig[item]{Resource: "https://api.example.com/items", PageSize: 10})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = e.FirstPage(ctx)
	require.NoError(t, err)

	require.NoError(t, e.SetPageSize(20))
	assert.False(t, e.HasNextPage())

	_, err = e.NextPage(ctx)
	assert.ErrorIs(t, err, ErrStaleCursor)
	_, err = e.PreviousPage(ctx)
	assert.ErrorIs(t, err, ErrStaleCursor)
	_, err = e.JumpToPage(ctx, 2)
	assert.ErrorIs(t, err, ErrStaleCursor)

	page, err := e.FirstPage(ctx)
	require.NoError(t, err)
	assert.Len(t, page, 20)
	assert.True(t, e.HasNextPage())

	assert.ErrorIs(t, e.SetPageSize(0), ErrInvalidPageSize)
}

func TestODataEnumerator_JumpToPage(t *testing.T) {
	fake := newFakeHTTP(odataDataset(t, 100))
	e, err := NewODataEnumerator(fake.client(), ODataConfig[item]{Resource: "https://api.example.com/items", PageSize: 25})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = e.JumpToPage(ctx, 1)
	assert.ErrorIs(t, err, ErrNotStarted)

	_, err = e.FirstPage(ctx)
	require.NoError(t, err)

	page, err := e.JumpToPage(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/items?$top=25&$skip=50", fake.last().url)
	assert.Equal(t, idRange(50, 75), ids(page))
	assert.Equal(t, 2, e.CurrentPageIndex())

	_, err = e.JumpToPage(ctx, 4)
	assert.ErrorIs(t, err, ErrPageOutOfRange)
	_, err = e.JumpToPage(ctx, -1)
	assert.ErrorIs(t, err, ErrPageOutOfRange)
}

func TestODataEnumerator_Map(t *testing.T) {
	fake := newFakeHTTP(odataDataset(t, 3))
	e, err := NewODataEnumerator(fake.client(), ODataConfig[string]{
		Resource: "https://api.example.com/items",
		Map: func(raw json.RawMessage) (string, error) {
			var it item
			if err := json.Unmarshal(raw, &it); err != nil {
				return "", err
			}
			return fmt.Sprintf("item-%d", it.ID), nil
		},
	})
	require.NoError(t, err)

	page, err := e.FirstPage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"item-0", "item-1", "item-2"}, page)
}

func TestDataverseEnumerator(t *testing.T) {
	const next = "https://org.crm.dynamics.com/api/data/v9.0/accounts?$skiptoken=abc"
	fake := newFakeHTTP(func(method, u string, _ *client.RequestOptions) *client.Response {
		if u == next {
			return jsonResponse(t, http.StatusOK, map[string]any{"value": makeItems(2, 3), "@odata.count": 3})
		}
		return jsonResponse(t, http.StatusOK, map[string]any{
			"value":           makeItems(0, 2),
			"@odata.count":    3,
			"@odata.nextLink": next,
		})
	})

	_, err := NewDataverseEnumerator(fake.client(), DataverseConfig[item]{Environment: "https://org.crm.dynamics.com"})
	assert.ErrorIs(t, err, ErrResourceRequired)

	e, err := NewDataverseEnumerator(fake.client(), DataverseConfig[item]{
		Environment: "https://org.crm.dynamics.com/",
		Table:       "accounts",
		Select:      "name",
		PageSize:    2,
	})
	require.NoError(t, err)
	e.SetFilter("statecode eq 0")
	ctx := context.Background()

	first, err := e.FirstPage(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, ids(first))
	assert.Len(t, fake.urls(), 1, "count is inline")

	call := fake.last()
	assert.Equal(t, "https://org.crm.dynamics.com/api/data/v9.0/accounts?$filter=statecode eq 0&$select=name&$count=true", call.url)
	assert.Equal(t, "odata.maxpagesize=2", call.header.Get("Prefer"))
	assert.Equal(t, "4.0", call.header.Get("OData-MaxVersion"))
	assert.Equal(t, "4.0", call.header.Get("OData-Version"))
	assert.Equal(t, 3, e.TotalCount())
	assert.True(t, e.HasNextPage())

	_, err = e.JumpToPage(ctx, 5)
	assert.ErrorIs(t, err, ErrPageOutOfRange)

	second, err := e.NextPage(ctx)
	require.NoError(t, err)
	assert.Equal(t, next, fake.last().url)
	assert.Equal(t, []int{2}, ids(second))
	assert.False(t, e.HasNextPage())

	back, err := e.PreviousPage(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, ids(back))
}
