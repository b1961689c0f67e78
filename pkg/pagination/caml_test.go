package pagination

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/Sternrassler/m365-client/pkg/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type renderParams struct {
	Parameters struct {
		RenderOptions int    `json:"RenderOptions"`
		ViewXml       string `json:"ViewXml"`
		Paging        string `json:"Paging"`
	} `json:"parameters"`
}

func decodeRender(t *testing.T, body []byte) renderParams {
	t.Helper()
	var p renderParams
	require.NoError(t, json.Unmarshal(body, &p))
	return p
}

type listItem struct {
	ID    int    `json:"ID"`
	Title string `json:"Title,omitempty"`
}

const (
	siteURL   = "/sites/test-site"
	renderURL = "/sites/test-site/_api/web/lists('test-list-id')/RenderListDataAsStream"
)

func TestCAMLEnumerator_FirstPageWithoutFilter(t *testing.T) {
	fake := newFakeHTTP(func(method, u string, opts *client.RequestOptions) *client.Response {
		if method == http.MethodGet {
			return jsonResponse(t, http.StatusOK, map[string]any{"ItemCount": 123})
		}
		return jsonResponse(t, http.StatusOK, map[string]any{"Row": []listItem{{ID: 3}, {ID: 2}, {ID: 1}}})
	})
	e, err := NewCAMLEnumerator(fake.client(), CAMLConfig[listItem]{SiteURL: siteURL, ListID: "test-list-id"})
	require.NoError(t, err)

	page, err := e.FirstPage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []listItem{{ID: 3}, {ID: 2}, {ID: 1}}, page)
	assert.Equal(t, 123, e.TotalCount())

	var get, post recordedCall
	for _, c := range fake.calls {
		if c.method == http.MethodGet {
			get = c
		} else {
			post = c
		}
	}
	assert.Equal(t, "/sites/test-site/_api/web/lists('test-list-id')?$select=ItemCount", get.url)
	assert.Equal(t, renderURL, post.url)
	assert.Equal(t, "application/json;odata=nometadata", post.header.Get("Content-Type"))
	assert.Equal(t, "3.0", post.header.Get("OData-Version"))

	params := decodeRender(t, post.body)
	assert.Equal(t, 2, params.Parameters.RenderOptions)
	assert.Empty(t, params.Parameters.Paging)
	view := params.Parameters.ViewXml
	assert.True(t, strings.HasPrefix(view, `<View Scope="RecursiveAll">`))
	assert.NotContains(t, view, "<Where>")
	assert.Contains(t, view, `<OrderBy><FieldRef Name="ID" Ascending="FALSE"/></OrderBy>`)
	assert.Contains(t, view, "<RowLimit Paged='True'>25</RowLimit>")
}

func TestCAMLEnumerator_FilteredCountDrains(t *testing.T) {
	fake := newFakeHTTP(func(method, u string, opts *client.RequestOptions) *client.Response {
		params := decodeRender(t, opts.Body)
		view := params.Parameters.ViewXml
		if strings.Contains(view, "<RowLimit Paged='True'>5000</RowLimit>") {
			if params.Parameters.Paging == "" {
				return jsonResponse(t, http.StatusOK, map[string]any{
					"Row":      make([]listItem, 5000),
					"NextHref": "?Paged=TRUE&p_ID=5001",
				})
			}
			return jsonResponse(t, http.StatusOK, map[string]any{"Row": make([]listItem, 123)})
		}
		assert.Contains(t, view, "<Where>test-query</Where>")
		return jsonResponse(t, http.StatusOK, map[string]any{"Row": []listItem{{ID: 1}, {ID: 2}, {ID: 3}}})
	})
	e, err := NewCAMLEnumerator(fake.client(), CAMLConfig[listItem]{SiteURL: siteURL, ListID: "test-list-id"})
	require.NoError(t, err)
	e.SetFilter("test-query")

	page, err := e.FirstPage(context.Background())
	require.NoError(t, err)
	assert.Len(t, page, 3)
	assert.Equal(t, 5123, e.TotalCount())

	var drained []string
	for _, c := range fake.calls {
		p := decodeRender(t, c.body)
		if strings.Contains(p.Parameters.ViewXml, "5000") {
			assert.Contains(t, p.Parameters.ViewXml, `<ViewFields><FieldRef Name="ID"/></ViewFields>`)
			drained = append(drained, p.Parameters.Paging)
		}
	}
	assert.ElementsMatch(t, []string{"", "Paged=TRUE&p_ID=5001"}, drained)
}

func TestCAMLEnumerator_IndexPaging(t *testing.T) {
	fake := newFakeHTTP(func(method, u string, opts *client.RequestOptions) *client.Response {
		if method == http.MethodGet {
			return jsonResponse(t, http.StatusOK, map[string]any{"ItemCount": 5})
		}
		if strings.Contains(u, "Paged=TRUE") {
			return jsonResponse(t, http.StatusOK, map[string]any{"Row": []listItem{{ID: 4}, {ID: 5}}})
		}
		return jsonResponse(t, http.StatusOK, map[string]any{"Row": []listItem{{ID: 1}, {ID: 2}, {ID: 3}}})
	})
	e, err := NewCAMLEnumerator(fake.client(), CAMLConfig[listItem]{SiteURL: siteURL, ListID: "test-list-id", PageSize: 3})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = e.FirstPage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, e.TotalCount())
	assert.True(t, e.HasNextPage())

	second, err := e.NextPage(ctx)
	require.NoError(t, err)
	assert.Equal(t, []listItem{{ID: 4}, {ID: 5}}, second)
	assert.Equal(t, renderURL+"?Paged=TRUE&p_ID=3&PageFirstRow=4", fake.last().url)
	assert.False(t, e.HasNextPage())

	back, err := e.PreviousPage(ctx)
	require.NoError(t, err)
	assert.Equal(t, []listItem{{ID: 1}, {ID: 2}, {ID: 3}}, back)
	assert.Equal(t, renderURL, fake.last().url)
	assert.Equal(t, 0, e.CurrentPageIndex())
}

func TestCAMLEnumerator_OrderFieldContinuation(t *testing.T) {
	fake := newFakeHTTP(func(method, u string, opts *client.RequestOptions) *client.Response {
		if method == http.MethodGet {
			return jsonResponse(t, http.StatusOK, map[string]any{"ItemCount": 10})
		}
		return jsonResponse(t, http.StatusOK, map[string]any{
			"Row":     []listItem{{ID: 7, Title: "Alpha"}, {ID: 9, Title: "Beta & Co"}},
			"LastRow": 2,
		})
	})
	e, err := NewCAMLEnumerator(fake.client(), CAMLConfig[listItem]{SiteURL: siteURL, ListID: "test-list-id", PageSize: 2})
	require.NoError(t, err)
	e.SetOrder("Title", Asc)
	ctx := context.Background()

	_, err = e.FirstPage(ctx)
	require.NoError(t, err)
	_, err = e.NextPage(ctx)
	require.NoError(t, err)

	assert.Equal(t, renderURL+"?Paged=TRUE&p_Title=Beta+%26+Co&p_ID=9&PageFirstRow=3", fake.last().url)
	params := decodeRender(t, fake.last().body)
	assert.Contains(t, params.Parameters.ViewXml, `<OrderBy><FieldRef Name="Title" Ascending="TRUE"/></OrderBy>`)
}

func TestCAMLEnumerator_TokenPaging(t *testing.T) {
	fake := newFakeHTTP(func(method, u string, opts *client.RequestOptions) *client.Response {
		params := decodeRender(t, opts.Body)
		if params.Parameters.Paging == "Paged=TRUE&p_ID=2" {
			return jsonResponse(t, http.StatusOK, map[string]any{"Row": []listItem{{ID: 1}}})
		}
		return jsonResponse(t, http.StatusOK, map[string]any{
			"Row":      []listItem{{ID: 3}, {ID: 2}},
			"NextHref": "?Paged=TRUE&p_ID=2",
		})
	})
	e, err := NewCAMLEnumerator(fake.client(), CAMLConfig[listItem]{
		SiteURL:   siteURL,
		ListID:    "test-list-id",
		Mode:      PagingToken,
		SkipCount: true,
		PageSize:  2,
	})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = e.FirstPage(ctx)
	require.NoError(t, err)
	assert.Len(t, fake.urls(), 1)
	assert.True(t, e.HasNextPage())

	page, err := e.NextPage(ctx)
	require.NoError(t, err)
	assert.Equal(t, []listItem{{ID: 1}}, page)
	assert.Equal(t, renderURL, fake.last().url, "token travels in the body")
	assert.False(t, e.HasNextPage(), "no NextHref on the last page")

	_, err = e.JumpToPage(ctx, 0)
	require.NoError(t, err)
	assert.True(t, e.HasNextPage())
}

func TestCAMLEnumerator_Error(t *testing.T) {
	fake := newFakeHTTP(func(method, u string, opts *client.RequestOptions) *client.Response {
		if method == http.MethodGet {
			return jsonResponse(t, http.StatusOK, map[string]any{"ItemCount": 5})
		}
		return textResponse(http.StatusBadRequest, "The query uses unsupported elements")
	})
	e, err := NewCAMLEnumerator(fake.client(), CAMLConfig[listItem]{SiteURL: siteURL, ListID: "test-list-id"})
	require.NoError(t, err)

	_, err = e.FirstPage(context.Background())
	assert.EqualError(t, err, "The query uses unsupported elements")

	_, err = NewCAMLEnumerator(fake.client(), CAMLConfig[listItem]{SiteURL: siteURL})
	assert.ErrorIs(t, err, ErrResourceRequired)
}
