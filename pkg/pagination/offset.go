package pagination

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Sternrassler/m365-client/pkg/client"
)

// ODataConfig configures an OData $top/$skip enumerator.
type ODataConfig[T any] struct {
	// Resource is the collection URL, e.g. https://graph.microsoft.com/v1.0/users
	Resource string

	Expand string
	Select string

	// SkipCount disables the $count request. The total becomes
	// CountUnbounded and the enumeration ends at the first empty page.
	SkipCount bool

	PageSize int

	// Map converts one raw item. Defaults to json.Unmarshal into T.
	Map func(json.RawMessage) (T, error)
}

// DataverseConfig configures a Dataverse Web API enumerator.
type DataverseConfig[T any] struct {
	// Environment is the org URL, e.g. https://contoso.crm.dynamics.com
	Environment string
	Table       string

	Expand string
	Select string

	PageSize int

	Map func(json.RawMessage) (T, error)
}

type odataPage struct {
	Value    []json.RawMessage `json:"value"`
	NextLink string            `json:"@odata.nextLink"`
	Count    *int              `json:"@odata.count"`
}

// offsetCursor pages with $skip, preferring a server-issued nextLink for
// an index when one was captured.
type offsetCursor[T any] struct {
	client    client.HTTPClient
	resource  string
	expand    string
	selectQ   string
	skipCount bool
	dataverse bool
	decode    func(json.RawMessage) (T, error)

	// links[i] is the nextLink captured for page i
	links map[int]string
}

// NewODataEnumerator creates an offset enumerator over an OData collection.
func NewODataEnumerator[T any](c client.HTTPClient, cfg ODataConfig[T]) (*Enumerator[T], error) {
	if cfg.Resource == "" {
		return nil, ErrResourceRequired
	}
	if cfg.PageSize < 0 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidPageSize, cfg.PageSize)
	}
	cur := &offsetCursor[T]{
		client:    c,
		resource:  strings.TrimRight(cfg.Resource, "/"),
		expand:    cfg.Expand,
		selectQ:   cfg.Select,
		skipCount: cfg.SkipCount,
		decode:    cfg.Map,
		links:     map[int]string{},
	}
	return newEnumerator[T](cur, Query{PageSize: cfg.PageSize}), nil
}

// NewDataverseEnumerator creates an enumerator over a Dataverse table. The
// total comes inline from @odata.count and paging follows nextLink, so
// jumps are limited to pages already reached.
func NewDataverseEnumerator[T any](c client.HTTPClient, cfg DataverseConfig[T]) (*Enumerator[T], error) {
	if cfg.Environment == "" || cfg.Table == "" {
		return nil, fmt.Errorf("%w: environment and table", ErrResourceRequired)
	}
	if cfg.PageSize < 0 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidPageSize, cfg.PageSize)
	}
	cur := &offsetCursor[T]{
		client:    c,
		resource:  fmt.Sprintf("%s/api/data/v9.0/%s", strings.TrimRight(cfg.Environment, "/"), cfg.Table),
		expand:    cfg.Expand,
		selectQ:   cfg.Select,
		dataverse: true,
		decode:    cfg.Map,
		links:     map[int]string{},
	}
	return newEnumerator[T](cur, Query{PageSize: cfg.PageSize}), nil
}

func (c *offsetCursor[T]) kind() string {
	if c.dataverse {
		return "dataverse"
	}
	return "offset"
}

// odataURL builds {resource}?$top=N[&$orderby][&$filter][&$expand][&$select].
func odataURL(resource string, q Query, expand, selectQ string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s?$top=%d", resource, q.PageSize)
	if order := q.odataOrder(); order != "" {
		b.WriteString("&$orderby=" + order)
	}
	if q.Filter != "" {
		b.WriteString("&$filter=" + q.Filter)
	}
	if expand != "" {
		b.WriteString("&$expand=" + expand)
	}
	if selectQ != "" {
		b.WriteString("&$select=" + selectQ)
	}
	return b.String()
}

func (c *offsetCursor[T]) pageURL(q Query, idx int) string {
	if c.dataverse {
		params := make([]string, 0, 5)
		if order := q.odataOrder(); order != "" {
			params = append(params, "$orderby="+order)
		}
		if q.Filter != "" {
			params = append(params, "$filter="+q.Filter)
		}
		if c.expand != "" {
			params = append(params, "$expand="+c.expand)
		}
		if c.selectQ != "" {
			params = append(params, "$select="+c.selectQ)
		}
		params = append(params, "$count=true")
		return c.resource + "?" + strings.Join(params, "&")
	}

	u := odataURL(c.resource, q, c.expand, c.selectQ)
	if skip := idx * q.PageSize; skip > 0 {
		u += "&$skip=" + strconv.Itoa(skip)
	}
	return u
}

func (c *offsetCursor[T]) options(q Query) *client.RequestOptions {
	if !c.dataverse {
		return nil
	}
	return &client.RequestOptions{Header: http.Header{
		"Prefer":           {fmt.Sprintf("odata.maxpagesize=%d", q.PageSize)},
		"OData-MaxVersion": {"4.0"},
		"OData-Version":    {"4.0"},
		"Accept":           {"application/json"},
	}}
}

func (c *offsetCursor[T]) get(ctx context.Context, q Query, url string, reset bool, idx int) (page[T], error) {
	var body odataPage
	if err := send(ctx, c.client, http.MethodGet, url, c.options(q), &body); err != nil {
		return page[T]{}, err
	}
	items, err := decodeItems(body.Value, c.decode)
	if err != nil {
		return page[T]{}, err
	}

	total := CountUnknown
	if c.dataverse && body.Count != nil {
		total = *body.Count
	}

	return page[T]{
		items: items,
		total: total,
		commit: func() {
			if reset {
				c.links = map[int]string{}
			}
			if body.NextLink != "" {
				c.links[idx+1] = body.NextLink
			} else {
				delete(c.links, idx+1)
			}
		},
	}, nil
}

func (c *offsetCursor[T]) first(ctx context.Context, q Query) (page[T], error) {
	return c.get(ctx, q, c.pageURL(q, 0), true, 0)
}

func (c *offsetCursor[T]) count(ctx context.Context, q Query) (int, error) {
	if c.dataverse {
		return CountUnknown, nil
	}
	if c.skipCount {
		return CountUnbounded, nil
	}
	return fetchCount(ctx, c.client, c.resource, q.Filter, nil)
}

// fetchCount reads a plain-text {resource}/$count.
func fetchCount(ctx context.Context, hc client.HTTPClient, resource, filter string, opts *client.RequestOptions) (int, error) {
	u := resource + "/$count"
	if filter != "" {
		u += "?$filter=" + filter
	}
	resp, err := hc.Get(ctx, u, opts)
	if err != nil {
		return 0, err
	}
	if err := resp.Err(); err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(resp.Text(), "\ufeff")))
	if err != nil {
		return 0, fmt.Errorf("parse count: %w", err)
	}
	return n, nil
}

func (c *offsetCursor[T]) fetch(ctx context.Context, q Query, current, target int) (page[T], error) {
	u, ok := c.links[target]
	if !ok {
		if c.dataverse && target > 0 {
			return page[T]{}, fmt.Errorf("%w: %d", ErrJumpUnsupported, target)
		}
		u = c.pageURL(q, target)
	}
	return c.get(ctx, q, u, false, target)
}

func (c *offsetCursor[T]) hasNext(q Query, current, total int) bool {
	if c.links[current+1] != "" {
		return true
	}
	if c.dataverse {
		return false
	}
	return countBased(q, current, total)
}

func (c *offsetCursor[T]) canJump(current, target int) bool {
	if !c.dataverse || target == 0 {
		return true
	}
	_, ok := c.links[target]
	return ok
}

// pageAt fetches page idx without touching cursor state.
func (c *offsetCursor[T]) pageAt(ctx context.Context, q Query, idx int) ([]T, error) {
	if c.dataverse {
		return nil, fmt.Errorf("%w: %d", ErrJumpUnsupported, idx)
	}
	var body odataPage
	if err := send(ctx, c.client, http.MethodGet, c.pageURL(q, idx), nil, &body); err != nil {
		return nil, err
	}
	return decodeItems(body.Value, c.decode)
}
