package pagination

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/Sternrassler/m365-client/pkg/client"
)

// GraphConfig configures a Graph nextLink enumerator.
type GraphConfig[T any] struct {
	// Resource is the collection URL, e.g. https://graph.microsoft.com/v1.0/users
	Resource string

	Expand string
	Select string

	// SkipCount disables the $count request; TotalCount stays CountUnknown.
	SkipCount bool

	PageSize int

	Map func(json.RawMessage) (T, error)
}

// linkCursor follows server-issued continuation links and replays
// previously issued URLs to go back.
type linkCursor[T any] struct {
	client    client.HTTPClient
	resource  string
	expand    string
	selectQ   string
	skipCount bool
	decode    func(json.RawMessage) (T, error)

	// history[i] is the URL that produced page i
	history []string
	next    string
}

// NewGraphEnumerator creates an enumerator over a Graph collection.
func NewGraphEnumerator[T any](c client.HTTPClient, cfg GraphConfig[T]) (*Enumerator[T], error) {
	if cfg.Resource == "" {
		return nil, ErrResourceRequired
	}
	if cfg.PageSize < 0 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidPageSize, cfg.PageSize)
	}
	cur := &linkCursor[T]{
		client:    c,
		resource:  strings.TrimRight(cfg.Resource, "/"),
		expand:    cfg.Expand,
		selectQ:   cfg.Select,
		skipCount: cfg.SkipCount,
		decode:    cfg.Map,
	}
	return newEnumerator[T](cur, Query{PageSize: cfg.PageSize}), nil
}

func (c *linkCursor[T]) kind() string { return "link" }

func (c *linkCursor[T]) get(ctx context.Context, u string) ([]T, string, error) {
	var body odataPage
	if err := send(ctx, c.client, http.MethodGet, u, nil, &body); err != nil {
		return nil, "", err
	}
	items, err := decodeItems(body.Value, c.decode)
	if err != nil {
		return nil, "", err
	}
	return items, body.NextLink, nil
}

func (c *linkCursor[T]) first(ctx context.Context, q Query) (page[T], error) {
	u := odataURL(c.resource, q, c.expand, c.selectQ)
	items, next, err := c.get(ctx, u)
	if err != nil {
		return page[T]{}, err
	}
	return page[T]{
		items: items,
		total: CountUnknown,
		commit: func() {
			c.history = []string{u}
			c.next = next
		},
	}, nil
}

func (c *linkCursor[T]) count(ctx context.Context, q Query) (int, error) {
	if c.skipCount {
		return CountUnknown, nil
	}
	opts := &client.RequestOptions{Header: http.Header{"ConsistencyLevel": {"eventual"}}}
	return fetchCount(ctx, c.client, c.resource, q.Filter, opts)
}

func (c *linkCursor[T]) fetch(ctx context.Context, q Query, current, target int) (page[T], error) {
	var u string
	switch {
	case target == current+1 && c.next != "":
		u = c.next
	case target < len(c.history):
		u = c.history[target]
	default:
		return page[T]{}, fmt.Errorf("%w: %d", ErrJumpUnsupported, target)
	}

	items, next, err := c.get(ctx, u)
	if err != nil {
		return page[T]{}, err
	}
	return page[T]{
		items: items,
		total: CountUnknown,
		commit: func() {
			if target >= len(c.history) || c.history[target] != u {
				c.history = append(c.history[:min(target, len(c.history))], u)
			}
			c.next = next
		},
	}, nil
}

func (c *linkCursor[T]) hasNext(_ Query, _, _ int) bool {
	return c.next != ""
}

func (c *linkCursor[T]) canJump(current, target int) bool {
	return target < len(c.history) || (target == current+1 && c.next != "")
}
