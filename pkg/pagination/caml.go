package pagination

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Sternrassler/m365-client/pkg/client"
	"github.com/Sternrassler/m365-client/pkg/query"
)

// PagingMode selects how a CAML enumerator decides a next page exists.
type PagingMode int

const (
	// PagingIndex compares the page index with the list item count.
	PagingIndex PagingMode = iota
	// PagingToken relies on the NextHref token in each response.
	PagingToken
)

// countRowLimit is the page size used when draining a filtered count.
const countRowLimit = 5000

// CAMLConfig configures a SharePoint RenderListDataAsStream enumerator.
type CAMLConfig[T any] struct {
	SiteURL string
	ListID  string

	// ViewFields limits the returned columns
	ViewFields []string

	Mode PagingMode

	// SkipCount disables the count request. Only meaningful with PagingToken.
	SkipCount bool

	PageSize int

	Map func(json.RawMessage) (T, error)
}

type camlRequest struct {
	url    string
	paging string
}

type camlPage struct {
	Row      []json.RawMessage `json:"Row"`
	NextHref string            `json:"NextHref"`
	LastRow  int               `json:"LastRow"`
}

// camlCursor pages RenderListDataAsStream. The next request threads the
// server's NextHref token when present and otherwise composes the legacy
// p_{field}/p_ID/PageFirstRow continuation from the last row.
type camlCursor[T any] struct {
	client     client.HTTPClient
	siteURL    string
	listID     string
	viewFields []string
	mode       PagingMode
	skipCount  bool
	decode     func(json.RawMessage) (T, error)

	// history[i] is the request that produced page i
	history []camlRequest
	next    *camlRequest
}

// NewCAMLEnumerator creates an enumerator over a SharePoint list. The
// default order is ID descending.
func NewCAMLEnumerator[T any](c client.HTTPClient, cfg CAMLConfig[T]) (*Enumerator[T], error) {
	if cfg.SiteURL == "" || cfg.ListID == "" {
		return nil, fmt.Errorf("%w: site url and list id", ErrResourceRequired)
	}
	if cfg.PageSize < 0 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidPageSize, cfg.PageSize)
	}
	cur := &camlCursor[T]{
		client:     c,
		siteURL:    strings.TrimRight(cfg.SiteURL, "/"),
		listID:     cfg.ListID,
		viewFields: cfg.ViewFields,
		mode:       cfg.Mode,
		skipCount:  cfg.SkipCount,
		decode:     cfg.Map,
	}
	return newEnumerator[T](cur, Query{OrderBy: "ID", OrderDir: Desc, PageSize: cfg.PageSize}), nil
}

func (c *camlCursor[T]) kind() string { return "caml" }

func (c *camlCursor[T]) listURL() string {
	return fmt.Sprintf("%s/_api/web/lists('%s')", c.siteURL, c.listID)
}

func (c *camlCursor[T]) renderURL() string {
	return c.listURL() + "/RenderListDataAsStream"
}

func camlHeaders() http.Header {
	return http.Header{
		"Content-Type":  {"application/json;odata=nometadata"},
		"Accept":        {"application/json;odata=nometadata"},
		"Odata-Version": {"3.0"},
	}
}

// viewXML renders the View for q.
func (c *camlCursor[T]) viewXML(q Query) string {
	var b strings.Builder
	b.WriteString(`<View Scope="RecursiveAll"><Query>`)
	b.WriteString(query.Where(q.Filter))
	if q.OrderBy != "" {
		b.WriteString(query.OrderBy(q.OrderBy, q.OrderDir == Asc))
	}
	b.WriteString("</Query>")
	b.WriteString(query.ViewFields(c.viewFields...))
	fmt.Fprintf(&b, "<RowLimit Paged='True'>%d</RowLimit></View>", q.PageSize)
	return b.String()
}

func renderBody(viewXML, paging string) ([]byte, error) {
	params := map[string]any{
		"RenderOptions": 2,
		"ViewXml":       viewXML,
	}
	if paging != "" {
		params["Paging"] = paging
	}
	return json.Marshal(map[string]any{"parameters": params})
}

func (c *camlCursor[T]) render(ctx context.Context, req camlRequest, viewXML string) (*camlPage, error) {
	body, err := renderBody(viewXML, req.paging)
	if err != nil {
		return nil, err
	}
	var out camlPage
	opts := &client.RequestOptions{Header: camlHeaders(), Body: body}
	if err := send(ctx, c.client, http.MethodPost, req.url, opts, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *camlCursor[T]) get(ctx context.Context, q Query, req camlRequest, idx int, reset bool) (page[T], error) {
	out, err := c.render(ctx, req, c.viewXML(q))
	if err != nil {
		return page[T]{}, err
	}
	items, err := decodeItems(out.Row, c.decode)
	if err != nil {
		return page[T]{}, err
	}

	next, err := c.nextRequest(q, out, idx)
	if err != nil {
		return page[T]{}, err
	}

	return page[T]{
		items: items,
		total: CountUnknown,
		commit: func() {
			if reset {
				c.history = nil
			}
			if idx < len(c.history) {
				c.history[idx] = req
			} else {
				c.history = append(c.history, req)
			}
			c.next = next
		},
	}, nil
}

// nextRequest derives the continuation for the page after idx.
func (c *camlCursor[T]) nextRequest(q Query, out *camlPage, idx int) (*camlRequest, error) {
	if out.NextHref != "" {
		return &camlRequest{url: c.renderURL(), paging: strings.TrimPrefix(out.NextHref, "?")}, nil
	}
	if c.mode == PagingToken || len(out.Row) == 0 {
		return nil, nil
	}

	var last map[string]any
	dec := json.NewDecoder(bytes.NewReader(out.Row[len(out.Row)-1]))
	dec.UseNumber()
	if err := dec.Decode(&last); err != nil {
		return nil, fmt.Errorf("decode last row: %w", err)
	}

	lastRow := out.LastRow
	if lastRow == 0 {
		lastRow = idx*q.PageSize + len(out.Row)
	}

	id := fmt.Sprint(last["ID"])
	params := "Paged=TRUE"
	if q.OrderBy != "" && q.OrderBy != "ID" {
		params += fmt.Sprintf("&p_%s=%s", q.OrderBy, url.QueryEscape(fmt.Sprint(last[q.OrderBy])))
	}
	params += fmt.Sprintf("&p_ID=%s&PageFirstRow=%d", url.QueryEscape(id), lastRow+1)

	return &camlRequest{url: c.renderURL() + "?" + params}, nil
}

func (c *camlCursor[T]) first(ctx context.Context, q Query) (page[T], error) {
	return c.get(ctx, q, camlRequest{url: c.renderURL()}, 0, true)
}

// count returns the list item count. With a filter there is no server-side
// count, so an ID-only query is drained page by page.
func (c *camlCursor[T]) count(ctx context.Context, q Query) (int, error) {
	if c.skipCount {
		return CountUnknown, nil
	}

	if q.Filter == "" {
		var meta struct {
			ItemCount int `json:"ItemCount"`
		}
		opts := &client.RequestOptions{Header: camlHeaders()}
		if err := send(ctx, c.client, http.MethodGet, c.listURL()+"?$select=ItemCount", opts, &meta); err != nil {
			return 0, err
		}
		return meta.ItemCount, nil
	}

	view := fmt.Sprintf(`<View Scope="RecursiveAll"><Query>%s</Query>%s<RowLimit Paged='True'>%d</RowLimit></View>`,
		query.Where(q.Filter), query.ViewFields("ID"), countRowLimit)

	total := 0
	req := camlRequest{url: c.renderURL()}
	for {
		out, err := c.render(ctx, req, view)
		if err != nil {
			return 0, err
		}
		total += len(out.Row)
		if out.NextHref == "" || len(out.Row) == 0 {
			return total, nil
		}
		req.paging = strings.TrimPrefix(out.NextHref, "?")
	}
}

func (c *camlCursor[T]) fetch(ctx context.Context, q Query, current, target int) (page[T], error) {
	var req camlRequest
	switch {
	case target == current+1 && c.next != nil:
		req = *c.next
	case target < len(c.history):
		req = c.history[target]
	default:
		return page[T]{}, fmt.Errorf("%w: %d", ErrJumpUnsupported, target)
	}
	return c.get(ctx, q, req, target, false)
}

func (c *camlCursor[T]) hasNext(q Query, current, total int) bool {
	if c.mode == PagingToken {
		return c.next != nil
	}
	if total == CountUnknown {
		return c.next != nil
	}
	return c.next != nil && countBased(q, current, total)
}

func (c *camlCursor[T]) canJump(current, target int) bool {
	return target < len(c.history) || (target == current+1 && c.next != nil)
}
