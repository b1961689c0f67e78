package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/Sternrassler/m365-client/pkg/client"
	"github.com/Sternrassler/m365-client/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	// CountUnknown means the total has not been resolved.
	CountUnknown = -1

	// CountUnbounded means counting was skipped: a next page is assumed
	// until the server returns an empty page.
	CountUnbounded = math.MaxInt

	// DefaultPageSize is used when a config leaves PageSize at zero.
	DefaultPageSize = 25
)

// Errors returned by enumerators.
var (
	// ErrStaleCursor is returned by navigation after a query mutator ran.
	ErrStaleCursor = errors.New("query changed since the last fetch; call FirstPage")

	// ErrJumpUnsupported is returned when a cursor cannot address the requested page directly.
	ErrJumpUnsupported = errors.New("cursor cannot jump to an unvisited page")

	// ErrNotStarted is returned by navigation before FirstPage.
	ErrNotStarted = errors.New("enumeration not started; call FirstPage")

	// ErrPageOutOfRange is returned by JumpToPage for an index outside the known pages.
	ErrPageOutOfRange = errors.New("page index out of range")

	// ErrInvalidPageSize is returned for a page size that is not positive.
	ErrInvalidPageSize = errors.New("page size must be > 0")

	// ErrCountRequired is returned when the total count was skipped but is needed.
	ErrCountRequired = errors.New("total count required")

	// ErrResourceRequired is returned by constructors given no resource URL.
	ErrResourceRequired = errors.New("resource is required")
)

var pagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "m365_pages_fetched_total",
	Help: "Total pages fetched by cursor type",
}, []string{"cursor"})

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// Query is the mutable query state of an enumerator.
type Query struct {
	Filter   string
	OrderBy  string
	OrderDir Direction
	PageSize int
}

// odataOrder renders "$orderby" content, e.g. "Title desc".
func (q Query) odataOrder() string {
	if q.OrderBy == "" {
		return ""
	}
	if q.OrderDir == "" {
		return q.OrderBy
	}
	return q.OrderBy + " " + strings.ToLower(string(q.OrderDir))
}

// page is one fetched page. commit applies the cursor changes that the
// fetch implies; it runs only once the whole operation succeeded.
type page[T any] struct {
	items []T
	// total is an inline count carried by the page response, or CountUnknown
	total  int
	commit func()
}

// cursor is the protocol-specific half of an enumerator.
type cursor[T any] interface {
	kind() string
	first(ctx context.Context, q Query) (page[T], error)
	count(ctx context.Context, q Query) (int, error)
	// fetch retrieves page target while the enumerator is on current.
	fetch(ctx context.Context, q Query, current, target int) (page[T], error)
	hasNext(q Query, current, total int) bool
	canJump(current, target int) bool
}

// Enumerator walks a paged collection forwards, backwards, or by jumping.
type Enumerator[T any] struct {
	cursor cursor[T]
	query  Query

	index int
	total int
	// end is the index of the first empty page seen on an unbounded
	// enumeration, or -1
	end   int
	stale bool

	logger zerolog.Logger
}

func newEnumerator[T any](c cursor[T], q Query) *Enumerator[T] {
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}
	return &Enumerator[T]{
		cursor: c,
		query:  q,
		index:  -1,
		total:  CountUnknown,
		end:    -1,
		logger: logging.NewLogger("pagination").With().Str("cursor", c.kind()).Logger(),
	}
}

// SetFilter sets the filter expression used from the next FirstPage.
func (e *Enumerator[T]) SetFilter(expr string) {
	e.query.Filter = expr
	e.markStale()
}

// Filter returns the current filter expression.
func (e *Enumerator[T]) Filter() string {
	return e.query.Filter
}

// SetOrder sets the sort field and direction.
func (e *Enumerator[T]) SetOrder(field string, dir Direction) {
	e.query.OrderBy = field
	e.query.OrderDir = dir
	e.markStale()
}

// SetPageSize changes the page size.
func (e *Enumerator[T]) SetPageSize(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w (got %d)", ErrInvalidPageSize, n)
	}
	e.query.PageSize = n
	e.markStale()
	return nil
}

// PageSize returns the page size.
func (e *Enumerator[T]) PageSize() int {
	return e.query.PageSize
}

func (e *Enumerator[T]) markStale() {
	if e.index >= 0 {
		e.stale = true
	}
}

// FirstPage starts a new enumeration. The first page and the total count
// are fetched concurrently; the cursor only moves if both succeed.
func (e *Enumerator[T]) FirstPage(ctx context.Context) ([]T, error) {
	q := e.query

	var (
		p     page[T]
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		p, err = e.cursor.first(gctx, q)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = e.cursor.count(gctx, q)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	p.commit()
	e.index = 0
	e.stale = false
	e.end = -1
	e.total = total
	e.apply(p, 0)

	e.logger.Debug().
		Int("page_index", 0).
		Int("items", len(p.items)).
		Int("total", e.total).
		Msg("First page fetched")

	return p.items, nil
}

// NextPage advances one page. At the end of the enumeration it returns an
// empty page and no error.
func (e *Enumerator[T]) NextPage(ctx context.Context) ([]T, error) {
	if e.stale {
		return nil, ErrStaleCursor
	}
	if !e.HasNextPage() {
		return []T{}, nil
	}
	return e.move(ctx, e.index+1)
}

// PreviousPage goes back one page. On the first page it returns an empty
// page and no error.
func (e *Enumerator[T]) PreviousPage(ctx context.Context) ([]T, error) {
	if e.stale {
		return nil, ErrStaleCursor
	}
	if !e.HasPreviousPage() {
		return []T{}, nil
	}
	return e.move(ctx, e.index-1)
}

// JumpToPage fetches page idx directly. Cursors that depend on server
// continuation state can only jump to pages already visited.
func (e *Enumerator[T]) JumpToPage(ctx context.Context, idx int) ([]T, error) {
	if e.stale {
		return nil, ErrStaleCursor
	}
	if e.index < 0 {
		return nil, ErrNotStarted
	}
	if idx < 0 || (idx > 0 && e.total != CountUnknown && e.total != CountUnbounded && idx*e.query.PageSize >= e.total) {
		return nil, fmt.Errorf("%w: %d", ErrPageOutOfRange, idx)
	}
	if !e.cursor.canJump(e.index, idx) {
		return nil, fmt.Errorf("%w: %d", ErrJumpUnsupported, idx)
	}
	return e.move(ctx, idx)
}

func (e *Enumerator[T]) move(ctx context.Context, target int) ([]T, error) {
	p, err := e.cursor.fetch(ctx, e.query, e.index, target)
	if err != nil {
		return nil, err
	}

	p.commit()
	e.index = target
	e.apply(p, target)

	e.logger.Debug().
		Int("page_index", target).
		Int("items", len(p.items)).
		Msg("Page fetched")

	return p.items, nil
}

func (e *Enumerator[T]) apply(p page[T], idx int) {
	pagesFetched.WithLabelValues(e.cursor.kind()).Inc()
	if p.total != CountUnknown {
		e.total = p.total
	}
	if e.total == CountUnbounded && len(p.items) == 0 && (e.end < 0 || idx < e.end) {
		e.end = idx
	}
}

// HasNextPage reports whether NextPage would fetch a page.
func (e *Enumerator[T]) HasNextPage() bool {
	if e.stale || e.index < 0 {
		return false
	}
	if e.end >= 0 && e.index+1 >= e.end {
		return false
	}
	return e.cursor.hasNext(e.query, e.index, e.total)
}

// HasPreviousPage reports whether PreviousPage would fetch a page.
func (e *Enumerator[T]) HasPreviousPage() bool {
	return !e.stale && e.index > 0
}

// CurrentPageIndex returns the 0-based index of the current page, or -1
// before FirstPage.
func (e *Enumerator[T]) CurrentPageIndex() int {
	return e.index
}

// TotalCount returns the resolved total, CountUnknown or CountUnbounded.
func (e *Enumerator[T]) TotalCount() int {
	return e.total
}

// countBased is the shared next-page rule for cursors with a known total.
func countBased(q Query, current, total int) bool {
	if total == CountUnknown {
		return false
	}
	if total == CountUnbounded {
		return true
	}
	return (current+1)*q.PageSize < total
}

// decodeItems maps raw items with fn, or unmarshals them into T.
func decodeItems[T any](raw []json.RawMessage, fn func(json.RawMessage) (T, error)) ([]T, error) {
	items := make([]T, 0, len(raw))
	for i, r := range raw {
		var (
			item T
			err  error
		)
		if fn != nil {
			item, err = fn(r)
		} else {
			err = json.Unmarshal(r, &item)
		}
		if err != nil {
			return nil, fmt.Errorf("decode item %d: %w", i, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// send performs a request and decodes a 2xx JSON body into v. Non-2xx
// responses become *client.HTTPError carrying the body text.
func send(ctx context.Context, c client.HTTPClient, method, url string, opts *client.RequestOptions, v any) error {
	resp, err := client.Send(ctx, c, method, url, opts)
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	return resp.JSON(v)
}
