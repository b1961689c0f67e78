package pagination

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/Sternrassler/m365-client/pkg/client"
	"github.com/Sternrassler/m365-client/pkg/logging"
	"github.com/rs/zerolog"
)

// DefaultSearchEndpoint is the Graph search endpoint.
const DefaultSearchEndpoint = "https://graph.microsoft.com/v1.0/search/query"

// AggregationRequest asks the search service for refiner buckets.
type AggregationRequest struct {
	Field            string            `json:"field"`
	Size             int               `json:"size,omitempty"`
	BucketDefinition *BucketDefinition `json:"bucketDefinition,omitempty"`
}

// BucketDefinition controls how buckets are sorted and filtered.
type BucketDefinition struct {
	SortBy       string `json:"sortBy"`
	IsDescending bool   `json:"isDescending"`
	MinimumCount int    `json:"minimumCount"`
}

// Aggregation is one refiner returned with search results.
type Aggregation struct {
	Field   string   `json:"field"`
	Buckets []Bucket `json:"buckets"`
}

// Bucket is one refiner value.
type Bucket struct {
	Key                    string `json:"key"`
	Count                  int    `json:"count"`
	AggregationFilterToken string `json:"aggregationFilterToken"`
}

// Hit is one search result.
type Hit struct {
	HitID    string          `json:"hitId"`
	Rank     int             `json:"rank"`
	Summary  string          `json:"summary"`
	Resource json.RawMessage `json:"resource"`
}

// SearchConfig configures a Graph search enumerator.
type SearchConfig[T any] struct {
	// Endpoint defaults to DefaultSearchEndpoint
	Endpoint string

	// EntityTypes defaults to listItem
	EntityTypes []string

	// Fields to return. Defaults to id, title and url.
	Fields []string

	// QueryTemplate is passed through, e.g. "{searchTerms} AND ContentType:Document"
	QueryTemplate string

	Aggregations []AggregationRequest

	PageSize int

	// Map converts one hit. Defaults to json.Unmarshal of the hit resource.
	Map func(Hit) (T, error)
}

type searchSort struct {
	Name         string `json:"name"`
	IsDescending bool   `json:"isDescending"`
}

type searchQuery struct {
	QueryString   string `json:"queryString"`
	QueryTemplate string `json:"queryTemplate,omitempty"`
}

type searchRequest struct {
	EntityTypes        []string             `json:"entityTypes"`
	Query              searchQuery          `json:"query"`
	From               int                  `json:"from"`
	Size               int                  `json:"size"`
	Fields             []string             `json:"fields,omitempty"`
	SortProperties     []searchSort         `json:"sortProperties,omitempty"`
	Aggregations       []AggregationRequest `json:"aggregations,omitempty"`
	AggregationFilters []string             `json:"aggregationFilters,omitempty"`
}

type searchResponse struct {
	Value []struct {
		HitsContainers []struct {
			Hits                 []Hit           `json:"hits"`
			Total                int             `json:"total"`
			MoreResultsAvailable bool            `json:"moreResultsAvailable"`
			Aggregations         json.RawMessage `json:"aggregations"`
		} `json:"hitsContainers"`
	} `json:"value"`
}

// searchCursor pages with from/size; every page is independently
// addressable.
type searchCursor[T any] struct {
	client        client.HTTPClient
	endpoint      string
	entityTypes   []string
	fields        []string
	queryTemplate string
	decode        func(Hit) (T, error)
	logger        zerolog.Logger

	mu           sync.Mutex
	aggregations []AggregationRequest
	filters      []string
	current      []Aggregation
}

// SearchEnumerator is an Enumerator over Graph search results that also
// exposes refiner aggregations.
type SearchEnumerator[T any] struct {
	*Enumerator[T]
	cursor *searchCursor[T]
}

// NewSearchEnumerator creates a Graph search enumerator. The filter set
// with SetFilter is the KQL query string; empty means "*".
func NewSearchEnumerator[T any](c client.HTTPClient, cfg SearchConfig[T]) (*SearchEnumerator[T], error) {
	if cfg.PageSize < 0 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidPageSize, cfg.PageSize)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultSearchEndpoint
	}
	if len(cfg.EntityTypes) == 0 {
		cfg.EntityTypes = []string{"listItem"}
	}
	if cfg.Fields == nil {
		cfg.Fields = []string{"id", "title", "url"}
	}
	cur := &searchCursor[T]{
		client:        c,
		endpoint:      cfg.Endpoint,
		entityTypes:   cfg.EntityTypes,
		fields:        cfg.Fields,
		queryTemplate: cfg.QueryTemplate,
		decode:        cfg.Map,
		aggregations:  cfg.Aggregations,
		logger:        logging.NewLogger("pagination").With().Str("cursor", "search").Logger(),
	}
	return &SearchEnumerator[T]{
		Enumerator: newEnumerator[T](cur, Query{PageSize: cfg.PageSize}),
		cursor:     cur,
	}, nil
}

// SetAggregations replaces the requested refiners.
func (s *SearchEnumerator[T]) SetAggregations(reqs []AggregationRequest) {
	s.cursor.mu.Lock()
	s.cursor.aggregations = reqs
	s.cursor.mu.Unlock()
	s.markStale()
}

// ApplyRefiners restricts results with aggregation filter tokens, each
// formatted as "field:token".
func (s *SearchEnumerator[T]) ApplyRefiners(filters []string) {
	s.cursor.mu.Lock()
	s.cursor.filters = filters
	s.cursor.mu.Unlock()
	s.markStale()
}

// Aggregations returns the refiners of the last fetched page.
func (s *SearchEnumerator[T]) Aggregations() []Aggregation {
	s.cursor.mu.Lock()
	defer s.cursor.mu.Unlock()
	return s.cursor.current
}

func (c *searchCursor[T]) kind() string { return "search" }

func (c *searchCursor[T]) request(q Query, idx int) ([]byte, error) {
	c.mu.Lock()
	aggs, filters := c.aggregations, c.filters
	c.mu.Unlock()

	qs := q.Filter
	if qs == "" {
		qs = "*"
	}
	req := searchRequest{
		EntityTypes:        c.entityTypes,
		Query:              searchQuery{QueryString: qs, QueryTemplate: c.queryTemplate},
		From:               idx * q.PageSize,
		Size:               q.PageSize,
		Fields:             c.fields,
		Aggregations:       aggs,
		AggregationFilters: filters,
	}
	if q.OrderBy != "" {
		req.SortProperties = []searchSort{{Name: q.OrderBy, IsDescending: q.OrderDir == Desc}}
	}
	return json.Marshal(map[string]any{"requests": []searchRequest{req}})
}

func (c *searchCursor[T]) get(ctx context.Context, q Query, idx int) (page[T], error) {
	body, err := c.request(q, idx)
	if err != nil {
		return page[T]{}, err
	}

	var out searchResponse
	opts := &client.RequestOptions{
		Header: http.Header{"Content-Type": {"application/json"}, "Accept": {"application/json"}},
		Body:   body,
	}
	if err := send(ctx, c.client, http.MethodPost, c.endpoint, opts, &out); err != nil {
		return page[T]{}, err
	}

	if len(out.Value) == 0 || len(out.Value[0].HitsContainers) == 0 {
		return page[T]{items: []T{}, total: 0, commit: func() {
			c.mu.Lock()
			c.current = []Aggregation{}
			c.mu.Unlock()
		}}, nil
	}
	container := out.Value[0].HitsContainers[0]

	items := make([]T, 0, len(container.Hits))
	for i, hit := range container.Hits {
		var (
			item T
			err  error
		)
		if c.decode != nil {
			item, err = c.decode(hit)
		} else {
			err = json.Unmarshal(hit.Resource, &item)
		}
		if err != nil {
			return page[T]{}, fmt.Errorf("decode hit %d: %w", i, err)
		}
		items = append(items, item)
	}

	aggs := c.parseAggregations(container.Aggregations)

	return page[T]{
		items: items,
		total: container.Total,
		commit: func() {
			c.mu.Lock()
			c.current = aggs
			c.mu.Unlock()
		},
	}, nil
}

// parseAggregations is best effort: a malformed payload yields no
// aggregations instead of failing the page.
func (c *searchCursor[T]) parseAggregations(raw json.RawMessage) []Aggregation {
	if len(raw) == 0 || string(raw) == "null" {
		return []Aggregation{}
	}
	var aggs []Aggregation
	if err := json.Unmarshal(raw, &aggs); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to parse search aggregations")
		return []Aggregation{}
	}
	return aggs
}

func (c *searchCursor[T]) first(ctx context.Context, q Query) (page[T], error) {
	return c.get(ctx, q, 0)
}

// count is carried inline by each search page.
func (c *searchCursor[T]) count(context.Context, Query) (int, error) {
	return CountUnknown, nil
}

func (c *searchCursor[T]) fetch(ctx context.Context, q Query, _, target int) (page[T], error) {
	return c.get(ctx, q, target)
}

func (c *searchCursor[T]) hasNext(q Query, current, total int) bool {
	return countBased(q, current, total)
}

func (c *searchCursor[T]) canJump(_, _ int) bool {
	return true
}

// pageAt fetches page idx without touching cursor state.
func (c *searchCursor[T]) pageAt(ctx context.Context, q Query, idx int) ([]T, error) {
	p, err := c.get(ctx, q, idx)
	if err != nil {
		return nil, err
	}
	return p.items, nil
}
