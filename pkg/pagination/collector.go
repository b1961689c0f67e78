package pagination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/m365-client/pkg/logging"
)

// CollectorConfig holds collector configuration
type CollectorConfig struct {
	// MaxConcurrency is the maximum number of parallel page requests
	MaxConcurrency int
	// Timeout per page fetch
	Timeout time.Duration
}

// DefaultCollectorConfig returns a safe default configuration.
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		MaxConcurrency: 4,
		Timeout:        30 * time.Second,
	}
}

// pageFetcher is implemented by cursors whose pages can be addressed
// independently of cursor state.
type pageFetcher[T any] interface {
	pageAt(ctx context.Context, q Query, idx int) ([]T, error)
}

// Collector fetches every page of a started enumeration in parallel.
type Collector[T any] struct {
	config CollectorConfig
}

// NewCollector creates a collector.
func NewCollector[T any](config CollectorConfig) *Collector[T] {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &Collector[T]{config: config}
}

type pageResult[T any] struct {
	index int
	items []T
}

// CollectAll returns the items of every page in order. It starts with
// FirstPage when e has not been started and reuses that page. The
// enumerator's cursor stays on its current page.
func (c *Collector[T]) CollectAll(ctx context.Context, e *Enumerator[T]) ([]T, error) {
	logger := logging.NewLogger("pagination").With().Str("cursor", e.cursor.kind()).Logger()
	start := time.Now()

	fetcher, ok := e.cursor.(pageFetcher[T])
	if !ok {
		return nil, fmt.Errorf("%w: %s cursor", ErrJumpUnsupported, e.cursor.kind())
	}

	var first []T
	seeded := false
	if e.index < 0 || e.stale {
		items, err := e.FirstPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch first page: %w", err)
		}
		first, seeded = items, true
	}
	if e.total == CountUnknown || e.total == CountUnbounded {
		return nil, ErrCountRequired
	}

	q := e.query
	totalPages := (e.total + q.PageSize - 1) / q.PageSize
	if totalPages == 0 {
		return []T{}, nil
	}

	logger.Info().
		Int("total", e.total).
		Int("total_pages", totalPages).
		Msg("Starting parallel page fetch")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	from := 0
	if seeded {
		from = 1
	}
	pageQueue := make(chan int, totalPages)
	for i := from; i < totalPages; i++ {
		pageQueue <- i
	}
	close(pageQueue)

	results := make(chan pageResult[T], totalPages)
	errs := make(chan error, c.config.MaxConcurrency)

	var wg sync.WaitGroup
	for w := 0; w < c.config.MaxConcurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for idx := range pageQueue {
				if ctx.Err() != nil {
					return
				}

				pageCtx, pageCancel := context.WithTimeout(ctx, c.config.Timeout)
				items, err := fetcher.pageAt(pageCtx, q, idx)
				pageCancel()

				if err != nil {
					logger.Warn().
						Err(err).
						Int("worker_id", workerID).
						Int("page_index", idx).
						Msg("Page fetch failed")
					select {
					case errs <- fmt.Errorf("page %d: %w", idx, err):
					default:
					}
					cancel()
					return
				}
				pagesFetched.WithLabelValues(e.cursor.kind()).Inc()
				results <- pageResult[T]{index: idx, items: items}
			}
		}(w)
	}

	go func() {
		wg.Wait()
		close(results)
		close(errs)
	}()

	pages := make([][]T, totalPages)
	fetched := 0
	if seeded {
		pages[0] = first
		fetched = 1
	}
	for r := range results {
		pages[r.index] = r.items
		fetched++
		if fetched%50 == 0 {
			logger.Info().
				Int("fetched", fetched).
				Int("total", totalPages).
				Float64("progress_pct", float64(fetched)/float64(totalPages)*100).
				Msg("Fetch progress")
		}
	}

	if err := <-errs; err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil && fetched < totalPages {
		return nil, err
	}

	all := make([]T, 0, e.total)
	for _, p := range pages {
		all = append(all, p...)
	}

	logger.Info().
		Int("pages", fetched).
		Int("items", len(all)).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return all, nil
}
