package batch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/m365-client/pkg/client"
	"github.com/Sternrassler/m365-client/pkg/logging"
	"github.com/rs/zerolog"
)

// ErrUnmatched is returned to a caller whose sub-response could not be
// found in any batch response.
var ErrUnmatched = errors.New("no sub-response for batched request")

// Config holds coordinator configuration.
type Config struct {
	Codec Codec

	// WaitTime is the collection window opened by the first call.
	WaitTime time.Duration

	// SplitThreshold is the provider's maximum number of requests per batch.
	SplitThreshold int

	// MaxRetries bounds the re-executions of a chunk with unmatched entries.
	MaxRetries int

	// RetryDelay is the pause before each re-execution.
	RetryDelay time.Duration

	// Bypass lists URL substrings (case-insensitive) that go straight to
	// the inner client.
	Bypass []string
}

// DefaultConfig returns the Graph JSON batch configuration.
func DefaultConfig() Config {
	return Config{
		Codec:          JSONCodec{},
		WaitTime:       500 * time.Millisecond,
		SplitThreshold: 15,
		MaxRetries:     5,
		RetryDelay:     100 * time.Millisecond,
	}
}

// DefaultSharePointConfig batches against {siteURL}/_api/$batch. The v2.1
// API and search postquery do not support batching.
func DefaultSharePointConfig(siteURL string) Config {
	cfg := DefaultConfig()
	cfg.Codec = MultipartCodec{URL: strings.TrimRight(siteURL, "/") + "/_api/$batch"}
	cfg.Bypass = []string{"/_api/v2.1", "/_api/search/postquery"}
	return cfg
}

// DefaultDataverseConfig batches against {envURL}/api/data/v9.2/$batch.
func DefaultDataverseConfig(envURL string) Config {
	cfg := DefaultConfig()
	cfg.Codec = MultipartCodec{URL: strings.TrimRight(envURL, "/") + "/api/data/v9.2/$batch"}
	return cfg
}

type result struct {
	resp *client.Response
	err  error
}

type entry struct {
	Entry
	waiters []chan result
}

func (e *entry) resolve(resp *client.Response) {
	for i, w := range e.waiters {
		r := resp
		if i > 0 {
			r = cloneResponse(resp)
		}
		w <- result{resp: r}
	}
}

func (e *entry) reject(err error) {
	for _, w := range e.waiters {
		w <- result{err: err}
	}
}

type pendingBatch struct {
	ctx     context.Context
	entries []*entry
	byID    map[string]*entry
}

// Coordinator is a batching client.HTTPClient decorator. One coordinator
// owns the pending batch for one batch endpoint.
type Coordinator struct {
	client.RequestFunc

	inner  client.HTTPClient
	config Config
	ids    IDGenerator
	logger zerolog.Logger

	mu      sync.Mutex
	pending *pendingBatch
	timer   *time.Timer
	gen     uint64
}

// New creates a coordinator in front of inner.
func New(inner client.HTTPClient, cfg Config) (*Coordinator, error) {
	if inner == nil {
		return nil, errors.New("inner client is required")
	}
	if cfg.Codec == nil {
		return nil, errors.New("codec is required")
	}
	if cfg.Codec.Endpoint() == "" {
		return nil, errors.New("batch endpoint is required")
	}
	if cfg.WaitTime < 0 {
		return nil, fmt.Errorf("wait_time must be >= 0 (got %s)", cfg.WaitTime)
	}
	if cfg.SplitThreshold < 1 {
		return nil, fmt.Errorf("split_threshold must be >= 1 (got %d)", cfg.SplitThreshold)
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max_retries must be >= 0 (got %d)", cfg.MaxRetries)
	}

	c := &Coordinator{
		inner:  inner,
		config: cfg,
		logger: logging.NewLogger("batch").With().Str("codec", cfg.Codec.kind()).Logger(),
	}
	c.RequestFunc = c.do
	return c, nil
}

func (c *Coordinator) do(ctx context.Context, method, url string, opts *client.RequestOptions) (*client.Response, error) {
	if c.direct(method, url) {
		bypassTotal.Inc()
		return client.Send(ctx, c.inner, method, url, opts)
	}

	ch := c.enqueue(ctx, method, url, opts)
	select {
	case r := <-ch:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) direct(method, url string) bool {
	if method != http.MethodGet && method != http.MethodPost {
		return true
	}
	lower := strings.ToLower(url)
	for _, b := range c.config.Bypass {
		if strings.Contains(lower, strings.ToLower(b)) {
			return true
		}
	}
	return false
}

// enqueue adds the call to the collecting batch. The first entry arms the
// flush timer.
func (c *Coordinator) enqueue(ctx context.Context, method, rawURL string, opts *client.RequestOptions) <-chan result {
	ch := make(chan result, 1)
	u := c.config.Codec.entryURL(rawURL)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == nil {
		c.pending = &pendingBatch{ctx: context.WithoutCancel(ctx), byID: make(map[string]*entry)}
		gen := c.gen
		c.timer = time.AfterFunc(c.config.WaitTime, func() { c.flush(gen) })
	}

	id := c.config.Codec.entryID(method, u, &c.ids)
	if method == http.MethodGet {
		if e, ok := c.pending.byID[id]; ok {
			e.waiters = append(e.waiters, ch)
			fanoutTotal.Inc()
			c.logger.Debug().Str("url", u).Int("waiters", len(e.waiters)).Msg("Attached to pending entry")
			return ch
		}
	}

	e := &entry{Entry: Entry{ID: id, Method: method, URL: u}, waiters: []chan result{ch}}
	if opts != nil {
		e.Header = opts.Header.Clone()
		e.Body = opts.Body
	}
	c.pending.entries = append(c.pending.entries, e)
	c.pending.byID[id] = e
	entriesTotal.WithLabelValues(method).Inc()

	c.logger.Debug().
		Str("method", method).
		Str("url", u).
		Int("batch_size", len(c.pending.entries)).
		Msg("Request enqueued")
	return ch
}

// Flush sends the collecting batch now instead of waiting for the timer and
// returns once its chunks have run. A batch already taken by the timer is
// left to it.
func (c *Coordinator) Flush() {
	c.mu.Lock()
	p := c.take()
	c.mu.Unlock()
	c.execute(p)
}

// flush runs on the timer armed for generation gen. A timer that fired
// after its batch was taken finds a newer generation and does nothing.
func (c *Coordinator) flush(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	p := c.take()
	c.mu.Unlock()
	c.execute(p)
}

// take detaches the collecting batch. Callers hold c.mu.
func (c *Coordinator) take() *pendingBatch {
	if c.timer != nil {
		c.timer.Stop()
	}
	p := c.pending
	c.pending = nil
	c.timer = nil
	c.gen++
	c.ids.Reset()
	return p
}

func (c *Coordinator) execute(p *pendingBatch) {
	if p == nil || len(p.entries) == 0 {
		return
	}
	flushesTotal.Inc()

	chunks := SplitToMaxLength(p.entries, c.config.SplitThreshold)
	c.logger.Debug().
		Int("batch_size", len(p.entries)).
		Int("chunks", len(chunks)).
		Msg("Flushing batch")

	for i, chunk := range chunks {
		chunksTotal.Inc()
		c.executeChunk(p.ctx, i, chunk)
	}
}

// executeChunk resolves every entry of chunk. Entries without a matching
// sub-response are sent again, up to MaxRetries times. A failed batch
// request rejects the remaining entries at once.
func (c *Coordinator) executeChunk(ctx context.Context, idx int, chunk []*entry) {
	remaining := chunk
	var lastErr error

	for attempt := 0; ; attempt++ {
		matched, err := c.roundTrip(ctx, remaining)
		if err != nil {
			c.logger.Warn().Err(err).Int("chunk", idx).Int("attempt", attempt+1).Msg("Batch request failed")
			for _, e := range remaining {
				rejectedTotal.Inc()
				e.reject(err)
			}
			return
		}

		next := remaining[:0:0]
		for _, e := range remaining {
			if r, ok := matched[e.ID]; ok {
				e.resolve(r)
				continue
			}
			next = append(next, e)
		}
		remaining = next
		if len(remaining) == 0 {
			return
		}
		if attempt >= c.config.MaxRetries {
			break
		}

		retriesTotal.Inc()
		c.logger.Warn().
			Int("chunk", idx).
			Int("attempt", attempt+1).
			Int("unmatched", len(remaining)).
			Msg("Retrying unmatched batch entries")

		if err := sleep(ctx, c.config.RetryDelay); err != nil {
			lastErr = err
			break
		}
	}

	c.logger.Error().
		Int("chunk", idx).
		Int("rejected", len(remaining)).
		Msg("Batch retries exhausted")

	for _, e := range remaining {
		rejectedTotal.Inc()
		err := lastErr
		if err == nil {
			err = fmt.Errorf("%w: %s %s", ErrUnmatched, e.Method, e.URL)
		}
		e.reject(err)
	}
}

func (c *Coordinator) roundTrip(ctx context.Context, entries []*entry) (map[string]*client.Response, error) {
	plain := make([]Entry, len(entries))
	for i, e := range entries {
		plain[i] = e.Entry
	}

	opts, err := c.config.Codec.encode(plain)
	if err != nil {
		return nil, err
	}
	resp, err := c.inner.Post(ctx, c.config.Codec.Endpoint(), opts)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return c.config.Codec.decode(resp, plain)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func cloneResponse(r *client.Response) *client.Response {
	return &client.Response{
		StatusCode: r.StatusCode,
		Status:     r.Status,
		Header:     r.Header.Clone(),
		Body:       append([]byte(nil), r.Body...),
	}
}
