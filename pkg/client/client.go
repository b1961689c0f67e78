// Package client provides the HTTP capability shared by every component of
// the SDK: the HTTPClient interface, the net/http transport that implements
// it, and the authentication decorator.
//
// Components are written against HTTPClient only. Decorators wrap an inner
// HTTPClient and can be stacked freely:
//
//	transport, _ := client.New(client.DefaultConfig())
//	authed := client.NewAuthClient(tokens, transport, client.AuthConfig{})
//	batched, _ := batch.New(authed, batch.DefaultConfig())
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Sternrassler/m365-client/pkg/logging"
	"github.com/Sternrassler/m365-client/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for transport operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "m365_requests_total",
		Help: "Total transport requests by method and status",
	}, []string{"method", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "m365_request_duration_seconds",
		Help:    "Transport request duration in seconds by method",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"method"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "m365_errors_total",
		Help: "Total transport errors by class",
	}, []string{"class"})
)

// RequestOptions carries optional headers and body for a request.
type RequestOptions struct {
	Header http.Header
	Body   []byte
}

// Clone returns a copy that can be modified without affecting o.
func (o *RequestOptions) Clone() *RequestOptions {
	if o == nil {
		return &RequestOptions{Header: http.Header{}}
	}
	c := &RequestOptions{Header: o.Header.Clone(), Body: o.Body}
	if c.Header == nil {
		c.Header = http.Header{}
	}
	return c
}

// HTTPClient is the transport capability every component depends on.
// Non-2xx responses are returned as responses, not errors; use Response.Err
// to turn them into an *HTTPError.
type HTTPClient interface {
	Get(ctx context.Context, url string, opts *RequestOptions) (*Response, error)
	Post(ctx context.Context, url string, opts *RequestOptions) (*Response, error)
	Put(ctx context.Context, url string, opts *RequestOptions) (*Response, error)
	Patch(ctx context.Context, url string, opts *RequestOptions) (*Response, error)
	Delete(ctx context.Context, url string, opts *RequestOptions) (*Response, error)
}

// RequestFunc adapts a single request function to HTTPClient.
type RequestFunc func(ctx context.Context, method, url string, opts *RequestOptions) (*Response, error)

func (f RequestFunc) Get(ctx context.Context, url string, opts *RequestOptions) (*Response, error) {
	return f(ctx, http.MethodGet, url, opts)
}

func (f RequestFunc) Post(ctx context.Context, url string, opts *RequestOptions) (*Response, error) {
	return f(ctx, http.MethodPost, url, opts)
}

func (f RequestFunc) Put(ctx context.Context, url string, opts *RequestOptions) (*Response, error) {
	return f(ctx, http.MethodPut, url, opts)
}

func (f RequestFunc) Patch(ctx context.Context, url string, opts *RequestOptions) (*Response, error) {
	return f(ctx, http.MethodPatch, url, opts)
}

func (f RequestFunc) Delete(ctx context.Context, url string, opts *RequestOptions) (*Response, error) {
	return f(ctx, http.MethodDelete, url, opts)
}

// Send dispatches method to the matching HTTPClient verb.
func Send(ctx context.Context, c HTTPClient, method, url string, opts *RequestOptions) (*Response, error) {
	switch strings.ToUpper(method) {
	case http.MethodGet:
		return c.Get(ctx, url, opts)
	case http.MethodPost:
		return c.Post(ctx, url, opts)
	case http.MethodPut:
		return c.Put(ctx, url, opts)
	case http.MethodPatch:
		return c.Patch(ctx, url, opts)
	case http.MethodDelete:
		return c.Delete(ctx, url, opts)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}
}

// Config holds the transport configuration.
type Config struct {
	// BaseURL is prepended to URLs that do not start with a scheme.
	BaseURL string

	// UserAgent is sent on every request when set.
	UserAgent string

	// Timeout bounds a single attempt.
	Timeout time.Duration

	// Retry
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// RateLimiter paces requests and records throttle windows. Optional.
	RateLimiter *ratelimit.Tracker
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		UserAgent:      "m365-client/0.1",
		Timeout:        30 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// Transport is the raw HTTPClient over net/http.
type Transport struct {
	RequestFunc

	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a transport.
func New(cfg Config) (*Transport, error) {
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0 (got %s)", cfg.Timeout)
	}
	if cfg.MaxRetries < 1 {
		return nil, fmt.Errorf("max_retries must be >= 1 (got %d)", cfg.MaxRetries)
	}
	if cfg.InitialBackoff < 0 || cfg.MaxBackoff < cfg.InitialBackoff {
		return nil, fmt.Errorf("invalid backoff range %s..%s", cfg.InitialBackoff, cfg.MaxBackoff)
	}

	t := &Transport{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		config:     cfg,
		logger:     logging.NewLogger("transport"),
	}
	t.RequestFunc = t.do
	return t, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (t *Transport) SetHTTPClient(c *http.Client) {
	t.httpClient = c
}

func (t *Transport) resolve(rawURL string) string {
	if t.config.BaseURL == "" || strings.Contains(rawURL, "://") {
		return rawURL
	}
	return strings.TrimRight(t.config.BaseURL, "/") + "/" + strings.TrimLeft(rawURL, "/")
}

// do performs one logical request with pacing, retries and metrics. Only
// idempotent methods are retried; a POST or PATCH is sent once and a
// retryable status comes back as a non-OK response.
func (t *Transport) do(ctx context.Context, method, rawURL string, opts *RequestOptions) (*Response, error) {
	target := EscapeRequestURL(t.resolve(rawURL))

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}()

	if !idempotent(method) {
		resp, _, err := t.attempt(ctx, method, target, opts)
		if resp != nil {
			return resp, nil
		}
		return nil, err
	}

	retryCfg := RetryConfig{
		MaxAttempts:       t.config.MaxRetries,
		InitialBackoff:    t.config.InitialBackoff,
		MaxBackoff:        t.config.MaxBackoff,
		BackoffMultiplier: 2.0,
	}

	var resp *Response
	err := retryWithBackoff(ctx, retryCfg, t.logger, func() (ErrorClass, error) {
		r, class, err := t.attempt(ctx, method, target, opts)
		if err != nil {
			return class, err
		}
		resp = r
		return "", nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// attempt sends the request once. A retryable status yields the response
// together with its class and error.
func (t *Transport) attempt(ctx context.Context, method, target string, opts *RequestOptions) (*Response, ErrorClass, error) {
	if t.config.RateLimiter != nil {
		if err := t.config.RateLimiter.Wait(ctx); err != nil {
			return nil, "", fmt.Errorf("rate limit wait: %w", err)
		}
	}

	r, err := t.roundTrip(ctx, method, target, opts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(method, "network_error").Inc()
		t.logger.Warn().Err(err).Str("method", method).Str("url", target).Msg("HTTP request failed")
		return nil, ErrorClassNetwork, err
	}

	requestsTotal.WithLabelValues(method, fmt.Sprintf("%d", r.StatusCode)).Inc()
	if t.config.RateLimiter != nil {
		if err := t.config.RateLimiter.UpdateFromResponse(ctx, r.StatusCode, r.Header); err != nil {
			t.logger.Warn().Err(err).Msg("Failed to record throttle window")
		}
	}

	class := classifyStatus(r.StatusCode)
	if class == "" {
		return r, "", nil
	}

	errorsTotal.WithLabelValues(string(class)).Inc()
	if shouldRetry(class) {
		t.logger.Warn().
			Str("method", method).
			Str("url", target).
			Int("status", r.StatusCode).
			Str("error_class", string(class)).
			Msg("Retryable response")
		return r, class, r.Err()
	}

	// 4xx: hand the response to the caller
	return r, "", nil
}

func (t *Transport) roundTrip(ctx context.Context, method, target string, opts *RequestOptions) (*Response, error) {
	var body io.Reader
	if opts != nil && len(opts.Body) > 0 {
		body = bytes.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if t.config.UserAgent != "" {
		req.Header.Set("User-Agent", t.config.UserAgent)
	}
	if opts != nil {
		for key, values := range opts.Header {
			req.Header[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
		}
	}

	httpResp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Status:     httpResp.Status,
		Header:     httpResp.Header,
		Body:       data,
	}, nil
}

// EscapeRequestURL percent-encodes bytes that may not appear on an HTTP
// request line (spaces in OData filters, quotes, non-ASCII) and leaves
// existing escapes untouched.
func EscapeRequestURL(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c <= 0x20 || c >= 0x7F || strings.IndexByte("\"<>\\^`{|}", c) >= 0 {
			if !escaped {
				escaped = true
				b.Grow(len(s) + 16)
				b.WriteString(s[:i])
			}
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0x0F])
			continue
		}
		if escaped {
			b.WriteByte(c)
		}
	}
	if !escaped {
		return s
	}
	return b.String()
}
