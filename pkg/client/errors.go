package client

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrUnsupportedMethod is returned by Send for methods outside the HTTPClient surface.
	ErrUnsupportedMethod = errors.New("unsupported http method")

	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrThrottled    = errors.New("throttled")
	ErrServer       = errors.New("server error")
)

// ErrorClass represents a classification of HTTP errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 and 503 throttling responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// HTTPError is a non-2xx response turned into an error. Error returns the
// response body verbatim so service diagnostics reach the caller unchanged.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string

	// RetryAfter is the server-requested delay, if any.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Body != "" {
		return e.Body
	}
	if e.Status != "" {
		return e.Status
	}
	return fmt.Sprintf("http status %d", e.StatusCode)
}

// Unwrap maps the status code to a class sentinel for errors.Is.
func (e *HTTPError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case e.StatusCode == http.StatusForbidden:
		return ErrForbidden
	case e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusServiceUnavailable:
		return ErrThrottled
	case e.StatusCode >= 500:
		return ErrServer
	default:
		return nil
	}
}

// classifyStatus maps an HTTP status to an ErrorClass. 2xx and 3xx yield "".
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable:
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// idempotent reports whether a request with method may be sent again after
// a failed exchange.
func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	default:
		return false
	}
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		// 4xx responses are answers, not failures of the exchange
		return false
	}
}
