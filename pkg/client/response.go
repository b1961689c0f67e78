package client

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Sternrassler/m365-client/pkg/ratelimit"
)

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

// NewResponse builds a Response with the canonical status text.
func NewResponse(status int, header http.Header, body []byte) *Response {
	if header == nil {
		header = http.Header{}
	}
	return &Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:     header,
		Body:       body,
	}
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if len(r.Body) == 0 {
		return errors.New("decode json: empty body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// Blob returns the body together with its content type.
func (r *Response) Blob() *Blob {
	return &Blob{Type: r.Header.Get("Content-Type"), Data: r.Body}
}

// Err returns nil for 2xx responses and an *HTTPError otherwise.
func (r *Response) Err() error {
	if r.OK() {
		return nil
	}
	herr := &HTTPError{
		StatusCode: r.StatusCode,
		Status:     r.Status,
		Body:       r.Text(),
	}
	if d, ok := ratelimit.ParseRetryAfter(r.Header.Get("Retry-After"), time.Now()); ok {
		herr.RetryAfter = d
	}
	return herr
}

// Blob is binary content with its media type.
type Blob struct {
	Type string
	Data []byte
}

// DataURI encodes the blob as "data:{type};base64,{payload}".
func (b *Blob) DataURI() string {
	typ := b.Type
	if typ == "" {
		typ = "application/octet-stream"
	}
	return "data:" + typ + ";base64," + base64.StdEncoding.EncodeToString(b.Data)
}

// ParseDataURI decodes a base64 data URI produced by DataURI.
func ParseDataURI(uri string) (*Blob, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, errors.New("data uri: missing data: prefix")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, errors.New("data uri: missing payload separator")
	}
	typ, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return nil, errors.New("data uri: only base64 payloads are supported")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("data uri: %w", err)
	}
	return &Blob{Type: typ, Data: data}, nil
}
