package batch

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Sternrassler/m365-client/pkg/client"
)

// ErrNoBoundary is returned when a multipart batch response does not
// declare its boundary.
var ErrNoBoundary = errors.New("batch response has no multipart boundary")

// Entry is one deferred request inside a batch.
type Entry struct {
	ID     string
	Method string
	// URL as sent in the batch envelope
	URL    string
	Header http.Header
	Body   []byte
}

// Codec is the wire format of a batch endpoint. The implementations are
// MultipartCodec and JSONCodec.
type Codec interface {
	// Endpoint is the $batch URL.
	Endpoint() string

	kind() string
	entryURL(raw string) string
	entryID(method, url string, ids *IDGenerator) string
	encode(entries []Entry) (*client.RequestOptions, error)
	// decode returns the sub-responses it could match, keyed by entry id.
	decode(resp *client.Response, entries []Entry) (map[string]*client.Response, error)
}

// flattenHeader joins multi-valued headers and returns the keys sorted.
func flattenHeader(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}
