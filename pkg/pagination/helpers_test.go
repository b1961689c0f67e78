package pagination

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/Sternrassler/m365-client/pkg/client"
)

type recordedCall struct {
	method string
	url    string
	header http.Header
	body   []byte
}

// fakeHTTP records logical URLs as the components produce them.
type fakeHTTP struct {
	mu      sync.Mutex
	calls   []recordedCall
	handler func(method, url string, opts *client.RequestOptions) *client.Response
}

func newFakeHTTP(handler func(method, url string, opts *client.RequestOptions) *client.Response) *fakeHTTP {
	return &fakeHTTP{handler: handler}
}

func (f *fakeHTTP) client() client.HTTPClient {
	return client.RequestFunc(func(_ context.Context, method, url string, opts *client.RequestOptions) (*client.Response, error) {
		rc := recordedCall{method: method, url: url}
		if opts != nil {
			rc.header = opts.Header.Clone()
			rc.body = opts.Body
		}
		f.mu.Lock()
		f.calls = append(f.calls, rc)
		f.mu.Unlock()
		return f.handler(method, url, opts), nil
	})
}

func (f *fakeHTTP) urls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.url
	}
	return out
}

func (f *fakeHTTP) last() recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func (f *fakeHTTP) reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

func jsonResponse(t testing.TB, status int, v any) *client.Response {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return client.NewResponse(status, http.Header{"Content-Type": {"application/json"}}, data)
}

func textResponse(status int, body string) *client.Response {
	return client.NewResponse(status, http.Header{"Content-Type": {"text/plain"}}, []byte(body))
}

// queryParams splits the logical query string without unescaping.
func queryParams(u string) map[string]string {
	out := map[string]string{}
	_, rawQuery, ok := strings.Cut(u, "?")
	if !ok {
		return out
	}
	for _, pair := range strings.Split(rawQuery, "&") {
		k, v, _ := strings.Cut(pair, "=")
		out[k] = v
	}
	return out
}

type item struct {
	ID int `json:"id"`
}

func makeItems(from, to int) []item {
	out := make([]item, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, item{ID: i})
	}
	return out
}

// odataDataset serves n items over $top/$skip and /$count.
func odataDataset(t testing.TB, n int) func(method, url string, opts *client.RequestOptions) *client.Response {
	return func(method, u string, _ *client.RequestOptions) *client.Response {
		path, _, _ := strings.Cut(u, "?")
		if strings.HasSuffix(path, "/$count") {
			return textResponse(http.StatusOK, strconv.Itoa(n))
		}
		params := queryParams(u)
		top, _ := strconv.Atoi(params["$top"])
		skip, _ := strconv.Atoi(params["$skip"])
		skip = min(skip, n)
		end := min(skip+top, n)
		return jsonResponse(t, http.StatusOK, map[string]any{"value": makeItems(skip, end)})
	}
}

func ids(its []item) []int {
	out := make([]int, len(its))
	for i, it := range its {
		out[i] = it.ID
	}
	return out
}

func idRange(from, to int) []int {
	out := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}
