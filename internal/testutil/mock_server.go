// Package testutil provides an httptest-backed stand-in for Graph, SharePoint
// and Dataverse endpoints, including both $batch envelopes.
package testutil

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// RecordedRequest is a request as seen by the mock server. Requests that
// arrive inside a batch are recorded with Batched set.
type RecordedRequest struct {
	Method  string
	URL     string
	Header  http.Header
	Body    string
	Batched bool
}

// MockServer is a configurable mock Microsoft 365 server for testing.
type MockServer struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
	requests []RecordedRequest
	batches  int
}

// NewMockServer creates and starts a mock server.
func NewMockServer() *MockServer {
	m := &MockServer{handlers: make(map[string]http.HandlerFunc)}
	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.dispatch(w, r, false)
	}))
	return m
}

// URL returns the mock server URL.
func (m *MockServer) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockServer) Close() {
	m.server.Close()
}

// Reset clears recorded requests.
func (m *MockServer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.batches = 0
}

// SetHandler sets a custom handler for a specific path.
func (m *MockServer) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockServer) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			_, _ = w.Write([]byte(resp.Body))
		}
	})
}

// SetJSON configures a JSON response for a path.
func (m *MockServer) SetJSON(path string, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("testutil: marshal %T: %v", v, err))
	}
	m.SetResponse(path, MockResponse{
		StatusCode: status,
		Body:       string(data),
		Headers:    map[string]string{"Content-Type": "application/json"},
	})
}

// Requests returns a copy of all recorded requests.
func (m *MockServer) Requests() []RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]RecordedRequest(nil), m.requests...)
}

// GetRequestCount returns the number of requests that reached a handler,
// counting batched sub-requests individually.
func (m *MockServer) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// PathCount returns how many recorded requests targeted path.
func (m *MockServer) PathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.requests {
		if strings.SplitN(r.URL, "?", 2)[0] == path {
			n++
		}
	}
	return n
}

// BatchCount returns the number of batch envelopes received.
func (m *MockServer) BatchCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.batches
}

func (m *MockServer) dispatch(w http.ResponseWriter, r *http.Request, batched bool) {
	body, _ := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(body))

	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Method:  r.Method,
		URL:     r.URL.RequestURI(),
		Header:  r.Header.Clone(),
		Body:    string(body),
		Batched: batched,
	})
	handler, ok := m.handlers[r.URL.Path]
	m.mu.Unlock()

	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = fmt.Fprintf(w, `{"error":{"code":"itemNotFound","message":"no handler for %s"}}`, r.URL.Path)
		return
	}
	handler(w, r)
}

// replay runs one embedded request against the registered handlers.
func (m *MockServer) replay(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	m.dispatch(rec, req, true)
	return rec
}

// EnableMultipartBatch serves a multipart/mixed $batch endpoint at path.
// Every embedded request is replayed against the registered handlers and
// answered in order, using a response boundary that differs from the
// request boundary. Sub-responses carry Content-Length.
func (m *MockServer) EnableMultipartBatch(path string) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.batches++
		m.mu.Unlock()

		parts, err := ParseMultipartBatch(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		boundary := fmt.Sprintf("batchresponse_%d", time.Now().UnixNano())
		var out bytes.Buffer
		for _, sub := range parts {
			rec := m.replay(sub)
			payload := rec.Body.Bytes()
			fmt.Fprintf(&out, "--%s\r\nContent-Type: application/http\r\nContent-Transfer-Encoding: binary\r\n\r\n", boundary)
			fmt.Fprintf(&out, "HTTP/1.1 %d %s\r\n", rec.Code, http.StatusText(rec.Code))
			fmt.Fprintf(&out, "Content-Type: %s\r\nContent-Length: %d\r\n\r\n", contentTypeOr(rec, "application/json"), len(payload))
			out.Write(payload)
			out.WriteString("\r\n")
		}
		fmt.Fprintf(&out, "--%s--\r\n", boundary)

		w.Header().Set("Content-Type", "multipart/mixed; boundary="+boundary)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(out.Bytes())
	})
}

// ParseMultipartBatch decodes the embedded requests of a multipart batch.
func ParseMultipartBatch(r *http.Request) ([]*http.Request, error) {
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("batch content type: %w", err)
	}
	mr := multipart.NewReader(r.Body, params["boundary"])

	var reqs []*http.Request
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return reqs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("next part: %w", err)
		}
		raw, err := io.ReadAll(part)
		if err != nil {
			return nil, fmt.Errorf("read part: %w", err)
		}
		sub, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(raw)))
		if err != nil {
			return nil, fmt.Errorf("embedded request: %w", err)
		}
		body, _ := io.ReadAll(sub.Body)
		sub.Body = io.NopCloser(bytes.NewReader(body))
		sub.RequestURI = ""
		reqs = append(reqs, sub)
	}
}

type jsonBatchRequest struct {
	Requests []struct {
		ID      string            `json:"id"`
		Method  string            `json:"method"`
		URL     string            `json:"url"`
		Headers map[string]string `json:"headers"`
		Body    json.RawMessage   `json:"body"`
	} `json:"requests"`
}

type jsonBatchResponse struct {
	ID      string            `json:"id"`
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// EnableJSONBatch serves a Graph-style JSON $batch endpoint at path. The
// sub-request URLs are resolved relative to prefix (for example "/v1.0").
// Responses are returned in reverse order to exercise id-based matching.
func (m *MockServer) EnableJSONBatch(path, prefix string) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.batches++
		m.mu.Unlock()

		var in jsonBatchRequest
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		out := make([]jsonBatchResponse, 0, len(in.Requests))
		for i := len(in.Requests) - 1; i >= 0; i-- {
			sub := in.Requests[i]
			var body io.Reader
			if len(sub.Body) > 0 {
				body = bytes.NewReader(sub.Body)
			}
			req := httptest.NewRequest(sub.Method, prefix+sub.URL, body)
			for k, v := range sub.Headers {
				req.Header.Set(k, v)
			}
			rec := m.replay(req)

			resp := jsonBatchResponse{ID: sub.ID, Status: rec.Code, Headers: map[string]string{
				"Content-Type": contentTypeOr(rec, "application/json"),
			}}
			if payload := rec.Body.Bytes(); json.Valid(payload) {
				resp.Body = payload
			} else if len(payload) > 0 {
				quoted, _ := json.Marshal(string(payload))
				resp.Body = quoted
			}
			out = append(out, resp)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"responses": out})
	})
}

func contentTypeOr(rec *httptest.ResponseRecorder, fallback string) string {
	if ct := rec.Header().Get("Content-Type"); ct != "" {
		return ct
	}
	return fallback
}
