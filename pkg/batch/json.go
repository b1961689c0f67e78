package batch

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/Sternrassler/m365-client/pkg/client"
	"github.com/google/uuid"
)

// DefaultGraphEndpoint is the Graph v1.0 JSON batch endpoint.
const DefaultGraphEndpoint = "https://graph.microsoft.com/v1.0/$batch"

// JSONCodec speaks the Graph JSON $batch format. Sub-responses are matched
// by id, so the service may answer in any order.
type JSONCodec struct {
	// URL defaults to DefaultGraphEndpoint.
	URL string
}

type jsonRequest struct {
	ID      string            `json:"id"`
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

type jsonResponse struct {
	ID      string            `json:"id"`
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    json.RawMessage   `json:"body"`
}

func (c JSONCodec) Endpoint() string {
	if c.URL == "" {
		return DefaultGraphEndpoint
	}
	return c.URL
}

func (c JSONCodec) kind() string { return "json" }

// entryURL makes raw relative to the endpoint's API root, e.g.
// "https://graph.microsoft.com/v1.0/me?$select=id" becomes "/me?$select=id".
func (c JSONCodec) entryURL(raw string) string {
	root := strings.TrimSuffix(c.Endpoint(), "/$batch")
	if rest, ok := strings.CutPrefix(raw, root); ok {
		return ensureSlash(rest)
	}

	rootPath := ""
	if i := strings.Index(root, "://"); i >= 0 {
		if j := strings.IndexByte(root[i+3:], '/'); j >= 0 {
			rootPath = root[i+3+j:]
		}
	}
	if i := strings.Index(raw, "://"); i >= 0 {
		raw = raw[i+3:]
		j := strings.IndexByte(raw, '/')
		if j < 0 {
			return "/"
		}
		raw = raw[j:]
	}
	raw = ensureSlash(raw)
	if rootPath != "" {
		if rest, ok := strings.CutPrefix(raw, rootPath); ok && (rest == "" || rest[0] == '/' || rest[0] == '?') {
			return ensureSlash(rest)
		}
	}
	return raw
}

func ensureSlash(s string) string {
	if !strings.HasPrefix(s, "/") {
		return "/" + s
	}
	return s
}

func (c JSONCodec) entryID(method, u string, _ *IDGenerator) string {
	if method == http.MethodGet {
		return url.QueryEscape(u)
	}
	return uuid.NewString()
}

func (c JSONCodec) encode(entries []Entry) (*client.RequestOptions, error) {
	reqs := make([]jsonRequest, 0, len(entries))
	for _, e := range entries {
		headers := map[string]string{"ConsistencyLevel": "eventual"}
		for k, v := range flattenHeader(e.Header) {
			headers[k] = v
		}

		r := jsonRequest{ID: e.ID, Method: e.Method, URL: e.URL, Headers: headers}
		if len(e.Body) > 0 {
			if json.Valid(e.Body) {
				r.Body = e.Body
				if _, ok := e.Header["Content-Type"]; !ok {
					headers["Content-Type"] = "application/json"
				}
			} else {
				quoted, err := json.Marshal(string(e.Body))
				if err != nil {
					return nil, fmt.Errorf("encode body of %s: %w", e.ID, err)
				}
				r.Body = quoted
			}
		}
		reqs = append(reqs, r)
	}

	body, err := json.Marshal(map[string]any{"requests": reqs})
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	return &client.RequestOptions{
		Header: http.Header{
			"Content-Type": {"application/json"},
			"Accept":       {"application/json"},
		},
		Body: body,
	}, nil
}

func (c JSONCodec) decode(resp *client.Response, _ []Entry) (map[string]*client.Response, error) {
	var out struct {
		Responses []jsonResponse `json:"responses"`
	}
	if err := resp.JSON(&out); err != nil {
		return nil, err
	}

	matched := make(map[string]*client.Response, len(out.Responses))
	for _, r := range out.Responses {
		header := http.Header{}
		for k, v := range r.Headers {
			header.Set(k, v)
		}
		matched[r.ID] = client.NewResponse(r.Status, header, jsonBody(r.Body, header.Get("Content-Type")))
	}
	return matched, nil
}

// jsonBody unwraps a sub-response body. JSON payloads are kept as is, text
// arrives as a JSON string and binary content as a base64 string.
func jsonBody(raw json.RawMessage, contentType string) []byte {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	media, _, _ := mime.ParseMediaType(contentType)
	if raw[0] != '"' || strings.HasSuffix(media, "json") {
		return raw
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return raw
	}
	if media == "" || strings.HasPrefix(media, "text/") || strings.HasSuffix(media, "xml") {
		return []byte(s)
	}
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data
	}
	return []byte(s)
}
