package batch

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/textproto"
	"slices"
	"strings"

	"github.com/Sternrassler/m365-client/pkg/client"
)

// Boundary separates the parts of every multipart batch request.
const Boundary = "batch-m365-client"

// MultipartCodec speaks the OData multipart/mixed $batch format used by
// SharePoint and Dataverse. Sub-responses are matched by position.
type MultipartCodec struct {
	URL string
}

func (c MultipartCodec) Endpoint() string { return c.URL }

func (c MultipartCodec) kind() string { return "multipart" }

func (c MultipartCodec) entryURL(raw string) string { return raw }

func (c MultipartCodec) entryID(method, u string, ids *IDGenerator) string {
	if method == http.MethodGet {
		return u
	}
	return ids.Next()
}

func (c MultipartCodec) encode(entries []Entry) (*client.RequestOptions, error) {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "--%s\nContent-Type: application/http\nContent-Transfer-Encoding: binary\n\n", Boundary)
		fmt.Fprintf(&b, "%s %s HTTP/1.1\n", e.Method, e.URL)

		headers := flattenHeader(e.Header)
		keys := make([]string, 0, len(headers))
		for k := range headers {
			if http.CanonicalHeaderKey(k) != "Content-Length" {
				keys = append(keys, k)
			}
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %s\n", k, headers[k])
		}

		if len(e.Body) > 0 {
			fmt.Fprintf(&b, "Content-Length: %d\n\n", len(e.Body))
			b.Write(e.Body)
		}
		b.WriteString("\n\n\n")
	}
	fmt.Fprintf(&b, "--%s--", Boundary)

	return &client.RequestOptions{
		Header: http.Header{
			"Accept":        {"application/json"},
			"Odata-Version": {"4.0"},
			"Content-Type":  {"multipart/mixed; boundary=" + Boundary},
		},
		Body: []byte(b.String()),
	}, nil
}

// decode splits the body on the boundary the response declares, which is
// not the request boundary.
func (c MultipartCodec) decode(resp *client.Response, entries []Entry) (map[string]*client.Response, error) {
	_, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || params["boundary"] == "" {
		return nil, ErrNoBoundary
	}

	parts := splitParts(resp.Text(), params["boundary"])
	matched := make(map[string]*client.Response, len(entries))
	for i, e := range entries {
		if i >= len(parts) {
			break
		}
		if r := parsePart(parts[i]); r != nil {
			matched[e.ID] = r
		}
	}
	return matched, nil
}

func splitParts(body, boundary string) []string {
	segments := strings.Split(body, "--"+boundary)
	if len(segments) < 2 {
		return nil
	}
	parts := make([]string, 0, len(segments)-1)
	for _, seg := range segments[1:] {
		if strings.HasPrefix(seg, "--") {
			break
		}
		parts = append(parts, strings.TrimLeft(seg, "\r\n"))
	}
	return parts
}

// parsePart reads the embedded HTTP response of one part. When the part is
// not a well-formed response it falls back to the outermost JSON object.
func parsePart(part string) *client.Response {
	br := bufio.NewReader(strings.NewReader(part))
	if _, err := textproto.NewReader(br).ReadMIMEHeader(); err == nil {
		if hr, err := http.ReadResponse(br, nil); err == nil {
			data, err := io.ReadAll(hr.Body)
			hr.Body.Close()
			if err == nil {
				if hr.ContentLength < 0 {
					data = bytes.TrimRight(data, "\r\n")
				}
				return client.NewResponse(hr.StatusCode, hr.Header, data)
			}
		}
	}
	return braceScan(part)
}

func braceScan(part string) *client.Response {
	start := strings.IndexByte(part, '{')
	end := strings.LastIndexByte(part, '}')
	if start < 0 || end < start {
		return nil
	}
	data := []byte(part[start : end+1])
	if !json.Valid(data) {
		return nil
	}
	return client.NewResponse(http.StatusOK, http.Header{"Content-Type": {"application/json"}}, data)
}
