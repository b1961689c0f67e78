package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/m365-client/pkg/cache"
	"github.com/Sternrassler/m365-client/pkg/client"
	"github.com/Sternrassler/m365-client/pkg/config"
	"github.com/Sternrassler/m365-client/pkg/content"
	"github.com/Sternrassler/m365-client/pkg/logging"
	"github.com/Sternrassler/m365-client/pkg/metrics"
	"github.com/Sternrassler/m365-client/pkg/pagination"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// forwarded response headers of proxied Graph calls
var passHeaders = []string{"Content-Type", "ETag", "Retry-After", "Location"}

type server struct {
	graph     client.HTTPClient
	content   content.Service
	debounce  *cache.Debouncer
	searchURL string
	timeout   time.Duration
	logger    zerolog.Logger
}

func newServer(graph, download client.HTTPClient, store cache.Service, cfg *config.Config) *server {
	return &server{
		graph:     graph,
		content:   content.NewCachedService(content.NewGraphService(graph, download), store),
		debounce:  cache.NewDebouncer(cfg.Server.SearchDebounce),
		searchURL: strings.TrimRight(cfg.Graph.BaseURL, "/") + "/v1.0/search/query",
		timeout:   cfg.HTTP.Timeout,
		logger:    logging.NewLogger("proxy"),
	}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", s.health)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/graph/*", s.proxyGraph)
	r.Get("/drives/{driveID}/items/{itemID}/content", s.driveContent)
	r.Get("/search", s.search)
	return r
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// proxyGraph forwards GET /graph/{path} to Graph. Concurrent callers land in
// the same $batch.
func (s *server) proxyGraph(w http.ResponseWriter, r *http.Request) {
	target := "/" + chi.URLParam(r, "*")
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	resp, err := s.graph.Get(ctx, target, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("url", target).Msg("Graph request failed")
		writeError(w, http.StatusBadGateway, err)
		return
	}

	for _, h := range passHeaders {
		if v := resp.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

func (s *server) driveContent(w http.ResponseWriter, r *http.Request) {
	ref := content.ItemRef{
		DriveID: chi.URLParam(r, "driveID"),
		ItemID:  chi.URLParam(r, "itemID"),
	}

	blob, err := s.content.Content(r.Context(), ref)
	if err != nil {
		s.logger.Warn().Err(err).Str("item", ref.String()).Msg("Content request failed")
		writeError(w, statusOf(err), err)
		return
	}

	if blob.Type != "" {
		w.Header().Set("Content-Type", blob.Type)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(blob.Data)))
	_, _ = w.Write(blob.Data)
}

type searchPage struct {
	Items        []json.RawMessage        `json:"items"`
	Page         int                      `json:"page"`
	Total        int                      `json:"total"`
	HasNext      bool                     `json:"hasNext"`
	Aggregations []pagination.Aggregation `json:"aggregations,omitempty"`
}

// search runs a Graph search for ?q= and returns page ?page= (0-based).
// Calls from the same client are debounced; a superseded call gets 204.
func (s *server) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pageIdx, err := intParam(q.Get("page"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	size, err := intParam(q.Get("size"), pagination.DefaultPageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var out searchPage
	err = s.debounce.Do(r.Context(), clientKey(r), func(ctx context.Context) error {
		e, err := pagination.NewSearchEnumerator[json.RawMessage](s.graph, pagination.SearchConfig[json.RawMessage]{
			Endpoint:    s.searchURL,
			EntityTypes: q["entityType"],
			PageSize:    size,
			Map:         func(h pagination.Hit) (json.RawMessage, error) { return h.Resource, nil },
		})
		if err != nil {
			return err
		}
		e.SetFilter(q.Get("q"))

		items, err := e.FirstPage(ctx)
		if err != nil {
			return err
		}
		if pageIdx > 0 {
			if items, err = e.JumpToPage(ctx, pageIdx); err != nil {
				return err
			}
		}

		out = searchPage{
			Items:        items,
			Page:         e.CurrentPageIndex(),
			Total:        e.TotalCount(),
			HasNext:      e.HasNextPage(),
			Aggregations: e.Aggregations(),
		}
		return nil
	})
	switch {
	case errors.Is(err, cache.ErrSuperseded):
		w.WriteHeader(http.StatusNoContent)
		return
	case err != nil:
		s.logger.Warn().Err(err).Str("query", q.Get("q")).Msg("Search failed")
		writeError(w, statusOf(err), err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// clientKey identifies the caller for debouncing.
func clientKey(r *http.Request) string {
	if id := r.Header.Get("X-Client-ID"); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func intParam(v string, fallback int) (int, error) {
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid number " + strconv.Quote(v))
	}
	return n, nil
}

// statusOf maps SDK errors to the proxy's response status.
func statusOf(err error) int {
	var herr *client.HTTPError
	switch {
	case errors.As(err, &herr):
		return herr.StatusCode
	case errors.Is(err, content.ErrInvalidItemRef),
		errors.Is(err, pagination.ErrPageOutOfRange),
		errors.Is(err, pagination.ErrInvalidPageSize):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

// writeError passes Graph's JSON error bodies through unchanged.
func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	msg := err.Error()
	if strings.HasPrefix(msg, "{") && json.Valid([]byte(msg)) {
		_, _ = w.Write([]byte(msg))
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
