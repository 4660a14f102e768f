// Package server exposes the feed generator's XRPC endpoints.
//
// Routes:
//   - GET /                                          banner
//   - GET /.well-known/did.json                      did:web document
//   - GET /xrpc/app.bsky.feed.describeFeedGenerator  published feeds
//   - GET /xrpc/app.bsky.feed.getFeedSkeleton        feed pages
//   - GET /metrics                                   Prometheus exposition
//
// Feed queries read the ledger concurrently with the consumer's writes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/roach88/skyfeed/internal/feed"
	"github.com/roach88/skyfeed/internal/metrics"
)

// Banner is the body served at /.
const Banner = "skyfeed: an AT Protocol feed generator."

// ShutdownTimeout bounds how long in-flight requests get after the
// context passed to ListenAndServe is cancelled.
const ShutdownTimeout = 5 * time.Second

// Pager serves feed pages.
type Pager interface {
	Page(ctx context.Context, cursor string, limit int) (feed.Skeleton, error)
}

// Options describe the published feed.
type Options struct {
	Hostname   string
	ServiceDID string
	FeedURI    string
}

// Server is the HTTP surface.
type Server struct {
	opts    Options
	pager   Pager
	metrics *metrics.Metrics
	router  *mux.Router
}

// New builds the router. m may be nil, in which case /metrics is 404.
func New(opts Options, pager Pager, m *metrics.Metrics) *Server {
	s := &Server{
		opts:    opts,
		pager:   pager,
		metrics: m,
		router:  mux.NewRouter(),
	}

	r := s.router
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/.well-known/did.json", s.handleDIDDocument).Methods(http.MethodGet)
	r.HandleFunc("/xrpc/app.bsky.feed.describeFeedGenerator", s.handleDescribe).Methods(http.MethodGet)
	r.HandleFunc("/xrpc/app.bsky.feed.getFeedSkeleton", s.handleFeedSkeleton).Methods(http.MethodGet)
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully. It returns nil after a clean shutdown.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("http server listening", "addr", l.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(l) }()

	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(cctx); err != nil {
			return err
		}
		slog.Info("http server stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(Banner))
}

type didDocument struct {
	Context []string     `json:"@context"`
	ID      string       `json:"id"`
	Service []didService `json:"service"`
}

type didService struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

// handleDIDDocument serves the did:web document, but only when the service
// DID is the did:web form of our own hostname.
func (s *Server) handleDIDDocument(w http.ResponseWriter, _ *http.Request) {
	if s.opts.ServiceDID == "" || s.opts.ServiceDID != "did:web:"+s.opts.Hostname {
		http.NotFound(w, nil)
		return
	}
	writeJSON(w, didDocument{
		Context: []string{"https://www.w3.org/ns/did/v1"},
		ID:      s.opts.ServiceDID,
		Service: []didService{{
			ID:              "#bsky_fg",
			Type:            "BskyFeedGenerator",
			ServiceEndpoint: "https://" + s.opts.Hostname,
		}},
	})
}

type describeResponse struct {
	Encoding string       `json:"encoding"`
	Body     describeBody `json:"body"`
}

type describeBody struct {
	DID   string         `json:"did"`
	Feeds []describeFeed `json:"feeds"`
}

type describeFeed struct {
	URI string `json:"uri"`
}

func (s *Server) handleDescribe(w http.ResponseWriter, _ *http.Request) {
	feeds := []describeFeed{}
	if s.opts.FeedURI != "" {
		feeds = append(feeds, describeFeed{URI: s.opts.FeedURI})
	}
	writeJSON(w, describeResponse{
		Encoding: "application/json",
		Body:     describeBody{DID: s.opts.ServiceDID, Feeds: feeds},
	})
}

func (s *Server) handleFeedSkeleton(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	code := http.StatusOK
	defer func() {
		s.metrics.FeedServed(strconv.Itoa(code), time.Since(start))
	}()

	q := r.URL.Query()
	if !q.Has("feed") {
		code = http.StatusBadRequest
		writeError(w, code, "Feed parameter missing")
		return
	}
	if s.opts.FeedURI == "" || q.Get("feed") != s.opts.FeedURI {
		code = http.StatusBadRequest
		writeError(w, code, "Unsupported algorithm")
		return
	}

	limit := feed.DefaultLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			code = http.StatusBadRequest
			writeError(w, code, "Malformed cursor")
			return
		}
		limit = n
	}

	sk, err := s.pager.Page(r.Context(), q.Get("cursor"), limit)
	switch {
	case errors.Is(err, feed.ErrMalformedCursor), errors.Is(err, feed.ErrInvalidLimit):
		code = http.StatusBadRequest
		writeError(w, code, "Malformed cursor")
		return
	case err != nil:
		code = http.StatusInternalServerError
		slog.Error("feed query failed", "error", err)
		writeError(w, code, "Internal error")
		return
	}
	writeJSON(w, sk)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(message))
}
