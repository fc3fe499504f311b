// Package server exposes question answering and ingestion over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/poiesic/folio/generation"
	"github.com/poiesic/folio/ingestion"
)

// Answerer answers a question. *generation.Engine satisfies it.
type Answerer interface {
	Answer(ctx context.Context, query string, opts ...generation.AnswerOption) (*generation.Answer, error)
}

// Ingester loads documents into the collection. *ingestion.Pipeline satisfies it.
type Ingester interface {
	IngestRefs(ctx context.Context, refs ...string) (*ingestion.Report, error)
	IngestSitemap(ctx context.Context, sitemapURL string) (*ingestion.Report, error)
}

// Inventory reports what the collection holds. *folio.Folio satisfies it.
type Inventory interface {
	Collection() string
	Count(ctx context.Context) (int, error)
}

// Server is the HTTP server for the folio API.
type Server struct {
	answerer  Answerer
	ingester  Ingester
	inventory Inventory
	metrics   *Metrics
	timeout   time.Duration
	logger    *slog.Logger
	server    *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRequestTimeout bounds every request. Default is two minutes.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New creates a server with the given dependencies.
func New(answerer Answerer, ingester Ingester, inventory Inventory, opts ...Option) *Server {
	s := &Server{
		answerer:  answerer,
		ingester:  ingester,
		inventory: inventory,
		metrics:   NewMetrics(),
		timeout:   2 * time.Minute,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "server")
	return s
}

// Handler returns the routed handler with its middleware stack.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))

	r.Post("/query", s.instrument("query", s.handleQuery))
	r.Post("/embed-textbook", s.instrument("embed-textbook", s.handleEmbedTextbook))
	r.Get("/health", s.instrument("health", s.handleHealth))
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	return r
}

// Start listens on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", "addr", addr)
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		h(w, r)
		s.metrics.latency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
