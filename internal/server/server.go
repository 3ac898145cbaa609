// Package server provides the HTTP API for askdb.
package server

import (
	"context"
	"embed"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/raphaelgruber/askdb/internal/metrics"
	"github.com/raphaelgruber/askdb/internal/pipeline"
)

//go:embed templates/index.html
var templatesFS embed.FS

var indexTmpl = template.Must(template.ParseFS(templatesFS, "templates/index.html"))

// Asker answers a question. *pipeline.Pipeline implements it.
type Asker interface {
	Run(ctx context.Context, question string) pipeline.Result
}

// Pinger checks database reachability. db.Store implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP server for the askdb API.
type Server struct {
	asker   Asker
	db      Pinger
	metrics *metrics.Collector
	logger  *slog.Logger
	version string
	router  chi.Router
	server  *http.Server
}

// New creates a server with the given dependencies. A nil collector is
// replaced by a fresh one so /stats always answers.
func New(asker Asker, db Pinger, mc *metrics.Collector, logger *slog.Logger, version string) *Server {
	if mc == nil {
		mc = metrics.NewCollector()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		asker:   asker,
		db:      db,
		metrics: mc,
		logger:  logger,
		version: version,
	}
	s.router = s.routes()
	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Minute, // four sequential stages, three of them LLM calls
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(s.logger))
	r.Use(Recoverer(s.logger))

	r.Get("/", s.handleIndex)
	r.Post("/ask", s.handleAsk)
	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	return r
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on ln and blocks until Shutdown.
// It returns http.ErrServerClosed after a graceful shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting server", "addr", ln.Addr().String(), "version", s.version)
	return s.server.Serve(ln)
}

// ListenAndServe listens on addr and serves until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
