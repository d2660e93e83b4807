package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/riskguard/internal/domain"
	"github.com/opensource-finance/riskguard/internal/guard"
	"github.com/opensource-finance/riskguard/internal/identity"
)

// Options carries the optional collaborators of a Server.
type Options struct {
	Store    domain.CounterStore
	Repo     domain.OutcomeRepository
	Resolver *identity.Resolver
	Gatherer prometheus.Gatherer
	Routes   []domain.RouteConfig
	Version  string
	Logger   *slog.Logger
}

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server. Every configured route is mounted as a
// guarded reverse proxy. Client addresses come from opts.Resolver, which only
// believes forwarding headers from its trusted proxies.
func NewServer(cfg domain.ServerConfig, processor *guard.Processor, opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Resolver == nil {
		opts.Resolver = identity.DefaultResolver()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	handler := NewHandler(processor, opts.Store, opts.Repo, opts.Resolver, opts.Version, opts.Logger)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware(opts.Logger))
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))

	router.Post("/evaluate", handler.Evaluate)
	router.Get("/outcomes", handler.ListOutcomes)
	router.Get("/outcomes/{id}", handler.GetOutcome)

	for _, route := range opts.Routes {
		proxy, err := NewProxy(route, opts.Logger)
		if err != nil {
			return nil, err
		}
		guarded := GuardMiddleware(processor, opts.Resolver, route, opts.Logger)(proxy)
		if route.Method == "" {
			router.Handle(route.Path, guarded)
		} else {
			router.Method(route.Method, route.Path, guarded)
		}
		opts.Logger.Info("guarded route mounted",
			"path", route.Path,
			"method", route.Method,
			"action", route.Action,
			"upstream", route.Upstream,
		)
	}

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}, nil
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
