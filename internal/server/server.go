// Package server exposes the Kroger client and the config flow over HTTP.
//
// The /api/kroger endpoints perform no authentication of their own; the
// server is meant to listen on a trusted interface behind the host.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the bridge HTTP server
type Server struct {
	mux    *http.ServeMux
	server *http.Server
}

// Compile-time check that Server implements http.Handler
var _ http.Handler = (*Server)(nil)

// Option configures a Server.
type Option func(*config)

type config struct {
	logger     *slog.Logger
	authorized func(ctx context.Context) (bool, error)
}

// WithLogger overrides the request logger (defaults to slog.Default()).
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithAuthorizationCheck reports whether an entry exists on /healthz.
func WithAuthorizationCheck(fn func(ctx context.Context) (bool, error)) Option {
	return func(c *config) {
		c.authorized = fn
	}
}

// healthResponse is the /healthz body.
type healthResponse struct {
	Status     string `json:"status"`
	Authorized bool   `json:"authorized"`
}

// New creates the server with the Kroger endpoints, the config flow routes,
// /metrics, and /healthz.
func New(api API, flows Flows, opts ...Option) (*Server, error) {
	if api == nil {
		return nil, fmt.Errorf("missing kroger api")
	}
	if flows == nil {
		return nil, fmt.Errorf("missing config flow")
	}

	cfg := &config{
		logger:     slog.Default(),
		authorized: func(context.Context) (bool, error) { return false, nil },
	}
	for _, opt := range opts {
		opt(cfg)
	}

	mux := http.NewServeMux()
	handle := func(pattern string, h http.Handler) {
		_, path, _ := strings.Cut(pattern, " ")
		mux.Handle(pattern, applyMiddlewares(h,
			Logging(cfg.logger),
			Metrics(path),
			Recovery,
		))
	}

	handle("GET /api/kroger/products", &ProductsHandler{API: api})
	handle("GET /api/kroger/locations", &LocationsHandler{API: api})
	handle("PUT /api/kroger/cart_add", &CartAddHandler{API: api})

	fh := &flowHandlers{flows: flows}
	handle("GET /auth/kroger/authorize", http.HandlerFunc(fh.authorize))
	handle("GET /auth/kroger/reauth", http.HandlerFunc(fh.reauth))
	handle("POST /auth/kroger/reauth", http.HandlerFunc(fh.confirmReauth))
	handle("GET /auth/kroger/callback", http.HandlerFunc(fh.callback))

	// Operational endpoints stay out of request logs and metrics
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		authorized, err := cfg.authorized(r.Context())
		if err != nil {
			slog.ErrorContext(r.Context(), "health check failed", "error", err)
			writeJSON(r.Context(), w, healthResponse{Status: "error"}, http.StatusServiceUnavailable)
			return
		}
		writeJSON(r.Context(), w, healthResponse{Status: "ok", Authorized: authorized}, http.StatusOK)
	})

	return &Server{mux: mux}, nil
}

// ServeHTTP implements http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (s *Server) Start(ctx context.Context, address string) (<-chan error, error) {
	// Create listener synchronously to catch port-in-use errors immediately
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	s.server = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      6 * time.Minute, // Outlives the default upstream timeout
		IdleTimeout:       90 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := s.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	if err := s.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = s.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
