package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/florianilch/kroger-bridge/internal/configflow"
	"github.com/florianilch/kroger-bridge/internal/entry"
	"github.com/florianilch/kroger-bridge/internal/kroger"
	"github.com/florianilch/kroger-bridge/internal/server"
	"github.com/florianilch/kroger-bridge/internal/tokensource"
)

// App orchestrates the lifecycle of the bridge server and related services.
type App struct {
	cfg     *Config
	entries entry.Store
	server  *server.Server
}

// New creates a new App instance. No I/O against the entry store or Kroger
// happens until the first request.
func New(cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	entries, err := newEntryStore(cfg.Auth)
	if err != nil {
		return nil, err
	}

	impl := tokensource.NewImplementation(
		cfg.Auth.Credentials(cfg.Upstream.BaseURL),
		tokensource.WithTimeout(cfg.Upstream.Timeout),
	)

	tokens, err := NewPersistentTokenSource(impl.TokenSource, entries)
	if err != nil {
		return nil, fmt.Errorf("failed to create token source: %w", err)
	}

	client, err := kroger.NewClient(tokens,
		kroger.WithBaseURL(cfg.Upstream.BaseURL),
		kroger.WithTimeout(cfg.Upstream.Timeout),
		kroger.WithHome(kroger.Coordinates{Latitude: cfg.Home.Latitude, Longitude: cfg.Home.Longitude}),
		kroger.WithRateLimit(cfg.Upstream.RateLimit, cfg.Upstream.Burst),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kroger client: %w", err)
	}

	flows, err := configflow.NewManager(impl, tokens.Entries(), configflow.WithReloadFunc(tokens.Reload))
	if err != nil {
		return nil, fmt.Errorf("failed to create config flow: %w", err)
	}

	srv, err := server.New(client, flows, server.WithAuthorizationCheck(func(ctx context.Context) (bool, error) {
		return IsAuthorized(ctx, entries)
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	return &App{
		cfg:     cfg,
		entries: entries,
		server:  srv,
	}, nil
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Address()
	var shutdownFuncs []func(context.Context) error

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting bridge server", "address", address)
	serverErrCh, err := a.server.Start(gCtx, address)
	if err != nil {
		return fmt.Errorf("server startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.server.Shutdown)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-serverErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "server runtime error", "error", err)
				return fmt.Errorf("server: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	authorized, err := IsAuthorized(gCtx, a.entries)
	if err != nil {
		slog.WarnContext(gCtx, "failed to read entry", "error", err)
	} else if !authorized {
		slog.WarnContext(gCtx, "integration not authorized yet",
			"authorize_url", "http://"+address+"/auth/kroger/authorize")
	}

	if a.cfg.Home.Latitude == 0 && a.cfg.Home.Longitude == 0 {
		slog.WarnContext(gCtx, "no home location configured, store search needs a zip code or coordinates")
	}

	slog.InfoContext(gCtx, "application ready", "address", address)

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() *server.Server {
	return a.server
}

// LoadEntry reads the stored entry for the configured storage backend.
func LoadEntry(ctx context.Context, cfg AuthConfig) (*entry.Entry, error) {
	entries, err := newEntryStore(cfg)
	if err != nil {
		return nil, err
	}
	return entries.Load(ctx)
}

// DeleteEntry removes the stored entry so the next setup starts from scratch.
func DeleteEntry(ctx context.Context, cfg AuthConfig) error {
	store, err := cfg.NewTokenStore()
	if err != nil {
		return fmt.Errorf("failed to create token store: %w", err)
	}
	return store.Delete(ctx)
}

// IsAuthorized reports whether the config flow has created an entry.
func IsAuthorized(ctx context.Context, entries entry.Store) (bool, error) {
	_, err := entries.Load(ctx)
	switch {
	case errors.Is(err, entry.ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	default:
		return true, nil
	}
}

// newEntryStore creates the entry store on top of the configured token store.
func newEntryStore(cfg AuthConfig) (*entry.TokenStoreBacked, error) {
	store, err := cfg.NewTokenStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create token store: %w", err)
	}

	entries, err := entry.NewStore(store)
	if err != nil {
		return nil, fmt.Errorf("failed to create entry store: %w", err)
	}
	return entries, nil
}
