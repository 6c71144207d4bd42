package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/oauth2"

	"github.com/florianilch/kroger-bridge/internal/entry"
	"github.com/florianilch/kroger-bridge/internal/kroger"
)

// ErrNotAuthorized is returned by Token until the config flow has created an entry.
var ErrNotAuthorized = fmt.Errorf("%w: integration has not been authorized", kroger.ErrNoToken)

// TokenSourceFactory creates an oauth2.TokenSource from the stored session.
type TokenSourceFactory func(tok *oauth2.Token) oauth2.TokenSource

// PersistentTokenSource wraps an oauth2.TokenSource and writes rotated tokens
// back into the entry. The entry is read lazily on the first Token call and
// again after Reload.
//
// Every Reload or Save through Entries starts a new generation. A token
// obtained from an older generation is returned to the caller but never
// written back, so it cannot overwrite a newer authorization.
type PersistentTokenSource struct {
	factory TokenSourceFactory
	entries entry.Store

	mu      sync.Mutex
	current oauth2.TokenSource

	generation      atomic.Uint64
	lastAccessToken atomic.Pointer[string]
	writeMu         sync.Mutex
}

// Compile-time check to ensure PersistentTokenSource implements oauth2.TokenSource
var _ oauth2.TokenSource = (*PersistentTokenSource)(nil)

// NewPersistentTokenSource creates a PersistentTokenSource.
// No I/O is performed until the first Token call.
func NewPersistentTokenSource(factory TokenSourceFactory, entries entry.Store) (*PersistentTokenSource, error) {
	if factory == nil {
		return nil, fmt.Errorf("missing token source factory")
	}
	if entries == nil {
		return nil, fmt.Errorf("missing entry store")
	}

	return &PersistentTokenSource{
		factory: factory,
		entries: entries,
	}, nil
}

// Reload drops the current session so the next Token call reads the entry again.
func (p *PersistentTokenSource) Reload() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = nil
	p.lastAccessToken.Store(nil)
	p.generation.Add(1)
}

// Entries returns a view of the entry store whose writes are serialized with
// token write-back. Saving through it also drops the current session.
func (p *PersistentTokenSource) Entries() entry.Store {
	return guardedEntries{p: p}
}

type guardedEntries struct {
	p *PersistentTokenSource
}

func (g guardedEntries) Load(ctx context.Context) (*entry.Entry, error) {
	return g.p.entries.Load(ctx)
}

func (g guardedEntries) Save(ctx context.Context, e *entry.Entry) error {
	g.p.writeMu.Lock()
	defer g.p.writeMu.Unlock()

	if err := g.p.entries.Save(ctx, e); err != nil {
		return err
	}
	g.p.Reload()
	return nil
}

// tokenSource returns the cached source or builds one from the stored entry,
// together with the generation it belongs to. A missing entry is not cached,
// so authorizing later needs no restart.
func (p *PersistentTokenSource) tokenSource() (oauth2.TokenSource, uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	gen := p.generation.Load()
	if p.current != nil {
		return p.current, gen, nil
	}

	// oauth2.TokenSource.Token() has no context parameter (legacy interface limitation)
	ctx := context.Background()

	e, err := p.entries.Load(ctx)
	if errors.Is(err, entry.ErrNotFound) {
		return nil, 0, ErrNotAuthorized
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read entry: %w", err)
	}

	// Remember the stored token to avoid a write-back on the first Token call
	stored := e.Token.AccessToken
	p.lastAccessToken.Store(&stored)

	p.current = p.factory(e.Token)
	return p.current, gen, nil
}

// Token returns a valid token, refreshing if necessary and persisting rotations.
func (p *PersistentTokenSource) Token() (*oauth2.Token, error) {
	ts, gen, err := p.tokenSource()
	if err != nil {
		return nil, err
	}

	freshToken, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("getting token from token source: %w", err)
	}

	// Hot path: lock-free atomic read for minimal contention
	last := ""
	if lastPtr := p.lastAccessToken.Load(); lastPtr != nil {
		last = *lastPtr
	}

	if freshToken.AccessToken != last {
		p.persist(freshToken, gen)
	}

	return freshToken, nil
}

// persist writes a refreshed token into the entry. Failures are logged only:
// the access token is still usable, but a restart would fall back to the old
// refresh token.
func (p *PersistentTokenSource) persist(tok *oauth2.Token, gen uint64) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	// Note: oauth2.TokenSource interface has no context parameter (legacy interface)
	ctx := context.Background()

	if p.generation.Load() != gen {
		slog.DebugContext(ctx, "skipping write-back of token from a replaced session")
		return
	}

	e, err := p.entries.Load(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load entry for token write-back", "error", err)
		return
	}

	// Kroger may omit the refresh token on refresh; oauth2 carries the old one over.
	e.Token = tok
	if err := p.entries.Save(ctx, e); err != nil {
		slog.ErrorContext(ctx, "failed to persist refreshed token", "error", err)
		return
	}

	access := tok.AccessToken
	p.lastAccessToken.Store(&access)
	slog.DebugContext(ctx, "persisted refreshed token", "entry_id", e.ID, "expiry", tok.Expiry)
}
