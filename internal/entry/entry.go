// Package entry persists the single configured Kroger integration instance,
// including its OAuth2 session, on top of a tokenstore backend.
package entry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/florianilch/kroger-bridge/internal/tokenstore"
)

// DefaultTitle is the title given to newly created entries.
const DefaultTitle = "KrogerAPI"

// ErrNotFound is returned when no entry has been configured yet.
var ErrNotFound = errors.New("no kroger entry configured")

// Entry is one configured integration instance.
type Entry struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Token     *oauth2.Token `json:"token"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Store loads and saves the entry.
type Store interface {
	Load(ctx context.Context) (*Entry, error)
	Save(ctx context.Context, e *Entry) error
}

// TokenStoreBacked serializes the entry as JSON into a tokenstore.TokenStore.
type TokenStoreBacked struct {
	backend tokenstore.TokenStore
	nowFunc func() time.Time
}

// Compile-time check to ensure TokenStoreBacked implements Store
var _ Store = (*TokenStoreBacked)(nil)

// NewStore wraps backend.
func NewStore(backend tokenstore.TokenStore) (*TokenStoreBacked, error) {
	if backend == nil {
		return nil, fmt.Errorf("missing token store")
	}
	return &TokenStoreBacked{backend: backend, nowFunc: time.Now}, nil
}

// Load returns the stored entry or ErrNotFound.
func (s *TokenStoreBacked) Load(ctx context.Context) (*Entry, error) {
	raw, err := s.backend.Read(ctx)
	if errors.Is(err, tokenstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading entry: %w", err)
	}

	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, fmt.Errorf("decoding entry: %w", err)
	}
	if e.Token == nil {
		return nil, fmt.Errorf("entry %s has no token", e.ID)
	}
	return &e, nil
}

// Save stamps UpdatedAt (and CreatedAt for new entries) and writes e.
func (s *TokenStoreBacked) Save(ctx context.Context, e *Entry) error {
	if e == nil || e.Token == nil {
		return fmt.Errorf("entry must carry a token")
	}

	now := s.nowFunc().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding entry: %w", err)
	}

	if err := s.backend.Write(ctx, string(raw)); err != nil {
		return fmt.Errorf("writing entry: %w", err)
	}
	return nil
}
