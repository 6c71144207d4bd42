package tokenstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Read when nothing has been stored yet.
var ErrNotFound = errors.New("token store: value not found")

// TokenStore reads and writes a single serialized value to persistent storage.
type TokenStore interface {
	// Read returns the stored value. Returns ErrNotFound if nothing is stored.
	Read(ctx context.Context) (string, error)

	// Write persists the value, replacing any previous one.
	Write(ctx context.Context, value string) error

	// Delete removes the stored value. Deleting a missing value is not an error.
	Delete(ctx context.Context) error
}
