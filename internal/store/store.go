package store

import (
	"context"
	"errors"
)

// Sentinel errors for document access.
var (
	// ErrNotFound indicates the document does not exist at the path.
	ErrNotFound = errors.New("document not found")
	// ErrConflict indicates the store's current version no longer matches
	// the expected prior version passed to Overwrite.
	ErrConflict = errors.New("document version conflict")
)

// Document is a versioned text blob held by the remote record store.
type Document struct {
	Path    string
	Content string
	Version string
}

// DocumentStore abstracts the remote record store holding the roster and
// registry tables. Overwrite uses optimistic concurrency: it succeeds only
// when expectedVersion matches the store's current version and returns the
// new version on success.
type DocumentStore interface {
	Fetch(ctx context.Context, path string) (Document, error)
	Overwrite(ctx context.Context, path, content, expectedVersion string) (string, error)
}
