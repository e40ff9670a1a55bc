package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps documents in a single table with a version column,
// for deployments that hold the roster and registry next to the rest of
// their infrastructure instead of a hosted repository.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a Postgres-backed implementation.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Fetch returns the current document at path.
func (s *PostgresStore) Fetch(ctx context.Context, path string) (Document, error) {
	const query = `SELECT content, version FROM documents WHERE path=$1`

	var doc Document
	doc.Path = path
	if err := s.pool.QueryRow(ctx, query, path).Scan(&doc.Content, &doc.Version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, err
	}
	return doc, nil
}

// Overwrite replaces the document with a compare-and-swap on the version.
func (s *PostgresStore) Overwrite(ctx context.Context, path, content, expectedVersion string) (string, error) {
	const query = `
        UPDATE documents SET content=$1, version=$2, updated_at=NOW()
        WHERE path=$3 AND version=$4`

	next := uuid.NewString()
	cmd, err := s.pool.Exec(ctx, query, content, next, path, expectedVersion)
	if err != nil {
		return "", err
	}
	if cmd.RowsAffected() == 0 {
		// Distinguish a missing row from a stale version.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM documents WHERE path=$1)`, path).Scan(&exists); err != nil {
			return "", err
		}
		if !exists {
			return "", ErrNotFound
		}
		return "", ErrConflict
	}
	return next, nil
}
