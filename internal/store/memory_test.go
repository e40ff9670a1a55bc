package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreFetch(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.Fetch(context.Background(), "missing.csv")
	assert.ErrorIs(t, err, ErrNotFound)

	s.Seed("data.csv", "a,b\n1,2\n")
	doc, err := s.Fetch(context.Background(), "data.csv")
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", doc.Content)
	assert.NotEmpty(t, doc.Version)
}

func TestMemoryStoreOverwrite(t *testing.T) {
	s := NewMemoryStore()
	s.Seed("data.csv", "v1")

	doc, err := s.Fetch(context.Background(), "data.csv")
	require.NoError(t, err)

	next, err := s.Overwrite(context.Background(), "data.csv", "v2", doc.Version)
	require.NoError(t, err)
	assert.NotEqual(t, doc.Version, next)

	// stale version is a conflict
	_, err = s.Overwrite(context.Background(), "data.csv", "v3", doc.Version)
	assert.ErrorIs(t, err, ErrConflict)

	// missing document
	_, err = s.Overwrite(context.Background(), "missing.csv", "v1", "1")
	assert.ErrorIs(t, err, ErrNotFound)

	current, err := s.Fetch(context.Background(), "data.csv")
	require.NoError(t, err)
	assert.Equal(t, "v2", current.Content)
}
