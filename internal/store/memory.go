package store

import (
	"context"
	"strconv"
	"sync"
)

// MemoryStore is an in-process DocumentStore used in tests and local runs.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]Document
	rev  int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]Document)}
}

// Seed installs a document without version checking.
func (s *MemoryStore) Seed(path, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rev++
	s.docs[path] = Document{Path: path, Content: content, Version: strconv.Itoa(s.rev)}
}

// Fetch returns the current document at path.
func (s *MemoryStore) Fetch(ctx context.Context, path string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[path]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

// Overwrite replaces the document when expectedVersion matches.
func (s *MemoryStore) Overwrite(ctx context.Context, path, content, expectedVersion string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.docs[path]
	if !ok {
		return "", ErrNotFound
	}
	if cur.Version != expectedVersion {
		return "", ErrConflict
	}
	s.rev++
	next := Document{Path: path, Content: content, Version: strconv.Itoa(s.rev)}
	s.docs[path] = next
	return next.Version, nil
}
