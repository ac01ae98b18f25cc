// Package hoststub provides in-memory reference implementations of the
// external collaborators a container needs but doesn't itself define:
// the blob store a snapshot's chunked payload is written to and read
// back from, and the handle context that mints and resolves
// Shared-value handles. The Host interface here bundles them, plus
// ordering and logging, into one facade a container attaches to.
package hoststub

import (
	"context"
	"sync"

	"github.com/webflow/shareddata/internal/ddserrors"
)

// BlobStore is a tree-shaped store of named blobs written as a batch
// and read back individually by name.
type BlobStore interface {
	Write(ctx context.Context, blobs map[string][]byte) error
	Read(ctx context.Context, name string) ([]byte, error)
}

// InMemoryBlobStore is a map-backed BlobStore, sufficient for tests
// and for cmd/ddsctl's local session.
type InMemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewInMemoryBlobStore() *InMemoryBlobStore {
	return &InMemoryBlobStore{blobs: make(map[string][]byte)}
}

func (s *InMemoryBlobStore) Write(ctx context.Context, blobs map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, body := range blobs {
		cp := make([]byte, len(body))
		copy(cp, body)
		s.blobs[name] = cp
	}
	return nil
}

func (s *InMemoryBlobStore) Read(ctx context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	body, ok := s.blobs[name]
	if !ok {
		return nil, ddserrors.ErrBlobNotFound
	}
	return body, nil
}
