// Package memory provides an in-process Store, the reference implementation
// of the conditional-write contract. Documents are deep-copied on the way in
// and out so callers never alias stored state.
package memory

import (
	"context"
	"sync"

	"github.com/unkn0wn-root/skycache/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu         sync.RWMutex
	shared     map[string]*store.SharedDocument
	identities map[string]*store.IdentityDocument
}

func New() *Store {
	return &Store{
		shared:     make(map[string]*store.SharedDocument),
		identities: make(map[string]*store.IdentityDocument),
	}
}

func (s *Store) FetchShared(_ context.Context, id string) (*store.SharedDocument, bool, error) {
	s.mu.RLock()
	d, ok := s.shared[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return d.Clone(), true, nil
}

func (s *Store) StoreSharedIf(_ context.Context, doc *store.SharedDocument, expected int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if d, ok := s.shared[doc.ID]; ok {
		current = d.Version
	}
	if current != expected {
		return store.ErrVersionConflict
	}

	stored := doc.Clone()
	stored.Version = expected + 1
	s.shared[doc.ID] = stored
	return nil
}

func (s *Store) FetchIdentity(_ context.Context, identity string) (*store.IdentityDocument, bool, error) {
	s.mu.RLock()
	d, ok := s.identities[identity]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return d.Clone(), true, nil
}

func (s *Store) StoreIdentity(_ context.Context, doc *store.IdentityDocument) error {
	s.mu.Lock()
	s.identities[doc.Identity] = doc.Clone()
	s.mu.Unlock()
	return nil
}

func (s *Store) Close(context.Context) error { return nil }
