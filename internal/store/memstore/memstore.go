// Package memstore is store.Store's in-memory backend, used by tests, the
// same role storage/memory plays for go-git.
package memstore

import (
	"context"
	"sync"

	"github.com/tangramhq/tangram/internal/id"
	"github.com/tangramhq/tangram/internal/store"
	"github.com/tangramhq/tangram/internal/tgerror"
)

// Store is a mutex-guarded map of id to frame bytes.
type Store struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// New returns an empty Store.
func New() *Store {
	return &Store{objects: make(map[string][]byte)}
}

var _ store.Store = (*Store)(nil)

func (s *Store) Put(_ context.Context, kind id.Kind, frame []byte) (id.Id, error) {
	oid := id.NewContentAddressed(kind, frame)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[oid.String()] = append([]byte(nil), frame...)
	return oid, nil
}

func (s *Store) PutBatch(ctx context.Context, frames []store.PutRequest) ([]id.Id, error) {
	ids := make([]id.Id, len(frames))
	s.mu.Lock()
	defer s.mu.Unlock()
	staged := make(map[string][]byte, len(frames))
	for i, req := range frames {
		oid := id.NewContentAddressed(req.Kind, req.Frame)
		ids[i] = oid
		staged[oid.String()] = append([]byte(nil), req.Frame...)
	}
	for k, v := range staged {
		s.objects[k] = v
	}
	return ids, nil
}

func (s *Store) Get(_ context.Context, oid id.Id) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	frame, ok := s.objects[oid.String()]
	if !ok {
		return nil, tgerror.New(tgerror.NotFound, "object %s not found", oid)
	}
	return append([]byte(nil), frame...), nil
}

func (s *Store) GetBatch(_ context.Context, ids []id.Id) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([][]byte, len(ids))
	for i, oid := range ids {
		if frame, ok := s.objects[oid.String()]; ok {
			out[i] = append([]byte(nil), frame...)
		}
	}
	return out, nil
}

func (s *Store) Has(_ context.Context, oid id.Id) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[oid.String()]
	return ok, nil
}

func (s *Store) Delete(_ context.Context, oid id.Id) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, oid.String())
	return nil
}

// Len reports the number of stored objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
