package registry

import (
	"context"
	"sync"
	"time"

	"github.com/byte4ever/promptops/repoflow/errs"
)

// MemoryStore is an in-memory Store used in individual
// hosting mode and in tests. Records are copied on every
// boundary so callers never alias stored state.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*Record
	byOwner map[string]string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*Record),
		byOwner: make(map[string]string),
	}
}

// ownerKey keys the (user, repository) pairing.
func ownerKey(userID, fullName string) string {
	return userID + "\x00" + fullName
}

// Get implements Store.
func (s *MemoryStore) Get(
	_ context.Context,
	userID string,
	fullName string,
) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byOwner[ownerKey(userID, fullName)]
	if !ok {
		return nil, errs.Ef(
			errs.KindNotFound,
			"record for %s/%s", userID, fullName,
		)
	}

	cp := *s.byID[id]

	return &cp, nil
}

// Create implements Store.
func (s *MemoryStore) Create(
	_ context.Context,
	rec *Record,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ownerKey(rec.UserID, rec.FullName)

	if _, ok := s.byOwner[key]; ok {
		return errs.Ef(
			errs.KindConflict,
			"record for %s/%s already exists",
			rec.UserID, rec.FullName,
		)
	}

	cp := *rec
	s.byID[cp.ID] = &cp
	s.byOwner[key] = cp.ID

	return nil
}

// Update implements Store.
func (s *MemoryStore) Update(
	_ context.Context,
	rec *Record,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[rec.ID]; !ok {
		return errs.Ef(
			errs.KindNotFound, "record %s", rec.ID,
		)
	}

	cp := *rec
	cp.UpdatedAt = time.Now().UTC()
	s.byID[cp.ID] = &cp

	return nil
}

// ListByUser implements Store.
func (s *MemoryStore) ListByUser(
	_ context.Context,
	userID string,
) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record

	for _, rec := range s.byID {
		if rec.UserID != userID {
			continue
		}

		cp := *rec
		out = append(out, &cp)
	}

	return out, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(
	_ context.Context,
	id string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return errs.Ef(
			errs.KindNotFound, "record %s", id,
		)
	}

	delete(
		s.byOwner,
		ownerKey(rec.UserID, rec.FullName),
	)
	delete(s.byID, id)

	return nil
}
