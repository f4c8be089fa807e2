// Package oauthstate issues and redeems the single-use
// state values carried through an OAuth authorization
// round trip. The store is an explicit dependency handed to
// whatever drives the OAuth exchange, never process-global
// state.
package oauthstate

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store holds issued states until they are consumed or
// expire. Safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	ttl    time.Duration
	states map[string]time.Time

	// now is swapped in tests.
	now func() time.Time
}

// New returns a store whose states expire after ttl.
func New(ttl time.Duration) *Store {
	return &Store{
		ttl:    ttl,
		states: make(map[string]time.Time),
		now:    time.Now,
	}
}

// Issue registers and returns a fresh state value.
func (s *Store) Issue() string {
	state := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked()
	s.states[state] = s.now().Add(s.ttl)

	return state
}

// Consume redeems a state value. A state is redeemable at
// most once; unknown and expired states report false.
func (s *Store) Consume(state string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadline, ok := s.states[state]
	if !ok {
		return false
	}

	delete(s.states, state)

	return s.now().Before(deadline)
}

// Len reports how many unexpired states are pending.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked()

	return len(s.states)
}

// purgeLocked drops expired states. Callers hold mu.
func (s *Store) purgeLocked() {
	now := s.now()

	for state, deadline := range s.states {
		if !now.Before(deadline) {
			delete(s.states, state)
		}
	}
}
