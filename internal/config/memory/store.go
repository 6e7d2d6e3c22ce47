// Package memory provides an in-memory config.Store, used in tests and as
// the default for single-process deployments with no persistence
// requirement, mirroring the teacher's own memory-backed config store.
package memory

import (
	"context"
	"sync"

	"fluxgate/internal/config"
)

// Store is a config.Store backed by a single in-process value. It is safe
// for concurrent use.
type Store struct {
	mu  sync.RWMutex
	cfg *config.Config
}

// New returns an empty Store.
func New() *Store {
	return &Store{}
}

// Load returns a copy of the last-saved Config, or nil if none has been
// saved yet.
func (s *Store) Load(_ context.Context) (*config.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return nil, nil
	}
	cp := *s.cfg
	return &cp, nil
}

// Save replaces the stored Config.
func (s *Store) Save(_ context.Context, cfg *config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cfg
	s.cfg = &cp
	return nil
}
