// Package memory implements an in-memory submission ledger for tests.
package memory

import (
	"context"
	"sync"

	"tenxpipeline/internal/ledger/core"
)

// Store implements core.Store backed by process memory.
type Store struct {
	mu      sync.RWMutex
	entries []core.Entry
}

// New returns an empty in-memory ledger.
func New() *Store { return &Store{} }

// Driver returns the ledger driver identifier.
func (s *Store) Driver() core.Driver { return core.DriverMemory }

// Record appends the entry.
func (s *Store) Record(_ context.Context, e core.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.DependsOn = append([]string(nil), e.DependsOn...)
	s.entries = append(s.entries, e)
	return nil
}

// List returns the entries recorded for experimentName in insertion order.
func (s *Store) List(_ context.Context, experimentName string) ([]core.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Entry
	for _, e := range s.entries {
		if e.ExperimentName == experimentName {
			e.DependsOn = append([]string(nil), e.DependsOn...)
			out = append(out, e)
		}
	}
	return out, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }
