// Package baseline keeps the persisted set of known symbols that new
// listings are diffed against. The set only grows: a symbol delisted at the
// source never leaves the baseline, so a re-listing does not fire again.
package baseline

import (
	"context"
	"fmt"
	"log"
	"sync"

	"listing-core/pkg/db"
)

// Store holds the baseline in memory and mirrors every addition to the
// database before it becomes visible to readers.
type Store struct {
	mu      sync.RWMutex
	symbols map[string]bool
	db      *db.Database
}

// NewStore creates an empty store backed by the given database.
func NewStore(database *db.Database) *Store {
	return &Store{
		symbols: make(map[string]bool),
		db:      database,
	}
}

// Load reads the persisted baseline into memory. Call once at startup
// before any Contains/Add.
func (s *Store) Load(ctx context.Context) error {
	symbols, err := s.db.BaselineList(ctx)
	if err != nil {
		return fmt.Errorf("load baseline: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range symbols {
		s.symbols[sym] = true
	}
	log.Printf("baseline loaded: %d symbols", len(s.symbols))
	return nil
}

// Empty reports whether the baseline holds no symbols. An empty baseline
// means cold start: the first universe snapshot seeds it without emitting
// any listing events.
func (s *Store) Empty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.symbols) == 0
}

// Size returns the number of symbols in the baseline.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.symbols)
}

// Contains reports whether a symbol is already known.
func (s *Store) Contains(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.symbols[symbol]
}

// Add persists the symbols and then adds them to the in-memory set.
// Persist-first ordering means a crash between the two steps re-reads the
// symbol on restart instead of losing it.
func (s *Store) Add(ctx context.Context, symbols ...string) error {
	if len(symbols) == 0 {
		return nil
	}
	if err := s.db.BaselineAdd(ctx, symbols); err != nil {
		return fmt.Errorf("persist baseline symbols: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range symbols {
		s.symbols[sym] = true
	}
	return nil
}

// Diff returns the symbols from universe that are not yet in the baseline,
// preserving input order.
func (s *Store) Diff(universe []string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var fresh []string
	for _, sym := range universe {
		if !s.symbols[sym] {
			fresh = append(fresh, sym)
		}
	}
	return fresh
}
