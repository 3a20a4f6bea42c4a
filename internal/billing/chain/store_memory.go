package chain

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"facturador/internal/billing/models"
	id "facturador/pkg/domain"
	"facturador/pkg/platform/sentinel"
)

type positionKey struct {
	year int
	seq  int64
}

// InMemoryStore keeps chains in maps. Development and test use only.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[id.IssuerNIF]map[positionKey]models.ChainEntry
}

// NewInMemory creates an empty in-memory chain store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{entries: make(map[id.IssuerNIF]map[positionKey]models.ChainEntry)}
}

// Append inserts the entry, rejecting duplicates for a chain position.
func (s *InMemoryStore) Append(ctx context.Context, entry models.ChainEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain, ok := s.entries[entry.IssuerNIF]
	if !ok {
		chain = make(map[positionKey]models.ChainEntry)
		s.entries[entry.IssuerNIF] = chain
	}
	key := positionKey{year: entry.FiscalYear, seq: entry.Sequence}
	if _, exists := chain[key]; exists {
		return fmt.Errorf("chain position %d/%d taken: %w", entry.FiscalYear, entry.Sequence, sentinel.ErrConflict)
	}
	chain[key] = entry
	return nil
}

// Head returns the entry with the highest (fiscal year, sequence).
func (s *InMemoryStore) Head(ctx context.Context, issuer id.IssuerNIF) (models.ChainEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.entries[issuer]
	if len(chain) == 0 {
		return models.ChainEntry{}, sentinel.ErrNotFound
	}
	var head models.ChainEntry
	var found bool
	for _, entry := range chain {
		if !found || entry.FiscalYear > head.FiscalYear ||
			(entry.FiscalYear == head.FiscalYear && entry.Sequence > head.Sequence) {
			head = entry
			found = true
		}
	}
	return head, nil
}

// Get returns the entry at a chain position.
func (s *InMemoryStore) Get(ctx context.Context, issuer id.IssuerNIF, fiscalYear int, sequence int64) (models.ChainEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[issuer][positionKey{year: fiscalYear, seq: sequence}]
	if !ok {
		return models.ChainEntry{}, sentinel.ErrNotFound
	}
	return entry, nil
}

// ListAsc returns all entries ordered by (fiscal year, sequence).
func (s *InMemoryStore) ListAsc(ctx context.Context, issuer id.IssuerNIF) ([]models.ChainEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.entries[issuer]
	out := make([]models.ChainEntry, 0, len(chain))
	for _, entry := range chain {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FiscalYear != out[j].FiscalYear {
			return out[i].FiscalYear < out[j].FiscalYear
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out, nil
}

// Tamper overwrites a stored entry in place. Test helper for verification
// scenarios; the Postgres store has no equivalent.
func (s *InMemoryStore) Tamper(issuer id.IssuerNIF, fiscalYear int, sequence int64, mutate func(*models.ChainEntry)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.entries[issuer]
	key := positionKey{year: fiscalYear, seq: sequence}
	entry, ok := chain[key]
	if !ok {
		return false
	}
	mutate(&entry)
	chain[key] = entry
	return true
}
