package issuer

import (
	"context"
	"fmt"
	"sort"
	"sync"

	id "facturador/pkg/domain"
	"facturador/pkg/platform/sentinel"
)

// InMemoryStore keeps issuers in a map. Development and test use.
type InMemoryStore struct {
	mu      sync.RWMutex
	issuers map[id.IssuerNIF]*Issuer
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{issuers: make(map[id.IssuerNIF]*Issuer)}
}

func clone(iss *Issuer) *Issuer {
	c := *iss
	return &c
}

func (s *InMemoryStore) Create(_ context.Context, iss *Issuer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.issuers[iss.NIF]; ok {
		return fmt.Errorf("issuer %s: %w", iss.NIF, sentinel.ErrConflict)
	}
	s.issuers[iss.NIF] = clone(iss)
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, nif id.IssuerNIF) (*Issuer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	iss, ok := s.issuers[nif]
	if !ok {
		return nil, fmt.Errorf("issuer %s: %w", nif, sentinel.ErrNotFound)
	}
	return clone(iss), nil
}

func (s *InMemoryStore) List(_ context.Context) ([]*Issuer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Issuer, 0, len(s.issuers))
	for _, iss := range s.issuers {
		out = append(out, clone(iss))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NIF < out[j].NIF })
	return out, nil
}

func (s *InMemoryStore) Execute(_ context.Context, nif id.IssuerNIF, validate func(*Issuer) error, mutate func(*Issuer)) (*Issuer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	iss, ok := s.issuers[nif]
	if !ok {
		return nil, fmt.Errorf("issuer %s: %w", nif, sentinel.ErrNotFound)
	}
	working := clone(iss)
	if err := validate(working); err != nil {
		return nil, err
	}
	mutate(working)
	s.issuers[nif] = working
	return clone(working), nil
}
