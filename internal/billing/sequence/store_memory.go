package sequence

import (
	"context"
	"sync"

	id "facturador/pkg/domain"
)

type counterKey struct {
	issuer id.IssuerNIF
	year   int
}

// InMemoryAllocator keeps counters in a map. Development and test use only:
// it serializes concurrent callers with a mutex but cannot participate in a
// SQL transaction, so the no-burn guarantee holds only on the Postgres
// implementation.
type InMemoryAllocator struct {
	mu       sync.Mutex
	counters map[counterKey]int64
}

// NewInMemory creates an empty in-memory allocator.
func NewInMemory() *InMemoryAllocator {
	return &InMemoryAllocator{counters: make(map[counterKey]int64)}
}

// Next returns the next sequence number for the key, starting at 1.
func (a *InMemoryAllocator) Next(ctx context.Context, issuer id.IssuerNIF, fiscalYear int) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := counterKey{issuer: issuer, year: fiscalYear}
	a.counters[key]++
	return a.counters[key], nil
}

// Current returns the last allocated number, or 0 if none.
func (a *InMemoryAllocator) Current(ctx context.Context, issuer id.IssuerNIF, fiscalYear int) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counters[counterKey{issuer: issuer, year: fiscalYear}], nil
}
