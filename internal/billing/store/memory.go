package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"facturador/internal/billing/models"
	id "facturador/pkg/domain"
	"facturador/pkg/platform/sentinel"
)

// InMemoryStore keeps invoices in a map. Development and test use only.
type InMemoryStore struct {
	mu       sync.RWMutex
	invoices map[id.InvoiceID]*models.Invoice
}

// NewInMemory creates an empty in-memory invoice store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{invoices: make(map[id.InvoiceID]*models.Invoice)}
}

func clone(inv *models.Invoice) *models.Invoice {
	cp := *inv
	cp.Lines = append([]models.InvoiceLine(nil), inv.Lines...)
	cp.Breakdown.Groups = append([]models.TaxGroup(nil), inv.Breakdown.Groups...)
	return &cp
}

// Create inserts a new invoice, rejecting duplicate IDs.
func (s *InMemoryStore) Create(ctx context.Context, inv *models.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.invoices[inv.ID]; exists {
		return fmt.Errorf("invoice %s exists: %w", inv.ID, sentinel.ErrConflict)
	}
	s.invoices[inv.ID] = clone(inv)
	return nil
}

// Save overwrites an existing invoice.
func (s *InMemoryStore) Save(ctx context.Context, inv *models.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.invoices[inv.ID]; !exists {
		return fmt.Errorf("invoice %s: %w", inv.ID, sentinel.ErrNotFound)
	}
	s.invoices[inv.ID] = clone(inv)
	return nil
}

// Get fetches an invoice by ID.
func (s *InMemoryStore) Get(ctx context.Context, invoiceID id.InvoiceID) (*models.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[invoiceID]
	if !ok {
		return nil, fmt.Errorf("invoice %s: %w", invoiceID, sentinel.ErrNotFound)
	}
	return clone(inv), nil
}

// GetByNumber resolves an invoice by its chain position.
func (s *InMemoryStore) GetByNumber(ctx context.Context, issuer id.IssuerNIF, fiscalYear int, sequence int64) (*models.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inv := range s.invoices {
		if inv.IssuerNIF == issuer && inv.FiscalYear == fiscalYear && inv.Sequence == sequence {
			return clone(inv), nil
		}
	}
	return nil, fmt.Errorf("invoice %s %d/%08d: %w", issuer, fiscalYear, sequence, sentinel.ErrNotFound)
}

// ListByIssuer returns the issuer's invoices, newest first.
func (s *InMemoryStore) ListByIssuer(ctx context.Context, issuer id.IssuerNIF, limit int) ([]*models.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Invoice
	for _, inv := range s.invoices {
		if inv.IssuerNIF == issuer {
			out = append(out, clone(inv))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Stats aggregates counts by status.
func (s *InMemoryStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := Stats{ByStatus: make(map[models.InvoiceStatus]int64)}
	for _, inv := range s.invoices {
		stats.ByStatus[inv.Status]++
		stats.TotalInvoice++
		if inv.Status != models.StatusDraft && inv.Status != models.StatusVoided {
			stats.TotalIssued++
		}
		if inv.AuthorityRef != "" {
			stats.Registered++
		}
		if inv.FacturaePath != "" {
			stats.Exported++
		}
	}
	return stats, nil
}
