// Package store persists invoices.
package store

import (
	"context"

	"facturador/internal/billing/models"
	id "facturador/pkg/domain"
)

// Stats is the aggregate view served by the billing statistics endpoint.
type Stats struct {
	ByStatus     map[models.InvoiceStatus]int64 `json:"by_status"`
	Registered   int64                          `json:"registered"`   // acknowledged by the authority
	Exported     int64                          `json:"exported"`     // Facturae document written
	TotalIssued  int64                          `json:"total_issued"` // left DRAFT at least once
	TotalInvoice int64                          `json:"total"`
}

// InvoiceStore persists invoice aggregates. Save on a numbered invoice only
// touches mutable fields (status, authority reference, export path); the
// fiscal content is frozen by the chain.
type InvoiceStore interface {
	Create(ctx context.Context, inv *models.Invoice) error
	Save(ctx context.Context, inv *models.Invoice) error
	Get(ctx context.Context, invoiceID id.InvoiceID) (*models.Invoice, error)
	// GetByNumber resolves an invoice by its chain position.
	GetByNumber(ctx context.Context, issuer id.IssuerNIF, fiscalYear int, sequence int64) (*models.Invoice, error)
	ListByIssuer(ctx context.Context, issuer id.IssuerNIF, limit int) ([]*models.Invoice, error)
	Stats(ctx context.Context) (Stats, error)
}
