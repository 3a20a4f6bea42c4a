package handler

import (
	"facturador/internal/billing/models"
)

// InvoiceResponse wraps the invoice with its rendered statutory number so
// clients never reimplement the year/sequence format.
type InvoiceResponse struct {
	*models.Invoice
	Number string `json:"number,omitempty"`
}

func fromInvoice(inv *models.Invoice) InvoiceResponse {
	return InvoiceResponse{Invoice: inv, Number: inv.Number()}
}

func fromInvoices(invs []*models.Invoice) []InvoiceResponse {
	out := make([]InvoiceResponse, len(invs))
	for i, inv := range invs {
		out[i] = fromInvoice(inv)
	}
	return out
}

// ExportResponse is the result of a Facturae export.
type ExportResponse struct {
	Path string `json:"path"`
}
