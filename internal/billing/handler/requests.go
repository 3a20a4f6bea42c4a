package handler

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"facturador/internal/billing/models"
	"facturador/internal/billing/service"
	dErrors "facturador/pkg/domain-errors"
)

// CreateInvoiceRequest is the payload for POST /billing/invoices.
type CreateInvoiceRequest struct {
	IssuerNIF    string              `json:"issuer_nif"`
	Counterparty CounterpartyPayload `json:"counterparty"`
	IssueDate    string              `json:"issue_date,omitempty"` // YYYY-MM-DD
	DueDate      string              `json:"due_date,omitempty"`
	Lines        []LinePayload       `json:"lines"`
	Notes        string              `json:"notes,omitempty"`
}

type CounterpartyPayload struct {
	NIF      string `json:"nif"`
	Name     string `json:"name"`
	Address  string `json:"address,omitempty"`
	PostCode string `json:"post_code,omitempty"`
	Town     string `json:"town,omitempty"`
	Province string `json:"province,omitempty"`
	Country  string `json:"country,omitempty"`
}

type LinePayload struct {
	ServiceCode string          `json:"service_code,omitempty"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	DiscountPct decimal.Decimal `json:"discount_pct,omitempty"`
	RateClass   string          `json:"rate_class"`
}

// ToInput converts the wire payload into the orchestrator's input, parsing
// dates eagerly so malformed values surface as bad_request.
func (req CreateInvoiceRequest) ToInput() (service.DraftInput, error) {
	issueDate, err := parseDate(req.IssueDate)
	if err != nil {
		return service.DraftInput{}, dErrors.Newf(dErrors.CodeBadRequest, "invalid issue_date %q, want YYYY-MM-DD", req.IssueDate)
	}
	dueDate, err := parseDate(req.DueDate)
	if err != nil {
		return service.DraftInput{}, dErrors.Newf(dErrors.CodeBadRequest, "invalid due_date %q, want YYYY-MM-DD", req.DueDate)
	}

	lines := make([]models.InvoiceLine, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = models.InvoiceLine{
			ServiceCode: l.ServiceCode,
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			DiscountPct: l.DiscountPct,
			RateClass:   models.RateClass(strings.ToLower(strings.TrimSpace(l.RateClass))),
		}
	}

	return service.DraftInput{
		IssuerNIF: req.IssuerNIF,
		Counterparty: models.Counterparty{
			NIF:      req.Counterparty.NIF,
			Name:     req.Counterparty.Name,
			Address:  req.Counterparty.Address,
			PostCode: req.Counterparty.PostCode,
			Town:     req.Counterparty.Town,
			Province: req.Counterparty.Province,
			Country:  req.Counterparty.Country,
		},
		IssueDate: issueDate,
		DueDate:   dueDate,
		Lines:     lines,
		Notes:     req.Notes,
	}, nil
}

// VoidInvoiceRequest is the payload for POST /billing/invoices/{id}/void.
type VoidInvoiceRequest struct {
	Reason string `json:"reason,omitempty"`
}

// RectifyInvoiceRequest is the payload for POST /billing/invoices/{id}/rectify.
// With no lines the original is reversed in full.
type RectifyInvoiceRequest struct {
	Lines  []LinePayload `json:"lines,omitempty"`
	Reason string        `json:"reason,omitempty"`
}

func (req RectifyInvoiceRequest) ToInput() service.RectifyInput {
	lines := make([]models.InvoiceLine, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = models.InvoiceLine{
			ServiceCode: l.ServiceCode,
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			DiscountPct: l.DiscountPct,
			RateClass:   models.RateClass(strings.ToLower(strings.TrimSpace(l.RateClass))),
		}
	}
	return service.RectifyInput{Lines: lines, Reason: req.Reason}
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}
