package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	id "facturador/pkg/domain"
	dErrors "facturador/pkg/domain-errors"
)

// InvoiceStatus is the lifecycle state of an invoice.
//
// Transitions:
//
//	DRAFT → NUMBERED            (tax + sequence + chain append, one transaction)
//	NUMBERED → SUBMITTED        (authority submission dispatched)
//	SUBMITTED → ACKNOWLEDGED    (authority accepted, reference stored)
//	SUBMITTED → REJECTED        (definitive authority rejection, terminal)
//	ACKNOWLEDGED → EXPORTED     (Facturae document written)
//	DRAFT → VOIDED              (draft discarded)
//	NUMBERED → VOIDED           (only while submission still PENDING)
//
// Once an invoice leaves DRAFT its number, lines, and totals are immutable.
// Corrections are a new rectifying invoice referencing the original.
type InvoiceStatus string

const (
	StatusDraft        InvoiceStatus = "DRAFT"
	StatusNumbered     InvoiceStatus = "NUMBERED"
	StatusSubmitted    InvoiceStatus = "SUBMITTED"
	StatusAcknowledged InvoiceStatus = "ACKNOWLEDGED"
	StatusRejected     InvoiceStatus = "REJECTED"
	StatusExported     InvoiceStatus = "EXPORTED"
	StatusVoided       InvoiceStatus = "VOIDED"
)

// RateClass is the closed set of IVA classifications a line may carry.
// The percentage in force for a class at a given issue date comes from the
// time-versioned rate table; a line is bound to the resolved percentage at
// issuance and never recalculated.
type RateClass string

const (
	RateGeneral      RateClass = "general"       // 21%
	RateReduced      RateClass = "reduced"       // 10%
	RateSuperReduced RateClass = "super_reduced" // 4%
	RateMedical      RateClass = "medical"       // 4%, sanitary services (CNAE 85.11)
)

// Valid reports whether the class is one of the statutory classifications.
func (c RateClass) Valid() bool {
	switch c {
	case RateGeneral, RateReduced, RateSuperReduced, RateMedical:
		return true
	}
	return false
}

// InvoiceLine is one billed concept. Quantity and prices are decimals; the
// computed amounts are filled by the tax engine and frozen at issuance.
type InvoiceLine struct {
	LineNumber  int             `json:"line_number"`
	ServiceCode string          `json:"service_code,omitempty"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	DiscountPct decimal.Decimal `json:"discount_pct"`
	RateClass   RateClass       `json:"rate_class"`

	// Computed at issuance.
	BaseAmount decimal.Decimal `json:"base_amount"`
	RatePct    decimal.Decimal `json:"rate_pct"`
	TaxAmount  decimal.Decimal `json:"tax_amount"`
	LineTotal  decimal.Decimal `json:"line_total"`
}

// TaxGroup is the per-rate aggregate of the invoice. Group tax is rounded
// once on the group base, so per-line tax figures are informational and the
// group figures are authoritative.
type TaxGroup struct {
	RatePct decimal.Decimal `json:"rate_pct"`
	Base    decimal.Decimal `json:"base"`
	Tax     decimal.Decimal `json:"tax"`
}

// TaxBreakdown aggregates the invoice by rate.
// Invariant: sum of group bases = TotalBase, sum of group taxes = TotalTax,
// TotalBase + TotalTax = Total, all at two decimals.
type TaxBreakdown struct {
	Groups    []TaxGroup      `json:"groups"`
	TotalBase decimal.Decimal `json:"total_base"`
	TotalTax  decimal.Decimal `json:"total_tax"`
	Total     decimal.Decimal `json:"total"`
}

// Counterparty identifies the invoiced party.
type Counterparty struct {
	NIF      string `json:"nif"`
	Name     string `json:"name"`
	Address  string `json:"address,omitempty"`
	PostCode string `json:"post_code,omitempty"`
	Town     string `json:"town,omitempty"`
	Province string `json:"province,omitempty"`
	Country  string `json:"country,omitempty"` // ISO code, defaults to ES
}

// Invoice is the aggregate root of the billing domain.
type Invoice struct {
	ID           id.InvoiceID  `json:"id"`
	IssuerNIF    id.IssuerNIF  `json:"issuer_nif"`
	Counterparty Counterparty  `json:"counterparty"`
	IssueDate    time.Time     `json:"issue_date"`
	DueDate      time.Time     `json:"due_date"`
	Currency     string        `json:"currency"` // fixed EUR
	Lines        []InvoiceLine `json:"lines"`
	Breakdown    TaxBreakdown  `json:"breakdown"`
	Status       InvoiceStatus `json:"status"`

	// Assigned when the invoice leaves DRAFT.
	FiscalYear int    `json:"fiscal_year,omitempty"`
	Sequence   int64  `json:"sequence,omitempty"`
	ChainHash  string `json:"chain_hash,omitempty"`

	// Assigned on authority acknowledgement.
	AuthorityRef string     `json:"authority_ref,omitempty"`
	RegisteredAt *time.Time `json:"registered_at,omitempty"`
	CertAlias    string     `json:"cert_alias,omitempty"`

	// Assigned on Facturae export.
	FacturaePath string `json:"facturae_path,omitempty"`

	// Set on rectifying invoices (credit notes): the corrected invoice and
	// its statutory number as it was issued.
	Rectifies       *id.InvoiceID `json:"rectifies,omitempty"`
	RectifiesNumber string        `json:"rectifies_number,omitempty"`

	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Number renders the statutory invoice number, year plus zero-padded
// sequence: 2026/00000042. Empty until the invoice is numbered.
func (inv *Invoice) Number() string {
	if inv.Sequence == 0 {
		return ""
	}
	return fmt.Sprintf("%d/%08d", inv.FiscalYear, inv.Sequence)
}

// IsRectification reports whether the invoice corrects another one.
func (inv *Invoice) IsRectification() bool { return inv.Rectifies != nil }

// CanIssue checks that the invoice may leave DRAFT.
func (inv *Invoice) CanIssue() error {
	if inv.Status != StatusDraft {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "invoice %s is %s, only drafts can be issued", inv.ID, inv.Status)
	}
	if len(inv.Lines) == 0 {
		return dErrors.New(dErrors.CodeUnprocessable, "invoice has no lines")
	}
	return nil
}

// ApplyNumbering freezes the allocated sequence and chain hash on the
// invoice. Call only inside the issuance transaction.
func (inv *Invoice) ApplyNumbering(fiscalYear int, sequence int64, chainHash string, now time.Time) {
	inv.FiscalYear = fiscalYear
	inv.Sequence = sequence
	inv.ChainHash = chainHash
	inv.Status = StatusNumbered
	inv.UpdatedAt = now
}

// CanVoid checks the cancellation window. A numbered invoice may be voided
// only while its submission is still pending; the caller supplies that fact
// since submission state lives in another store.
func (inv *Invoice) CanVoid(submissionPending bool) error {
	switch inv.Status {
	case StatusDraft:
		return nil
	case StatusNumbered:
		if !submissionPending {
			return dErrors.New(dErrors.CodeInvariantViolation, "invoice already sent to the authority; issue a rectifying invoice instead")
		}
		return nil
	default:
		return dErrors.Newf(dErrors.CodeInvariantViolation, "invoice in state %s cannot be voided", inv.Status)
	}
}

// ApplyAcknowledgement records the authority reference.
func (inv *Invoice) ApplyAcknowledgement(ref, certAlias string, at time.Time) {
	inv.AuthorityRef = ref
	inv.CertAlias = certAlias
	inv.RegisteredAt = &at
	inv.Status = StatusAcknowledged
	inv.UpdatedAt = at
}

// NewDraft constructs a draft invoice with defaults applied.
func NewDraft(issuer id.IssuerNIF, counterparty Counterparty, issueDate, dueDate time.Time, lines []InvoiceLine, now time.Time) (*Invoice, error) {
	if issuer.IsZero() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "issuer NIF is required")
	}
	if counterparty.Name == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "counterparty name is required")
	}
	if dueDate.IsZero() {
		dueDate = issueDate.AddDate(0, 0, 30)
	}
	if counterparty.Country == "" {
		counterparty.Country = "ES"
	}
	for i := range lines {
		lines[i].LineNumber = i + 1
	}
	return &Invoice{
		ID:           id.NewInvoiceID(),
		IssuerNIF:    issuer,
		Counterparty: counterparty,
		IssueDate:    issueDate,
		DueDate:      dueDate,
		Currency:     "EUR",
		Lines:        lines,
		Status:       StatusDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}
