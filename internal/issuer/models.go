// Package issuer manages the registry of billing issuers. An issuer must be
// registered and active before invoices can be issued under its NIF.
package issuer

import (
	"strings"
	"time"

	id "facturador/pkg/domain"
	dErrors "facturador/pkg/domain-errors"
)

// Issuer is a fiscal entity that emits invoices.
//
// Invariants:
//   - NIF is immutable after registration; it keys the sequence counters and
//     the hash chain
//   - LegalName is non-empty and at most 128 characters
//   - A halted issuer cannot issue: Halted is the chain-integrity boundary
//
// # Halt Invariant
//
// When chain verification detects a broken or tampered link, the issuer is
// halted and every issuance under its NIF MUST fail until an operator
// investigates and resumes. Enforcement lives at the service layer
// (RequireIssuable) rather than in each caller, so there is a single point
// where the boundary is checked.
type Issuer struct {
	NIF        id.IssuerNIF `json:"nif"`
	LegalName  string       `json:"legal_name"`
	TradeName  string       `json:"trade_name,omitempty"`
	Address    string       `json:"address,omitempty"`
	PostCode   string       `json:"post_code,omitempty"`
	Town       string       `json:"town,omitempty"`
	Province   string       `json:"province,omitempty"`
	Country    string       `json:"country,omitempty"`
	Active     bool         `json:"active"`
	Halted     bool         `json:"halted"`
	HaltReason string       `json:"halt_reason,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// CanIssue reports why the issuer may not emit invoices, nil when it can.
func (i *Issuer) CanIssue() error {
	if !i.Active {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "issuer %s is deactivated", i.NIF)
	}
	if i.Halted {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "issuer %s is halted: %s", i.NIF, i.HaltReason)
	}
	return nil
}

// ApplyHalt freezes issuance for the issuer.
func (i *Issuer) ApplyHalt(reason string, now time.Time) {
	i.Halted = true
	i.HaltReason = reason
	i.UpdatedAt = now
}

// ApplyResume lifts a halt after operator review.
func (i *Issuer) ApplyResume(now time.Time) {
	i.Halted = false
	i.HaltReason = ""
	i.UpdatedAt = now
}

// NewIssuer validates registration input and builds an active issuer.
func NewIssuer(nif id.IssuerNIF, legalName string, now time.Time) (*Issuer, error) {
	legalName = strings.TrimSpace(legalName)
	if legalName == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "legal name is required")
	}
	if len(legalName) > 128 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "legal name must be at most 128 characters")
	}
	return &Issuer{
		NIF:       nif,
		LegalName: legalName,
		Country:   "ES",
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
