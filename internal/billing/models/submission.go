package models

import (
	"fmt"
	"time"

	id "facturador/pkg/domain"
)

// SubmissionStatus tracks delivery of one chain entry to the tax authority.
//
//	PENDING → SENT → ACKNOWLEDGED   authority accepted, reference stored
//	PENDING → SENT → REJECTED       definitive refusal, terminal, manual remediation
//	SENT → FAILED → PENDING         network/timeout, scheduled retry
//	FAILED (attempts exhausted)     terminal until an operator resubmits
//	PENDING → CANCELLED             invoice voided before dispatch, terminal
type SubmissionStatus string

const (
	SubmissionPending      SubmissionStatus = "PENDING"
	SubmissionSent         SubmissionStatus = "SENT"
	SubmissionAcknowledged SubmissionStatus = "ACKNOWLEDGED"
	SubmissionRejected     SubmissionStatus = "REJECTED"
	SubmissionFailed       SubmissionStatus = "FAILED"
	// SubmissionCancelled parks the record when its invoice was voided
	// while the delivery was still pending. Kept distinct from FAILED so
	// the exhausted-retries alarm surface stays actionable.
	SubmissionCancelled SubmissionStatus = "CANCELLED"
)

// Terminal reports whether the status admits no further automatic work.
func (s SubmissionStatus) Terminal() bool {
	return s == SubmissionAcknowledged || s == SubmissionRejected || s == SubmissionCancelled
}

// SubmissionRecord is the persisted delivery state for one chain entry.
// Created when the chain entry is appended; mutated only by the submission
// coordinator; never deleted, rejections and failures stay for audit.
type SubmissionRecord struct {
	ID             id.SubmissionID  `json:"id"`
	InvoiceID      id.InvoiceID     `json:"invoice_id"`
	IssuerNIF      id.IssuerNIF     `json:"issuer_nif"`
	FiscalYear     int              `json:"fiscal_year"`
	Sequence       int64            `json:"sequence"`
	IdempotencyKey string           `json:"idempotency_key"`
	Status         SubmissionStatus `json:"status"`
	Attempts       int              `json:"attempts"`
	LastError      string           `json:"last_error,omitempty"`
	NextRetryAt    *time.Time       `json:"next_retry_at,omitempty"`
	AuthorityRef   string           `json:"authority_ref,omitempty"`
	AcknowledgedAt *time.Time       `json:"acknowledged_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// IdempotencyKey derives the deduplication key the authority sees. Retries of
// the same fiscal record always present the same key, so a duplicate delivery
// can never create a second authority-side record.
func IdempotencyKey(issuer id.IssuerNIF, fiscalYear int, sequence int64) string {
	return fmt.Sprintf("%s-%d-%08d", issuer, fiscalYear, sequence)
}

// NewSubmissionRecord builds the initial PENDING record for a chain entry.
func NewSubmissionRecord(invoiceID id.InvoiceID, entry ChainEntry, now time.Time) SubmissionRecord {
	return SubmissionRecord{
		ID:             id.NewSubmissionID(),
		InvoiceID:      invoiceID,
		IssuerNIF:      entry.IssuerNIF,
		FiscalYear:     entry.FiscalYear,
		Sequence:       entry.Sequence,
		IdempotencyKey: IdempotencyKey(entry.IssuerNIF, entry.FiscalYear, entry.Sequence),
		Status:         SubmissionPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
