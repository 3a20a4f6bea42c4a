// Package submission delivers chain entries to the tax authority and tracks
// each delivery as a persisted state machine, so retries survive process
// restarts.
package submission

import (
	"context"
	"time"

	"facturador/internal/billing/models"
	id "facturador/pkg/domain"
)

// Store persists submission records. Records are created at chain-append
// time, mutated only by the coordinator, and never deleted: rejections and
// exhausted failures stay visible for audit.
type Store interface {
	Create(ctx context.Context, rec models.SubmissionRecord) error
	Save(ctx context.Context, rec models.SubmissionRecord) error
	Get(ctx context.Context, submissionID id.SubmissionID) (models.SubmissionRecord, error)
	GetByInvoice(ctx context.Context, invoiceID id.InvoiceID) (models.SubmissionRecord, error)
	// ListDue returns PENDING records whose retry time has arrived, oldest
	// first, capped at limit.
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.SubmissionRecord, error)
	// RequeueStuck returns SENT records last touched before cutoff to
	// PENDING and reports how many were moved. A record is SENT only for
	// the duration of one dispatch; an old one means the process died
	// mid-dispatch and nothing will ever record its outcome.
	RequeueStuck(ctx context.Context, cutoff time.Time) (int, error)
	// CountByStatus feeds the metrics gauge.
	CountByStatus(ctx context.Context) (map[models.SubmissionStatus]int64, error)
}
