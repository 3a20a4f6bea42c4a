package submission

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"facturador/internal/billing/models"
	id "facturador/pkg/domain"
	"facturador/pkg/platform/sentinel"
	txcontext "facturador/pkg/platform/tx"
)

// PostgresStore persists submission records. The unique index on
// idempotency_key guarantees at most one delivery record per chain entry
// even if two issuance paths race.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed submission store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Create inserts the PENDING record, inside the issuance transaction when
// one is carried in context.
func (s *PostgresStore) Create(ctx context.Context, rec models.SubmissionRecord) error {
	query := `
		INSERT INTO submissions (id, invoice_id, issuer_nif, fiscal_year, sequence, idempotency_key,
			status, attempts, last_error, next_retry_at, authority_ref, acknowledged_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		rec.ID.String(), rec.InvoiceID.String(), rec.IssuerNIF.String(),
		rec.FiscalYear, rec.Sequence, rec.IdempotencyKey,
		string(rec.Status), rec.Attempts, nullString(rec.LastError), rec.NextRetryAt,
		nullString(rec.AuthorityRef), rec.AcknowledgedAt, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("submission for %s exists: %w", rec.IdempotencyKey, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// Save updates the mutable delivery state.
func (s *PostgresStore) Save(ctx context.Context, rec models.SubmissionRecord) error {
	query := `
		UPDATE submissions
		SET status = $2, attempts = $3, last_error = $4, next_retry_at = $5,
			authority_ref = $6, acknowledged_at = $7, updated_at = $8
		WHERE id = $1
	`
	result, err := s.execer(ctx).ExecContext(ctx, query,
		rec.ID.String(), string(rec.Status), rec.Attempts, nullString(rec.LastError),
		rec.NextRetryAt, nullString(rec.AuthorityRef), rec.AcknowledgedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update submission: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update submission: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("submission %s: %w", rec.ID, sentinel.ErrNotFound)
	}
	return nil
}

const submissionColumns = `id, invoice_id, issuer_nif, fiscal_year, sequence, idempotency_key,
	status, attempts, last_error, next_retry_at, authority_ref, acknowledged_at, created_at, updated_at`

// Get returns one record by id.
func (s *PostgresStore) Get(ctx context.Context, submissionID id.SubmissionID) (models.SubmissionRecord, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE id = $1`
	return s.scanOne(s.execer(ctx).QueryRowContext(ctx, query, submissionID.String()))
}

// GetByInvoice returns the record tied to an invoice.
func (s *PostgresStore) GetByInvoice(ctx context.Context, invoiceID id.InvoiceID) (models.SubmissionRecord, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE invoice_id = $1`
	return s.scanOne(s.execer(ctx).QueryRowContext(ctx, query, invoiceID.String()))
}

// ListDue returns PENDING records whose retry time has arrived, oldest first.
func (s *PostgresStore) ListDue(ctx context.Context, now time.Time, limit int) ([]models.SubmissionRecord, error) {
	query := `
		SELECT ` + submissionColumns + `
		FROM submissions
		WHERE status = 'PENDING' AND (next_retry_at IS NULL OR next_retry_at <= $1)
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due submissions: %w", err)
	}
	defer rows.Close()

	var due []models.SubmissionRecord
	for rows.Next() {
		rec, err := s.scanRec(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due submissions: %w", err)
	}
	return due, nil
}

// RequeueStuck recovers SENT records abandoned by a crashed dispatcher.
// Redelivery is safe: the authority absorbs it under the idempotency key.
func (s *PostgresStore) RequeueStuck(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		UPDATE submissions
		SET status = 'PENDING', next_retry_at = NULL, updated_at = NOW()
		WHERE status = 'SENT' AND updated_at < $1
	`
	res, err := s.execer(ctx).ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("requeue stuck submissions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count requeued submissions: %w", err)
	}
	return int(n), nil
}

// CountByStatus returns record counts grouped by status.
func (s *PostgresStore) CountByStatus(ctx context.Context) (map[models.SubmissionStatus]int64, error) {
	query := `SELECT status, COUNT(*) FROM submissions GROUP BY status`
	rows, err := s.execer(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count submissions: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.SubmissionStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan submission count: %w", err)
		}
		counts[models.SubmissionStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submission counts: %w", err)
	}
	return counts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanOne(row *sql.Row) (models.SubmissionRecord, error) {
	rec, err := s.scanRec(row)
	if err == sql.ErrNoRows {
		return models.SubmissionRecord{}, sentinel.ErrNotFound
	}
	return rec, err
}

func (s *PostgresStore) scanRec(row rowScanner) (models.SubmissionRecord, error) {
	var rec models.SubmissionRecord
	var sid, invoiceID, nif, status string
	var lastError, authorityRef sql.NullString
	var nextRetryAt, acknowledgedAt sql.NullTime
	err := row.Scan(&sid, &invoiceID, &nif, &rec.FiscalYear, &rec.Sequence, &rec.IdempotencyKey,
		&status, &rec.Attempts, &lastError, &nextRetryAt, &authorityRef, &acknowledgedAt,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return models.SubmissionRecord{}, err
	}
	if err != nil {
		return models.SubmissionRecord{}, fmt.Errorf("scan submission: %w", err)
	}
	rec.ID, err = id.ParseSubmissionID(sid)
	if err != nil {
		return models.SubmissionRecord{}, fmt.Errorf("scan submission id: %w", err)
	}
	rec.InvoiceID, err = id.ParseInvoiceID(invoiceID)
	if err != nil {
		return models.SubmissionRecord{}, fmt.Errorf("scan submission invoice id: %w", err)
	}
	rec.IssuerNIF = id.IssuerNIF(nif)
	rec.Status = models.SubmissionStatus(status)
	rec.LastError = lastError.String
	rec.AuthorityRef = authorityRef.String
	if nextRetryAt.Valid {
		t := nextRetryAt.Time
		rec.NextRetryAt = &t
	}
	if acknowledgedAt.Valid {
		t := acknowledgedAt.Time
		rec.AcknowledgedAt = &t
	}
	return rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
