package sequence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	id "facturador/pkg/domain"
	"facturador/pkg/platform/sentinel"
	txcontext "facturador/pkg/platform/tx"
)

// PostgresAllocator persists one counter row per (issuer, fiscal year).
//
// Next must run inside the issuance transaction (carried in context via
// pkg/platform/tx): the upsert takes a row lock on the counter, so two
// concurrent issuances for the same issuer serialize on that row, and an
// aborted transaction releases the number it read.
type PostgresAllocator struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed allocator.
func NewPostgres(db *sql.DB) *PostgresAllocator {
	return &PostgresAllocator{db: db}
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (a *PostgresAllocator) querier(ctx context.Context) rowQuerier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return a.db
}

// Next bumps and returns the counter for the key. The single upsert statement
// both creates the counter at 1 for a fresh fiscal year and locks the row for
// the remainder of the transaction.
func (a *PostgresAllocator) Next(ctx context.Context, issuer id.IssuerNIF, fiscalYear int) (int64, error) {
	query := `
		INSERT INTO invoice_counters (issuer_nif, fiscal_year, last_value)
		VALUES ($1, $2, 1)
		ON CONFLICT (issuer_nif, fiscal_year) DO UPDATE SET
			last_value = invoice_counters.last_value + 1
		RETURNING last_value
	`
	var seq int64
	if err := a.querier(ctx).QueryRowContext(ctx, query, issuer.String(), fiscalYear).Scan(&seq); err != nil {
		if isSerializationFailure(err) {
			return 0, fmt.Errorf("allocate sequence for %s/%d: %w", issuer, fiscalYear, sentinel.ErrConflict)
		}
		return 0, fmt.Errorf("allocate sequence for %s/%d: %w", issuer, fiscalYear, err)
	}
	return seq, nil
}

// Current reads the counter without locking it.
func (a *PostgresAllocator) Current(ctx context.Context, issuer id.IssuerNIF, fiscalYear int) (int64, error) {
	query := `SELECT last_value FROM invoice_counters WHERE issuer_nif = $1 AND fiscal_year = $2`
	var seq int64
	err := a.querier(ctx).QueryRowContext(ctx, query, issuer.String(), fiscalYear).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read sequence counter for %s/%d: %w", issuer, fiscalYear, err)
	}
	return seq, nil
}

// isSerializationFailure matches the SQLSTATEs a retryable allocation race
// produces: serialization_failure and deadlock_detected.
func isSerializationFailure(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}
