package chain

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"facturador/internal/billing/models"
	id "facturador/pkg/domain"
	"facturador/pkg/platform/sentinel"
	txcontext "facturador/pkg/platform/tx"
)

// PostgresStore persists chain entries in an append-only table. Rows are
// never updated or deleted; the unique key on (issuer, fiscal year,
// sequence) makes a double-append a conflict rather than a silent overwrite.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed chain store.
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

// Append inserts the entry inside the ambient transaction when one is carried
// in context.
func (s *PostgresStore) Append(ctx context.Context, entry models.ChainEntry) error {
	query := `
		INSERT INTO chain_entries (issuer_nif, fiscal_year, sequence, content_hash, previous_hash, entry_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		entry.IssuerNIF.String(), entry.FiscalYear, entry.Sequence,
		entry.ContentHash, entry.PreviousHash, entry.EntryHash, entry.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("chain position %d/%d taken: %w", entry.FiscalYear, entry.Sequence, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert chain entry: %w", err)
	}
	return nil
}

// Head returns the latest entry for the issuer.
func (s *PostgresStore) Head(ctx context.Context, issuer id.IssuerNIF) (models.ChainEntry, error) {
	query := `
		SELECT issuer_nif, fiscal_year, sequence, content_hash, previous_hash, entry_hash, created_at
		FROM chain_entries
		WHERE issuer_nif = $1
		ORDER BY fiscal_year DESC, sequence DESC
		LIMIT 1
	`
	var entry models.ChainEntry
	var nif string
	err := s.execer(ctx).QueryRowContext(ctx, query, issuer.String()).Scan(
		&nif, &entry.FiscalYear, &entry.Sequence,
		&entry.ContentHash, &entry.PreviousHash, &entry.EntryHash, &entry.CreatedAt)
	if err == sql.ErrNoRows {
		return models.ChainEntry{}, sentinel.ErrNotFound
	}
	if err != nil {
		return models.ChainEntry{}, fmt.Errorf("read chain head: %w", err)
	}
	entry.IssuerNIF = id.IssuerNIF(nif)
	return entry, nil
}

// Get returns the entry at a chain position.
func (s *PostgresStore) Get(ctx context.Context, issuer id.IssuerNIF, fiscalYear int, sequence int64) (models.ChainEntry, error) {
	query := `
		SELECT issuer_nif, fiscal_year, sequence, content_hash, previous_hash, entry_hash, created_at
		FROM chain_entries
		WHERE issuer_nif = $1 AND fiscal_year = $2 AND sequence = $3
	`
	var entry models.ChainEntry
	var nif string
	err := s.execer(ctx).QueryRowContext(ctx, query, issuer.String(), fiscalYear, sequence).Scan(
		&nif, &entry.FiscalYear, &entry.Sequence,
		&entry.ContentHash, &entry.PreviousHash, &entry.EntryHash, &entry.CreatedAt)
	if err == sql.ErrNoRows {
		return models.ChainEntry{}, sentinel.ErrNotFound
	}
	if err != nil {
		return models.ChainEntry{}, fmt.Errorf("read chain entry: %w", err)
	}
	entry.IssuerNIF = id.IssuerNIF(nif)
	return entry, nil
}

// ListAsc returns all entries ordered by (fiscal year, sequence).
func (s *PostgresStore) ListAsc(ctx context.Context, issuer id.IssuerNIF) ([]models.ChainEntry, error) {
	query := `
		SELECT issuer_nif, fiscal_year, sequence, content_hash, previous_hash, entry_hash, created_at
		FROM chain_entries
		WHERE issuer_nif = $1
		ORDER BY fiscal_year ASC, sequence ASC
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, issuer.String())
	if err != nil {
		return nil, fmt.Errorf("list chain entries: %w", err)
	}
	defer rows.Close()

	var entries []models.ChainEntry
	for rows.Next() {
		var entry models.ChainEntry
		var nif string
		if err := rows.Scan(&nif, &entry.FiscalYear, &entry.Sequence,
			&entry.ContentHash, &entry.PreviousHash, &entry.EntryHash, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chain entry: %w", err)
		}
		entry.IssuerNIF = id.IssuerNIF(nif)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chain entries: %w", err)
	}
	return entries, nil
}
