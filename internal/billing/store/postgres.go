package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"facturador/internal/billing/models"
	id "facturador/pkg/domain"
	"facturador/pkg/platform/sentinel"
	txcontext "facturador/pkg/platform/tx"
)

// PostgresStore persists invoices. Lines and the tax breakdown are stored as
// JSONB next to the scalar columns the queries filter on; the chain, not the
// row, is the tamper authority for fiscal content.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed invoice store.
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

const invoiceColumns = `
	id, issuer_nif, counterparty, issue_date, due_date, currency,
	lines, breakdown, status, fiscal_year, sequence, chain_hash,
	authority_ref, registered_at, cert_alias, facturae_path,
	rectifies, rectifies_number, notes, created_at, updated_at
`

// Create inserts a new invoice row.
func (s *PostgresStore) Create(ctx context.Context, inv *models.Invoice) error {
	lines, breakdown, counterparty, err := marshalDocs(inv)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO invoices (` + invoiceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9,
			NULLIF($10, 0), NULLIF($11, 0), NULLIF($12, ''),
			NULLIF($13, ''), $14, NULLIF($15, ''), NULLIF($16, ''), $17, NULLIF($18, ''), $19, $20, $21)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		inv.ID.String(), inv.IssuerNIF.String(), counterparty,
		inv.IssueDate, inv.DueDate, inv.Currency,
		lines, breakdown, string(inv.Status),
		inv.FiscalYear, inv.Sequence, inv.ChainHash,
		inv.AuthorityRef, inv.RegisteredAt, inv.CertAlias, inv.FacturaePath,
		rectifiesArg(inv), inv.RectifiesNumber, inv.Notes, inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("invoice %s exists: %w", inv.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

// Save updates an invoice row in full. Callers uphold the post-DRAFT
// immutability invariant; the chain detects violations after the fact.
func (s *PostgresStore) Save(ctx context.Context, inv *models.Invoice) error {
	lines, breakdown, counterparty, err := marshalDocs(inv)
	if err != nil {
		return err
	}
	query := `
		UPDATE invoices SET
			counterparty = $2, issue_date = $3, due_date = $4,
			lines = $5, breakdown = $6, status = $7,
			fiscal_year = NULLIF($8, 0), sequence = NULLIF($9, 0), chain_hash = NULLIF($10, ''),
			authority_ref = NULLIF($11, ''), registered_at = $12, cert_alias = NULLIF($13, ''),
			facturae_path = NULLIF($14, ''), rectifies = $15, rectifies_number = NULLIF($16, ''),
			notes = $17, updated_at = $18
		WHERE id = $1
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		inv.ID.String(), counterparty, inv.IssueDate, inv.DueDate,
		lines, breakdown, string(inv.Status),
		inv.FiscalYear, inv.Sequence, inv.ChainHash,
		inv.AuthorityRef, inv.RegisteredAt, inv.CertAlias,
		inv.FacturaePath, rectifiesArg(inv), inv.RectifiesNumber, inv.Notes, inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update invoice %s: %w", inv.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update invoice %s: %w", inv.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("invoice %s: %w", inv.ID, sentinel.ErrNotFound)
	}
	return nil
}

// Get fetches an invoice by ID.
func (s *PostgresStore) Get(ctx context.Context, invoiceID id.InvoiceID) (*models.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	return s.scanOne(s.execer(ctx).QueryRowContext(ctx, query, invoiceID.String()))
}

// GetByNumber resolves an invoice by its chain position.
func (s *PostgresStore) GetByNumber(ctx context.Context, issuer id.IssuerNIF, fiscalYear int, sequence int64) (*models.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE issuer_nif = $1 AND fiscal_year = $2 AND sequence = $3`
	return s.scanOne(s.execer(ctx).QueryRowContext(ctx, query, issuer.String(), fiscalYear, sequence))
}

// ListByIssuer returns the issuer's invoices, newest first.
func (s *PostgresStore) ListByIssuer(ctx context.Context, issuer id.IssuerNIF, limit int) ([]*models.Invoice, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE issuer_nif = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := s.execer(ctx).QueryContext(ctx, query, issuer.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var out []*models.Invoice
	for rows.Next() {
		inv, err := s.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invoices: %w", err)
	}
	return out, nil
}

// Stats aggregates counts by status.
func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByStatus: make(map[models.InvoiceStatus]int64)}

	rows, err := s.execer(ctx).QueryContext(ctx, `SELECT status, COUNT(*) FROM invoices GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("invoice stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, fmt.Errorf("scan invoice stats: %w", err)
		}
		stats.ByStatus[models.InvoiceStatus(status)] = count
		stats.TotalInvoice += count
		if status != string(models.StatusDraft) && status != string(models.StatusVoided) {
			stats.TotalIssued += count
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("iterate invoice stats: %w", err)
	}

	query := `
		SELECT
			COUNT(*) FILTER (WHERE authority_ref IS NOT NULL),
			COUNT(*) FILTER (WHERE facturae_path IS NOT NULL)
		FROM invoices
	`
	if err := s.execer(ctx).QueryRowContext(ctx, query).Scan(&stats.Registered, &stats.Exported); err != nil {
		return Stats{}, fmt.Errorf("invoice registration stats: %w", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanOne(row *sql.Row) (*models.Invoice, error) {
	inv, err := s.scanRow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("invoice: %w", sentinel.ErrNotFound)
	}
	return inv, err
}

func (s *PostgresStore) scanRow(row rowScanner) (*models.Invoice, error) {
	var inv models.Invoice
	var invID, nif, status string
	var counterparty, lines, breakdown []byte
	var fiscalYear sql.NullInt64
	var sequence sql.NullInt64
	var chainHash, authorityRef, certAlias, facturaePath, rectifies, rectifiesNumber, notes sql.NullString
	var registeredAt sql.NullTime

	err := row.Scan(&invID, &nif, &counterparty, &inv.IssueDate, &inv.DueDate, &inv.Currency,
		&lines, &breakdown, &status, &fiscalYear, &sequence, &chainHash,
		&authorityRef, &registeredAt, &certAlias, &facturaePath,
		&rectifies, &rectifiesNumber, &notes, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}

	parsedID, err := id.ParseInvoiceID(invID)
	if err != nil {
		return nil, fmt.Errorf("scan invoice: %w", err)
	}
	inv.ID = parsedID
	inv.IssuerNIF = id.IssuerNIF(nif)
	inv.Status = models.InvoiceStatus(status)
	if err := json.Unmarshal(counterparty, &inv.Counterparty); err != nil {
		return nil, fmt.Errorf("decode counterparty: %w", err)
	}
	if err := json.Unmarshal(lines, &inv.Lines); err != nil {
		return nil, fmt.Errorf("decode invoice lines: %w", err)
	}
	if err := json.Unmarshal(breakdown, &inv.Breakdown); err != nil {
		return nil, fmt.Errorf("decode tax breakdown: %w", err)
	}
	inv.FiscalYear = int(fiscalYear.Int64)
	inv.Sequence = sequence.Int64
	inv.ChainHash = chainHash.String
	inv.AuthorityRef = authorityRef.String
	inv.CertAlias = certAlias.String
	inv.FacturaePath = facturaePath.String
	inv.RectifiesNumber = rectifiesNumber.String
	inv.Notes = notes.String
	if registeredAt.Valid {
		t := registeredAt.Time
		inv.RegisteredAt = &t
	}
	if rectifies.Valid {
		rectifiesID, err := id.ParseInvoiceID(rectifies.String)
		if err != nil {
			return nil, fmt.Errorf("scan rectifies reference: %w", err)
		}
		inv.Rectifies = &rectifiesID
	}
	return &inv, nil
}

func marshalDocs(inv *models.Invoice) (lines, breakdown, counterparty []byte, err error) {
	if lines, err = json.Marshal(inv.Lines); err != nil {
		return nil, nil, nil, fmt.Errorf("encode invoice lines: %w", err)
	}
	if breakdown, err = json.Marshal(inv.Breakdown); err != nil {
		return nil, nil, nil, fmt.Errorf("encode tax breakdown: %w", err)
	}
	if counterparty, err = json.Marshal(inv.Counterparty); err != nil {
		return nil, nil, nil, fmt.Errorf("encode counterparty: %w", err)
	}
	return lines, breakdown, counterparty, nil
}

func rectifiesArg(inv *models.Invoice) any {
	if inv.Rectifies == nil {
		return nil
	}
	return inv.Rectifies.String()
}
