package issuer

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	id "facturador/pkg/domain"
	"facturador/pkg/platform/sentinel"
	txcontext "facturador/pkg/platform/tx"
)

// PostgresStore persists issuers in the issuers table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed issuer store.
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

const issuerColumns = `nif, legal_name, trade_name, address, post_code, town, province, country,
	active, halted, halt_reason, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, iss *Issuer) error {
	query := `
		INSERT INTO issuers (` + issuerColumns + `)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8,
			$9, $10, NULLIF($11, ''), $12, $13)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		iss.NIF.String(), iss.LegalName, iss.TradeName, iss.Address, iss.PostCode,
		iss.Town, iss.Province, iss.Country,
		iss.Active, iss.Halted, iss.HaltReason, iss.CreatedAt, iss.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("issuer %s exists: %w", iss.NIF, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert issuer: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, nif id.IssuerNIF) (*Issuer, error) {
	query := `SELECT ` + issuerColumns + ` FROM issuers WHERE nif = $1`
	iss, err := scanIssuer(s.execer(ctx).QueryRowContext(ctx, query, nif.String()))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("issuer %s: %w", nif, sentinel.ErrNotFound)
	}
	return iss, err
}

func (s *PostgresStore) List(ctx context.Context) ([]*Issuer, error) {
	query := `SELECT ` + issuerColumns + ` FROM issuers ORDER BY nif ASC`
	rows, err := s.execer(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list issuers: %w", err)
	}
	defer rows.Close()

	var out []*Issuer
	for rows.Next() {
		iss, err := scanIssuer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, iss)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issuers: %w", err)
	}
	return out, nil
}

// Execute runs validate and mutate under SELECT FOR UPDATE so concurrent
// transitions serialize on the issuer row.
func (s *PostgresStore) Execute(ctx context.Context, nif id.IssuerNIF, validate func(*Issuer) error, mutate func(*Issuer)) (*Issuer, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin issuer transaction: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT ` + issuerColumns + ` FROM issuers WHERE nif = $1 FOR UPDATE`
	iss, err := scanIssuer(tx.QueryRowContext(ctx, query, nif.String()))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("issuer %s: %w", nif, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if err := validate(iss); err != nil {
		return nil, err
	}
	mutate(iss)

	update := `
		UPDATE issuers SET legal_name = $2, trade_name = NULLIF($3, ''), address = NULLIF($4, ''),
			post_code = NULLIF($5, ''), town = NULLIF($6, ''), province = NULLIF($7, ''), country = $8,
			active = $9, halted = $10, halt_reason = NULLIF($11, ''), updated_at = $12
		WHERE nif = $1
	`
	if _, err := tx.ExecContext(ctx, update,
		iss.NIF.String(), iss.LegalName, iss.TradeName, iss.Address, iss.PostCode,
		iss.Town, iss.Province, iss.Country,
		iss.Active, iss.Halted, iss.HaltReason, iss.UpdatedAt); err != nil {
		return nil, fmt.Errorf("update issuer: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit issuer transaction: %w", err)
	}
	return iss, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIssuer(row rowScanner) (*Issuer, error) {
	var iss Issuer
	var nif string
	var tradeName, address, postCode, town, province, haltReason sql.NullString
	err := row.Scan(&nif, &iss.LegalName, &tradeName, &address, &postCode, &town, &province, &iss.Country,
		&iss.Active, &iss.Halted, &haltReason, &iss.CreatedAt, &iss.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan issuer: %w", err)
	}
	iss.NIF = id.IssuerNIF(nif)
	iss.TradeName = tradeName.String
	iss.Address = address.String
	iss.PostCode = postCode.String
	iss.Town = town.String
	iss.Province = province.String
	iss.HaltReason = haltReason.String
	return &iss, nil
}
