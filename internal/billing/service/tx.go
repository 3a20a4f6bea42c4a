package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	txcontext "facturador/pkg/platform/tx"
)

// StoreTx runs a function inside one storage transaction. The issuance path
// uses it to make number allocation, chain append, invoice persist,
// submission create, and outbox insert atomic.
type StoreTx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SQLStoreTx begins a database transaction and carries it in context, where
// the Postgres stores pick it up.
type SQLStoreTx struct {
	db *sql.DB
}

func NewSQLStoreTx(db *sql.DB) *SQLStoreTx {
	return &SQLStoreTx{db: db}
}

func (s *SQLStoreTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// InMemoryStoreTx serializes issuance for the memory stores. They have no
// transactional semantics, and the chain head read relies on the storage
// layer serializing writers: Postgres does it with the counter row lock,
// here a mutex stands in for it.
type InMemoryStoreTx struct {
	mu sync.Mutex
}

func NewInMemoryStoreTx() *InMemoryStoreTx {
	return &InMemoryStoreTx{}
}

func (s *InMemoryStoreTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(ctx)
}
