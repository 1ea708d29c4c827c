package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// TxFunc is a unit of work executed inside a transaction.
type TxFunc func(ctx context.Context, exec sqlx.ExtContext) error

// TxManager runs units of work in bounded READ COMMITTED transactions.
// Callers take row locks with SELECT ... FOR UPDATE inside the unit.
type TxManager struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewTxManager constructs a transaction manager. A non-positive timeout
// leaves the caller's context deadline untouched.
func NewTxManager(db *sqlx.DB, timeout time.Duration) *TxManager {
	return &TxManager{db: db, timeout: timeout}
}

// WithinTx commits when fn returns nil and rolls back on error or panic.
// Errors returned by fn are passed through unchanged.
func (m *TxManager) WithinTx(ctx context.Context, fn TxFunc) (err error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	tx, err := m.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
