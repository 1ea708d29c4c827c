package service

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/culturearts-api/internal/repository"
	appErrors "github.com/noah-isme/culturearts-api/pkg/errors"
)

var (
	lockBindingSQL  = regexp.QuoteMeta("SELECT id, item_id, borrow_request_id, student_id, borrow_date, active, returned_at FROM borrow_bindings WHERE id = $1 FOR UPDATE")
	closeBindingSQL = regexp.QuoteMeta("UPDATE borrow_bindings SET active = FALSE, returned_at = $2 WHERE id = $1 AND active = TRUE")
	countActiveSQL  = regexp.QuoteMeta("SELECT COUNT(*) FROM borrow_bindings WHERE item_id = $1 AND active = TRUE")
	itemStatusSQL   = regexp.QuoteMeta("UPDATE inventory_items SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2")
)

func newSQLCatalog(t *testing.T) (*CatalogService, *repository.TxManager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sqlxdb := sqlx.NewDb(db, "sqlmock")
	tx := repository.NewTxManager(sqlxdb, time.Second)
	catalog := NewCatalogService(repository.NewItemRepository(sqlxdb), repository.NewBindingRepository(sqlxdb), tx, nil, nil)
	return catalog, tx, mock
}

func bindingRow(active bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "item_id", "borrow_request_id", "student_id", "borrow_date", "active", "returned_at"}).
		AddRow("binding-1", "item-1", "req-1", "S42", time.Now(), active, nil)
}

func TestCatalogReleaseLocksAndClosesInOneTransaction(t *testing.T) {
	catalog, tx, mock := newSQLCatalog(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockBindingSQL).WithArgs("binding-1").WillReturnRows(bindingRow(true))
	mock.ExpectExec(closeBindingSQL).WithArgs("binding-1", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(countActiveSQL).WithArgs("item-1").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(itemStatusSQL).WithArgs("item-1", "borrowed", "available", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := tx.WithinTx(context.Background(), func(ctx context.Context, exec sqlx.ExtContext) error {
		return catalog.Release(ctx, exec, "item-1", "binding-1")
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogReleaseSecondConfirmRollsBack(t *testing.T) {
	t.Run("locked binding already closed", func(t *testing.T) {
		catalog, tx, mock := newSQLCatalog(t)

		mock.ExpectBegin()
		mock.ExpectQuery(lockBindingSQL).WithArgs("binding-1").WillReturnRows(bindingRow(false))
		mock.ExpectRollback()

		err := tx.WithinTx(context.Background(), func(ctx context.Context, exec sqlx.ExtContext) error {
			return catalog.Release(ctx, exec, "item-1", "binding-1")
		})
		assert.True(t, errors.Is(err, appErrors.ErrBindingNotActive))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("guarded close matches no row", func(t *testing.T) {
		catalog, tx, mock := newSQLCatalog(t)

		mock.ExpectBegin()
		mock.ExpectQuery(lockBindingSQL).WithArgs("binding-1").WillReturnRows(bindingRow(true))
		mock.ExpectExec(closeBindingSQL).WithArgs("binding-1", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := tx.WithinTx(context.Background(), func(ctx context.Context, exec sqlx.ExtContext) error {
			return catalog.Release(ctx, exec, "item-1", "binding-1")
		})
		assert.True(t, errors.Is(err, appErrors.ErrBindingNotActive))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("other active binding keeps item borrowed", func(t *testing.T) {
		catalog, tx, mock := newSQLCatalog(t)

		mock.ExpectBegin()
		mock.ExpectQuery(lockBindingSQL).WithArgs("binding-1").WillReturnRows(bindingRow(true))
		mock.ExpectExec(closeBindingSQL).WithArgs("binding-1", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(countActiveSQL).WithArgs("item-1").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectCommit()

		err := tx.WithinTx(context.Background(), func(ctx context.Context, exec sqlx.ExtContext) error {
			return catalog.Release(ctx, exec, "item-1", "binding-1")
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
