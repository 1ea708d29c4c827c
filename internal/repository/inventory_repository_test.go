package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/culturearts-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

var itemRowColumns = []string{"id", "name", "category", "quantity", "condition", "status", "description", "created_at", "updated_at"}

func TestItemRepositoryListAvailable(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewItemRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(itemRowColumns).
		AddRow("item-1", "Barong Tagalog", "costume", 1, "good", "available", "", now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + itemColumns + " FROM inventory_items WHERE 1=1 AND status = $1 AND category = $2 ORDER BY name ASC, id ASC LIMIT 20 OFFSET 0")).
		WithArgs("available", "costume").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM inventory_items WHERE 1=1 AND status = $1 AND category = $2")).
		WithArgs("available", "costume").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	status := models.ItemStatusAvailable
	items, total, err := repo.List(context.Background(), models.ItemFilter{Status: &status, Category: models.ItemCategoryCostume})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, models.ConditionGood, items[0].Condition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestItemRepositoryLockByIDsOrdersLocks(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewItemRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = ANY($1) ORDER BY id FOR UPDATE")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(itemRowColumns).
			AddRow("a", "Gong", "equipment", 1, "good", "available", "", now, now).
			AddRow("b", "Kulintang", "equipment", 1, "fair", "available", "", now, now))
	mock.ExpectCommit()

	tx, err := db.Beginx()
	require.NoError(t, err)
	items, err := repo.LockByIDs(context.Background(), tx, []string{"b", "a"})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestItemRepositoryTransitionStatusGuard(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewItemRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE inventory_items SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2")).
		WithArgs("item-1", "available", "borrowed", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.TransitionStatus(context.Background(), nil, "item-1", models.ItemStatusAvailable, models.ItemStatusBorrowed)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestItemRepositoryUpdateCondition(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewItemRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE inventory_items SET condition = $2, updated_at = $3 WHERE id = $1")).
		WithArgs("item-1", "worn-out", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateCondition(context.Background(), nil, "item-1", models.ConditionWornOut))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestItemRepositoryCreateDefaultsToAvailable(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewItemRepository(db)

	mock.ExpectExec("INSERT INTO inventory_items").WillReturnResult(sqlmock.NewResult(1, 1))

	item := &models.InventoryItem{Name: "Sarong", Category: models.ItemCategoryCostume, Quantity: 2, Condition: models.ConditionGood}
	require.NoError(t, repo.Create(context.Background(), item))
	assert.NotEmpty(t, item.ID)
	assert.Equal(t, models.ItemStatusAvailable, item.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBindingRepositoryCloseOnlyActive(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewBindingRepository(db)

	query := regexp.QuoteMeta("UPDATE borrow_bindings SET active = FALSE, returned_at = $2 WHERE id = $1 AND active = TRUE")
	mock.ExpectExec(query).WithArgs("binding-1", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(query).WithArgs("binding-1", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Close(context.Background(), nil, "binding-1", time.Now()))
	err := repo.Close(context.Background(), nil, "binding-1", time.Now())
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBindingRepositoryCreateMarksActive(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewBindingRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO borrow_bindings")).
		WithArgs(sqlmock.AnyArg(), "item-1", "req-1", "S42", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	binding := &models.BorrowBinding{ItemID: "item-1", BorrowRequestID: "req-1", StudentID: "S42"}
	require.NoError(t, repo.Create(context.Background(), nil, binding))
	assert.True(t, binding.Active)
	assert.NotEmpty(t, binding.ID)
	assert.False(t, binding.BorrowDate.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBindingRepositoryListActiveFilters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewBindingRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "item_id", "borrow_request_id", "student_id", "borrow_date", "active", "returned_at", "item_name", "item_category", "start_date", "end_date"}).
		AddRow("binding-1", "item-1", "req-1", "S42", now, true, nil, "Barong Tagalog", "costume", now, now)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE b.active = TRUE AND b.student_id = $1")).
		WithArgs("S42").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM borrow_bindings b")).
		WithArgs("S42").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	bindings, total, err := repo.ListActive(context.Background(), models.BindingFilter{StudentID: "S42"})
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, "Barong Tagalog", bindings[0].ItemName)
	assert.True(t, bindings[0].Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBindingRepositoryCountActiveByItem(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewBindingRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM borrow_bindings WHERE item_id = $1 AND active = TRUE")).
		WithArgs("item-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	count, err := repo.CountActiveByItem(context.Background(), nil, "item-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
