package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/culturearts-api/internal/models"
)

const bindingColumns = `id, item_id, borrow_request_id, student_id, borrow_date, active, returned_at`

// BindingRepository persists borrow bindings.
type BindingRepository struct {
	db *sqlx.DB
}

// NewBindingRepository constructs the repository.
func NewBindingRepository(db *sqlx.DB) *BindingRepository {
	return &BindingRepository{db: db}
}

func (r *BindingRepository) ext(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec == nil {
		return r.db
	}
	return exec
}

// Create inserts an active binding.
func (r *BindingRepository) Create(ctx context.Context, exec sqlx.ExtContext, binding *models.BorrowBinding) error {
	if binding.ID == "" {
		binding.ID = uuid.NewString()
	}
	if binding.BorrowDate.IsZero() {
		binding.BorrowDate = time.Now().UTC()
	}
	binding.Active = true
	binding.ReturnedAt = nil

	const query = `INSERT INTO borrow_bindings (` + bindingColumns + `) VALUES ($1, $2, $3, $4, $5, TRUE, NULL)`
	if _, err := r.ext(exec).ExecContext(ctx, query,
		binding.ID, binding.ItemID, binding.BorrowRequestID, binding.StudentID, binding.BorrowDate,
	); err != nil {
		return fmt.Errorf("create borrow binding: %w", err)
	}
	return nil
}

// FindByID returns a binding or sql.ErrNoRows.
func (r *BindingRepository) FindByID(ctx context.Context, id string) (*models.BorrowBinding, error) {
	const query = `SELECT ` + bindingColumns + ` FROM borrow_bindings WHERE id = $1`
	var binding models.BorrowBinding
	if err := r.db.GetContext(ctx, &binding, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find borrow binding: %w", err)
	}
	return &binding, nil
}

// LockByID takes a row lock on one binding.
func (r *BindingRepository) LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.BorrowBinding, error) {
	const query = `SELECT ` + bindingColumns + ` FROM borrow_bindings WHERE id = $1 FOR UPDATE`
	var binding models.BorrowBinding
	if err := sqlx.GetContext(ctx, r.ext(exec), &binding, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock borrow binding: %w", err)
	}
	return &binding, nil
}

// Close deactivates an active binding. It returns sql.ErrNoRows when the
// binding is already closed.
func (r *BindingRepository) Close(ctx context.Context, exec sqlx.ExtContext, id string, returnedAt time.Time) error {
	const query = `UPDATE borrow_bindings SET active = FALSE, returned_at = $2 WHERE id = $1 AND active = TRUE`
	result, err := r.ext(exec).ExecContext(ctx, query, id, returnedAt)
	if err != nil {
		return fmt.Errorf("close borrow binding: %w", err)
	}
	return expectOneRow(result, "borrow binding")
}

// CountActiveByItem counts the open bindings on an item.
func (r *BindingRepository) CountActiveByItem(ctx context.Context, exec sqlx.ExtContext, itemID string) (int, error) {
	const query = `SELECT COUNT(*) FROM borrow_bindings WHERE item_id = $1 AND active = TRUE`
	var count int
	if err := sqlx.GetContext(ctx, r.ext(exec), &count, query, itemID); err != nil {
		return 0, fmt.Errorf("count active bindings: %w", err)
	}
	return count, nil
}

// ListActive returns open bindings joined with item and request data.
func (r *BindingRepository) ListActive(ctx context.Context, filter models.BindingFilter) ([]models.BindingDetail, int, error) {
	baseQuery := `FROM borrow_bindings b
JOIN inventory_items i ON i.id = b.item_id
JOIN borrow_requests br ON br.id = b.borrow_request_id
WHERE b.active = TRUE`
	var conditions []string
	var args []interface{}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("b.student_id = $%d", len(args)))
	}
	if filter.ItemID != "" {
		args = append(args, filter.ItemID)
		conditions = append(conditions, fmt.Sprintf("b.item_id = $%d", len(args)))
	}
	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	listQuery := fmt.Sprintf(`SELECT b.id, b.item_id, b.borrow_request_id, b.student_id, b.borrow_date, b.active, b.returned_at,
	i.name AS item_name, i.category AS item_category, br.start_date, br.end_date
%s
ORDER BY b.borrow_date DESC, b.id ASC LIMIT %d OFFSET %d`, baseQuery, limit, offset)

	var bindings []models.BindingDetail
	if err := r.db.SelectContext(ctx, &bindings, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list active bindings: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+baseQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count active bindings: %w", err)
	}
	return bindings, total, nil
}
