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

const returnRequestColumns = `id, binding_id, item_id, student_id, condition_notes, status, requested_at, completed_by, completed_at, returned_condition`

// ReturnRequestRepository persists return requests.
type ReturnRequestRepository struct {
	db *sqlx.DB
}

// NewReturnRequestRepository constructs the repository.
func NewReturnRequestRepository(db *sqlx.DB) *ReturnRequestRepository {
	return &ReturnRequestRepository{db: db}
}

func (r *ReturnRequestRepository) ext(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec == nil {
		return r.db
	}
	return exec
}

// Create inserts a new pending return request.
func (r *ReturnRequestRepository) Create(ctx context.Context, exec sqlx.ExtContext, req *models.ReturnRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = models.ReturnRequestPending
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	const query = `INSERT INTO return_requests (` + returnRequestColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, NULL, NULL, NULL)`
	if _, err := r.ext(exec).ExecContext(ctx, query,
		req.ID, req.BindingID, req.ItemID, req.StudentID, req.ConditionNotes, req.Status, req.RequestedAt,
	); err != nil {
		return fmt.Errorf("create return request: %w", err)
	}
	return nil
}

// FindByID returns a return request or sql.ErrNoRows.
func (r *ReturnRequestRepository) FindByID(ctx context.Context, id string) (*models.ReturnRequest, error) {
	const query = `SELECT ` + returnRequestColumns + ` FROM return_requests WHERE id = $1`
	var req models.ReturnRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find return request: %w", err)
	}
	return &req, nil
}

// List returns return requests (latest first) with the total count.
func (r *ReturnRequestRepository) List(ctx context.Context, filter models.ReturnRequestFilter) ([]models.ReturnRequest, int, error) {
	baseQuery := `FROM return_requests WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+strings.ToLower(search)+"%")
		conditions = append(conditions, fmt.Sprintf("(LOWER(student_id) LIKE $%d OR LOWER(condition_notes) LIKE $%d)", len(args), len(args)))
	}
	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page, pageSize := models.NormalisePage(filter.Page, filter.PageSize, 20)
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY requested_at DESC, id ASC LIMIT %d OFFSET %d", returnRequestColumns, baseQuery, pageSize, offset)
	var requests []models.ReturnRequest
	if err := r.db.SelectContext(ctx, &requests, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list return requests: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+baseQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count return requests: %w", err)
	}
	return requests, total, nil
}

// LockByID takes a row lock on one return request.
func (r *ReturnRequestRepository) LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.ReturnRequest, error) {
	const query = `SELECT ` + returnRequestColumns + ` FROM return_requests WHERE id = $1 FOR UPDATE`
	var req models.ReturnRequest
	if err := sqlx.GetContext(ctx, r.ext(exec), &req, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock return request: %w", err)
	}
	return &req, nil
}

// HasPendingForBinding reports whether a pending return already targets the binding.
func (r *ReturnRequestRepository) HasPendingForBinding(ctx context.Context, exec sqlx.ExtContext, bindingID string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM return_requests WHERE binding_id = $1 AND status = '%s')`, models.ReturnRequestPending)
	var exists bool
	if err := sqlx.GetContext(ctx, r.ext(exec), &exists, query, bindingID); err != nil {
		return false, fmt.Errorf("check pending return: %w", err)
	}
	return exists, nil
}

// CompleteReturnParams groups the columns written when a return is confirmed.
type CompleteReturnParams struct {
	ID                string
	CompletedBy       string
	CompletedAt       time.Time
	ReturnedCondition models.ItemCondition
}

// Complete finalises a pending return request. It returns sql.ErrNoRows
// when the request is no longer pending.
func (r *ReturnRequestRepository) Complete(ctx context.Context, exec sqlx.ExtContext, params CompleteReturnParams) error {
	query := fmt.Sprintf(`UPDATE return_requests SET status = '%s', completed_by = $2, completed_at = $3, returned_condition = $4 WHERE id = $1 AND status = '%s'`,
		models.ReturnRequestCompleted, models.ReturnRequestPending)
	result, err := r.ext(exec).ExecContext(ctx, query, params.ID, params.CompletedBy, params.CompletedAt, params.ReturnedCondition)
	if err != nil {
		return fmt.Errorf("complete return request: %w", err)
	}
	return expectOneRow(result, "return request")
}
