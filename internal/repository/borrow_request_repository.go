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

const borrowRequestColumns = `id, student_id, description, purpose, start_date, end_date, status, reviewed_by, reviewed_at, note, created_at`

// BorrowRequestRepository persists borrow requests.
type BorrowRequestRepository struct {
	db *sqlx.DB
}

// NewBorrowRequestRepository constructs the repository.
func NewBorrowRequestRepository(db *sqlx.DB) *BorrowRequestRepository {
	return &BorrowRequestRepository{db: db}
}

// Create inserts a new pending request.
func (r *BorrowRequestRepository) Create(ctx context.Context, req *models.BorrowRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = models.BorrowRequestPending
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO borrow_requests (` + borrowRequestColumns + `)
	VALUES (:id, :student_id, :description, :purpose, :start_date, :end_date, :status, :reviewed_by, :reviewed_at, :note, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		return fmt.Errorf("create borrow request: %w", err)
	}
	return nil
}

// FindByID returns a request or sql.ErrNoRows.
func (r *BorrowRequestRepository) FindByID(ctx context.Context, id string) (*models.BorrowRequest, error) {
	const query = `SELECT ` + borrowRequestColumns + ` FROM borrow_requests WHERE id = $1`
	var req models.BorrowRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find borrow request: %w", err)
	}
	return &req, nil
}

// List returns requests (latest first) with the total count.
func (r *BorrowRequestRepository) List(ctx context.Context, filter models.BorrowRequestFilter) ([]models.BorrowRequest, int, error) {
	baseQuery := `FROM borrow_requests WHERE 1=1`
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
		conditions = append(conditions, fmt.Sprintf("(LOWER(student_id) LIKE $%d OR LOWER(description) LIKE $%d OR LOWER(purpose) LIKE $%d)", len(args), len(args), len(args)))
	}
	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page, pageSize := models.NormalisePage(filter.Page, filter.PageSize, 20)
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC, id ASC LIMIT %d OFFSET %d", borrowRequestColumns, baseQuery, pageSize, offset)
	var requests []models.BorrowRequest
	if err := r.db.SelectContext(ctx, &requests, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list borrow requests: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+baseQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count borrow requests: %w", err)
	}
	return requests, total, nil
}

// LockByID takes a row lock on one request.
func (r *BorrowRequestRepository) LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.BorrowRequest, error) {
	if exec == nil {
		exec = r.db
	}
	const query = `SELECT ` + borrowRequestColumns + ` FROM borrow_requests WHERE id = $1 FOR UPDATE`
	var req models.BorrowRequest
	if err := sqlx.GetContext(ctx, exec, &req, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock borrow request: %w", err)
	}
	return &req, nil
}

// UpdateBorrowStatusParams groups mutable columns for review operations.
type UpdateBorrowStatusParams struct {
	ID         string
	Status     models.BorrowRequestStatus
	ReviewedBy string
	ReviewedAt time.Time
	Note       *string
}

// UpdateStatus finalises a pending request. It returns sql.ErrNoRows when
// the request is no longer pending.
func (r *BorrowRequestRepository) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, params UpdateBorrowStatusParams) error {
	if exec == nil {
		exec = r.db
	}
	query := fmt.Sprintf(`UPDATE borrow_requests SET status = $2, reviewed_by = $3, reviewed_at = $4, note = $5 WHERE id = $1 AND status = '%s'`,
		models.BorrowRequestPending)
	result, err := exec.ExecContext(ctx, query, params.ID, params.Status, params.ReviewedBy, params.ReviewedAt, params.Note)
	if err != nil {
		return fmt.Errorf("update borrow request status: %w", err)
	}
	return expectOneRow(result, "borrow request status")
}
