package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/culturearts-api/internal/models"
)

const itemColumns = `id, name, category, quantity, condition, status, description, created_at, updated_at`

// ItemRepository persists the inventory catalog.
type ItemRepository struct {
	db *sqlx.DB
}

// NewItemRepository constructs the repository.
func NewItemRepository(db *sqlx.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

func (r *ItemRepository) ext(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec == nil {
		return r.db
	}
	return exec
}

// Create inserts a new item.
func (r *ItemRepository) Create(ctx context.Context, item *models.InventoryItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Status == "" {
		item.Status = models.ItemStatusAvailable
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	const query = `INSERT INTO inventory_items (` + itemColumns + `)
	VALUES (:id, :name, :category, :quantity, :condition, :status, :description, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, item); err != nil {
		return fmt.Errorf("create inventory item: %w", err)
	}
	return nil
}

// FindByID returns an item or sql.ErrNoRows.
func (r *ItemRepository) FindByID(ctx context.Context, id string) (*models.InventoryItem, error) {
	const query = `SELECT ` + itemColumns + ` FROM inventory_items WHERE id = $1`
	var item models.InventoryItem
	if err := r.db.GetContext(ctx, &item, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find inventory item: %w", err)
	}
	return &item, nil
}

// List returns items matching the filter with the total count.
func (r *ItemRepository) List(ctx context.Context, filter models.ItemFilter) ([]models.InventoryItem, int, error) {
	baseQuery := `FROM inventory_items WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+strings.ToLower(search)+"%")
		conditions = append(conditions, fmt.Sprintf("LOWER(name) LIKE $%d", len(args)))
	}
	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page, pageSize := models.NormalisePage(filter.Page, filter.PageSize, 20)
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY name ASC, id ASC LIMIT %d OFFSET %d", itemColumns, baseQuery, pageSize, offset)
	var items []models.InventoryItem
	if err := r.db.SelectContext(ctx, &items, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list inventory items: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+baseQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count inventory items: %w", err)
	}
	return items, total, nil
}

// LockByIDs takes row locks on the given items in id order so that
// concurrent lockers of overlapping sets queue instead of deadlocking.
// Unknown ids are simply absent from the result.
func (r *ItemRepository) LockByIDs(ctx context.Context, exec sqlx.ExtContext, ids []string) ([]models.InventoryItem, error) {
	const query = `SELECT ` + itemColumns + ` FROM inventory_items WHERE id = ANY($1) ORDER BY id FOR UPDATE`
	var items []models.InventoryItem
	if err := sqlx.SelectContext(ctx, r.ext(exec), &items, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("lock inventory items: %w", err)
	}
	return items, nil
}

// LockByID takes a row lock on one item.
func (r *ItemRepository) LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.InventoryItem, error) {
	const query = `SELECT ` + itemColumns + ` FROM inventory_items WHERE id = $1 FOR UPDATE`
	var item models.InventoryItem
	if err := sqlx.GetContext(ctx, r.ext(exec), &item, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock inventory item: %w", err)
	}
	return &item, nil
}

// TransitionStatus moves an item from one status to another. It returns
// sql.ErrNoRows when the item is not currently in the expected status.
func (r *ItemRepository) TransitionStatus(ctx context.Context, exec sqlx.ExtContext, id string, from, to models.ItemStatus) error {
	const query = `UPDATE inventory_items SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`
	result, err := r.ext(exec).ExecContext(ctx, query, id, from, to, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update inventory item status: %w", err)
	}
	return expectOneRow(result, "inventory item status")
}

// UpdateCondition records a new condition without touching status.
func (r *ItemRepository) UpdateCondition(ctx context.Context, exec sqlx.ExtContext, id string, condition models.ItemCondition) error {
	const query = `UPDATE inventory_items SET condition = $2, updated_at = $3 WHERE id = $1`
	result, err := r.ext(exec).ExecContext(ctx, query, id, condition, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update inventory item condition: %w", err)
	}
	return expectOneRow(result, "inventory item condition")
}

func expectOneRow(result sql.Result, label string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check %s rows: %w", label, err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
