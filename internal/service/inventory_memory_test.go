package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/culturearts-api/internal/models"
	"github.com/noah-isme/culturearts-api/internal/repository"
	appErrors "github.com/noah-isme/culturearts-api/pkg/errors"
)

// memoryInventory is a transactional in-memory store. Units of work are
// serialised, and a failed unit restores the snapshot taken when it began.
type memoryInventory struct {
	txMu sync.Mutex
	mu   sync.Mutex

	items    map[string]models.InventoryItem
	bindings map[string]models.BorrowBinding
	borrows  map[string]models.BorrowRequest
	returns  map[string]models.ReturnRequest
	audits   []*models.AuditLog

	bindingCreates      int
	failBindingCreateAt int
	// afterList runs once a catalog listing has been read, outside the lock.
	afterList func(ctx context.Context)
}

func newMemoryInventory() *memoryInventory {
	return &memoryInventory{
		items:    make(map[string]models.InventoryItem),
		bindings: make(map[string]models.BorrowBinding),
		borrows:  make(map[string]models.BorrowRequest),
		returns:  make(map[string]models.ReturnRequest),
	}
}

type memorySnapshot struct {
	items    map[string]models.InventoryItem
	bindings map[string]models.BorrowBinding
	borrows  map[string]models.BorrowRequest
	returns  map[string]models.ReturnRequest
}

func (m *memoryInventory) snapshot() memorySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := memorySnapshot{
		items:    make(map[string]models.InventoryItem, len(m.items)),
		bindings: make(map[string]models.BorrowBinding, len(m.bindings)),
		borrows:  make(map[string]models.BorrowRequest, len(m.borrows)),
		returns:  make(map[string]models.ReturnRequest, len(m.returns)),
	}
	for k, v := range m.items {
		snap.items[k] = v
	}
	for k, v := range m.bindings {
		snap.bindings[k] = v
	}
	for k, v := range m.borrows {
		snap.borrows[k] = v
	}
	for k, v := range m.returns {
		snap.returns[k] = v
	}
	return snap
}

func (m *memoryInventory) restore(snap memorySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = snap.items
	m.bindings = snap.bindings
	m.borrows = snap.borrows
	m.returns = snap.returns
}

func (m *memoryInventory) WithinTx(ctx context.Context, fn repository.TxFunc) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	snap := m.snapshot()
	if err := fn(ctx, nil); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *memoryInventory) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, log)
	return nil
}

func (m *memoryInventory) item(id string) models.InventoryItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id]
}

func (m *memoryInventory) activeBindingsFor(itemID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, b := range m.bindings {
		if b.ItemID == itemID && b.Active {
			count++
		}
	}
	return count
}

func (m *memoryInventory) bindingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bindings)
}

func (m *memoryInventory) borrow(id string) models.BorrowRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.borrows[id]
}

type memoryItems struct{ *memoryInventory }

func (s memoryItems) Create(ctx context.Context, item *models.InventoryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	item.CreatedAt, item.UpdatedAt = now, now
	s.items[item.ID] = *item
	return nil
}

func (s memoryItems) FindByID(ctx context.Context, id string) (*models.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &item, nil
}

func (s memoryItems) List(ctx context.Context, filter models.ItemFilter) ([]models.InventoryItem, int, error) {
	if hook := s.afterList; hook != nil {
		defer hook(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []models.InventoryItem
	for _, item := range s.items {
		if filter.Status != nil && item.Status != *filter.Status {
			continue
		}
		if filter.Category != "" && item.Category != filter.Category {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(item.Name), strings.ToLower(filter.Search)) {
			continue
		}
		matched = append(matched, item)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Name == matched[j].Name {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].Name < matched[j].Name
	})
	total := len(matched)
	start := (filter.Page - 1) * filter.PageSize
	if start > total {
		start = total
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s memoryItems) LockByIDs(ctx context.Context, exec sqlx.ExtContext, ids []string) ([]models.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.InventoryItem
	for _, id := range ids {
		if item, ok := s.items[id]; ok {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s memoryItems) LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.InventoryItem, error) {
	return s.FindByID(ctx, id)
}

func (s memoryItems) TransitionStatus(ctx context.Context, exec sqlx.ExtContext, id string, from, to models.ItemStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok || item.Status != from {
		return sql.ErrNoRows
	}
	item.Status = to
	s.items[id] = item
	return nil
}

func (s memoryItems) UpdateCondition(ctx context.Context, exec sqlx.ExtContext, id string, condition models.ItemCondition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return sql.ErrNoRows
	}
	item.Condition = condition
	s.items[id] = item
	return nil
}

type memoryBindings struct{ *memoryInventory }

func (s memoryBindings) Create(ctx context.Context, exec sqlx.ExtContext, binding *models.BorrowBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindingCreates++
	if s.failBindingCreateAt > 0 && s.bindingCreates == s.failBindingCreateAt {
		return errors.New("insert borrow binding: connection reset")
	}
	if binding.ID == "" {
		binding.ID = uuid.NewString()
	}
	binding.Active = true
	s.bindings[binding.ID] = *binding
	return nil
}

func (s memoryBindings) FindByID(ctx context.Context, id string) (*models.BorrowBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	binding, ok := s.bindings[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &binding, nil
}

func (s memoryBindings) LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.BorrowBinding, error) {
	return s.FindByID(ctx, id)
}

func (s memoryBindings) Close(ctx context.Context, exec sqlx.ExtContext, id string, returnedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	binding, ok := s.bindings[id]
	if !ok || !binding.Active {
		return sql.ErrNoRows
	}
	binding.Active = false
	binding.ReturnedAt = &returnedAt
	s.bindings[id] = binding
	return nil
}

func (s memoryBindings) CountActiveByItem(ctx context.Context, exec sqlx.ExtContext, itemID string) (int, error) {
	return s.activeBindingsFor(itemID), nil
}

func (s memoryBindings) ListActive(ctx context.Context, filter models.BindingFilter) ([]models.BindingDetail, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.BindingDetail
	for _, binding := range s.bindings {
		if !binding.Active {
			continue
		}
		if filter.StudentID != "" && binding.StudentID != filter.StudentID {
			continue
		}
		if filter.ItemID != "" && binding.ItemID != filter.ItemID {
			continue
		}
		item := s.items[binding.ItemID]
		req := s.borrows[binding.BorrowRequestID]
		out = append(out, models.BindingDetail{
			BorrowBinding: binding,
			ItemName:      item.Name,
			ItemCategory:  item.Category,
			StartDate:     req.StartDate,
			EndDate:       req.EndDate,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

type memoryBorrows struct{ *memoryInventory }

func (s memoryBorrows) Create(ctx context.Context, req *models.BorrowRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	s.borrows[req.ID] = *req
	return nil
}

func (s memoryBorrows) FindByID(ctx context.Context, id string) (*models.BorrowRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.borrows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &req, nil
}

func (s memoryBorrows) List(ctx context.Context, filter models.BorrowRequestFilter) ([]models.BorrowRequest, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.BorrowRequest
	for _, req := range s.borrows {
		if filter.Status != nil && req.Status != *filter.Status {
			continue
		}
		if filter.StudentID != "" && req.StudentID != filter.StudentID {
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (s memoryBorrows) LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.BorrowRequest, error) {
	return s.FindByID(ctx, id)
}

func (s memoryBorrows) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, params repository.UpdateBorrowStatusParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.borrows[params.ID]
	if !ok || req.Status != models.BorrowRequestPending {
		return sql.ErrNoRows
	}
	req.Status = params.Status
	reviewer := params.ReviewedBy
	reviewedAt := params.ReviewedAt
	req.ReviewedBy = &reviewer
	req.ReviewedAt = &reviewedAt
	req.Note = params.Note
	s.borrows[params.ID] = req
	return nil
}

type memoryReturns struct{ *memoryInventory }

func (s memoryReturns) Create(ctx context.Context, exec sqlx.ExtContext, req *models.ReturnRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	s.returns[req.ID] = *req
	return nil
}

func (s memoryReturns) FindByID(ctx context.Context, id string) (*models.ReturnRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.returns[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &req, nil
}

func (s memoryReturns) List(ctx context.Context, filter models.ReturnRequestFilter) ([]models.ReturnRequest, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ReturnRequest
	for _, req := range s.returns {
		if filter.Status != nil && req.Status != *filter.Status {
			continue
		}
		if filter.StudentID != "" && req.StudentID != filter.StudentID {
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (s memoryReturns) LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.ReturnRequest, error) {
	return s.FindByID(ctx, id)
}

func (s memoryReturns) HasPendingForBinding(ctx context.Context, exec sqlx.ExtContext, bindingID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, req := range s.returns {
		if req.BindingID == bindingID && req.Status == models.ReturnRequestPending {
			return true, nil
		}
	}
	return false, nil
}

func (s memoryReturns) Complete(ctx context.Context, exec sqlx.ExtContext, params repository.CompleteReturnParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.returns[params.ID]
	if !ok || req.Status != models.ReturnRequestPending {
		return sql.ErrNoRows
	}
	req.Status = models.ReturnRequestCompleted
	completedBy := params.CompletedBy
	completedAt := params.CompletedAt
	condition := params.ReturnedCondition
	req.CompletedBy = &completedBy
	req.CompletedAt = &completedAt
	req.ReturnedCondition = &condition
	s.returns[params.ID] = req
	return nil
}

// memoryCache is a JSON round-tripping CacheRepository.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string][]byte)}
}

func (c *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = payload
	return nil
}

func (c *memoryCache) DeleteByPattern(ctx context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	return nil
}

func (c *memoryCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
