package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/culturearts-api/internal/dto"
	"github.com/noah-isme/culturearts-api/internal/models"
	"github.com/noah-isme/culturearts-api/internal/repository"
	appErrors "github.com/noah-isme/culturearts-api/pkg/errors"
)

const (
	availabilityCacheNamespace = "inventory:available"
	availabilityCachePattern   = availabilityCacheNamespace + ":*"
)

type txRunner interface {
	WithinTx(ctx context.Context, fn repository.TxFunc) error
}

type itemStore interface {
	Create(ctx context.Context, item *models.InventoryItem) error
	FindByID(ctx context.Context, id string) (*models.InventoryItem, error)
	List(ctx context.Context, filter models.ItemFilter) ([]models.InventoryItem, int, error)
	LockByIDs(ctx context.Context, exec sqlx.ExtContext, ids []string) ([]models.InventoryItem, error)
	LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.InventoryItem, error)
	TransitionStatus(ctx context.Context, exec sqlx.ExtContext, id string, from, to models.ItemStatus) error
	UpdateCondition(ctx context.Context, exec sqlx.ExtContext, id string, condition models.ItemCondition) error
}

type bindingStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, binding *models.BorrowBinding) error
	FindByID(ctx context.Context, id string) (*models.BorrowBinding, error)
	LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.BorrowBinding, error)
	Close(ctx context.Context, exec sqlx.ExtContext, id string, returnedAt time.Time) error
	CountActiveByItem(ctx context.Context, exec sqlx.ExtContext, itemID string) (int, error)
	ListActive(ctx context.Context, filter models.BindingFilter) ([]models.BindingDetail, int, error)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// ItemPage is one page of catalog results.
type ItemPage struct {
	Items      []models.InventoryItem `json:"items"`
	Pagination models.Pagination      `json:"pagination"`
	CacheHit   bool                   `json:"-"`
}

// CatalogService owns inventory items and their availability. Only Reserve
// and Release move an item between available and borrowed.
type CatalogService struct {
	items      itemStore
	bindings   bindingStore
	tx         txRunner
	cache      *CacheService
	cacheTTL   time.Duration
	loads      singleflight.Group
	generation atomic.Uint64
	audit      auditLogger
	validate   *validator.Validate
	logger     *zap.Logger
	pageSize   int
	now        func() time.Time
}

// CatalogServiceOption configures the catalog.
type CatalogServiceOption func(*CatalogService)

// WithCatalogCache enables read-through caching of availability listings.
func WithCatalogCache(cache *CacheService, ttl time.Duration) CatalogServiceOption {
	return func(s *CatalogService) {
		s.cache = cache
		s.cacheTTL = ttl
	}
}

// WithCatalogAudit records administrative edits.
func WithCatalogAudit(audit auditLogger) CatalogServiceOption {
	return func(s *CatalogService) {
		s.audit = audit
	}
}

// WithCatalogPageSize overrides the default page size.
func WithCatalogPageSize(size int) CatalogServiceOption {
	return func(s *CatalogService) {
		if size > 0 {
			s.pageSize = size
		}
	}
}

// NewCatalogService constructs the catalog.
func NewCatalogService(items itemStore, bindings bindingStore, tx txRunner, validate *validator.Validate, logger *zap.Logger, opts ...CatalogServiceOption) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	svc := &CatalogService{
		items:    items,
		bindings: bindings,
		tx:       tx,
		validate: validate,
		logger:   logger,
		pageSize: 20,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// ListAvailable returns items currently free to borrow.
func (s *CatalogService) ListAvailable(ctx context.Context, query dto.ItemQuery) (*ItemPage, error) {
	filter, err := s.buildFilter(query)
	if err != nil {
		return nil, err
	}
	available := models.ItemStatusAvailable
	filter.Status = &available

	key := CacheKey(availabilityCacheNamespace, filter.Category, filter.Search, filter.Page, filter.PageSize)
	var cached ItemPage
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		cached.CacheHit = true
		return &cached, nil
	}

	// Concurrent misses for the same listing share one detached load; each
	// caller still honours its own context.
	generation := s.generation.Load()
	results := s.loads.DoChan(key, func() (interface{}, error) {
		loadCtx := context.WithoutCancel(ctx)
		page, err := s.list(loadCtx, filter)
		if err != nil {
			return nil, err
		}
		s.storeAvailability(loadCtx, key, page, generation)
		return page, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-results:
		if res.Err != nil {
			return nil, res.Err
		}
		page := *res.Val.(*ItemPage)
		return &page, nil
	}
}

// storeAvailability caches a page read at the given generation. A page that
// raced with an invalidation is never left behind in the cache.
func (s *CatalogService) storeAvailability(ctx context.Context, key string, page *ItemPage, generation uint64) {
	if s.generation.Load() != generation {
		return
	}
	_ = s.cache.Set(ctx, key, page, s.cacheTTL)
	if s.generation.Load() != generation {
		_ = s.cache.Invalidate(ctx, key)
	}
}

// List returns items across all statuses.
func (s *CatalogService) List(ctx context.Context, query dto.ItemQuery) (*ItemPage, error) {
	filter, err := s.buildFilter(query)
	if err != nil {
		return nil, err
	}
	if raw := strings.TrimSpace(query.Status); raw != "" {
		status := models.ItemStatus(strings.ToLower(raw))
		if !status.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid status filter")
		}
		filter.Status = &status
	}
	return s.list(ctx, filter)
}

// Get returns a single item.
func (s *CatalogService) Get(ctx context.Context, id string) (*models.InventoryItem, error) {
	item, err := s.items.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrItemNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load item")
	}
	return item, nil
}

// Create registers a new item as available.
func (s *CatalogService) Create(ctx context.Context, actor *models.JWTClaims, req dto.CreateItemRequest) (*models.InventoryItem, error) {
	if !actor.IsStaff() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only staff may manage inventory")
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid item payload")
	}
	condition, ok := models.ParseItemCondition(req.Condition)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidCondition, fmt.Sprintf("unknown condition %q", req.Condition))
	}

	item := &models.InventoryItem{
		Name:        strings.TrimSpace(req.Name),
		Category:    models.ItemCategory(req.Category),
		Quantity:    req.Quantity,
		Condition:   condition,
		Status:      models.ItemStatusAvailable,
		Description: strings.TrimSpace(req.Description),
	}
	if err := s.items.Create(ctx, item); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create item")
	}
	s.InvalidateAvailability(ctx)
	s.emitAudit(ctx, actor, models.AuditActionItemCreate, item.ID, nil, item)
	return item, nil
}

// UpdateCondition records an administrative condition change. Status is
// never touched, so a borrowed item stays borrowed.
func (s *CatalogService) UpdateCondition(ctx context.Context, actor *models.JWTClaims, itemID string, req dto.UpdateConditionRequest) (*models.InventoryItem, error) {
	if !actor.IsStaff() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only staff may manage inventory")
	}
	condition, ok := models.ParseItemCondition(req.Condition)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidCondition, fmt.Sprintf("unknown condition %q", req.Condition))
	}

	before, err := s.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if err := s.items.UpdateCondition(ctx, nil, itemID, condition); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrItemNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update condition")
	}

	after := *before
	after.Condition = condition
	after.UpdatedAt = s.now().UTC()
	s.InvalidateAvailability(ctx)
	s.emitAudit(ctx, actor, models.AuditActionItemCondition, itemID,
		map[string]string{"condition": string(before.Condition)},
		map[string]string{"condition": string(condition)})
	return &after, nil
}

// SetStatus moves an item in or out of service. It refuses while the item
// is out on loan and never sets borrowed.
func (s *CatalogService) SetStatus(ctx context.Context, actor *models.JWTClaims, itemID string, req dto.UpdateItemStatusRequest) (*models.InventoryItem, error) {
	if !actor.IsStaff() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only staff may manage inventory")
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}
	target := models.ItemStatus(req.Status)
	if target == models.ItemStatusBorrowed || !target.Valid() {
		return nil, appErrors.Clone(appErrors.ErrInvalidStateTransition, "status must be available, maintenance, reserved or retired")
	}

	var updated models.InventoryItem
	var previous models.ItemStatus
	err := s.tx.WithinTx(ctx, func(ctx context.Context, exec sqlx.ExtContext) error {
		item, err := s.items.LockByID(ctx, exec, itemID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.ErrItemNotFound
			}
			return err
		}
		previous = item.Status
		active, err := s.bindings.CountActiveByItem(ctx, exec, itemID)
		if err != nil {
			return err
		}
		if item.Status == models.ItemStatusBorrowed || active > 0 {
			return appErrors.Clone(appErrors.ErrItemUnavailable, "item is out on loan; confirm its return first")
		}
		if item.Status != target {
			if err := s.items.TransitionStatus(ctx, exec, itemID, item.Status, target); err != nil {
				return err
			}
			item.Status = target
			item.UpdatedAt = s.now().UTC()
		}
		updated = *item
		return nil
	})
	if err != nil {
		return nil, normaliseError(err, "failed to update item status")
	}

	if previous != target {
		s.InvalidateAvailability(ctx)
		s.emitAudit(ctx, actor, models.AuditActionItemStatus, itemID,
			map[string]string{"status": string(previous)},
			map[string]string{"status": string(target)})
	}
	return &updated, nil
}

// LockItems takes row locks on the given items in id order and returns
// them in that order. Any unknown id fails with ItemNotFound.
func (s *CatalogService) LockItems(ctx context.Context, exec sqlx.ExtContext, ids []string) ([]models.InventoryItem, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	items, err := s.items.LockByIDs(ctx, exec, sorted)
	if err != nil {
		return nil, err
	}
	if len(items) != len(sorted) {
		found := make(map[string]struct{}, len(items))
		for _, item := range items {
			found[item.ID] = struct{}{}
		}
		var missing []string
		for _, id := range sorted {
			if _, ok := found[id]; !ok {
				missing = append(missing, id)
			}
		}
		return nil, appErrors.Clone(appErrors.ErrItemNotFound, fmt.Sprintf("inventory item not found: %s", strings.Join(missing, ", ")))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

// LockItem takes a row lock on one item.
func (s *CatalogService) LockItem(ctx context.Context, exec sqlx.ExtContext, id string) (*models.InventoryItem, error) {
	item, err := s.items.LockByID(ctx, exec, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrItemNotFound
		}
		return nil, err
	}
	return item, nil
}

// Reserve flips an available item to borrowed and records the binding in
// the same unit of work. The status update is conditional, so an item that
// is no longer available fails with ItemUnavailable.
func (s *CatalogService) Reserve(ctx context.Context, exec sqlx.ExtContext, itemID string, binding *models.BorrowBinding) error {
	if err := s.items.TransitionStatus(ctx, exec, itemID, models.ItemStatusAvailable, models.ItemStatusBorrowed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return itemUnavailable(itemID)
		}
		return err
	}
	binding.ItemID = itemID
	if binding.BorrowDate.IsZero() {
		binding.BorrowDate = s.now().UTC()
	}
	return s.bindings.Create(ctx, exec, binding)
}

// Release closes an active binding and returns the item to available once
// no other active binding holds it.
func (s *CatalogService) Release(ctx context.Context, exec sqlx.ExtContext, itemID, bindingID string) error {
	binding, err := s.bindings.LockByID(ctx, exec, bindingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrBindingNotActive, "borrow binding not found")
		}
		return err
	}
	if !binding.Active || binding.ItemID != itemID {
		return appErrors.ErrBindingNotActive
	}
	if err := s.bindings.Close(ctx, exec, bindingID, s.now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrBindingNotActive
		}
		return err
	}

	remaining, err := s.bindings.CountActiveByItem(ctx, exec, itemID)
	if err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}
	if err := s.items.TransitionStatus(ctx, exec, itemID, models.ItemStatusBorrowed, models.ItemStatusAvailable); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("released item was not marked borrowed", zap.String("item_id", itemID), zap.String("binding_id", bindingID))
			return nil
		}
		return err
	}
	return nil
}

// SetCondition writes a condition inside an existing unit of work.
func (s *CatalogService) SetCondition(ctx context.Context, exec sqlx.ExtContext, itemID string, condition models.ItemCondition) error {
	if condition.Severity() < 0 {
		return appErrors.Clone(appErrors.ErrInvalidCondition, fmt.Sprintf("unknown condition %q", condition))
	}
	if err := s.items.UpdateCondition(ctx, exec, itemID, condition); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrItemNotFound
		}
		return err
	}
	return nil
}

// InvalidateAvailability drops cached availability listings. Failures are
// logged by the cache service and otherwise ignored.
func (s *CatalogService) InvalidateAvailability(ctx context.Context) {
	s.generation.Add(1)
	_ = s.cache.Invalidate(ctx, availabilityCachePattern)
}

func (s *CatalogService) buildFilter(query dto.ItemQuery) (models.ItemFilter, error) {
	filter := models.ItemFilter{Search: strings.TrimSpace(query.Search)}
	if raw := strings.TrimSpace(query.Category); raw != "" {
		category := models.ItemCategory(strings.ToLower(raw))
		if !category.Valid() {
			return filter, appErrors.Clone(appErrors.ErrValidation, "category must be costume or equipment")
		}
		filter.Category = category
	}
	filter.Page, filter.PageSize = models.NormalisePage(query.Page, query.PageSize, s.pageSize)
	return filter, nil
}

func (s *CatalogService) list(ctx context.Context, filter models.ItemFilter) (*ItemPage, error) {
	items, total, err := s.items.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list items")
	}
	if items == nil {
		items = []models.InventoryItem{}
	}
	return &ItemPage{
		Items:      items,
		Pagination: models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total},
	}, nil
}

func (s *CatalogService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, itemID string, before, after interface{}) {
	recordAudit(ctx, s.audit, s.logger, actor, action, "inventory_items", itemID, before, after)
}

func itemUnavailable(itemID string) error {
	return appErrors.Wrap(fmt.Errorf("item %s", itemID), appErrors.ErrItemUnavailable.Code, appErrors.ErrItemUnavailable.Status, appErrors.ErrItemUnavailable.Message)
}

// normaliseError passes domain errors through and wraps anything else as internal.
func normaliseError(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func recordAudit(ctx context.Context, audit auditLogger, logger *zap.Logger, actor *models.JWTClaims, action, resource, resourceID string, before, after interface{}) {
	if audit == nil {
		return
	}
	entry := &models.AuditLog{
		UserID:     userIDPtr(actor),
		Action:     action,
		Resource:   resource,
		ResourceID: &resourceID,
		IPAddress:  "system",
		UserAgent:  "inventory-service",
	}
	if before != nil {
		entry.OldValues, _ = json.Marshal(before)
	}
	if after != nil {
		entry.NewValues, _ = json.Marshal(after)
	}
	if err := audit.CreateAuditLog(ctx, entry); err != nil {
		logger.Warn("failed to persist audit log", zap.String("action", action), zap.Error(err))
	}
}

func userIDPtr(actor *models.JWTClaims) *string {
	if actor == nil || actor.UserID == "" {
		return nil
	}
	id := actor.UserID
	return &id
}
