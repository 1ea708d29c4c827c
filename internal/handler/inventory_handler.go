package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/culturearts-api/internal/dto"
	"github.com/noah-isme/culturearts-api/internal/middleware"
	"github.com/noah-isme/culturearts-api/internal/models"
	"github.com/noah-isme/culturearts-api/internal/service"
	appErrors "github.com/noah-isme/culturearts-api/pkg/errors"
	"github.com/noah-isme/culturearts-api/pkg/response"
)

type catalogService interface {
	ListAvailable(ctx context.Context, query dto.ItemQuery) (*service.ItemPage, error)
	List(ctx context.Context, query dto.ItemQuery) (*service.ItemPage, error)
	Get(ctx context.Context, id string) (*models.InventoryItem, error)
	Create(ctx context.Context, actor *models.JWTClaims, req dto.CreateItemRequest) (*models.InventoryItem, error)
	UpdateCondition(ctx context.Context, actor *models.JWTClaims, itemID string, req dto.UpdateConditionRequest) (*models.InventoryItem, error)
	SetStatus(ctx context.Context, actor *models.JWTClaims, itemID string, req dto.UpdateItemStatusRequest) (*models.InventoryItem, error)
}

type reportService interface {
	BorrowedReport(ctx context.Context, actor *models.JWTClaims, format string) (*service.ExportResult, error)
}

// InventoryHandler exposes the item catalog.
type InventoryHandler struct {
	service catalogService
	reports reportService
}

// NewInventoryHandler constructs the handler.
func NewInventoryHandler(svc catalogService, reports reportService) *InventoryHandler {
	return &InventoryHandler{service: svc, reports: reports}
}

// ListAvailable godoc
// @Summary List items available for borrowing
// @Tags Inventory
// @Produce json
// @Param category query string false "costume or equipment"
// @Param search query string false "Name search"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /inventory/items/available [get]
func (h *InventoryHandler) ListAvailable(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "inventory service not configured"))
		return
	}
	page, err := h.service.ListAvailable(c.Request.Context(), itemQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, page.CacheHit)
	response.JSON(c, http.StatusOK, page.Items, &page.Pagination, middleware.ExtractMeta(c))
}

// List godoc
// @Summary List inventory items in any status
// @Tags Inventory
// @Produce json
// @Param status query string false "Item status"
// @Param category query string false "costume or equipment"
// @Param search query string false "Name search"
// @Success 200 {object} response.Envelope
// @Router /inventory/items [get]
func (h *InventoryHandler) List(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "inventory service not configured"))
		return
	}
	page, err := h.service.List(c.Request.Context(), itemQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, page.Items, &page.Pagination, middleware.ExtractMeta(c))
}

// Get godoc
// @Summary Get inventory item
// @Tags Inventory
// @Produce json
// @Param id path string true "Item ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /inventory/items/{id} [get]
func (h *InventoryHandler) Get(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "inventory service not configured"))
		return
	}
	item, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Create godoc
// @Summary Register an inventory item
// @Tags Inventory
// @Accept json
// @Produce json
// @Param payload body dto.CreateItemRequest true "Item payload"
// @Success 201 {object} response.Envelope
// @Router /inventory/items [post]
func (h *InventoryHandler) Create(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "inventory service not configured"))
		return
	}
	var req dto.CreateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid item payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	item, err := h.service.Create(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, item)
}

// UpdateCondition godoc
// @Summary Update an item's condition
// @Tags Inventory
// @Accept json
// @Produce json
// @Param id path string true "Item ID"
// @Param payload body dto.UpdateConditionRequest true "Condition payload"
// @Success 200 {object} response.Envelope
// @Router /inventory/items/{id}/condition [patch]
func (h *InventoryHandler) UpdateCondition(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "inventory service not configured"))
		return
	}
	var req dto.UpdateConditionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid condition payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	item, err := h.service.UpdateCondition(c.Request.Context(), claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// SetStatus godoc
// @Summary Move an item in or out of service
// @Tags Inventory
// @Accept json
// @Produce json
// @Param id path string true "Item ID"
// @Param payload body dto.UpdateItemStatusRequest true "Status payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /inventory/items/{id}/status [patch]
func (h *InventoryHandler) SetStatus(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "inventory service not configured"))
		return
	}
	var req dto.UpdateItemStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid status payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	item, err := h.service.SetStatus(c.Request.Context(), claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// BorrowedReport godoc
// @Summary Download the borrowed items report
// @Tags Inventory
// @Produce octet-stream
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Router /inventory/reports/borrowed [get]
func (h *InventoryHandler) BorrowedReport(c *gin.Context) {
	if h.reports == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "report service not configured"))
		return
	}
	var query dto.ReportQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid report query"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	result, err := h.reports.BorrowedReport(c.Request.Context(), claims, query.Format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.File(c, result.Filename, result.ContentType, result.Payload)
}

func itemQuery(c *gin.Context) dto.ItemQuery {
	return dto.ItemQuery{
		Category: trimmedQuery(c, "category"),
		Search:   trimmedQuery(c, "search"),
		Status:   trimmedQuery(c, "status"),
		Page:     parseQueryInt(c, "page", 1),
		PageSize: parseQueryInt(c, "page_size", 0),
	}
}
