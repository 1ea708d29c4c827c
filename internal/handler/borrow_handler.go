package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/culturearts-api/internal/dto"
	"github.com/noah-isme/culturearts-api/internal/middleware"
	"github.com/noah-isme/culturearts-api/internal/models"
	appErrors "github.com/noah-isme/culturearts-api/pkg/errors"
	"github.com/noah-isme/culturearts-api/pkg/response"
)

type borrowLedger interface {
	SubmitBorrowRequest(ctx context.Context, actor *models.JWTClaims, req dto.SubmitBorrowRequest) (*models.BorrowRequest, error)
	ListBorrowRequests(ctx context.Context, actor *models.JWTClaims, query dto.BorrowRequestQuery) ([]models.BorrowRequest, *models.Pagination, error)
	GetBorrowRequest(ctx context.Context, actor *models.JWTClaims, id string) (*models.BorrowRequest, error)
	ListActiveBindings(ctx context.Context, actor *models.JWTClaims, query dto.BindingQuery) ([]models.BindingDetail, *models.Pagination, error)
}

type approvalService interface {
	Approve(ctx context.Context, actor *models.JWTClaims, requestID string, req dto.ApproveBorrowRequest) ([]models.BorrowBinding, error)
	Reject(ctx context.Context, actor *models.JWTClaims, requestID string, req dto.RejectBorrowRequest) (*models.BorrowRequest, error)
}

// BorrowHandler exposes borrow request and binding endpoints.
type BorrowHandler struct {
	ledger   borrowLedger
	approval approvalService
}

// NewBorrowHandler constructs the handler.
func NewBorrowHandler(ledger borrowLedger, approval approvalService) *BorrowHandler {
	return &BorrowHandler{ledger: ledger, approval: approval}
}

// Submit godoc
// @Summary Submit a borrow request
// @Tags Borrowing
// @Accept json
// @Produce json
// @Param payload body dto.SubmitBorrowRequest true "Borrow request"
// @Success 201 {object} response.Envelope
// @Router /borrow-requests [post]
func (h *BorrowHandler) Submit(c *gin.Context) {
	if h.ledger == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "borrow service not configured"))
		return
	}
	var req dto.SubmitBorrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid borrow request payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	request, err := h.ledger.SubmitBorrowRequest(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, request)
}

// List godoc
// @Summary List borrow requests
// @Description Students only see their own requests.
// @Tags Borrowing
// @Produce json
// @Param status query string false "pending, approved or rejected"
// @Param search query string false "Search student, equipment or purpose"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /borrow-requests [get]
func (h *BorrowHandler) List(c *gin.Context) {
	if h.ledger == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "borrow service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	query := dto.BorrowRequestQuery{
		Status:   trimmedQuery(c, "status"),
		Search:   trimmedQuery(c, "search"),
		Page:     parseQueryInt(c, "page", 1),
		PageSize: parseQueryInt(c, "page_size", 0),
	}
	requests, pagination, err := h.ledger.ListBorrowRequests(c.Request.Context(), claims, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, pagination, middleware.ExtractMeta(c))
}

// Get godoc
// @Summary Get a borrow request
// @Tags Borrowing
// @Produce json
// @Param id path string true "Borrow request ID"
// @Success 200 {object} response.Envelope
// @Router /borrow-requests/{id} [get]
func (h *BorrowHandler) Get(c *gin.Context) {
	if h.ledger == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "borrow service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	request, err := h.ledger.GetBorrowRequest(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Approve godoc
// @Summary Approve a borrow request
// @Description Binds every selected item to the request or none of them.
// @Tags Borrowing
// @Accept json
// @Produce json
// @Param id path string true "Borrow request ID"
// @Param payload body dto.ApproveBorrowRequest true "Selected items"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /borrow-requests/{id}/approve [post]
func (h *BorrowHandler) Approve(c *gin.Context) {
	if h.approval == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "approval service not configured"))
		return
	}
	var req dto.ApproveBorrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid approval payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	bindings, err := h.approval.Approve(c.Request.Context(), claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"request_id": c.Param("id"), "bindings": bindings}, nil)
}

// Reject godoc
// @Summary Reject a borrow request
// @Tags Borrowing
// @Accept json
// @Produce json
// @Param id path string true "Borrow request ID"
// @Param payload body dto.RejectBorrowRequest false "Reviewer note"
// @Success 200 {object} response.Envelope
// @Router /borrow-requests/{id}/reject [post]
func (h *BorrowHandler) Reject(c *gin.Context) {
	if h.approval == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "approval service not configured"))
		return
	}
	var req dto.RejectBorrowRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid rejection payload"))
			return
		}
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	request, err := h.approval.Reject(c.Request.Context(), claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// ListBindings godoc
// @Summary List active borrow bindings
// @Tags Borrowing
// @Produce json
// @Param student_id query string false "Student (staff only)"
// @Param item_id query string false "Item"
// @Success 200 {object} response.Envelope
// @Router /bindings [get]
func (h *BorrowHandler) ListBindings(c *gin.Context) {
	if h.ledger == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "borrow service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	query := dto.BindingQuery{
		StudentID: trimmedQuery(c, "student_id"),
		ItemID:    trimmedQuery(c, "item_id"),
		Page:      parseQueryInt(c, "page", 1),
		PageSize:  parseQueryInt(c, "page_size", 0),
	}
	bindings, pagination, err := h.ledger.ListActiveBindings(c.Request.Context(), claims, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, bindings, pagination, middleware.ExtractMeta(c))
}
