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

type returnLedger interface {
	SubmitReturnRequest(ctx context.Context, actor *models.JWTClaims, req dto.SubmitReturnRequest) (*models.ReturnRequest, error)
	ListReturnRequests(ctx context.Context, actor *models.JWTClaims, query dto.ReturnRequestQuery) ([]models.ReturnRequest, *models.Pagination, error)
	GetReturnRequest(ctx context.Context, actor *models.JWTClaims, id string) (*models.ReturnRequest, error)
}

type returnConfirmer interface {
	ConfirmReturn(ctx context.Context, actor *models.JWTClaims, returnID string, req dto.ConfirmReturnRequest) (*models.ReturnRequest, error)
}

// ReturnHandler exposes return request endpoints.
type ReturnHandler struct {
	ledger    returnLedger
	processor returnConfirmer
}

// NewReturnHandler constructs the handler.
func NewReturnHandler(ledger returnLedger, processor returnConfirmer) *ReturnHandler {
	return &ReturnHandler{ledger: ledger, processor: processor}
}

// Submit godoc
// @Summary Announce a return
// @Tags Returns
// @Accept json
// @Produce json
// @Param payload body dto.SubmitReturnRequest true "Return request"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /return-requests [post]
func (h *ReturnHandler) Submit(c *gin.Context) {
	if h.ledger == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "return service not configured"))
		return
	}
	var req dto.SubmitReturnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid return request payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	request, err := h.ledger.SubmitReturnRequest(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, request)
}

// List godoc
// @Summary List return requests
// @Tags Returns
// @Produce json
// @Param status query string false "pending or completed"
// @Param search query string false "Search student or notes"
// @Success 200 {object} response.Envelope
// @Router /return-requests [get]
func (h *ReturnHandler) List(c *gin.Context) {
	if h.ledger == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "return service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	query := dto.ReturnRequestQuery{
		Status:   trimmedQuery(c, "status"),
		Search:   trimmedQuery(c, "search"),
		Page:     parseQueryInt(c, "page", 1),
		PageSize: parseQueryInt(c, "page_size", 0),
	}
	requests, pagination, err := h.ledger.ListReturnRequests(c.Request.Context(), claims, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, pagination, middleware.ExtractMeta(c))
}

// Get godoc
// @Summary Get a return request
// @Tags Returns
// @Produce json
// @Param id path string true "Return request ID"
// @Success 200 {object} response.Envelope
// @Router /return-requests/{id} [get]
func (h *ReturnHandler) Get(c *gin.Context) {
	if h.ledger == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "return service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	request, err := h.ledger.GetReturnRequest(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Confirm godoc
// @Summary Confirm a return
// @Description Releases the item and closes the binding. Confirming twice fails with 409.
// @Tags Returns
// @Accept json
// @Produce json
// @Param id path string true "Return request ID"
// @Param payload body dto.ConfirmReturnRequest false "Assessed condition"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /return-requests/{id}/confirm [post]
func (h *ReturnHandler) Confirm(c *gin.Context) {
	if h.processor == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "return processor not configured"))
		return
	}
	var req dto.ConfirmReturnRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid confirmation payload"))
			return
		}
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	request, err := h.processor.ConfirmReturn(c.Request.Context(), claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}
