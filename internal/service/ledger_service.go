package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/culturearts-api/internal/dto"
	"github.com/noah-isme/culturearts-api/internal/models"
	"github.com/noah-isme/culturearts-api/internal/repository"
	appErrors "github.com/noah-isme/culturearts-api/pkg/errors"
)

type borrowRequestStore interface {
	Create(ctx context.Context, req *models.BorrowRequest) error
	FindByID(ctx context.Context, id string) (*models.BorrowRequest, error)
	List(ctx context.Context, filter models.BorrowRequestFilter) ([]models.BorrowRequest, int, error)
	LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.BorrowRequest, error)
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, params repository.UpdateBorrowStatusParams) error
}

type returnRequestStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, req *models.ReturnRequest) error
	FindByID(ctx context.Context, id string) (*models.ReturnRequest, error)
	List(ctx context.Context, filter models.ReturnRequestFilter) ([]models.ReturnRequest, int, error)
	LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.ReturnRequest, error)
	HasPendingForBinding(ctx context.Context, exec sqlx.ExtContext, bindingID string) (bool, error)
	Complete(ctx context.Context, exec sqlx.ExtContext, params repository.CompleteReturnParams) error
}

// LedgerService records borrow and return requests and enforces their
// lifecycles. Terminal requests never transition again.
type LedgerService struct {
	borrows  borrowRequestStore
	returns  returnRequestStore
	bindings bindingStore
	tx       txRunner
	validate *validator.Validate
	logger   *zap.Logger
	pageSize int
	now      func() time.Time
}

// NewLedgerService constructs the ledger.
func NewLedgerService(borrows borrowRequestStore, returns returnRequestStore, bindings bindingStore, tx txRunner, validate *validator.Validate, logger *zap.Logger, pageSize int) *LedgerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return &LedgerService{
		borrows:  borrows,
		returns:  returns,
		bindings: bindings,
		tx:       tx,
		validate: validate,
		logger:   logger,
		pageSize: pageSize,
		now:      time.Now,
	}
}

// SubmitBorrowRequest records a pending borrow request. Students submit for
// themselves; staff may submit on behalf of a student.
func (s *LedgerService) SubmitBorrowRequest(ctx context.Context, actor *models.JWTClaims, req dto.SubmitBorrowRequest) (*models.BorrowRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid borrow request payload")
	}
	if req.StartDate.IsZero() || req.EndDate.IsZero() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start_date and end_date are required")
	}
	if req.StartDate.After(req.EndDate.Time) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start_date must not be after end_date")
	}

	studentID := actor.UserID
	requested := strings.TrimSpace(req.StudentID)
	if requested != "" && requested != actor.UserID {
		if !actor.IsStaff() {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "students may only submit requests for themselves")
		}
		studentID = requested
	}

	borrow := &models.BorrowRequest{
		StudentID:   studentID,
		Description: req.Equipment.Description(),
		Purpose:     strings.TrimSpace(req.Purpose),
		StartDate:   req.StartDate.Time,
		EndDate:     req.EndDate.Time,
		Status:      models.BorrowRequestPending,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.borrows.Create(ctx, borrow); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create borrow request")
	}
	s.logger.Info("borrow request submitted", zap.String("request_id", borrow.ID), zap.String("student_id", studentID))
	return borrow, nil
}

// ListBorrowRequests returns borrow requests, latest first. Students only
// see their own.
func (s *LedgerService) ListBorrowRequests(ctx context.Context, actor *models.JWTClaims, query dto.BorrowRequestQuery) ([]models.BorrowRequest, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	filter := models.BorrowRequestFilter{Search: strings.TrimSpace(query.Search)}
	if raw := strings.TrimSpace(query.Status); raw != "" {
		status := models.BorrowRequestStatus(strings.ToLower(raw))
		if !status.Valid() {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid status filter")
		}
		filter.Status = &status
	}
	if !actor.IsStaff() {
		filter.StudentID = actor.UserID
	}
	filter.Page, filter.PageSize = models.NormalisePage(query.Page, query.PageSize, s.pageSize)

	requests, total, err := s.borrows.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list borrow requests")
	}
	if requests == nil {
		requests = []models.BorrowRequest{}
	}
	return requests, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// GetBorrowRequest returns a single borrow request.
func (s *LedgerService) GetBorrowRequest(ctx context.Context, actor *models.JWTClaims, id string) (*models.BorrowRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	req, err := s.borrows.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "borrow request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load borrow request")
	}
	if !actor.IsStaff() && req.StudentID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "borrow request belongs to another student")
	}
	return req, nil
}

// LockPendingBorrowRequest locks a borrow request and requires it to be pending.
func (s *LedgerService) LockPendingBorrowRequest(ctx context.Context, exec sqlx.ExtContext, id string) (*models.BorrowRequest, error) {
	req, err := s.borrows.LockByID(ctx, exec, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "borrow request not found")
		}
		return nil, err
	}
	if req.Status.Terminal() {
		return nil, requestFinalized("borrow request", string(req.Status))
	}
	return req, nil
}

// TransitionBorrowRequest moves a pending borrow request to approved or
// rejected inside the caller's unit of work.
func (s *LedgerService) TransitionBorrowRequest(ctx context.Context, exec sqlx.ExtContext, id string, to models.BorrowRequestStatus, reviewer string, note *string) (*models.BorrowRequest, error) {
	req, err := s.LockPendingBorrowRequest(ctx, exec, id)
	if err != nil {
		return nil, err
	}
	if to != models.BorrowRequestApproved && to != models.BorrowRequestRejected {
		return nil, appErrors.Clone(appErrors.ErrInvalidStateTransition, fmt.Sprintf("borrow request cannot move from %s to %s", req.Status, to))
	}

	reviewedAt := s.now().UTC()
	if err := s.borrows.UpdateStatus(ctx, exec, repository.UpdateBorrowStatusParams{
		ID:         id,
		Status:     to,
		ReviewedBy: reviewer,
		ReviewedAt: reviewedAt,
		Note:       note,
	}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, requestFinalized("borrow request", "")
		}
		return nil, err
	}

	req.Status = to
	req.ReviewedBy = &reviewer
	req.ReviewedAt = &reviewedAt
	req.Note = note
	return req, nil
}

// SubmitReturnRequest records that a bound item is coming back. The binding
// must still be active and may carry at most one pending return.
func (s *LedgerService) SubmitReturnRequest(ctx context.Context, actor *models.JWTClaims, req dto.SubmitReturnRequest) (*models.ReturnRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid return request payload")
	}

	var created *models.ReturnRequest
	err := s.tx.WithinTx(ctx, func(ctx context.Context, exec sqlx.ExtContext) error {
		binding, err := s.bindings.LockByID(ctx, exec, strings.TrimSpace(req.BindingID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrBindingNotActive, "borrow binding not found")
			}
			return err
		}
		if !binding.Active {
			return appErrors.ErrBindingNotActive
		}
		if !actor.IsStaff() && binding.StudentID != actor.UserID {
			return appErrors.Clone(appErrors.ErrForbidden, "binding belongs to another student")
		}
		pending, err := s.returns.HasPendingForBinding(ctx, exec, binding.ID)
		if err != nil {
			return err
		}
		if pending {
			return appErrors.Clone(appErrors.ErrConflict, "a return request is already pending for this binding")
		}

		ret := &models.ReturnRequest{
			BindingID:      binding.ID,
			ItemID:         binding.ItemID,
			StudentID:      binding.StudentID,
			ConditionNotes: strings.TrimSpace(req.ConditionNotes),
			Status:         models.ReturnRequestPending,
			RequestedAt:    s.now().UTC(),
		}
		if err := s.returns.Create(ctx, exec, ret); err != nil {
			return err
		}
		created = ret
		return nil
	})
	if err != nil {
		return nil, normaliseError(err, "failed to create return request")
	}
	s.logger.Info("return request submitted", zap.String("return_id", created.ID), zap.String("binding_id", created.BindingID))
	return created, nil
}

// ListReturnRequests returns return requests, latest first. Students only
// see their own.
func (s *LedgerService) ListReturnRequests(ctx context.Context, actor *models.JWTClaims, query dto.ReturnRequestQuery) ([]models.ReturnRequest, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	filter := models.ReturnRequestFilter{Search: strings.TrimSpace(query.Search)}
	if raw := strings.TrimSpace(query.Status); raw != "" {
		status := models.ReturnRequestStatus(strings.ToLower(raw))
		if !status.Valid() {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid status filter")
		}
		filter.Status = &status
	}
	if !actor.IsStaff() {
		filter.StudentID = actor.UserID
	}
	filter.Page, filter.PageSize = models.NormalisePage(query.Page, query.PageSize, s.pageSize)

	requests, total, err := s.returns.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list return requests")
	}
	if requests == nil {
		requests = []models.ReturnRequest{}
	}
	return requests, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// GetReturnRequest returns a single return request.
func (s *LedgerService) GetReturnRequest(ctx context.Context, actor *models.JWTClaims, id string) (*models.ReturnRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	req, err := s.returns.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "return request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load return request")
	}
	if !actor.IsStaff() && req.StudentID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "return request belongs to another student")
	}
	return req, nil
}

// LockPendingReturnRequest locks a return request and requires it to be pending.
func (s *LedgerService) LockPendingReturnRequest(ctx context.Context, exec sqlx.ExtContext, id string) (*models.ReturnRequest, error) {
	req, err := s.returns.LockByID(ctx, exec, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "return request not found")
		}
		return nil, err
	}
	if req.Status.Terminal() {
		return nil, requestFinalized("return request", string(req.Status))
	}
	return req, nil
}

// TransitionReturnRequest completes a pending return request inside the
// caller's unit of work.
func (s *LedgerService) TransitionReturnRequest(ctx context.Context, exec sqlx.ExtContext, id string, to models.ReturnRequestStatus, completedBy string, condition models.ItemCondition) (*models.ReturnRequest, error) {
	req, err := s.LockPendingReturnRequest(ctx, exec, id)
	if err != nil {
		return nil, err
	}
	if to != models.ReturnRequestCompleted {
		return nil, appErrors.Clone(appErrors.ErrInvalidStateTransition, fmt.Sprintf("return request cannot move from %s to %s", req.Status, to))
	}

	completedAt := s.now().UTC()
	if err := s.returns.Complete(ctx, exec, repository.CompleteReturnParams{
		ID:                id,
		CompletedBy:       completedBy,
		CompletedAt:       completedAt,
		ReturnedCondition: condition,
	}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, requestFinalized("return request", "")
		}
		return nil, err
	}

	req.Status = to
	req.CompletedBy = &completedBy
	req.CompletedAt = &completedAt
	req.ReturnedCondition = &condition
	return req, nil
}

// ListActiveBindings returns items currently out on loan. Students only see
// their own bindings.
func (s *LedgerService) ListActiveBindings(ctx context.Context, actor *models.JWTClaims, query dto.BindingQuery) ([]models.BindingDetail, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	filter := models.BindingFilter{StudentID: strings.TrimSpace(query.StudentID), ItemID: strings.TrimSpace(query.ItemID)}
	if !actor.IsStaff() {
		filter.StudentID = actor.UserID
	}
	page, size := models.NormalisePage(query.Page, query.PageSize, s.pageSize)
	filter.Limit = size
	filter.Offset = (page - 1) * size

	bindings, total, err := s.bindings.ListActive(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list bindings")
	}
	if bindings == nil {
		bindings = []models.BindingDetail{}
	}
	return bindings, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

func requestFinalized(kind, status string) error {
	message := kind + " already finalized"
	if status != "" {
		message = fmt.Sprintf("%s already %s", kind, status)
	}
	return appErrors.Clone(appErrors.ErrRequestFinalized, message)
}

func optionalString(value string) *string {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil
	}
	return &v
}
