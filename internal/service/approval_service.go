package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/culturearts-api/internal/dto"
	"github.com/noah-isme/culturearts-api/internal/models"
	appErrors "github.com/noah-isme/culturearts-api/pkg/errors"
)

// ApprovalService binds concrete items to pending borrow requests. An
// approval either reserves every selected item or changes nothing.
type ApprovalService struct {
	tx       txRunner
	ledger   *LedgerService
	catalog  *CatalogService
	audit    auditLogger
	metrics  *MetricsService
	validate *validator.Validate
	logger   *zap.Logger
}

// NewApprovalService constructs the approval engine.
func NewApprovalService(tx txRunner, ledger *LedgerService, catalog *CatalogService, audit auditLogger, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *ApprovalService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &ApprovalService{
		tx:       tx,
		ledger:   ledger,
		catalog:  catalog,
		audit:    audit,
		metrics:  metrics,
		validate: validate,
		logger:   logger,
	}
}

// Approve reserves the selected items for the request and marks it approved.
func (s *ApprovalService) Approve(ctx context.Context, actor *models.JWTClaims, requestID string, req dto.ApproveBorrowRequest) ([]models.BorrowBinding, error) {
	if !actor.IsStaff() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only staff may approve borrow requests")
	}
	itemIDs, err := s.normaliseSelection(req)
	if err != nil {
		return nil, err
	}
	note := optionalString(req.Note)

	var bindings []models.BorrowBinding
	start := time.Now()
	err = s.tx.WithinTx(ctx, func(ctx context.Context, exec sqlx.ExtContext) error {
		request, err := s.ledger.LockPendingBorrowRequest(ctx, exec, requestID)
		if err != nil {
			return err
		}
		items, err := s.catalog.LockItems(ctx, exec, itemIDs)
		if err != nil {
			return err
		}
		for _, item := range items {
			if item.Status != models.ItemStatusAvailable {
				return itemUnavailable(item.ID)
			}
		}

		created := make([]models.BorrowBinding, 0, len(items))
		for _, item := range items {
			binding := &models.BorrowBinding{
				BorrowRequestID: request.ID,
				StudentID:       request.StudentID,
			}
			if err := s.catalog.Reserve(ctx, exec, item.ID, binding); err != nil {
				return err
			}
			created = append(created, *binding)
		}
		if _, err := s.ledger.TransitionBorrowRequest(ctx, exec, request.ID, models.BorrowRequestApproved, actor.UserID, note); err != nil {
			return err
		}
		bindings = created
		return nil
	})
	if err != nil {
		outcome := OutcomeFailed
		if errors.Is(err, appErrors.ErrItemUnavailable) || errors.Is(err, appErrors.ErrItemNotFound) || errors.Is(err, appErrors.ErrRequestFinalized) {
			outcome = OutcomeRejected
		}
		s.metrics.RecordAllocation(outcome)
		s.metrics.ObserveTx("approve", outcome, time.Since(start))
		s.logger.Info("borrow approval refused", zap.String("request_id", requestID), zap.Error(err))
		return nil, normaliseError(err, "failed to approve borrow request")
	}

	s.metrics.RecordAllocation(OutcomeCommitted)
	s.metrics.ObserveTx("approve", OutcomeCommitted, time.Since(start))
	s.catalog.InvalidateAvailability(ctx)
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionBorrowApprove, "borrow_requests", requestID, nil,
		map[string]interface{}{"status": models.BorrowRequestApproved, "item_ids": itemIDs})
	s.logger.Info("borrow request approved",
		zap.String("request_id", requestID),
		zap.Strings("item_ids", itemIDs),
		zap.String("reviewer", actor.UserID))
	return bindings, nil
}

// Reject closes a pending request without touching the catalog.
func (s *ApprovalService) Reject(ctx context.Context, actor *models.JWTClaims, requestID string, req dto.RejectBorrowRequest) (*models.BorrowRequest, error) {
	if !actor.IsStaff() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only staff may reject borrow requests")
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reject payload")
	}

	var rejected *models.BorrowRequest
	err := s.tx.WithinTx(ctx, func(ctx context.Context, exec sqlx.ExtContext) error {
		updated, err := s.ledger.TransitionBorrowRequest(ctx, exec, requestID, models.BorrowRequestRejected, actor.UserID, optionalString(req.Note))
		if err != nil {
			return err
		}
		rejected = updated
		return nil
	})
	if err != nil {
		return nil, normaliseError(err, "failed to reject borrow request")
	}

	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionBorrowReject, "borrow_requests", requestID, nil,
		map[string]interface{}{"status": models.BorrowRequestRejected})
	return rejected, nil
}

func (s *ApprovalService) normaliseSelection(req dto.ApproveBorrowRequest) ([]string, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "item_ids must list at least one item")
	}
	seen := make(map[string]struct{}, len(req.ItemIDs))
	ids := make([]string, 0, len(req.ItemIDs))
	for _, raw := range req.ItemIDs {
		id := strings.TrimSpace(raw)
		if id == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "item_ids must not contain blanks")
		}
		if _, dup := seen[id]; dup {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("item %s selected more than once", id))
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}
