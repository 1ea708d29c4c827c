package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/culturearts-api/internal/dto"
	"github.com/noah-isme/culturearts-api/internal/models"
	appErrors "github.com/noah-isme/culturearts-api/pkg/errors"
)

// ReturnService confirms returns: it releases the item, applies the
// condition outcome and completes the return request in one unit of work.
type ReturnService struct {
	tx      txRunner
	ledger  *LedgerService
	catalog *CatalogService
	policy  ConditionPolicy
	audit   auditLogger
	metrics *MetricsService
	logger  *zap.Logger
}

// NewReturnService constructs the return processor. A nil policy keeps
// conditions unchanged.
func NewReturnService(tx txRunner, ledger *LedgerService, catalog *CatalogService, policy ConditionPolicy, audit auditLogger, metrics *MetricsService, logger *zap.Logger) *ReturnService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == nil {
		policy = KeepConditionPolicy{}
	}
	return &ReturnService{
		tx:      tx,
		ledger:  ledger,
		catalog: catalog,
		policy:  policy,
		audit:   audit,
		metrics: metrics,
		logger:  logger,
	}
}

// ConfirmReturn completes a pending return. A staff-supplied condition
// overrides the configured policy.
func (s *ReturnService) ConfirmReturn(ctx context.Context, actor *models.JWTClaims, returnID string, req dto.ConfirmReturnRequest) (*models.ReturnRequest, error) {
	if !actor.IsStaff() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only staff may confirm returns")
	}
	var assessed *models.ItemCondition
	if req.Condition != "" {
		condition, ok := models.ParseItemCondition(req.Condition)
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrInvalidCondition, fmt.Sprintf("unknown condition %q", req.Condition))
		}
		assessed = &condition
	}

	var completed *models.ReturnRequest
	var previous models.ItemCondition
	start := time.Now()
	err := s.tx.WithinTx(ctx, func(ctx context.Context, exec sqlx.ExtContext) error {
		ret, err := s.ledger.LockPendingReturnRequest(ctx, exec, returnID)
		if err != nil {
			return err
		}
		if err := s.catalog.Release(ctx, exec, ret.ItemID, ret.BindingID); err != nil {
			return err
		}
		item, err := s.catalog.LockItem(ctx, exec, ret.ItemID)
		if err != nil {
			return err
		}
		previous = item.Condition

		next := s.policy.Assess(item.Condition, ret.ConditionNotes)
		if assessed != nil {
			next = *assessed
		}
		if next != item.Condition {
			if err := s.catalog.SetCondition(ctx, exec, item.ID, next); err != nil {
				return err
			}
		}

		updated, err := s.ledger.TransitionReturnRequest(ctx, exec, ret.ID, models.ReturnRequestCompleted, actor.UserID, next)
		if err != nil {
			return err
		}
		completed = updated
		return nil
	})
	if err != nil {
		outcome := OutcomeFailed
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			outcome = OutcomeRejected
		}
		s.metrics.RecordReturn(outcome)
		s.metrics.ObserveTx("confirm_return", outcome, time.Since(start))
		return nil, normaliseError(err, "failed to confirm return")
	}

	s.metrics.RecordReturn(OutcomeCommitted)
	s.metrics.ObserveTx("confirm_return", OutcomeCommitted, time.Since(start))
	s.catalog.InvalidateAvailability(ctx)

	condition := *completed.ReturnedCondition
	recordAudit(ctx, s.audit, s.logger, actor, models.AuditActionReturnConfirm, "return_requests", returnID,
		map[string]string{"condition": string(previous)},
		map[string]string{"condition": string(condition), "item_id": completed.ItemID})
	s.logger.Info("return confirmed",
		zap.String("return_id", returnID),
		zap.String("item_id", completed.ItemID),
		zap.String("condition", string(condition)))
	return completed, nil
}
