package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/fieldops/internal/observability"
	"github.com/pitabwire/fieldops/model"
)

// RequestApproval opens an approval for leaving the work order's current
// phase. It is also how a rejected phase is resubmitted.
func (e *Engine) RequestApproval(
	ctx context.Context,
	rctx *model.RequestContext,
	req model.ApprovalRequest,
) (approval model.WorkOrderApproval, err error) {
	ctx, span := observability.StartSpan(ctx, "workflow.RequestApproval",
		observability.AttrWorkOrderID.String(req.WorkOrderID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	if err := validateParts(req.RequiredParts); err != nil {
		return approval, err
	}
	if req.NextPhase == "" {
		if next, ok := model.NextPhase(req.PhaseCompleted); ok {
			req.NextPhase = next
		}
	}

	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		wo, err := tx.GetWorkOrder(ctx, rctx.TenantID, req.WorkOrderID)
		if err != nil {
			return err
		}
		if wo.Status.Closed() {
			return model.NewWorkOrderClosedError(wo.ID, wo.Status)
		}
		if req.ReportID != "" {
			r, err := tx.GetReport(ctx, req.ReportID)
			if err != nil {
				return err
			}
			if r.WorkOrderID != wo.ID || r.Phase != req.PhaseCompleted {
				return model.NewFieldError("report_id", "MISMATCH",
					fmt.Sprintf("report %q is not for phase %s of this work order", r.ID, req.PhaseCompleted))
			}
		}
		approval, err = e.createApproval(ctx, tx, rctx, wo, req)
		return err
	})
	if err != nil {
		return model.WorkOrderApproval{}, err
	}
	return approval, nil
}

// createApproval validates the requested transition and persists a pending
// approval. A linked rejected report returns to submitted.
func (e *Engine) createApproval(
	ctx context.Context,
	tx Store,
	rctx *model.RequestContext,
	wo model.WorkOrder,
	req model.ApprovalRequest,
) (model.WorkOrderApproval, error) {
	if req.PhaseCompleted != wo.CurrentPhase {
		return model.WorkOrderApproval{}, model.NewInvalidTransitionError(
			fmt.Sprintf("work order is in phase %s, not %s", wo.CurrentPhase, req.PhaseCompleted),
		)
	}
	if req.NextPhase == model.PhaseCancelled || !model.CanTransition(req.PhaseCompleted, req.NextPhase) {
		return model.WorkOrderApproval{}, model.NewInvalidTransitionError(
			fmt.Sprintf("cannot move work order from %s to %s", req.PhaseCompleted, req.NextPhase),
		)
	}

	a := model.WorkOrderApproval{
		ID:              uuid.New().String(),
		WorkOrderID:     wo.ID,
		ReportID:        req.ReportID,
		PhaseCompleted:  req.PhaseCompleted,
		NextPhase:       req.NextPhase,
		Status:          model.ApprovalPending,
		FindingsSummary: strings.TrimSpace(req.FindingsSummary),
		RequiredParts:   req.RequiredParts,
		EstimatedCost:   req.EstimatedCost,
		EstimatedHours:  req.EstimatedHours,
		RequestedBy:     rctx.SubjectID,
		RequestedAt:     e.now(),
	}
	if err := tx.CreateApproval(ctx, a); err != nil {
		return model.WorkOrderApproval{}, err
	}

	if a.ReportID != "" {
		r, err := tx.GetReport(ctx, a.ReportID)
		if err != nil {
			return model.WorkOrderApproval{}, err
		}
		if r.Status == model.ReportRejected {
			r.Status = model.ReportSubmitted
			if err := tx.UpdateReport(ctx, r); err != nil {
				return model.WorkOrderApproval{}, err
			}
		}
	}

	err := e.appendEvent(ctx, tx, wo.ID, model.EventApprovalRequested, rctx.SubjectID, a.PhaseCompleted,
		map[string]any{"approval_id": a.ID, "next_phase": string(a.NextPhase)}, "")
	if err != nil {
		return model.WorkOrderApproval{}, err
	}
	return a, nil
}

// DecisionInput is the input of Decide.
type DecisionInput struct {
	Decision string `json:"decision"`
	Notes    string `json:"notes,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// DecisionResult is returned by Decide.
type DecisionResult struct {
	Approval  model.WorkOrderApproval `json:"approval"`
	WorkOrder model.WorkOrder         `json:"work_order"`
}

// Decide approves or rejects a pending approval. Approval advances the work
// order to the approval's next phase; rejection leaves the phase unchanged.
// Only one decision can ever succeed for an approval.
func (e *Engine) Decide(
	ctx context.Context,
	rctx *model.RequestContext,
	approvalID string,
	in DecisionInput,
) (res DecisionResult, err error) {
	ctx, span := observability.StartSpan(ctx, "workflow.Decide",
		observability.AttrApprovalID.String(approvalID),
		observability.AttrDecision.String(in.Decision),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	if err := e.requireCapability(rctx, model.CapApprovalsDecide, "decide approvals"); err != nil {
		return res, err
	}
	switch in.Decision {
	case model.DecisionApproved:
	case model.DecisionRejected:
		if strings.TrimSpace(in.Reason) == "" {
			return res, model.NewFieldError("reason", "REQUIRED", "a reason is required to reject")
		}
	default:
		return res, model.NewFieldError("decision", "INVALID",
			fmt.Sprintf("decision must be approved or rejected, got %q", in.Decision))
	}

	var advanced *phaseAdvance
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		advanced = nil
		a, err := tx.GetApproval(ctx, approvalID)
		if err != nil {
			return err
		}
		wo, err := tx.GetWorkOrder(ctx, rctx.TenantID, a.WorkOrderID)
		if err != nil {
			if model.ErrorCode(err) == model.ErrNotFound {
				return model.NewNotFoundError(fmt.Sprintf("approval %q not found", approvalID))
			}
			return err
		}
		if a.Status != model.ApprovalPending {
			return model.NewApprovalNotPendingError(a.ID, a.Status)
		}

		now := e.now()
		a.ApprovedBy = rctx.SubjectID
		a.ApprovedAt = &now
		a.Notes = strings.TrimSpace(in.Notes)
		reportStatus := model.ReportApproved
		if in.Decision == model.DecisionApproved {
			a.Status = model.ApprovalApproved
		} else {
			a.Status = model.ApprovalRejected
			a.RejectionReason = strings.TrimSpace(in.Reason)
			reportStatus = model.ReportRejected
		}
		if err := tx.ResolveApproval(ctx, a); err != nil {
			return err
		}

		if a.ReportID != "" {
			r, err := tx.GetReport(ctx, a.ReportID)
			if err != nil {
				return err
			}
			r.Status = reportStatus
			if err := tx.UpdateReport(ctx, r); err != nil {
				return err
			}
		}

		if err := e.appendEvent(ctx, tx, wo.ID, model.EventApprovalDecided, rctx.SubjectID, a.PhaseCompleted,
			map[string]any{"approval_id": a.ID, "decision": in.Decision}, a.RejectionReason); err != nil {
			return err
		}

		if a.Status == model.ApprovalApproved {
			if wo.CurrentPhase != a.PhaseCompleted {
				return model.NewInvalidTransitionError(
					fmt.Sprintf("work order has moved on to phase %s", wo.CurrentPhase),
				)
			}
			if advanced, err = e.advance(ctx, tx, rctx, &wo, a.NextPhase); err != nil {
				return err
			}
			if err := tx.UpdateWorkOrder(ctx, wo); err != nil {
				return err
			}
			wo.Version++
		}

		res.Approval = a
		res.WorkOrder = wo
		return nil
	})
	if err != nil {
		return DecisionResult{}, err
	}

	e.metrics.RecordApprovalDecision(string(res.Approval.PhaseCompleted), in.Decision)
	e.recordAdvance(advanced)
	observability.WorkOrderLogger(ctx, e.logger, res.WorkOrder.ID, res.WorkOrder.CurrentPhase).Info("approval decided",
		zap.String("approval_id", res.Approval.ID),
		zap.String("decision", in.Decision),
	)
	return res, nil
}

// GetApproval returns an approval of the caller's tenant.
func (e *Engine) GetApproval(ctx context.Context, rctx *model.RequestContext, id string) (model.WorkOrderApproval, error) {
	a, err := e.store.GetApproval(ctx, id)
	if err != nil {
		return model.WorkOrderApproval{}, err
	}
	if _, err := e.store.GetWorkOrder(ctx, rctx.TenantID, a.WorkOrderID); err != nil {
		return model.WorkOrderApproval{}, model.NewNotFoundError(fmt.Sprintf("approval %q not found", id))
	}
	return a, nil
}

// ListApprovals returns the caller's tenant's approvals.
func (e *Engine) ListApprovals(
	ctx context.Context,
	rctx *model.RequestContext,
	filters model.ApprovalFilters,
) ([]model.WorkOrderApproval, error) {
	return e.store.ListApprovals(ctx, rctx.TenantID, filters)
}

// CancelApproval withdraws a pending approval. Only the requester or a
// caller who may decide approvals can withdraw it.
func (e *Engine) CancelApproval(ctx context.Context, rctx *model.RequestContext, id string) (model.WorkOrderApproval, error) {
	var a model.WorkOrderApproval
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		var err error
		a, err = tx.GetApproval(ctx, id)
		if err != nil {
			return err
		}
		if _, err := tx.GetWorkOrder(ctx, rctx.TenantID, a.WorkOrderID); err != nil {
			return model.NewNotFoundError(fmt.Sprintf("approval %q not found", id))
		}
		if a.Status != model.ApprovalPending {
			return model.NewApprovalNotPendingError(a.ID, a.Status)
		}
		if !rctx.Is(a.RequestedBy) {
			if err := e.requireCapability(rctx, model.CapApprovalsDecide, "withdraw another user's approval"); err != nil {
				return err
			}
		}
		a.Status = model.ApprovalCancelled
		if err := tx.ResolveApproval(ctx, a); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, a.WorkOrderID, model.EventApprovalCancelled, rctx.SubjectID, a.PhaseCompleted,
			map[string]any{"approval_id": a.ID}, "")
	})
	if err != nil {
		return model.WorkOrderApproval{}, err
	}
	return a, nil
}

func validateParts(parts []model.RequiredPart) error {
	var details []model.FieldError
	for i, p := range parts {
		if strings.TrimSpace(p.PartNumber) == "" {
			details = append(details, model.FieldError{
				Field: fmt.Sprintf("required_parts[%d].part_number", i), Code: "REQUIRED", Message: "part number is required",
			})
		}
		if p.Quantity <= 0 {
			details = append(details, model.FieldError{
				Field: fmt.Sprintf("required_parts[%d].quantity", i), Code: "INVALID", Message: "quantity must be positive",
			})
		}
		if p.UnitCost < 0 {
			details = append(details, model.FieldError{
				Field: fmt.Sprintf("required_parts[%d].unit_cost", i), Code: "INVALID", Message: "unit cost cannot be negative",
			})
		}
	}
	if len(details) > 0 {
		return model.NewValidationError(details)
	}
	return nil
}
