package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/fieldops/internal/observability"
	"github.com/pitabwire/fieldops/model"
)

// CompileReport builds the report payload and default summary for a session.
// Steps are ordered by step number; completions for steps that are not part
// of the template are ignored.
func CompileReport(
	tmpl *model.ProcedureTemplate,
	completions []model.StepCompletion,
	photos []model.Photo,
) (model.ReportPayload, string) {
	byStep := make(map[string]model.StepCompletion, len(completions))
	for _, c := range completions {
		byStep[c.StepID] = c
	}

	payload := model.ReportPayload{
		ProcedureTemplateID: tmpl.ID,
		ProcedureName:       tmpl.Name,
		TotalSteps:          len(tmpl.Steps),
		Steps:               []model.ReportStep{},
		Photos:              []model.PhotoRef{},
	}
	for _, step := range tmpl.OrderedSteps() {
		c, ok := byStep[step.ID]
		if !ok {
			continue
		}
		payload.CompletedSteps++
		if c.Result == model.ResultFail {
			payload.FailedSteps++
		}
		payload.Steps = append(payload.Steps, model.ReportStep{
			StepID:       step.ID,
			StepNumber:   step.StepNumber,
			Title:        step.Title,
			Result:       c.Result,
			Measurements: c.Measurements,
			Observations: c.Observations,
			CompletedAt:  c.CompletedAt,
			CompletedBy:  c.CompletedBy,
		})
	}

	sorted := append([]model.Photo(nil), photos...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CapturedAt.Before(sorted[j].CapturedAt)
	})
	for _, p := range sorted {
		payload.Photos = append(payload.Photos, model.PhotoRef{
			ID:          p.ID,
			StoragePath: p.StoragePath,
			Caption:     p.Caption,
			StepID:      p.StepID,
			CapturedAt:  p.CapturedAt,
		})
	}

	summary := fmt.Sprintf("Completed %d of %d steps in %s", payload.CompletedSteps, payload.TotalSteps, tmpl.Name)
	if payload.FailedSteps > 0 {
		summary += fmt.Sprintf("; %d step(s) failed", payload.FailedSteps)
	}
	return payload, summary
}

// SubmitReportInput is the input of SubmitReport. Approval fields are used
// only when the session's phase requires approval to leave.
type SubmitReportInput struct {
	TechnicianNotes string               `json:"technician_notes,omitempty"`
	FindingsSummary string               `json:"findings_summary,omitempty"`
	RequiredParts   []model.RequiredPart `json:"required_parts,omitempty"`
	EstimatedCost   *float64             `json:"estimated_cost,omitempty"`
	EstimatedHours  *float64             `json:"estimated_hours,omitempty"`
}

// SubmitResult is returned by SubmitReport.
type SubmitResult struct {
	Report    model.PhaseReport        `json:"report"`
	Approval  *model.WorkOrderApproval `json:"approval,omitempty"`
	WorkOrder model.WorkOrder          `json:"work_order"`
}

// SubmitReport compiles and submits the report of a session whose steps are
// all complete. Within the same transaction the session and assignment are
// completed and the work order either advances or waits on a new approval.
func (e *Engine) SubmitReport(
	ctx context.Context,
	rctx *model.RequestContext,
	sessionID string,
	in SubmitReportInput,
) (res SubmitResult, err error) {
	ctx, span := observability.StartSpan(ctx, "workflow.SubmitReport",
		observability.AttrSessionID.String(sessionID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	if err := validateParts(in.RequiredParts); err != nil {
		return res, err
	}

	var advanced *phaseAdvance
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		advanced = nil
		ws, wo, err := e.loadSession(ctx, tx, rctx, sessionID)
		if err != nil {
			return err
		}
		if wo.Status.Closed() {
			return model.NewWorkOrderClosedError(wo.ID, wo.Status)
		}
		if ws.Status == model.SessionCompleted {
			return model.NewConflictError(fmt.Sprintf("session %q already has a report", ws.ID))
		}
		if wo.CurrentPhase != ws.Phase {
			return model.NewInvalidTransitionError(
				fmt.Sprintf("work order has moved on to phase %s", wo.CurrentPhase),
			)
		}

		tmpl, err := sessionProcedure(ctx, tx, ws)
		if err != nil {
			return err
		}
		completions, err := tx.ListCompletions(ctx, ws.ID)
		if err != nil {
			return err
		}
		progress := computeStepProgress(&tmpl, ws, completions)
		if !progress.AllComplete {
			return model.NewInvalidTransitionError(
				fmt.Sprintf("%d of %d steps completed; all steps must be completed before submitting",
					progress.CompletedSteps, progress.TotalSteps),
			)
		}
		photos, err := tx.ListPhotos(ctx, ws.ID)
		if err != nil {
			return err
		}

		payload, summary := CompileReport(&tmpl, completions, photos)
		now := e.now()
		report := model.PhaseReport{
			ID:              uuid.New().String(),
			WorkOrderID:     wo.ID,
			SessionID:       ws.ID,
			Phase:           ws.Phase,
			Status:          model.ReportSubmitted,
			Summary:         summary,
			TechnicianNotes: strings.TrimSpace(in.TechnicianNotes),
			Data:            payload,
			SubmittedBy:     rctx.SubjectID,
			SubmittedAt:     now,
			UpdatedAt:       now,
		}
		if err := tx.CreateReport(ctx, report); err != nil {
			return err
		}

		ws.Status = model.SessionCompleted
		ws.ProgressPercentage = 100
		ws.CurrentStepID = nil
		ws.CompletedAt = &now
		if err := tx.UpdateSession(ctx, ws); err != nil {
			return err
		}

		assignment, err := tx.GetAssignment(ctx, ws.AssignmentID)
		if err != nil {
			return err
		}
		assignment.Status = model.AssignmentCompleted
		assignment.CompletedAt = &now
		if err := tx.UpdateAssignment(ctx, assignment); err != nil {
			return err
		}

		if err := e.appendEvent(ctx, tx, wo.ID, model.EventReportSubmitted, rctx.SubjectID, ws.Phase,
			map[string]any{"report_id": report.ID, "session_id": ws.ID, "failed_steps": payload.FailedSteps},
			""); err != nil {
			return err
		}

		next, ok := model.NextPhase(ws.Phase)
		if !ok {
			return model.NewInvalidTransitionError(fmt.Sprintf("phase %s has no successor", ws.Phase))
		}

		if model.RequiresApproval(ws.Phase) {
			findings := strings.TrimSpace(in.FindingsSummary)
			if findings == "" {
				findings = summary
			}
			approval, err := e.createApproval(ctx, tx, rctx, wo, model.ApprovalRequest{
				WorkOrderID:     wo.ID,
				ReportID:        report.ID,
				PhaseCompleted:  ws.Phase,
				NextPhase:       next,
				FindingsSummary: findings,
				RequiredParts:   in.RequiredParts,
				EstimatedCost:   in.EstimatedCost,
				EstimatedHours:  in.EstimatedHours,
			})
			if err != nil {
				return err
			}
			res.Approval = &approval
		} else {
			if advanced, err = e.advance(ctx, tx, rctx, &wo, next); err != nil {
				return err
			}
			if err := tx.UpdateWorkOrder(ctx, wo); err != nil {
				return err
			}
			wo.Version++
		}

		res.Report = report
		res.WorkOrder = wo
		return nil
	})
	if err != nil {
		return SubmitResult{}, err
	}

	e.metrics.RecordReportSubmitted(string(res.Report.Phase))
	e.recordAdvance(advanced)
	observability.WorkOrderLogger(ctx, e.logger, res.Report.WorkOrderID, res.Report.Phase).Info("phase report submitted",
		zap.String("report_id", res.Report.ID),
		zap.Bool("awaiting_approval", res.Approval != nil),
	)
	return res, nil
}

// GetReport returns a report of the caller's tenant.
func (e *Engine) GetReport(ctx context.Context, rctx *model.RequestContext, id string) (model.PhaseReport, error) {
	r, err := e.store.GetReport(ctx, id)
	if err != nil {
		return model.PhaseReport{}, err
	}
	if _, err := e.store.GetWorkOrder(ctx, rctx.TenantID, r.WorkOrderID); err != nil {
		return model.PhaseReport{}, model.NewNotFoundError(fmt.Sprintf("report %q not found", id))
	}
	return r, nil
}

// ListReports returns a work order's reports.
func (e *Engine) ListReports(ctx context.Context, rctx *model.RequestContext, workOrderID string) ([]model.PhaseReport, error) {
	if _, err := e.store.GetWorkOrder(ctx, rctx.TenantID, workOrderID); err != nil {
		return nil, err
	}
	return e.store.ListReports(ctx, workOrderID)
}

// MarkReportSent records that the rendered PDF of a report was delivered.
func (e *Engine) MarkReportSent(
	ctx context.Context,
	rctx *model.RequestContext,
	reportID, pdfPath string,
) (model.PhaseReport, error) {
	if strings.TrimSpace(pdfPath) == "" {
		return model.PhaseReport{}, model.NewFieldError("pdf_path", "REQUIRED", "pdf path is required")
	}

	var r model.PhaseReport
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		var err error
		r, err = tx.GetReport(ctx, reportID)
		if err != nil {
			return err
		}
		if _, err := tx.GetWorkOrder(ctx, rctx.TenantID, r.WorkOrderID); err != nil {
			return model.NewNotFoundError(fmt.Sprintf("report %q not found", reportID))
		}
		if r.Status == model.ReportDraft || r.Status == model.ReportRejected {
			return model.NewInvalidTransitionError(fmt.Sprintf("report %q is %s and cannot be sent", r.ID, r.Status))
		}
		now := e.now()
		r.Status = model.ReportSent
		r.PDFPath = pdfPath
		r.SentAt = &now
		if err := tx.UpdateReport(ctx, r); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, r.WorkOrderID, model.EventReportSent, rctx.SubjectID, r.Phase,
			map[string]any{"report_id": r.ID, "pdf_path": pdfPath}, "")
	})
	if err != nil {
		return model.PhaseReport{}, err
	}
	return r, nil
}
