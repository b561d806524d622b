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

// StartSessionInput is the input of StartSession.
type StartSessionInput struct {
	WorkOrderID         string      `json:"work_order_id"`
	AssignmentID        string      `json:"assignment_id"`
	Phase               model.Phase `json:"phase"`
	ProcedureTemplateID string      `json:"procedure_template_id,omitempty"`
}

// StartSession opens a work session for the work order's current phase,
// resolving the procedure template to follow. The session, the assignment
// and the work order status are written in one transaction.
func (e *Engine) StartSession(
	ctx context.Context,
	rctx *model.RequestContext,
	in StartSessionInput,
) (ws model.WorkSession, err error) {
	ctx, span := observability.StartSpan(ctx, "workflow.StartSession",
		observability.AttrWorkOrderID.String(in.WorkOrderID),
		observability.AttrPhase.String(string(in.Phase)),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	var details []model.FieldError
	if in.WorkOrderID == "" {
		details = append(details, model.FieldError{Field: "work_order_id", Code: "REQUIRED", Message: "work order is required"})
	}
	if in.AssignmentID == "" {
		details = append(details, model.FieldError{Field: "assignment_id", Code: "REQUIRED", Message: "assignment is required"})
	}
	if !in.Phase.Valid() {
		details = append(details, model.FieldError{Field: "phase", Code: "INVALID", Message: fmt.Sprintf("unknown phase %q", in.Phase)})
	}
	if len(details) > 0 {
		return ws, model.NewValidationError(details)
	}

	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		wo, err := tx.GetWorkOrder(ctx, rctx.TenantID, in.WorkOrderID)
		if err != nil {
			return err
		}
		if wo.Status.Closed() {
			return model.NewWorkOrderClosedError(wo.ID, wo.Status)
		}
		if wo.Status == model.StatusOnHold {
			return model.NewInvalidTransitionError(fmt.Sprintf("work order %q is on hold", wo.ID))
		}
		if wo.CurrentPhase != in.Phase {
			return model.NewInvalidTransitionError(
				fmt.Sprintf("work order is in phase %s, not %s", wo.CurrentPhase, in.Phase),
			)
		}

		assignment, err := tx.GetAssignment(ctx, in.AssignmentID)
		if err != nil {
			return err
		}
		if assignment.WorkOrderID != wo.ID || assignment.Phase != in.Phase {
			return model.NewFieldError("assignment_id", "MISMATCH",
				fmt.Sprintf("assignment %q is not for phase %s of this work order", assignment.ID, in.Phase))
		}
		if assignment.Status == model.AssignmentCompleted {
			return model.NewInvalidTransitionError(fmt.Sprintf("assignment %q is already completed", assignment.ID))
		}
		if !rctx.Is(assignment.TechnicianID) {
			ok, err := e.hasCapability(rctx, model.CapWorkOrdersManage)
			if err != nil {
				return err
			}
			if !ok {
				return model.NewForbiddenError("assignment belongs to another technician")
			}
		}

		equipment, err := tx.GetEquipment(ctx, rctx.TenantID, wo.EquipmentUnitID)
		if err != nil {
			return err
		}
		tmpl, err := e.resolveProcedure(ctx, tx, in.Phase, equipment.Type, in.ProcedureTemplateID)
		if err != nil {
			return err
		}

		now := e.now()
		ws = model.WorkSession{
			ID:                  uuid.New().String(),
			WorkOrderID:         wo.ID,
			AssignmentID:        assignment.ID,
			Phase:               in.Phase,
			ProcedureTemplateID: tmpl.ID,
			Procedure:           tmpl,
			TechnicianID:        assignment.TechnicianID,
			Status:              model.SessionInProgress,
			ProgressPercentage:  0,
			CurrentStepID:       model.NextStep(&tmpl, nil),
			StartedAt:           now,
			UpdatedAt:           now,
			Version:             1,
		}
		if err := tx.CreateSession(ctx, ws); err != nil {
			return err
		}

		assignment.Status = model.AssignmentInProgress
		if assignment.StartedAt == nil {
			assignment.StartedAt = &now
		}
		if err := tx.UpdateAssignment(ctx, assignment); err != nil {
			return err
		}

		if wo.Status != model.StatusInProgress {
			wo.Status = model.StatusInProgress
			if err := tx.UpdateWorkOrder(ctx, wo); err != nil {
				return err
			}
		}
		return e.appendEvent(ctx, tx, wo.ID, model.EventSessionStarted, rctx.SubjectID, in.Phase,
			map[string]any{"session_id": ws.ID, "procedure_template_id": tmpl.ID}, "")
	})
	if err != nil {
		return model.WorkSession{}, err
	}

	e.metrics.RecordSessionStarted(string(ws.Phase))
	observability.WorkOrderLogger(ctx, e.logger, ws.WorkOrderID, ws.Phase).Info("work session started",
		zap.String("session_id", ws.ID),
		zap.String("procedure_template_id", ws.ProcedureTemplateID),
	)
	return ws, nil
}

// resolveProcedure picks the template a session follows. An explicit id must
// name an active template for the phase; otherwise exactly one active
// template must match.
func (e *Engine) resolveProcedure(
	ctx context.Context,
	tx Store,
	phase model.Phase,
	equipmentType, templateID string,
) (model.ProcedureTemplate, error) {
	if templateID != "" {
		tmpl, err := tx.GetTemplate(ctx, templateID)
		if err != nil {
			return model.ProcedureTemplate{}, err
		}
		if !tmpl.Active || tmpl.Phase != phase {
			return model.ProcedureTemplate{}, model.NewFieldError("procedure_template_id", "INVALID",
				fmt.Sprintf("procedure %q is not an active procedure for phase %s", templateID, phase))
		}
		return tmpl, nil
	}

	candidates, err := tx.ListTemplates(ctx, model.ProcedureFilters{
		Phase:         phase,
		EquipmentType: equipmentType,
		ActiveOnly:    true,
	})
	if err != nil {
		return model.ProcedureTemplate{}, err
	}
	switch len(candidates) {
	case 0:
		return model.ProcedureTemplate{}, model.NewNoProcedureError(phase)
	case 1:
		return candidates[0], nil
	default:
		ids := make([]string, len(candidates))
		for i, c := range candidates {
			ids[i] = c.ID
		}
		return model.ProcedureTemplate{}, model.NewAmbiguousProcedureError(phase, ids)
	}
}

// GetSession returns a session of the caller's tenant.
func (e *Engine) GetSession(ctx context.Context, rctx *model.RequestContext, id string) (model.WorkSession, error) {
	ws, _, err := e.loadSession(ctx, e.store, rctx, id)
	return ws, err
}

// PauseSession moves an in-progress session to paused.
func (e *Engine) PauseSession(ctx context.Context, rctx *model.RequestContext, id string) (model.WorkSession, error) {
	return e.setSessionStatus(ctx, rctx, id, model.SessionInProgress, model.SessionPaused, model.EventSessionPaused)
}

// ResumeSession moves a paused session back to in_progress.
func (e *Engine) ResumeSession(ctx context.Context, rctx *model.RequestContext, id string) (model.WorkSession, error) {
	return e.setSessionStatus(ctx, rctx, id, model.SessionPaused, model.SessionInProgress, model.EventSessionResumed)
}

func (e *Engine) setSessionStatus(
	ctx context.Context,
	rctx *model.RequestContext,
	id string,
	from, to model.SessionStatus,
	event string,
) (ws model.WorkSession, err error) {
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		var wo model.WorkOrder
		ws, wo, err = e.loadSession(ctx, tx, rctx, id)
		if err != nil {
			return err
		}
		if ws.Status != from {
			return model.NewInvalidTransitionError(fmt.Sprintf("session %q is %s, not %s", ws.ID, ws.Status, from))
		}
		if to == model.SessionInProgress {
			if wo.Status.Closed() {
				return model.NewWorkOrderClosedError(wo.ID, wo.Status)
			}
			if wo.CurrentPhase != ws.Phase {
				return model.NewInvalidTransitionError(
					fmt.Sprintf("work order has moved on to phase %s", wo.CurrentPhase),
				)
			}
		}
		ws.Status = to
		if err := tx.UpdateSession(ctx, ws); err != nil {
			return err
		}
		ws.Version++
		return e.appendEvent(ctx, tx, wo.ID, event, rctx.SubjectID, ws.Phase,
			map[string]any{"session_id": ws.ID}, "")
	})
	if err != nil {
		return model.WorkSession{}, err
	}
	return ws, nil
}

// CompleteStepInput is the input of CompleteStep.
type CompleteStepInput struct {
	Result       model.StepResult `json:"result"`
	Measurements map[string]any   `json:"measurements,omitempty"`
	Observations string           `json:"observations,omitempty"`
}

// CompleteStep records the outcome of one step and recomputes the session's
// progress. A failed step does not block the steps after it.
func (e *Engine) CompleteStep(
	ctx context.Context,
	rctx *model.RequestContext,
	sessionID, stepID string,
	in CompleteStepInput,
) (progress model.StepProgress, err error) {
	ctx, span := observability.StartSpan(ctx, "workflow.CompleteStep",
		observability.AttrSessionID.String(sessionID),
		observability.AttrStepID.String(stepID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	result := in.Result
	observations := strings.TrimSpace(in.Observations)
	switch result {
	case model.ResultPass, model.ResultFail:
	case model.ResultNA:
		result = model.ResultPass
		observations = model.NotApplicableObservation
	default:
		return progress, model.NewFieldError("result", "INVALID",
			fmt.Sprintf("result must be pass, fail or na, got %q", in.Result))
	}

	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		ws, wo, err := e.loadSession(ctx, tx, rctx, sessionID)
		if err != nil {
			return err
		}
		if wo.Status.Closed() {
			return model.NewWorkOrderClosedError(wo.ID, wo.Status)
		}
		if ws.Status != model.SessionInProgress {
			return model.NewInvalidTransitionError(fmt.Sprintf("session %q is %s", ws.ID, ws.Status))
		}

		tmpl, err := sessionProcedure(ctx, tx, ws)
		if err != nil {
			return err
		}
		step, ok := tmpl.Step(stepID)
		if !ok {
			return model.NewNotFoundError(fmt.Sprintf("step %q is not part of procedure %q", stepID, tmpl.ID))
		}
		if in.Result != model.ResultNA {
			if missing := missingMeasurements(step, in.Measurements); len(missing) > 0 {
				details := make([]model.FieldError, len(missing))
				for i, name := range missing {
					details[i] = model.FieldError{
						Field:   "measurements." + name,
						Code:    "REQUIRED",
						Message: fmt.Sprintf("measurement %q is required for step %d", name, step.StepNumber),
					}
				}
				return model.NewValidationError(details)
			}
		}

		if err := tx.CreateCompletion(ctx, model.StepCompletion{
			ID:           uuid.New().String(),
			SessionID:    ws.ID,
			StepID:       stepID,
			Result:       result,
			Measurements: in.Measurements,
			Observations: observations,
			CompletedBy:  rctx.SubjectID,
			CompletedAt:  e.now(),
		}); err != nil {
			return err
		}

		completions, err := tx.ListCompletions(ctx, ws.ID)
		if err != nil {
			return err
		}
		progress = computeStepProgress(&tmpl, ws, completions)

		ws.ProgressPercentage = progress.ProgressPercentage
		ws.CurrentStepID = progress.CurrentStepID
		if err := tx.UpdateSession(ctx, ws); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, wo.ID, model.EventStepCompleted, rctx.SubjectID, ws.Phase,
			map[string]any{"session_id": ws.ID, "step_id": stepID, "result": string(result)}, "")
	})
	if err != nil {
		return model.StepProgress{}, err
	}

	e.metrics.RecordStepCompleted(string(in.Result))
	return progress, nil
}

// sessionProcedure returns the checklist the session was started with.
// Sessions stored without a snapshot fall back to the catalog row.
func sessionProcedure(ctx context.Context, store Store, ws model.WorkSession) (model.ProcedureTemplate, error) {
	if len(ws.Procedure.Steps) > 0 {
		return ws.Procedure, nil
	}
	return store.GetTemplate(ctx, ws.ProcedureTemplateID)
}

// computeStepProgress derives the session progress from its completions.
// Progress never decreases.
func computeStepProgress(
	tmpl *model.ProcedureTemplate,
	ws model.WorkSession,
	completions []model.StepCompletion,
) model.StepProgress {
	done := make(map[string]bool, len(completions))
	for _, c := range completions {
		if _, ok := tmpl.Step(c.StepID); ok {
			done[c.StepID] = true
		}
	}
	total := len(tmpl.Steps)
	pct := model.ComputeProgress(len(done), total)
	if pct < ws.ProgressPercentage {
		pct = ws.ProgressPercentage
	}
	next := model.NextStep(tmpl, done)
	return model.StepProgress{
		SessionID:          ws.ID,
		ProgressPercentage: pct,
		CurrentStepID:      next,
		CompletedSteps:     len(done),
		TotalSteps:         total,
		AllComplete:        next == nil,
	}
}

// missingMeasurements returns the required measurement names absent from
// values, sorted. Null and blank values count as absent.
func missingMeasurements(step model.ProcedureStep, values map[string]any) []string {
	var missing []string
	for _, name := range step.RequiredMeasurements {
		v, ok := values[name]
		if s, isText := v.(string); isText && strings.TrimSpace(s) == "" {
			ok = false
		}
		if !ok || v == nil {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}
