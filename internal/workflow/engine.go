package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/fieldops/internal/observability"
	"github.com/pitabwire/fieldops/model"
)

// Recorder receives domain metrics from the engine.
type Recorder interface {
	RecordWorkOrderCreated(workType string)
	RecordSessionStarted(phase string)
	RecordStepCompleted(result string)
	RecordReportSubmitted(phase string)
	RecordApprovalDecision(phase, decision string)
	RecordPhaseAdvance(from, to string)
}

type nopRecorder struct{}

func (nopRecorder) RecordWorkOrderCreated(string)         {}
func (nopRecorder) RecordSessionStarted(string)           {}
func (nopRecorder) RecordStepCompleted(string)            {}
func (nopRecorder) RecordReportSubmitted(string)          {}
func (nopRecorder) RecordApprovalDecision(string, string) {}
func (nopRecorder) RecordPhaseAdvance(string, string)     {}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics sets the metrics recorder.
func WithMetrics(r Recorder) Option {
	return func(e *Engine) { e.metrics = r }
}

// WithLogger sets the fallback logger used when the request context carries
// none.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithBlobStore sets where photo binaries are uploaded.
func WithBlobStore(b BlobStore) Option {
	return func(e *Engine) { e.blobs = b }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine runs the work-order phase and approval workflow. Every mutation goes
// through the phase table in model; multi-record writes run in a single store
// transaction.
type Engine struct {
	store       Store
	capResolver model.CapabilityResolver
	blobs       BlobStore
	metrics     Recorder
	logger      *zap.Logger
	now         func() time.Time
}

// NewEngine creates a new work-order engine.
func NewEngine(store Store, capResolver model.CapabilityResolver, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		capResolver: capResolver,
		metrics:     nopRecorder{},
		logger:      zap.NewNop(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the engine's store.
func (e *Engine) Store() Store { return e.store }

// CreateWorkOrderInput is the input of CreateWorkOrder.
type CreateWorkOrderInput struct {
	EquipmentUnitID string         `json:"equipment_unit_id"`
	CustomerID      string         `json:"customer_id,omitempty"`
	WorkType        string         `json:"work_type"`
	Priority        model.Priority `json:"priority,omitempty"`
	Description     string         `json:"description,omitempty"`
}

// CreateWorkOrder opens a new work order in the entry phase for its work type.
func (e *Engine) CreateWorkOrder(
	ctx context.Context,
	rctx *model.RequestContext,
	in CreateWorkOrderInput,
) (wo model.WorkOrder, err error) {
	ctx, span := observability.StartSpan(ctx, "workflow.CreateWorkOrder",
		observability.AttrWorkType.String(in.WorkType),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	var details []model.FieldError
	if in.EquipmentUnitID == "" {
		details = append(details, model.FieldError{Field: "equipment_unit_id", Code: "REQUIRED", Message: "equipment unit is required"})
	}
	if strings.TrimSpace(in.WorkType) == "" {
		details = append(details, model.FieldError{Field: "work_type", Code: "REQUIRED", Message: "work type is required"})
	}
	if in.Priority == "" {
		in.Priority = model.PriorityMedium
	}
	if !in.Priority.Valid() {
		details = append(details, model.FieldError{Field: "priority", Code: "INVALID", Message: fmt.Sprintf("unknown priority %q", in.Priority)})
	}
	if len(details) > 0 {
		return model.WorkOrder{}, model.NewValidationError(details)
	}

	if _, err := e.store.GetEquipment(ctx, rctx.TenantID, in.EquipmentUnitID); err != nil {
		return model.WorkOrder{}, err
	}
	if in.CustomerID != "" {
		if _, err := e.store.GetCustomer(ctx, rctx.TenantID, in.CustomerID); err != nil {
			return model.WorkOrder{}, err
		}
	}

	now := e.now()
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		n, err := tx.NextWorkOrderNumber(ctx)
		if err != nil {
			return err
		}
		wo = model.WorkOrder{
			ID:              uuid.New().String(),
			TenantID:        rctx.TenantID,
			Number:          FormatWorkOrderNumber(n),
			EquipmentUnitID: in.EquipmentUnitID,
			CustomerID:      in.CustomerID,
			WorkType:        in.WorkType,
			Priority:        in.Priority,
			Status:          model.StatusPending,
			CurrentPhase:    model.InitialPhase(in.WorkType),
			Description:     in.Description,
			CreatedBy:       rctx.SubjectID,
			CreatedAt:       now,
			UpdatedAt:       now,
			Version:         1,
		}
		if err := tx.CreateWorkOrder(ctx, wo); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, wo.ID, model.EventCreated, rctx.SubjectID, wo.CurrentPhase,
			map[string]any{"number": wo.Number, "work_type": wo.WorkType}, "")
	})
	if err != nil {
		return model.WorkOrder{}, err
	}

	e.metrics.RecordWorkOrderCreated(wo.WorkType)
	observability.WorkOrderLogger(ctx, e.logger, wo.ID, wo.CurrentPhase).Info("work order created",
		zap.String("number", wo.Number),
	)
	return wo, nil
}

// FormatWorkOrderNumber renders a sequence value as WO-000123.
func FormatWorkOrderNumber(n int64) string {
	return fmt.Sprintf("WO-%06d", n)
}

// GetWorkOrder returns a work order of the caller's tenant.
func (e *Engine) GetWorkOrder(ctx context.Context, rctx *model.RequestContext, id string) (model.WorkOrder, error) {
	return e.store.GetWorkOrder(ctx, rctx.TenantID, id)
}

// ListWorkOrders returns the caller's tenant's work orders.
func (e *Engine) ListWorkOrders(
	ctx context.Context,
	rctx *model.RequestContext,
	filters model.WorkOrderFilters,
) ([]model.WorkOrder, error) {
	if filters.Phase != "" && !filters.Phase.Valid() {
		return nil, model.NewFieldError("phase", "INVALID", fmt.Sprintf("unknown phase %q", filters.Phase))
	}
	if filters.Status != "" && !filters.Status.Valid() {
		return nil, model.NewFieldError("status", "INVALID", fmt.Sprintf("unknown status %q", filters.Status))
	}
	if filters.PageSize <= 0 {
		filters.PageSize = 20
	}
	if filters.PageSize > 100 {
		filters.PageSize = 100
	}
	return e.store.ListWorkOrders(ctx, rctx.TenantID, filters)
}

// AssignTechnician assigns a technician to a phase of a work order. A work
// order still in pending_assignment advances to initial_testing and the
// assignment targets that phase.
func (e *Engine) AssignTechnician(
	ctx context.Context,
	rctx *model.RequestContext,
	workOrderID, technicianID string,
	phase model.Phase,
) (assignment model.WorkOrderAssignment, err error) {
	ctx, span := observability.StartSpan(ctx, "workflow.AssignTechnician",
		observability.AttrWorkOrderID.String(workOrderID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	if technicianID == "" {
		return assignment, model.NewFieldError("technician_id", "REQUIRED", "technician is required")
	}
	if phase != "" && (!phase.Valid() || phase.Terminal()) {
		return assignment, model.NewFieldError("phase", "INVALID", fmt.Sprintf("cannot assign phase %q", phase))
	}

	var advanced *phaseAdvance
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		advanced = nil
		wo, err := tx.GetWorkOrder(ctx, rctx.TenantID, workOrderID)
		if err != nil {
			return err
		}
		if wo.Status.Closed() {
			return model.NewWorkOrderClosedError(wo.ID, wo.Status)
		}

		if wo.CurrentPhase == model.PhasePendingAssignment {
			status := wo.Status
			if advanced, err = e.advance(ctx, tx, rctx, &wo, model.PhaseInitialTesting); err != nil {
				return err
			}
			wo.Status = status
			if phase == "" || phase == model.PhasePendingAssignment {
				phase = model.PhaseInitialTesting
			}
		}
		if phase == "" {
			phase = wo.CurrentPhase
		}

		wo.AssignedTechnicianID = technicianID
		if err := tx.UpdateWorkOrder(ctx, wo); err != nil {
			return err
		}

		assignment = model.WorkOrderAssignment{
			ID:           uuid.New().String(),
			WorkOrderID:  wo.ID,
			TechnicianID: technicianID,
			Phase:        phase,
			Status:       model.AssignmentAssigned,
			AssignedBy:   rctx.SubjectID,
			AssignedAt:   e.now(),
		}
		if err := tx.CreateAssignment(ctx, assignment); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, wo.ID, model.EventAssigned, rctx.SubjectID, phase,
			map[string]any{"technician_id": technicianID, "assignment_id": assignment.ID}, "")
	})
	if err != nil {
		return model.WorkOrderAssignment{}, err
	}
	e.recordAdvance(advanced)
	return assignment, nil
}

// UpdateStatus changes a work order's administrative status. completed is
// only reachable through phase advancement and cancelled only through
// CancelWorkOrder.
func (e *Engine) UpdateStatus(
	ctx context.Context,
	rctx *model.RequestContext,
	workOrderID string,
	status model.WorkOrderStatus,
	reason string,
) (model.WorkOrder, error) {
	if !status.Valid() {
		return model.WorkOrder{}, model.NewFieldError("status", "INVALID", fmt.Sprintf("unknown status %q", status))
	}

	var wo model.WorkOrder
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		var err error
		wo, err = tx.GetWorkOrder(ctx, rctx.TenantID, workOrderID)
		if err != nil {
			return err
		}
		if !model.CanSetStatus(wo.Status, status) {
			return model.NewInvalidTransitionError(
				fmt.Sprintf("cannot change status from %s to %s", wo.Status, status),
			)
		}
		from := wo.Status
		wo.Status = status
		if err := tx.UpdateWorkOrder(ctx, wo); err != nil {
			return err
		}
		wo.Version++
		return e.appendEvent(ctx, tx, wo.ID, model.EventStatusChanged, rctx.SubjectID, wo.CurrentPhase,
			map[string]any{"from": string(from), "to": string(status)}, reason)
	})
	if err != nil {
		return model.WorkOrder{}, err
	}
	return wo, nil
}

// CancelWorkOrder cancels a work order: status and phase become cancelled,
// open sessions are paused and pending approvals cancelled.
func (e *Engine) CancelWorkOrder(
	ctx context.Context,
	rctx *model.RequestContext,
	workOrderID, reason string,
) (wo model.WorkOrder, err error) {
	ctx, span := observability.StartSpan(ctx, "workflow.CancelWorkOrder",
		observability.AttrWorkOrderID.String(workOrderID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		var err error
		wo, err = tx.GetWorkOrder(ctx, rctx.TenantID, workOrderID)
		if err != nil {
			return err
		}
		if wo.Status == model.StatusCancelled || wo.Status == model.StatusInvoiced {
			return model.NewWorkOrderClosedError(wo.ID, wo.Status)
		}
		if !model.CanTransition(wo.CurrentPhase, model.PhaseCancelled) {
			return model.NewInvalidTransitionError(
				fmt.Sprintf("cannot cancel a work order in phase %s", wo.CurrentPhase),
			)
		}

		sessions, err := tx.ListSessions(ctx, wo.ID)
		if err != nil {
			return err
		}
		for _, ws := range sessions {
			if ws.Status != model.SessionInProgress {
				continue
			}
			ws.Status = model.SessionPaused
			if err := tx.UpdateSession(ctx, ws); err != nil {
				return err
			}
		}
		cancelled, err := tx.CancelPendingApprovals(ctx, wo.ID)
		if err != nil {
			return err
		}

		from := wo.CurrentPhase
		wo.CurrentPhase = model.PhaseCancelled
		wo.Status = model.StatusCancelled
		if err := tx.UpdateWorkOrder(ctx, wo); err != nil {
			return err
		}
		wo.Version++
		return e.appendEvent(ctx, tx, wo.ID, model.EventCancelled, rctx.SubjectID, from,
			map[string]any{"approvals_cancelled": cancelled}, reason)
	})
	if err != nil {
		return model.WorkOrder{}, err
	}

	observability.WorkOrderLogger(ctx, e.logger, wo.ID, wo.CurrentPhase).Info("work order cancelled",
		zap.String("reason", reason),
	)
	return wo, nil
}

// History returns the audit trail of a work order.
func (e *Engine) History(ctx context.Context, rctx *model.RequestContext, workOrderID string) ([]model.WorkOrderEvent, error) {
	if _, err := e.store.GetWorkOrder(ctx, rctx.TenantID, workOrderID); err != nil {
		return nil, err
	}
	return e.store.ListEvents(ctx, workOrderID)
}

// phaseAdvance is a transition made inside a transaction. It is counted
// only once the transaction commits.
type phaseAdvance struct {
	from, to model.Phase
}

func (e *Engine) recordAdvance(a *phaseAdvance) {
	if a != nil {
		e.metrics.RecordPhaseAdvance(string(a.from), string(a.to))
	}
}

// advance moves wo to next through the phase table and records the event.
// The caller persists wo and passes the result to recordAdvance after
// commit.
func (e *Engine) advance(
	ctx context.Context,
	tx Store,
	rctx *model.RequestContext,
	wo *model.WorkOrder,
	next model.Phase,
) (*phaseAdvance, error) {
	from := wo.CurrentPhase
	if !model.CanTransition(from, next) || next == model.PhaseCancelled {
		return nil, model.NewInvalidTransitionError(
			fmt.Sprintf("cannot move work order from %s to %s", from, next),
		)
	}
	wo.CurrentPhase = next
	if next == model.PhaseCompleted {
		wo.Status = model.StatusCompleted
		now := e.now()
		wo.CompletedAt = &now
	} else {
		wo.Status = model.StatusInProgress
	}
	err := e.appendEvent(ctx, tx, wo.ID, model.EventPhaseAdvanced, rctx.SubjectID, next,
		map[string]any{"from": string(from), "to": string(next)}, "")
	if err != nil {
		return nil, err
	}
	return &phaseAdvance{from: from, to: next}, nil
}

// loadSession returns a session and its work order, enforcing tenant scoping.
func (e *Engine) loadSession(
	ctx context.Context,
	tx Store,
	rctx *model.RequestContext,
	sessionID string,
) (model.WorkSession, model.WorkOrder, error) {
	ws, err := tx.GetSession(ctx, sessionID)
	if err != nil {
		return model.WorkSession{}, model.WorkOrder{}, err
	}
	wo, err := tx.GetWorkOrder(ctx, rctx.TenantID, ws.WorkOrderID)
	if err != nil {
		if model.ErrorCode(err) == model.ErrNotFound {
			return model.WorkSession{}, model.WorkOrder{}, model.NewNotFoundError(
				fmt.Sprintf("session %q not found", sessionID),
			)
		}
		return model.WorkSession{}, model.WorkOrder{}, err
	}
	return ws, wo, nil
}

// hasCapability reports whether the caller holds cap.
func (e *Engine) hasCapability(rctx *model.RequestContext, cap string) (bool, error) {
	if e.capResolver == nil {
		return false, nil
	}
	caps, err := e.capResolver.Resolve(rctx)
	if err != nil {
		return false, fmt.Errorf("resolve capabilities: %w", err)
	}
	return caps.Has(cap), nil
}

func (e *Engine) requireCapability(rctx *model.RequestContext, cap, action string) error {
	ok, err := e.hasCapability(rctx, cap)
	if err != nil {
		return err
	}
	if !ok {
		return model.NewForbiddenError(fmt.Sprintf("insufficient capabilities to %s", action))
	}
	return nil
}

func (e *Engine) appendEvent(
	ctx context.Context,
	tx Store,
	workOrderID, event, actorID string,
	phase model.Phase,
	data map[string]any,
	comment string,
) error {
	return tx.AppendEvent(ctx, model.WorkOrderEvent{
		ID:          uuid.New().String(),
		WorkOrderID: workOrderID,
		Event:       event,
		ActorID:     actorID,
		Phase:       phase,
		Data:        data,
		Comment:     comment,
		Timestamp:   e.now(),
	})
}
