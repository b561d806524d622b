package workflow

import (
	"context"

	"github.com/pitabwire/fieldops/model"
)

// Store persists work orders and everything hanging off them. Write paths that
// touch more than one record run inside RunInTx.
type Store interface {
	WorkOrderStore
	SessionStore
	ProcedureStore
	ReportStore
	ApprovalStore
	RecordStore
	EquipmentStore

	// RunInTx executes fn inside a single transaction. The Store passed to fn
	// must be used for every read and write that belongs to the transaction.
	// Any error returned by fn rolls the transaction back.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	// Ping reports whether the backing database is reachable.
	Ping(ctx context.Context) error
}

// WorkOrderStore persists work orders, assignments and the audit trail.
type WorkOrderStore interface {
	// NextWorkOrderNumber allocates the next human-readable sequence value.
	NextWorkOrderNumber(ctx context.Context) (int64, error)

	CreateWorkOrder(ctx context.Context, wo model.WorkOrder) error

	// GetWorkOrder returns NOT_FOUND if the work order doesn't exist or
	// belongs to a different tenant.
	GetWorkOrder(ctx context.Context, tenantID, id string) (model.WorkOrder, error)

	// UpdateWorkOrder persists wo with optimistic locking. wo.Version must
	// match the stored version; returns CONFLICT otherwise. The stored
	// version is incremented.
	UpdateWorkOrder(ctx context.Context, wo model.WorkOrder) error

	ListWorkOrders(ctx context.Context, tenantID string, filters model.WorkOrderFilters) ([]model.WorkOrder, error)

	CreateAssignment(ctx context.Context, a model.WorkOrderAssignment) error
	GetAssignment(ctx context.Context, id string) (model.WorkOrderAssignment, error)
	UpdateAssignment(ctx context.Context, a model.WorkOrderAssignment) error

	AppendEvent(ctx context.Context, event model.WorkOrderEvent) error
	ListEvents(ctx context.Context, workOrderID string) ([]model.WorkOrderEvent, error)
}

// SessionStore persists work sessions and step completions.
type SessionStore interface {
	// CreateSession returns CONFLICT if an in-progress session already exists
	// for the same work order and phase.
	CreateSession(ctx context.Context, s model.WorkSession) error
	GetSession(ctx context.Context, id string) (model.WorkSession, error)

	// UpdateSession persists s with optimistic locking on s.Version.
	UpdateSession(ctx context.Context, s model.WorkSession) error
	ListSessions(ctx context.Context, workOrderID string) ([]model.WorkSession, error)

	// CreateCompletion returns CONFLICT if the step already has a completion
	// in the session.
	CreateCompletion(ctx context.Context, c model.StepCompletion) error
	ListCompletions(ctx context.Context, sessionID string) ([]model.StepCompletion, error)
}

// ProcedureStore persists procedure templates.
type ProcedureStore interface {
	// UpsertTemplate inserts or replaces a template by ID.
	UpsertTemplate(ctx context.Context, t model.ProcedureTemplate) error
	GetTemplate(ctx context.Context, id string) (model.ProcedureTemplate, error)
	ListTemplates(ctx context.Context, filters model.ProcedureFilters) ([]model.ProcedureTemplate, error)
	SetTemplateActive(ctx context.Context, id string, active bool) error
}

// ReportStore persists phase reports.
type ReportStore interface {
	// CreateReport returns CONFLICT if the session already has a report.
	CreateReport(ctx context.Context, r model.PhaseReport) error
	GetReport(ctx context.Context, id string) (model.PhaseReport, error)
	UpdateReport(ctx context.Context, r model.PhaseReport) error
	ListReports(ctx context.Context, workOrderID string) ([]model.PhaseReport, error)
}

// ApprovalStore persists approval requests.
type ApprovalStore interface {
	// CreateApproval returns CONFLICT if the work order already has a
	// pending approval.
	CreateApproval(ctx context.Context, a model.WorkOrderApproval) error
	GetApproval(ctx context.Context, id string) (model.WorkOrderApproval, error)

	// ResolveApproval persists a decided or cancelled approval only if the
	// stored row is still pending. Returns CONFLICT otherwise.
	ResolveApproval(ctx context.Context, a model.WorkOrderApproval) error

	// CancelPendingApprovals cancels every pending approval of a work order
	// and returns how many were cancelled.
	CancelPendingApprovals(ctx context.Context, workOrderID string) (int, error)

	ListApprovals(ctx context.Context, tenantID string, filters model.ApprovalFilters) ([]model.WorkOrderApproval, error)
}

// RecordStore persists the append-only auxiliary records.
type RecordStore interface {
	CreatePhoto(ctx context.Context, p model.Photo) error
	ListPhotos(ctx context.Context, sessionID string) ([]model.Photo, error)
	CreateFinding(ctx context.Context, f model.InspectionFinding) error
	ListFindings(ctx context.Context, sessionID string) ([]model.InspectionFinding, error)
	CreatePartsUsed(ctx context.Context, p model.PartsUsed) error
	ListPartsUsed(ctx context.Context, workOrderID string) ([]model.PartsUsed, error)

	CreateAIInteraction(ctx context.Context, i model.AIInteraction) error
	GetAIInteraction(ctx context.Context, id string) (model.AIInteraction, error)

	// UpdateAIFeedback changes only the helpful flag and feedback text.
	UpdateAIFeedback(ctx context.Context, id string, helpful *bool, feedback string) error
}

// EquipmentStore persists equipment units and customers.
type EquipmentStore interface {
	CreateEquipment(ctx context.Context, e model.EquipmentUnit) error
	GetEquipment(ctx context.Context, tenantID, id string) (model.EquipmentUnit, error)
	CreateCustomer(ctx context.Context, c model.Customer) error
	GetCustomer(ctx context.Context, tenantID, id string) (model.Customer, error)

	// EquipmentHistory returns the work orders, findings and parts recorded
	// against one unit, or against every unit of a model when unitID is empty.
	EquipmentHistory(ctx context.Context, tenantID, unitID, modelID string) (model.EquipmentHistory, error)
}
