package model

import "time"

// WorkOrderStatus is the commercial/administrative status of a work order,
// tracked separately from its Phase.
type WorkOrderStatus string

const (
	StatusPending       WorkOrderStatus = "pending"
	StatusInProgress    WorkOrderStatus = "in_progress"
	StatusOnHold        WorkOrderStatus = "on_hold"
	StatusCompleted     WorkOrderStatus = "completed"
	StatusCancelled     WorkOrderStatus = "cancelled"
	StatusAwaitingParts WorkOrderStatus = "awaiting_parts"
	StatusInvoiced      WorkOrderStatus = "invoiced"
)

// Valid reports whether s is a known status.
func (s WorkOrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusOnHold, StatusCompleted,
		StatusCancelled, StatusAwaitingParts, StatusInvoiced:
		return true
	}
	return false
}

// Closed reports whether the work order accepts no further field work.
func (s WorkOrderStatus) Closed() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusInvoiced
}

// CanSetStatus reports whether a manual status change from -> to is allowed.
// completed is only reachable through phase advancement and cancelled only
// through cancellation.
func CanSetStatus(from, to WorkOrderStatus) bool {
	if !to.Valid() || from == to {
		return false
	}
	switch from {
	case StatusCancelled, StatusInvoiced:
		return false
	case StatusCompleted:
		return to == StatusInvoiced
	}
	switch to {
	case StatusCompleted, StatusCancelled, StatusInvoiced:
		return false
	}
	return true
}

// Priority of a work order.
type Priority string

const (
	PriorityLow       Priority = "low"
	PriorityMedium    Priority = "medium"
	PriorityHigh      Priority = "high"
	PriorityEmergency Priority = "emergency"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityEmergency:
		return true
	}
	return false
}

// WorkOrder is the root object of one repair or inspection job.
type WorkOrder struct {
	ID                   string          `json:"id"`
	TenantID             string          `json:"tenant_id"`
	Number               string          `json:"work_order_number"`
	EquipmentUnitID      string          `json:"equipment_unit_id"`
	CustomerID           string          `json:"customer_id,omitempty"`
	AssignedTechnicianID string          `json:"assigned_technician_id,omitempty"`
	WorkType             string          `json:"work_type"`
	Priority             Priority        `json:"priority"`
	Status               WorkOrderStatus `json:"status"`
	CurrentPhase         Phase           `json:"current_phase"`
	Description          string          `json:"description,omitempty"`
	CreatedBy            string          `json:"created_by"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
	Version              int             `json:"version"`
}

// WorkOrderFilters narrows ListWorkOrders.
type WorkOrderFilters struct {
	Status          WorkOrderStatus
	Phase           Phase
	TechnicianID    string
	EquipmentUnitID string
	Page            int
	PageSize        int
}

// AssignmentStatus tracks a technician's progress on one phase.
type AssignmentStatus string

const (
	AssignmentAssigned   AssignmentStatus = "assigned"
	AssignmentInProgress AssignmentStatus = "in_progress"
	AssignmentCompleted  AssignmentStatus = "completed"
)

// WorkOrderAssignment binds a technician to a phase of a work order.
type WorkOrderAssignment struct {
	ID           string           `json:"id"`
	WorkOrderID  string           `json:"work_order_id"`
	TechnicianID string           `json:"technician_id"`
	Phase        Phase            `json:"phase"`
	Status       AssignmentStatus `json:"status"`
	AssignedBy   string           `json:"assigned_by"`
	AssignedAt   time.Time        `json:"assigned_at"`
	StartedAt    *time.Time       `json:"started_at,omitempty"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
}

// Work order audit events.
const (
	EventCreated           = "created"
	EventAssigned          = "technician_assigned"
	EventStatusChanged     = "status_changed"
	EventPhaseAdvanced     = "phase_advanced"
	EventCancelled         = "cancelled"
	EventSessionStarted    = "session_started"
	EventSessionPaused     = "session_paused"
	EventSessionResumed    = "session_resumed"
	EventStepCompleted     = "step_completed"
	EventReportSubmitted   = "report_submitted"
	EventReportSent        = "report_sent"
	EventApprovalRequested = "approval_requested"
	EventApprovalDecided   = "approval_decided"
	EventApprovalCancelled = "approval_cancelled"
	EventPartsUsed         = "parts_used"
)

// WorkOrderEvent records an entry in a work order's audit trail.
type WorkOrderEvent struct {
	ID          string         `json:"id"`
	WorkOrderID string         `json:"work_order_id"`
	Event       string         `json:"event"`
	ActorID     string         `json:"actor_id"`
	Phase       Phase          `json:"phase,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Comment     string         `json:"comment,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}
