package model

import "time"

// ApprovalStatus is the state of an approval request.
type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "pending"
	ApprovalApproved  ApprovalStatus = "approved"
	ApprovalRejected  ApprovalStatus = "rejected"
	ApprovalCancelled ApprovalStatus = "cancelled"
)

// Decision values accepted by Decide.
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// RequiredPart is a part a manager must sign off on.
type RequiredPart struct {
	PartNumber  string  `json:"part_number"`
	Description string  `json:"description,omitempty"`
	Quantity    int     `json:"quantity"`
	UnitCost    float64 `json:"unit_cost"`
}

// WorkOrderApproval gates a phase boundary on a manager decision.
type WorkOrderApproval struct {
	ID              string         `json:"id"`
	WorkOrderID     string         `json:"work_order_id"`
	ReportID        string         `json:"report_id,omitempty"`
	PhaseCompleted  Phase          `json:"phase_completed"`
	NextPhase       Phase          `json:"next_phase"`
	Status          ApprovalStatus `json:"status"`
	FindingsSummary string         `json:"findings_summary,omitempty"`
	RequiredParts   []RequiredPart `json:"required_parts,omitempty"`
	EstimatedCost   *float64       `json:"estimated_cost,omitempty"`
	EstimatedHours  *float64       `json:"estimated_hours,omitempty"`
	RequestedBy     string         `json:"requested_by"`
	RequestedAt     time.Time      `json:"requested_at"`
	ApprovedBy      string         `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time     `json:"approved_at,omitempty"`
	Notes           string         `json:"notes,omitempty"`
	RejectionReason string         `json:"rejection_reason,omitempty"`
}

// ApprovalRequest is the input of RequestApproval.
type ApprovalRequest struct {
	WorkOrderID     string         `json:"work_order_id"`
	ReportID        string         `json:"report_id,omitempty"`
	PhaseCompleted  Phase          `json:"phase_completed"`
	NextPhase       Phase          `json:"next_phase"`
	FindingsSummary string         `json:"findings_summary,omitempty"`
	RequiredParts   []RequiredPart `json:"required_parts,omitempty"`
	EstimatedCost   *float64       `json:"estimated_cost,omitempty"`
	EstimatedHours  *float64       `json:"estimated_hours,omitempty"`
}

// ApprovalFilters narrows ListApprovals.
type ApprovalFilters struct {
	Status      ApprovalStatus
	WorkOrderID string
}
