package model

import "time"

// Photo is an image captured during a session. The binary lives in object
// storage; only its path is stored.
type Photo struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	WorkOrderID string    `json:"work_order_id"`
	StepID      string    `json:"step_id,omitempty"`
	StoragePath string    `json:"storage_path"`
	ContentType string    `json:"content_type,omitempty"`
	Size        int64     `json:"size"`
	Caption     string    `json:"caption,omitempty"`
	CapturedBy  string    `json:"captured_by"`
	CapturedAt  time.Time `json:"captured_at"`
}

// Severity of an inspection finding.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// InspectionFinding is a defect or observation logged during a session.
type InspectionFinding struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	StepID         string    `json:"step_id,omitempty"`
	Severity       Severity  `json:"severity"`
	Description    string    `json:"description"`
	Recommendation string    `json:"recommendation,omitempty"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
}

// PartsUsed records a part consumed by a work order.
type PartsUsed struct {
	ID          string    `json:"id"`
	WorkOrderID string    `json:"work_order_id"`
	SessionID   string    `json:"session_id,omitempty"`
	PartNumber  string    `json:"part_number"`
	Description string    `json:"description,omitempty"`
	Quantity    int       `json:"quantity"`
	UnitCost    float64   `json:"unit_cost"`
	RecordedBy  string    `json:"recorded_by"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// AI functions recorded on interactions.
const (
	AIFunctionAssistant  = "assistant"
	AIFunctionImage      = "image_analysis"
	AIFunctionPredictive = "predictive_analysis"
)

// AIInteraction is a logged prompt/response pair. Only Helpful and Feedback
// change after creation.
type AIInteraction struct {
	ID        string    `json:"id"`
	Function  string    `json:"function"`
	SessionID string    `json:"session_id,omitempty"`
	StepID    string    `json:"step_id,omitempty"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	Helpful   *bool     `json:"helpful,omitempty"`
	Feedback  string    `json:"feedback,omitempty"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// EquipmentUnit is a serviced machine.
type EquipmentUnit struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	SerialNumber string    `json:"serial_number"`
	ModelID      string    `json:"equipment_model_id,omitempty"`
	ModelName    string    `json:"model_name,omitempty"`
	Manufacturer string    `json:"manufacturer,omitempty"`
	Type         string    `json:"equipment_type,omitempty"`
	CustomerID   string    `json:"customer_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Customer owns equipment units.
type Customer struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EquipmentHistory is the maintenance history used for predictive analysis.
type EquipmentHistory struct {
	WorkOrders []WorkOrder         `json:"work_orders"`
	Findings   []InspectionFinding `json:"findings"`
	Parts      []PartsUsed         `json:"parts"`
}
