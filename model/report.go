package model

import "time"

// ReportStatus is the lifecycle state of a phase report.
type ReportStatus string

const (
	ReportDraft     ReportStatus = "draft"
	ReportSubmitted ReportStatus = "submitted"
	ReportApproved  ReportStatus = "approved"
	ReportRejected  ReportStatus = "rejected"
	ReportSent      ReportStatus = "sent"
)

// PhaseReport is the compiled summary of a completed session.
type PhaseReport struct {
	ID              string        `json:"id"`
	WorkOrderID     string        `json:"work_order_id"`
	SessionID       string        `json:"session_id"`
	Phase           Phase         `json:"phase"`
	Status          ReportStatus  `json:"status"`
	Summary         string        `json:"summary"`
	TechnicianNotes string        `json:"technician_notes,omitempty"`
	Data            ReportPayload `json:"report_data"`
	PDFPath         string        `json:"pdf_path,omitempty"`
	SubmittedBy     string        `json:"submitted_by"`
	SubmittedAt     time.Time     `json:"submitted_at"`
	SentAt          *time.Time    `json:"sent_at,omitempty"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// ReportPayload is the structured body of a report.
type ReportPayload struct {
	ProcedureTemplateID string       `json:"procedure_template_id"`
	ProcedureName       string       `json:"procedure_name"`
	TotalSteps          int          `json:"total_steps"`
	CompletedSteps      int          `json:"completed_steps"`
	FailedSteps         int          `json:"failed_steps"`
	Steps               []ReportStep `json:"steps"`
	Photos              []PhotoRef   `json:"photos"`
}

// ReportStep is one step line in a report.
type ReportStep struct {
	StepID       string         `json:"step_id"`
	StepNumber   int            `json:"step_number"`
	Title        string         `json:"title"`
	Result       StepResult     `json:"result"`
	Measurements map[string]any `json:"measurements,omitempty"`
	Observations string         `json:"observations,omitempty"`
	CompletedAt  time.Time      `json:"completed_at"`
	CompletedBy  string         `json:"completed_by"`
}

// PhotoRef is a photo as listed in a report.
type PhotoRef struct {
	ID          string    `json:"id"`
	StoragePath string    `json:"storage_path"`
	Caption     string    `json:"caption,omitempty"`
	StepID      string    `json:"step_id,omitempty"`
	CapturedAt  time.Time `json:"captured_at"`
}
