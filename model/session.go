package model

import "time"

// SessionStatus is the lifecycle state of a work session.
type SessionStatus string

const (
	SessionInProgress SessionStatus = "in_progress"
	SessionPaused     SessionStatus = "paused"
	SessionCompleted  SessionStatus = "completed"
)

// WorkSession is one technician's execution of a procedure template within a
// phase. Procedure holds the template as it was when the session started;
// later edits to the catalog do not change the session's checklist.
type WorkSession struct {
	ID                  string            `json:"id"`
	WorkOrderID         string            `json:"work_order_id"`
	AssignmentID        string            `json:"assignment_id"`
	Phase               Phase             `json:"phase"`
	ProcedureTemplateID string            `json:"procedure_template_id"`
	Procedure           ProcedureTemplate `json:"procedure"`
	TechnicianID        string            `json:"technician_id"`
	Status              SessionStatus     `json:"status"`
	ProgressPercentage  int               `json:"progress_percentage"`
	CurrentStepID       *string           `json:"current_step_id"`
	StartedAt           time.Time         `json:"started_at"`
	CompletedAt         *time.Time        `json:"completed_at,omitempty"`
	UpdatedAt           time.Time         `json:"updated_at"`
	Version             int               `json:"version"`
}

// StepResult is the recorded outcome of a step.
type StepResult string

const (
	ResultPass StepResult = "pass"
	ResultFail StepResult = "fail"
	ResultNA   StepResult = "na"
)

// NotApplicableObservation replaces the observations of steps marked na.
const NotApplicableObservation = "Not Applicable"

// StepCompletion is the recorded outcome of a step within a session.
// Measurement values are free-form, numeric or text such as "480V".
type StepCompletion struct {
	ID           string         `json:"id"`
	SessionID    string         `json:"session_id"`
	StepID       string         `json:"step_id"`
	Result       StepResult     `json:"result"`
	Measurements map[string]any `json:"measurements,omitempty"`
	Observations string         `json:"observations,omitempty"`
	CompletedBy  string         `json:"completed_by"`
	CompletedAt  time.Time      `json:"completed_at"`
}

// StepProgress is returned after each step completion.
type StepProgress struct {
	SessionID          string  `json:"session_id"`
	ProgressPercentage int     `json:"progress_percentage"`
	CurrentStepID      *string `json:"current_step_id"`
	CompletedSteps     int     `json:"completed_steps"`
	TotalSteps         int     `json:"total_steps"`
	AllComplete        bool    `json:"all_complete"`
}

// ComputeProgress returns the session progress after completed of total
// steps are done, floored and clamped to 0..100.
func ComputeProgress(completed, total int) int {
	if total <= 0 || completed <= 0 {
		return 0
	}
	if completed >= total {
		return 100
	}
	return completed * 100 / total
}

// NextStep returns the first step in step-number order that has no
// completion, or nil when every step is done.
func NextStep(tmpl *ProcedureTemplate, done map[string]bool) *string {
	for _, s := range tmpl.OrderedSteps() {
		if !done[s.ID] {
			id := s.ID
			return &id
		}
	}
	return nil
}
