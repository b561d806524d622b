package model

import (
	"sort"
	"time"
)

// StepType classifies a procedure step.
type StepType string

const (
	StepTypeInspection   StepType = "inspection"
	StepTypeMeasurement  StepType = "measurement"
	StepTypeAction       StepType = "action"
	StepTypeVerification StepType = "verification"
	StepTypeSafety       StepType = "safety"
)

// Valid reports whether t is a known step type.
func (t StepType) Valid() bool {
	switch t {
	case StepTypeInspection, StepTypeMeasurement, StepTypeAction,
		StepTypeVerification, StepTypeSafety:
		return true
	}
	return false
}

// ProcedureTemplate is a named, versioned ordered list of steps for one
// phase, optionally bound to an equipment type.
type ProcedureTemplate struct {
	ID            string          `json:"id" yaml:"id"`
	Name          string          `json:"name" yaml:"name"`
	Version       string          `json:"version" yaml:"version"`
	EquipmentType string          `json:"equipment_type,omitempty" yaml:"equipment_type"`
	Phase         Phase           `json:"phase" yaml:"phase"`
	Description   string          `json:"description,omitempty" yaml:"description"`
	Active        bool            `json:"active" yaml:"active"`
	Steps         []ProcedureStep `json:"steps" yaml:"steps"`
	Checksum      string          `json:"-" yaml:"-"`
	SourceFile    string          `json:"-" yaml:"-"`
	CreatedAt     time.Time       `json:"created_at" yaml:"-"`
	UpdatedAt     time.Time       `json:"updated_at" yaml:"-"`
}

// ProcedureStep is one step of a template.
type ProcedureStep struct {
	ID                   string   `json:"id" yaml:"id"`
	StepNumber           int      `json:"step_number" yaml:"step_number"`
	Title                string   `json:"title" yaml:"title"`
	StepType             StepType `json:"step_type" yaml:"step_type"`
	Instructions         string   `json:"instructions,omitempty" yaml:"instructions"`
	RequiredMeasurements []string `json:"required_measurements,omitempty" yaml:"required_measurements"`
	RequiresPhoto        bool     `json:"requires_photo" yaml:"requires_photo"`
	SafetyNotes          string   `json:"safety_notes,omitempty" yaml:"safety_notes"`
}

// OrderedSteps returns the steps sorted by ascending step number.
func (t *ProcedureTemplate) OrderedSteps() []ProcedureStep {
	steps := make([]ProcedureStep, len(t.Steps))
	copy(steps, t.Steps)
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].StepNumber < steps[j].StepNumber
	})
	return steps
}

// Step returns the step with the given id.
func (t *ProcedureTemplate) Step(id string) (ProcedureStep, bool) {
	for _, s := range t.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return ProcedureStep{}, false
}

// ProcedureFilters narrows ListTemplates.
type ProcedureFilters struct {
	Phase         Phase
	EquipmentType string
	ActiveOnly    bool
}
