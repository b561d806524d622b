package procedure

import (
	"fmt"
	"strings"

	"github.com/pitabwire/fieldops/model"
)

// VError describes a single validation error in a template.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validate checks a set of templates, including ID uniqueness across the set.
func Validate(templates []model.ProcedureTemplate) []VError {
	var errs []VError
	seen := make(map[string]string)
	for i, t := range templates {
		prefix := fmt.Sprintf("procedures[%d]", i)
		if t.SourceFile != "" {
			prefix = t.SourceFile + ":" + prefix
		}
		if prev, dup := seen[t.ID]; dup && t.ID != "" {
			errs = append(errs, VError{Path: prefix + ".id", Code: "DUPLICATE",
				Message: fmt.Sprintf("id %q already defined at %s", t.ID, prev)})
		}
		seen[t.ID] = prefix
		errs = append(errs, ValidateTemplate(prefix, t)...)
	}
	return errs
}

// ValidateTemplate checks one template: required fields, a known phase with a
// successor, and steps with unique numbers and ids.
func ValidateTemplate(prefix string, t model.ProcedureTemplate) []VError {
	var errs []VError

	if strings.TrimSpace(t.ID) == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if strings.TrimSpace(t.Name) == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: "REQUIRED", Message: "name is required"})
	}
	if !t.Phase.Valid() {
		errs = append(errs, VError{Path: prefix + ".phase", Code: "INVALID",
			Message: fmt.Sprintf("unknown phase %q", t.Phase)})
	} else if t.Phase.Terminal() {
		errs = append(errs, VError{Path: prefix + ".phase", Code: "INVALID",
			Message: fmt.Sprintf("phase %q is terminal and has no procedures", t.Phase)})
	}
	if len(t.Steps) == 0 {
		errs = append(errs, VError{Path: prefix + ".steps", Code: "REQUIRED", Message: "at least one step is required"})
	}

	numbers := make(map[int]bool)
	ids := make(map[string]bool)
	for i, s := range t.Steps {
		sp := fmt.Sprintf("%s.steps[%d]", prefix, i)
		if strings.TrimSpace(s.ID) == "" {
			errs = append(errs, VError{Path: sp + ".id", Code: "REQUIRED", Message: "step id is required"})
		} else if ids[s.ID] {
			errs = append(errs, VError{Path: sp + ".id", Code: "DUPLICATE",
				Message: fmt.Sprintf("step id %q is used twice", s.ID)})
		}
		ids[s.ID] = true

		if s.StepNumber <= 0 {
			errs = append(errs, VError{Path: sp + ".step_number", Code: "INVALID", Message: "step number must be positive"})
		} else if numbers[s.StepNumber] {
			errs = append(errs, VError{Path: sp + ".step_number", Code: "DUPLICATE",
				Message: fmt.Sprintf("step number %d is used twice", s.StepNumber)})
		}
		numbers[s.StepNumber] = true

		if strings.TrimSpace(s.Title) == "" {
			errs = append(errs, VError{Path: sp + ".title", Code: "REQUIRED", Message: "title is required"})
		}
		if !s.StepType.Valid() {
			errs = append(errs, VError{Path: sp + ".step_type", Code: "INVALID",
				Message: fmt.Sprintf("unknown step type %q", s.StepType)})
		}
		for j, m := range s.RequiredMeasurements {
			if strings.TrimSpace(m) == "" {
				errs = append(errs, VError{Path: fmt.Sprintf("%s.required_measurements[%d]", sp, j),
					Code: "REQUIRED", Message: "measurement name is required"})
			}
		}
	}
	return errs
}

// FieldErrors converts validation errors into envelope field errors.
func FieldErrors(errs []VError) []model.FieldError {
	out := make([]model.FieldError, len(errs))
	for i, e := range errs {
		out[i] = model.FieldError{Field: e.Path, Code: e.Code, Message: e.Message}
	}
	return out
}
