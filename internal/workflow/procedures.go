package workflow

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/pitabwire/fieldops/internal/procedure"
	"github.com/pitabwire/fieldops/model"
)

// CreateTemplate validates and stores a new procedure template. A template
// with no id gets a generated one; an id already in the catalog is a
// CONFLICT.
func (e *Engine) CreateTemplate(ctx context.Context, t model.ProcedureTemplate) (model.ProcedureTemplate, error) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if errs := procedure.ValidateTemplate("procedure", t); len(errs) > 0 {
		return model.ProcedureTemplate{}, model.NewValidationError(procedure.FieldErrors(errs))
	}

	data, err := json.Marshal(t.Steps)
	if err != nil {
		return model.ProcedureTemplate{}, fmt.Errorf("marshal steps: %w", err)
	}
	t.Checksum = fmt.Sprintf("%x", sha256.Sum256(data))
	t.SourceFile = ""

	err = e.store.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		_, err := tx.GetTemplate(ctx, t.ID)
		switch {
		case err == nil:
			return model.NewConflictError(fmt.Sprintf("procedure template %q already exists", t.ID))
		case model.ErrorCode(err) != model.ErrNotFound:
			return err
		}
		return tx.UpsertTemplate(ctx, t)
	})
	if err != nil {
		return model.ProcedureTemplate{}, err
	}
	return e.store.GetTemplate(ctx, t.ID)
}

// ListTemplates returns the templates matching filters.
func (e *Engine) ListTemplates(ctx context.Context, filters model.ProcedureFilters) ([]model.ProcedureTemplate, error) {
	if filters.Phase != "" && !filters.Phase.Valid() {
		return nil, model.NewFieldError("phase", "INVALID", fmt.Sprintf("unknown phase %q", filters.Phase))
	}
	return e.store.ListTemplates(ctx, filters)
}

// GetTemplate returns one template.
func (e *Engine) GetTemplate(ctx context.Context, id string) (model.ProcedureTemplate, error) {
	return e.store.GetTemplate(ctx, id)
}

// DeactivateTemplate hides a template from procedure resolution. Sessions
// already following it are unaffected.
func (e *Engine) DeactivateTemplate(ctx context.Context, id string) (model.ProcedureTemplate, error) {
	if err := e.store.SetTemplateActive(ctx, id, false); err != nil {
		return model.ProcedureTemplate{}, err
	}
	return e.store.GetTemplate(ctx, id)
}
