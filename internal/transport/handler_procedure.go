package transport

import (
	"context"
	"net/http"

	"github.com/pitabwire/fieldops/internal/workflow"
	"github.com/pitabwire/fieldops/model"
)

// tenantless adapts the procedure catalog, which is shared by all tenants,
// to byID.
func tenantless[Out any](op func(context.Context, string) (Out, error)) func(context.Context, *model.RequestContext, string) (Out, error) {
	return func(ctx context.Context, _ *model.RequestContext, id string) (Out, error) {
		return op(ctx, id)
	}
}

// handleCreateProcedure stores templates as active unless the body says
// otherwise.
func handleCreateProcedure(engine *workflow.Engine) http.HandlerFunc {
	type body struct {
		model.ProcedureTemplate
		Active *bool `json:"active"`
	}
	return create(http.StatusCreated, func(ctx context.Context, _ *model.RequestContext, b body) (model.ProcedureTemplate, error) {
		t := b.ProcedureTemplate
		t.Active = b.Active == nil || *b.Active
		return engine.CreateTemplate(ctx, t)
	})
}

func handleListProcedures(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		templates, err := engine.ListTemplates(r.Context(), model.ProcedureFilters{
			Phase:         model.Phase(q.Get("phase")),
			EquipmentType: q.Get("equipment_type"),
			ActiveOnly:    queryBool(r, "active", true),
		})
		reply(w, http.StatusOK, dataList[model.ProcedureTemplate]{templates}, err)
	}
}

func handleGetProcedure(engine *workflow.Engine) http.HandlerFunc {
	return byID(http.StatusOK, tenantless(engine.GetTemplate))
}

func handleDeactivateProcedure(engine *workflow.Engine) http.HandlerFunc {
	return byID(http.StatusOK, tenantless(engine.DeactivateTemplate))
}

func handleCreateEquipment(engine *workflow.Engine) http.HandlerFunc {
	return create(http.StatusCreated, engine.CreateEquipment)
}

func handleGetEquipment(engine *workflow.Engine) http.HandlerFunc {
	return byID(http.StatusOK, engine.GetEquipment)
}

func handleCreateCustomer(engine *workflow.Engine) http.HandlerFunc {
	return create(http.StatusCreated, engine.CreateCustomer)
}
