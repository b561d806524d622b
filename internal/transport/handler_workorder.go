package transport

import (
	"context"
	"net/http"

	"github.com/pitabwire/fieldops/internal/workflow"
	"github.com/pitabwire/fieldops/model"
)

const (
	defaultPageSize = 20
)

func handleCreateWorkOrder(engine *workflow.Engine) http.HandlerFunc {
	return create(http.StatusCreated, engine.CreateWorkOrder)
}

func handleGetWorkOrder(engine *workflow.Engine) http.HandlerFunc {
	return byID(http.StatusOK, engine.GetWorkOrder)
}

func handleWorkOrderHistory(engine *workflow.Engine) http.HandlerFunc {
	return listByID(engine.History)
}

func handleListWorkOrderReports(engine *workflow.Engine) http.HandlerFunc {
	return listByID(engine.ListReports)
}

func handleRecordParts(engine *workflow.Engine) http.HandlerFunc {
	return update(http.StatusCreated, false, engine.RecordPartsUsed)
}

// handleListWorkOrders filters by status, phase, technician and equipment
// unit, one page at a time.
func handleListWorkOrders(engine *workflow.Engine) http.HandlerFunc {
	type page struct {
		dataList[model.WorkOrder]
		Page     int `json:"page"`
		PageSize int `json:"page_size"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		q := r.URL.Query()
		filters := model.WorkOrderFilters{
			Status:          model.WorkOrderStatus(q.Get("status")),
			Phase:           model.Phase(q.Get("phase")),
			TechnicianID:    q.Get("technician_id"),
			EquipmentUnitID: q.Get("equipment_unit_id"),
			Page:            queryInt(r, "page", 1),
			PageSize:        queryInt(r, "page_size", defaultPageSize),
		}
		orders, err := engine.ListWorkOrders(r.Context(), rctx, filters)
		reply(w, http.StatusOK, page{dataList[model.WorkOrder]{orders}, filters.Page, filters.PageSize}, err)
	}
}

type assignmentBody struct {
	TechnicianID string      `json:"technician_id"`
	Phase        model.Phase `json:"phase"`
}

func handleAssignTechnician(engine *workflow.Engine) http.HandlerFunc {
	return update(http.StatusCreated, false,
		func(ctx context.Context, rctx *model.RequestContext, id string, b assignmentBody) (model.WorkOrderAssignment, error) {
			return engine.AssignTechnician(ctx, rctx, id, b.TechnicianID, b.Phase)
		})
}

type statusBody struct {
	Status model.WorkOrderStatus `json:"status"`
	Reason string                `json:"reason"`
}

func handleUpdateStatus(engine *workflow.Engine) http.HandlerFunc {
	return update(http.StatusOK, false,
		func(ctx context.Context, rctx *model.RequestContext, id string, b statusBody) (model.WorkOrder, error) {
			return engine.UpdateStatus(ctx, rctx, id, b.Status, b.Reason)
		})
}

type reasonBody struct {
	Reason string `json:"reason"`
}

// handleCancelWorkOrder accepts an empty body; the reason is optional.
func handleCancelWorkOrder(engine *workflow.Engine) http.HandlerFunc {
	return update(http.StatusOK, true,
		func(ctx context.Context, rctx *model.RequestContext, id string, b reasonBody) (model.WorkOrder, error) {
			return engine.CancelWorkOrder(ctx, rctx, id, b.Reason)
		})
}

// handleRequestApproval takes the work order from the path, never the body.
func handleRequestApproval(engine *workflow.Engine) http.HandlerFunc {
	return update(http.StatusCreated, false,
		func(ctx context.Context, rctx *model.RequestContext, id string, req model.ApprovalRequest) (model.WorkOrderApproval, error) {
			req.WorkOrderID = id
			return engine.RequestApproval(ctx, rctx, req)
		})
}
