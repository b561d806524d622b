package transport

import (
	"context"
	"net/http"

	"github.com/pitabwire/fieldops/internal/workflow"
	"github.com/pitabwire/fieldops/model"
)

func handleGetApproval(engine *workflow.Engine) http.HandlerFunc {
	return byID(http.StatusOK, engine.GetApproval)
}

func handleDecideApproval(engine *workflow.Engine) http.HandlerFunc {
	return update(http.StatusOK, false, engine.Decide)
}

func handleCancelApproval(engine *workflow.Engine) http.HandlerFunc {
	return byID(http.StatusOK, engine.CancelApproval)
}

func handleListApprovals(engine *workflow.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		q := r.URL.Query()
		approvals, err := engine.ListApprovals(r.Context(), rctx, model.ApprovalFilters{
			Status:      model.ApprovalStatus(q.Get("status")),
			WorkOrderID: q.Get("work_order_id"),
		})
		reply(w, http.StatusOK, dataList[model.WorkOrderApproval]{approvals}, err)
	}
}

func handleGetReport(engine *workflow.Engine) http.HandlerFunc {
	return byID(http.StatusOK, engine.GetReport)
}

type sentBody struct {
	PDFPath string `json:"pdf_path"`
}

// handleMarkReportSent lets an empty body through so the engine reports the
// missing pdf_path as a field error.
func handleMarkReportSent(engine *workflow.Engine) http.HandlerFunc {
	return update(http.StatusOK, true,
		func(ctx context.Context, rctx *model.RequestContext, id string, b sentBody) (model.PhaseReport, error) {
			return engine.MarkReportSent(ctx, rctx, id, b.PDFPath)
		})
}
