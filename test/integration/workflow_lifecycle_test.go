package integration

import (
	"net/http"
	"strings"
	"testing"

	"github.com/pitabwire/fieldops/internal/workflow"
	"github.com/pitabwire/fieldops/model"
)

type listResponse[T any] struct {
	Data []T `json:"data"`
}

func createWorkOrder(t *testing.T, h *TestHarness, token, unitID, workType string) model.WorkOrder {
	t.Helper()
	var wo model.WorkOrder
	resp := h.POST("/work-orders", map[string]any{
		"equipment_unit_id": unitID,
		"work_type":         workType,
		"priority":          "high",
		"description":       "Pump trips on overload",
	}, token)
	h.AssertJSON(t, resp, http.StatusCreated, &wo)
	return wo
}

// runCatalogPhase assigns the default technician to phase, works through
// every step of the catalog procedure and submits the report.
func runCatalogPhase(t *testing.T, h *TestHarness, woID string, phase model.Phase) workflow.SubmitResult {
	t.Helper()
	tech := h.Tech()

	var a model.WorkOrderAssignment
	resp := h.POST("/work-orders/"+woID+"/assignments", map[string]any{
		"technician_id": TechnicianClaims().SubjectID,
		"phase":         phase,
	}, h.Manager())
	h.AssertJSON(t, resp, http.StatusCreated, &a)

	var ws model.WorkSession
	resp = h.POST("/sessions", map[string]any{
		"work_order_id": woID,
		"assignment_id": a.ID,
		"phase":         phase,
	}, tech)
	h.AssertJSON(t, resp, http.StatusCreated, &ws)

	tmpl := h.Template(phase)
	if ws.ProcedureTemplateID != tmpl.ID {
		t.Fatalf("session template = %q, want %q", ws.ProcedureTemplateID, tmpl.ID)
	}
	for _, step := range tmpl.OrderedSteps() {
		measurements := map[string]any{}
		for _, name := range step.RequiredMeasurements {
			measurements[name] = 1.5
		}
		resp = h.POST("/sessions/"+ws.ID+"/steps/"+step.ID+"/complete", map[string]any{
			"result":       "pass",
			"measurements": measurements,
		}, tech)
		h.AssertStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	}

	var res workflow.SubmitResult
	resp = h.POST("/sessions/"+ws.ID+"/report", map[string]any{
		"technician_notes": "phase " + string(phase) + " done",
	}, tech)
	h.AssertJSON(t, resp, http.StatusCreated, &res)
	return res
}

func TestLifecycle_RepairToCompletion(t *testing.T) {
	h := NewTestHarness(t)
	manager := h.Manager()

	wo := createWorkOrder(t, h, manager, UnitA, "repair")
	if wo.CurrentPhase != model.PhasePendingAssignment {
		t.Fatalf("CurrentPhase = %q, want pending_assignment", wo.CurrentPhase)
	}
	if !strings.HasPrefix(wo.Number, "WO-") {
		t.Errorf("Number = %q, want WO- prefix", wo.Number)
	}

	res := runCatalogPhase(t, h, wo.ID, model.PhaseInitialTesting)
	if res.WorkOrder.CurrentPhase != model.PhaseTeardown {
		t.Fatalf("after initial_testing phase = %q, want teardown", res.WorkOrder.CurrentPhase)
	}
	res = runCatalogPhase(t, h, wo.ID, model.PhaseTeardown)
	if res.WorkOrder.CurrentPhase != model.PhaseRepairScope {
		t.Fatalf("after teardown phase = %q, want repair_scope", res.WorkOrder.CurrentPhase)
	}

	// Leaving repair_scope waits on a manager decision.
	res = runCatalogPhase(t, h, wo.ID, model.PhaseRepairScope)
	if res.Approval == nil {
		t.Fatal("repair_scope report should open an approval")
	}
	if res.WorkOrder.CurrentPhase != model.PhaseRepairScope {
		t.Fatalf("phase = %q, want repair_scope while pending", res.WorkOrder.CurrentPhase)
	}

	var decided workflow.DecisionResult
	resp := h.POST("/approvals/"+res.Approval.ID+"/decision", map[string]any{
		"decision": "approved",
		"notes":    "parts on order",
	}, manager)
	h.AssertJSON(t, resp, http.StatusOK, &decided)
	if decided.WorkOrder.CurrentPhase != model.PhaseRebuild {
		t.Fatalf("after approval phase = %q, want rebuild", decided.WorkOrder.CurrentPhase)
	}

	runCatalogPhase(t, h, wo.ID, model.PhaseRebuild)
	res = runCatalogPhase(t, h, wo.ID, model.PhaseFinalTesting)
	if res.WorkOrder.CurrentPhase != model.PhaseCompleted {
		t.Fatalf("after final_testing phase = %q, want completed", res.WorkOrder.CurrentPhase)
	}

	// Every phase produced a report.
	var reports listResponse[model.PhaseReport]
	resp = h.GET("/work-orders/"+wo.ID+"/reports", manager)
	h.AssertJSON(t, resp, http.StatusOK, &reports)
	if len(reports.Data) != 5 {
		t.Errorf("reports = %d, want 5", len(reports.Data))
	}

	// The history records each advance in order.
	var history listResponse[model.WorkOrderEvent]
	resp = h.GET("/work-orders/"+wo.ID+"/history", manager)
	h.AssertJSON(t, resp, http.StatusOK, &history)
	var advanced []model.Phase
	for _, ev := range history.Data {
		if ev.Event == model.EventPhaseAdvanced {
			advanced = append(advanced, ev.Phase)
		}
	}
	want := []model.Phase{
		model.PhaseInitialTesting, model.PhaseTeardown, model.PhaseRepairScope,
		model.PhaseRebuild, model.PhaseFinalTesting, model.PhaseCompleted,
	}
	if len(advanced) != len(want) {
		t.Fatalf("phase_advanced events = %v, want %v", advanced, want)
	}
	for i := range want {
		if advanced[i] != want[i] {
			t.Errorf("advance %d = %q, want %q", i, advanced[i], want[i])
		}
	}

	// A completed work order accepts no new assignments.
	resp = h.POST("/work-orders/"+wo.ID+"/assignments", map[string]any{
		"technician_id": "user-tech",
		"phase":         "rebuild",
	}, manager)
	h.AssertStatus(t, resp, http.StatusConflict)
}

func TestLifecycle_RejectedScopeIsRedone(t *testing.T) {
	h := NewTestHarness(t)
	manager := h.Manager()

	wo := createWorkOrder(t, h, manager, UnitA, "repair")
	runCatalogPhase(t, h, wo.ID, model.PhaseInitialTesting)
	runCatalogPhase(t, h, wo.ID, model.PhaseTeardown)
	first := runCatalogPhase(t, h, wo.ID, model.PhaseRepairScope)

	path := "/approvals/" + first.Approval.ID + "/decision"

	// Rejection needs a reason.
	resp := h.POST(path, map[string]any{"decision": "rejected"}, manager)
	h.AssertStatus(t, resp, http.StatusUnprocessableEntity)

	var rejected workflow.DecisionResult
	resp = h.POST(path, map[string]any{"decision": "rejected", "reason": "quote too high"}, manager)
	h.AssertJSON(t, resp, http.StatusOK, &rejected)
	if rejected.WorkOrder.CurrentPhase != model.PhaseRepairScope {
		t.Fatalf("phase = %q, want repair_scope after rejection", rejected.WorkOrder.CurrentPhase)
	}
	if rejected.Approval.RejectionReason != "quote too high" {
		t.Errorf("RejectionReason = %q", rejected.Approval.RejectionReason)
	}

	var report model.PhaseReport
	resp = h.GET("/reports/"+first.Report.ID, manager)
	h.AssertJSON(t, resp, http.StatusOK, &report)
	if report.Status != model.ReportRejected {
		t.Errorf("report status = %q, want rejected", report.Status)
	}

	second := runCatalogPhase(t, h, wo.ID, model.PhaseRepairScope)
	if second.Approval == nil || second.Approval.ID == first.Approval.ID {
		t.Fatal("resubmitted scope should open a fresh approval")
	}

	var approved workflow.DecisionResult
	resp = h.POST("/approvals/"+second.Approval.ID+"/decision", map[string]any{"decision": "approved"}, manager)
	h.AssertJSON(t, resp, http.StatusOK, &approved)
	if approved.WorkOrder.CurrentPhase != model.PhaseRebuild {
		t.Errorf("phase = %q, want rebuild", approved.WorkOrder.CurrentPhase)
	}
}

func TestLifecycle_PhotosAndFindings(t *testing.T) {
	h := NewTestHarness(t)
	tech := h.Tech()

	wo := createWorkOrder(t, h, h.Manager(), UnitA, "repair")

	var a model.WorkOrderAssignment
	resp := h.POST("/work-orders/"+wo.ID+"/assignments", map[string]any{
		"technician_id": "user-tech", "phase": "initial_testing",
	}, h.Manager())
	h.AssertJSON(t, resp, http.StatusCreated, &a)

	var ws model.WorkSession
	resp = h.POST("/sessions", map[string]any{
		"work_order_id": wo.ID, "assignment_id": a.ID, "phase": "initial_testing",
	}, tech)
	h.AssertJSON(t, resp, http.StatusCreated, &ws)

	var photo model.Photo
	resp = h.UploadPhoto(ws.ID, "pit-4", "image/jpeg", []byte("\xff\xd8\xff-leak"), tech)
	h.AssertJSON(t, resp, http.StatusCreated, &photo)
	if photo.StepID != "pit-4" {
		t.Errorf("StepID = %q, want pit-4", photo.StepID)
	}
	if obj, ok := h.Blobs.Get(photo.StoragePath); !ok || obj.ContentType != "image/jpeg" {
		t.Errorf("stored object = %+v, %v", obj, ok)
	}

	resp = h.UploadPhoto(ws.ID, "pit-4", "text/plain", []byte("not an image"), tech)
	h.AssertStatus(t, resp, http.StatusUnprocessableEntity)

	resp = h.POST("/sessions/"+ws.ID+"/findings", map[string]any{
		"step_id":     "pit-4",
		"severity":    "high",
		"description": "Seal weeping at the gland",
	}, tech)
	h.AssertStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	// Another tenant cannot see the session's photos.
	other := h.GenerateToken(TestClaims{SubjectID: "user-tech-b", TenantID: TenantB, Roles: []string{model.RoleTechnician}})
	resp = h.GET("/sessions/"+ws.ID+"/photos", other)
	h.AssertStatus(t, resp, http.StatusNotFound)
}
